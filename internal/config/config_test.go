package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	require.Equal(t, ":8080", c.Server.Addr)
	require.Equal(t, "memory", c.KV.Driver)
	require.Equal(t, "adbridge", c.KV.Prefix)
	require.Equal(t, 10*time.Minute, c.OAuth.StateTTL)
	require.Equal(t, 100, c.ErrorLog.Capacity)
}

func TestLoadFromYAML(t *testing.T) {
	path := writeYAML(t, `
server:
  addr: ":9090"
kv:
  driver: redis
  host: cache.internal
  port: 6380
oauth:
  state_ttl: 5m
  providers:
    meta:
      client_id: cid
      client_secret: sec
      redirect_uri: https://app.example/cb
google_ads:
  developer_token: dev-tok
`)
	c, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, ":9090", c.Server.Addr)
	require.Equal(t, "redis", c.KV.Driver)
	require.Equal(t, "cache.internal", c.KV.Host)
	require.Equal(t, 6380, c.KV.Port)
	require.Equal(t, 5*time.Minute, c.OAuth.StateTTL)

	p, ok := c.OAuth.Providers["meta"]
	require.True(t, ok)
	require.Equal(t, "cid", p.ClientID)
	require.Equal(t, "https://app.example/cb", p.RedirectURI)
	require.Equal(t, "dev-tok", c.GoogleAds.DeveloperToken)
}

func TestEnvOverridesYAML(t *testing.T) {
	path := writeYAML(t, "server:\n  addr: \":9090\"\nkv:\n  driver: memory\n")

	t.Setenv("SERVER_ADDR", ":7070")
	t.Setenv("KV_DRIVER", "redis")
	t.Setenv("REDIS_ADDR", "redis.internal:6399")
	t.Setenv("OAUTH_STATE_TTL", "15m")

	c, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, ":7070", c.Server.Addr)
	require.Equal(t, "redis", c.KV.Driver)
	require.Equal(t, "redis.internal", c.KV.Host)
	require.Equal(t, 6399, c.KV.Port)
	require.Equal(t, 15*time.Minute, c.OAuth.StateTTL)
}

func TestLoadRejectsTinyStateTTL(t *testing.T) {
	path := writeYAML(t, "oauth:\n  state_ttl: 5s\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
