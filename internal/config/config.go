// Package config carga la configuración del servicio desde YAML con
// overrides por variables de entorno. El YAML es opcional: con envs solas
// el servicio también levanta.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dropDatabas3/adbridge/internal/kv"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env string `yaml:"app_env"`
	} `yaml:"app"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	// KV respalda tokens, estados CSRF pendientes y metadata de conexión.
	KV kv.Config `yaml:"kv"`

	Security struct {
		// MasterKey cifra tokens en reposo: base64(32 bytes), hex o raw.
		// Si está vacía se usa ADBRIDGE_MASTER_KEY.
		MasterKey string `yaml:"master_key"`
	} `yaml:"security"`

	OAuth struct {
		StateTTL  time.Duration             `yaml:"state_ttl"`
		Providers map[string]ProviderConfig `yaml:"providers"`
	} `yaml:"oauth"`

	GoogleAds struct {
		DeveloperToken  string `yaml:"developer_token"`
		LoginCustomerID string `yaml:"login_customer_id"`
	} `yaml:"google_ads"`

	ErrorLog struct {
		Capacity int `yaml:"capacity"`
	} `yaml:"error_log"`
}

// ProviderConfig son las credenciales OAuth de una plataforma.
type ProviderConfig struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	RedirectURI  string   `yaml:"redirect_uri"`
	Scopes       []string `yaml:"scopes"`
}

// Load lee el YAML (si path no es vacío), aplica defaults y overrides por env.
func Load(path string) (*Config, error) {
	var c Config

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("config: yaml inválido: %w", err)
		}
	}

	// sane defaults
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.KV.Driver == "" {
		c.KV.Driver = "memory"
	}
	if c.KV.Prefix == "" {
		c.KV.Prefix = "adbridge"
	}
	if c.OAuth.StateTTL == 0 {
		c.OAuth.StateTTL = 10 * time.Minute
	}
	if c.ErrorLog.Capacity == 0 {
		c.ErrorLog.Capacity = 100
	}

	c.applyEnvOverrides()

	if c.OAuth.StateTTL < time.Minute {
		return nil, fmt.Errorf("config: oauth.state_ttl demasiado corto: %s", c.OAuth.StateTTL)
	}
	return &c, nil
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}

func getEnvDur(key string) (time.Duration, bool) {
	if s, ok := getEnvStr(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
			return d, true
		}
	}
	return 0, false
}

// applyEnvOverrides pisa el YAML con variables de entorno.
// Las credenciales por plataforma (<PLATFORM>_CLIENT_ID etc.) las resuelve
// el paquete oauth directamente; acá sólo va lo del servicio.
func (c *Config) applyEnvOverrides() {
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = v
	}

	if v, ok := getEnvStr("KV_DRIVER"); ok {
		c.KV.Driver = v
	}
	if v, ok := getEnvStr("KV_DSN"); ok {
		c.KV.DSN = v
	}
	if v, ok := getEnvStr("KV_PREFIX"); ok {
		c.KV.Prefix = v
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		host, port, found := strings.Cut(v, ":")
		c.KV.Host = host
		if found {
			if p, err := strconv.Atoi(port); err == nil {
				c.KV.Port = p
			}
		}
	}
	if v, ok := getEnvStr("REDIS_PASSWORD"); ok {
		c.KV.Password = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.KV.DB = v
	}

	if v, ok := getEnvStr("ADBRIDGE_MASTER_KEY"); ok {
		c.Security.MasterKey = v
	}
	if v, ok := getEnvDur("OAUTH_STATE_TTL"); ok {
		c.OAuth.StateTTL = v
	}
	if v, ok := getEnvStr("GOOGLE_ADS_DEVELOPER_TOKEN"); ok {
		c.GoogleAds.DeveloperToken = v
	}
	if v, ok := getEnvStr("GOOGLE_ADS_LOGIN_CUSTOMER_ID"); ok {
		c.GoogleAds.LoginCustomerID = v
	}
	if v, ok := getEnvInt("ERROR_LOG_CAPACITY"); ok {
		c.ErrorLog.Capacity = v
	}
}
