package kv

import (
	"context"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// memoryClient implementa Client sobre patrickmn/go-cache.
// La eviction por TTL viene del janitor de go-cache; útil para que los
// estados CSRF nunca consumidos no acumulen memoria.
type memoryClient struct {
	prefix string
	c      *gocache.Cache

	// serializa Delete: el par Get+Delete tiene que ser atómico para que
	// el bool "existía" lo reciba exactamente un consumidor (estados CSRF
	// one-shot dependen de eso).
	mu sync.Mutex
}

// NewMemory crea un cliente en memoria con janitor de limpieza cada minuto.
func NewMemory(prefix string) *memoryClient {
	return &memoryClient{
		prefix: prefix,
		c:      gocache.New(gocache.NoExpiration, time.Minute),
	}
}

func (m *memoryClient) key(k string) string { return joinKey(m.prefix, k) }

func (m *memoryClient) Get(ctx context.Context, key string) (string, error) {
	v, ok := m.c.Get(m.key(key))
	if !ok {
		return "", ErrNotFound
	}
	return v.(string), nil
}

func (m *memoryClient) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	d := gocache.NoExpiration
	if ttl > 0 {
		d = ttl
	}
	m.c.Set(m.key(key), value, d)
	return nil
}

func (m *memoryClient) Delete(ctx context.Context, key string) (bool, error) {
	k := m.key(key)
	m.mu.Lock()
	defer m.mu.Unlock()
	_, existed := m.c.Get(k)
	m.c.Delete(k)
	return existed, nil
}

func (m *memoryClient) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := m.c.Get(m.key(key))
	return ok, nil
}

func (m *memoryClient) List(ctx context.Context, prefix string) ([]string, error) {
	full := m.key(prefix)
	var keys []string
	for k, item := range m.c.Items() {
		if item.Expired() {
			continue
		}
		if strings.HasPrefix(k, full) {
			// devolver la key sin el prefijo del cliente
			keys = append(keys, strings.TrimPrefix(k, joinKey(m.prefix, "")))
		}
	}
	return keys, nil
}

func (m *memoryClient) Ping(ctx context.Context) error { return nil }

func (m *memoryClient) Close() error {
	m.c.Flush()
	return nil
}
