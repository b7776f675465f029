// Package kv provee un key-value store pluggable con TTL.
//
// Sobre él se montan el token store, los estados CSRF pendientes y la metadata
// de conexiones. Drivers:
//   - memory (in-process, desarrollo/testing)
//   - redis (distribuido)
//   - postgres (durable)
//
// El contrato que importa es atomicidad read-modify-write POR CLAVE: cada
// registro se escribe entero en un solo Set. No hay coordinación entre claves.
package kv

import (
	"context"
	"fmt"
	"time"
)

// Client define las operaciones del store.
type Client interface {
	// Get obtiene un valor. Retorna ErrNotFound si no existe o expiró.
	Get(ctx context.Context, key string) (string, error)

	// Set guarda un valor con TTL opcional. Si ttl es 0, no expira.
	// El reemplazo es atómico por clave.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete elimina una key. Retorna true si existía.
	Delete(ctx context.Context, key string) (bool, error)

	// Exists verifica si una key existe y no expiró.
	Exists(ctx context.Context, key string) (bool, error)

	// List retorna las keys vigentes que empiezan con prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Ping verifica la conexión al backend.
	Ping(ctx context.Context) error

	// Close cierra la conexión.
	Close() error
}

// Config configuración para crear un cliente.
type Config struct {
	Driver   string `yaml:"driver"` // "memory" | "redis" | "postgres"
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	DSN      string `yaml:"dsn"`    // postgres
	Prefix   string `yaml:"prefix"` // prefijo para todas las keys
}

// Errores del store.
var (
	ErrNotFound = errNotFound{}
)

type errNotFound struct{}

func (e errNotFound) Error() string { return "kv: key not found" }

// IsNotFound verifica si el error es porque la key no existe.
func IsNotFound(err error) bool {
	_, ok := err.(errNotFound)
	return ok
}

// New crea un cliente según la configuración.
func New(ctx context.Context, cfg Config) (Client, error) {
	switch cfg.Driver {
	case "redis":
		return NewRedis(cfg)
	case "postgres":
		return NewPostgres(ctx, cfg)
	case "memory", "":
		return NewMemory(cfg.Prefix), nil
	default:
		// un typo en KV_DRIVER no puede degradar silenciosamente a memory
		return nil, fmt.Errorf("kv: driver desconocido: %q", cfg.Driver)
	}
}

func joinKey(prefix, k string) string {
	if prefix == "" {
		return k
	}
	return prefix + ":" + k
}
