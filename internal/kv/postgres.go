package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// postgresClient implementa Client sobre una tabla kv_entries.
// Cada Set es un upsert de fila completa: la atomicidad por clave la da
// el propio engine, sin locks aplicativos.
type postgresClient struct {
	pool   *pgxpool.Pool
	prefix string
}

// NewPostgres abre el pool, verifica la conexión y asegura el schema.
func NewPostgres(ctx context.Context, cfg Config) (*postgresClient, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("kv: postgres requiere dsn")
	}

	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("kv: pgxpool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("kv: postgres ping failed: %w", err)
	}

	c := &postgresClient{pool: pool, prefix: cfg.Prefix}
	if err := c.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return c, nil
}

func (c *postgresClient) ensureSchema(ctx context.Context) error {
	_, err := c.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS kv_entries (
			k          TEXT PRIMARY KEY,
			v          TEXT NOT NULL,
			expires_at TIMESTAMPTZ
		)`)
	if err != nil {
		return fmt.Errorf("kv: ensure schema: %w", err)
	}
	return nil
}

func (c *postgresClient) key(k string) string { return joinKey(c.prefix, k) }

func (c *postgresClient) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := c.pool.QueryRow(ctx,
		`SELECT v FROM kv_entries WHERE k = $1 AND (expires_at IS NULL OR expires_at > now())`,
		c.key(key),
	).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

func (c *postgresClient) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	var expires *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		expires = &t
	}
	_, err := c.pool.Exec(ctx, `
		INSERT INTO kv_entries (k, v, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (k) DO UPDATE SET v = EXCLUDED.v, expires_at = EXCLUDED.expires_at`,
		c.key(key), value, expires)
	return err
}

func (c *postgresClient) Delete(ctx context.Context, key string) (bool, error) {
	tag, err := c.pool.Exec(ctx, `DELETE FROM kv_entries WHERE k = $1`, c.key(key))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (c *postgresClient) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := c.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM kv_entries WHERE k = $1 AND (expires_at IS NULL OR expires_at > now()))`,
		c.key(key),
	).Scan(&exists)
	return exists, err
}

// likePattern escapa los metacaracteres de LIKE (backslash, % y _) para que
// el prefijo se matchee literal. Sin el escape de _, un user_id "a_b"
// listaría las keys de "aXb".
func likePattern(prefix string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix) + "%"
}

func (c *postgresClient) List(ctx context.Context, prefix string) ([]string, error) {
	pattern := likePattern(c.key(prefix))
	rows, err := c.pool.Query(ctx,
		`SELECT k FROM kv_entries WHERE k LIKE $1 AND (expires_at IS NULL OR expires_at > now())`,
		pattern)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	strip := joinKey(c.prefix, "")
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, strings.TrimPrefix(k, strip))
	}
	return keys, rows.Err()
}

func (c *postgresClient) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

func (c *postgresClient) Close() error {
	c.pool.Close()
	return nil
}
