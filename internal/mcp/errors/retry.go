package errors

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryConfig parametriza el backoff exponencial con jitter.
type RetryConfig struct {
	MaxRetries      int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64
	Jitter          bool

	// rng permite fijar el generador en tests. nil usa math/rand global.
	rng *rand.Rand
}

// DefaultRetryConfig son los parámetros estándar: 3 reintentos, 1s inicial,
// tope 60s, base 2, jitter activado.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialDelay:    time.Second,
		MaxDelay:        60 * time.Second,
		ExponentialBase: 2.0,
		Jitter:          true,
	}
}

// WithRand fija el generador de jitter (tests deterministas).
func (c RetryConfig) WithRand(r *rand.Rand) RetryConfig {
	c.rng = r
	return c
}

// Delay computa la espera para el intento dado (0-based):
// min(initial * base^attempt, max), más un uniforme en [0, 0.25*delay) si
// jitter está activo. Con jitter apagado, Delay(0) == InitialDelay exacto.
func (c RetryConfig) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(c.InitialDelay) * math.Pow(c.ExponentialBase, float64(attempt))
	if max := float64(c.MaxDelay); d > max {
		d = max
	}
	if c.Jitter {
		f := rand.Float64
		if c.rng != nil {
			f = c.rng.Float64
		}
		d += f() * 0.25 * d
	}
	return time.Duration(d)
}

// Operation es la unidad reintentable.
type Operation func(ctx context.Context) error

// Do ejecuta op reintentando los errores de taxonomía cuya clase está en
// retryable Y que son recuperables. La espera prefiere el retry_after del
// error cuando existe; si no, usa Delay(attempt). Errores de clase no
// reintentable, no recuperables, o ajenos a la taxonomía cortan de inmediato.
// El sleep respeta la cancelación del contexto.
func Do(ctx context.Context, cfg RetryConfig, retryable map[Kind]bool, op Operation) error {
	var last error
	for attempt := 0; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		last = err

		e, ok := err.(*Error)
		if !ok || !e.Recoverable || !retryable[e.Type] {
			return err
		}
		if attempt >= cfg.MaxRetries {
			return last
		}

		wait := cfg.Delay(attempt)
		if e.RetryAfter > 0 {
			wait = time.Duration(e.RetryAfter) * time.Second
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return NewNetworkError("operación cancelada durante backoff").WithCause(ctx.Err())
		case <-t.C:
		}
	}
}
