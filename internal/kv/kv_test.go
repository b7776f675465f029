package kv

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// El contrato se testea contra el driver memory; redis y postgres comparten
// la misma suite a mano en integración (requieren backend levantado).

func TestMemory_SetGetDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewMemory("test")

	if _, err := c.Get(ctx, "missing"); !IsNotFound(err) {
		t.Fatalf("Get missing: want ErrNotFound, got %v", err)
	}

	if err := c.Set(ctx, "a", "uno", 0); err != nil {
		t.Fatalf("Set err: %v", err)
	}
	v, err := c.Get(ctx, "a")
	if err != nil || v != "uno" {
		t.Fatalf("Get: got %q %v", v, err)
	}

	existed, err := c.Delete(ctx, "a")
	if err != nil || !existed {
		t.Fatalf("Delete: got %v %v", existed, err)
	}
	existed, _ = c.Delete(ctx, "a")
	if existed {
		t.Fatalf("segundo Delete debería reportar false")
	}
	if _, err := c.Get(ctx, "a"); !IsNotFound(err) {
		t.Fatalf("Get tras Delete: want ErrNotFound, got %v", err)
	}
}

func TestMemory_TTLExpiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewMemory("")

	if err := c.Set(ctx, "fugaz", "x", 30*time.Millisecond); err != nil {
		t.Fatalf("Set err: %v", err)
	}
	if ok, _ := c.Exists(ctx, "fugaz"); !ok {
		t.Fatalf("debería existir antes del TTL")
	}

	time.Sleep(60 * time.Millisecond)

	if ok, _ := c.Exists(ctx, "fugaz"); ok {
		t.Fatalf("debería haber expirado")
	}
	if _, err := c.Get(ctx, "fugaz"); !IsNotFound(err) {
		t.Fatalf("Get expirado: want ErrNotFound, got %v", err)
	}
}

func TestMemory_ListByPrefix(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewMemory("adbridge")

	_ = c.Set(ctx, "tok:alice:meta", "1", 0)
	_ = c.Set(ctx, "tok:alice:google", "2", 0)
	_ = c.Set(ctx, "tok:bob:meta", "3", 0)
	_ = c.Set(ctx, "state:xyz", "4", 0)

	keys, err := c.List(ctx, "tok:alice:")
	if err != nil {
		t.Fatalf("List err: %v", err)
	}
	sort.Strings(keys)
	want := []string{"tok:alice:google", "tok:alice:meta"}
	if len(keys) != 2 || keys[0] != want[0] || keys[1] != want[1] {
		t.Fatalf("List: got %v want %v", keys, want)
	}
}

func TestMemory_OverwriteIsWholesale(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewMemory("")

	_ = c.Set(ctx, "k", "viejo", 0)
	_ = c.Set(ctx, "k", "nuevo", 0)

	v, _ := c.Get(ctx, "k")
	if v != "nuevo" {
		t.Fatalf("got %q want %q", v, "nuevo")
	}
}

func TestNew_DriverSelection(t *testing.T) {
	t.Parallel()

	c, err := New(context.Background(), Config{Driver: "memory", Prefix: "p"})
	if err != nil {
		t.Fatalf("New memory err: %v", err)
	}
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping err: %v", err)
	}

	// un typo como "postgress" no puede degradar silenciosamente a memory
	if _, err := New(context.Background(), Config{Driver: "postgress"}); err == nil {
		t.Fatalf("driver desconocido debería dar error de configuración")
	}
}

func TestMemory_DeleteOneShotUnderConcurrency(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewMemory("test")

	// el bool "existía" lo recibe exactamente un consumidor por ronda
	for round := 0; round < 500; round++ {
		if err := c.Set(ctx, "state", "v", 0); err != nil {
			t.Fatalf("Set err: %v", err)
		}

		var wins int32
		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				existed, err := c.Delete(ctx, "state")
				if err != nil {
					t.Errorf("Delete err: %v", err)
					return
				}
				if existed {
					atomic.AddInt32(&wins, 1)
				}
			}()
		}
		wg.Wait()

		if got := atomic.LoadInt32(&wins); got != 1 {
			t.Fatalf("ronda %d: Delete reportó true a %d consumidores", round, got)
		}
	}
}

func TestLikePattern(t *testing.T) {
	t.Parallel()

	cases := []struct{ in, want string }{
		{"tok:u1:", `tok:u1:%`},
		{"tok:a_b:", `tok:a\_b:%`},
		{"tok:50%:", `tok:50\%:%`},
		{`tok:a\b:`, `tok:a\\b:%`},
	}
	for _, c := range cases {
		if got := likePattern(c.in); got != c.want {
			t.Fatalf("likePattern(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
