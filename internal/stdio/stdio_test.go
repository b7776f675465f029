package stdio

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/dropDatabas3/adbridge/internal/mcp"
)

func TestRunOneResponsePerLine(t *testing.T) {
	t.Parallel()

	srv := mcp.NewServer("adbridge", "test")
	srv.RegisterTool("ping", "responde pong", nil,
		func(ctx context.Context, args map[string]any) (any, error) {
			return "pong", nil
		})

	in := strings.Join([]string{
		`{"jsonrpc":"2.0","method":"initialize","id":1}`,
		``,
		`{"jsonrpc":"2.0","method":"tools/call","params":{"name":"ping"},"id":2}`,
		`{no es json`,
	}, "\n") + "\n"

	var out strings.Builder
	if err := Run(context.Background(), srv, strings.NewReader(in), &out); err != nil {
		t.Fatalf("Run: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("respuestas: %d (%q)", len(lines), out.String())
	}

	var first struct {
		Result map[string]any  `json:"result"`
		ID     json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("línea 1: %v", err)
	}
	if string(first.ID) != "1" || first.Result["protocolVersion"] != "2024-11-05" {
		t.Fatalf("initialize: %v", first)
	}

	if !strings.Contains(lines[1], `"pong"`) {
		t.Fatalf("línea 2: %s", lines[1])
	}
	if !strings.Contains(lines[2], "-32700") {
		t.Fatalf("línea 3: %s", lines[2])
	}
}

func TestRunCancelledContext(t *testing.T) {
	t.Parallel()

	srv := mcp.NewServer("adbridge", "test")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out strings.Builder
	err := Run(ctx, srv, strings.NewReader(`{"jsonrpc":"2.0","method":"tools/list","id":1}`+"\n"), &out)
	if err != context.Canceled {
		t.Fatalf("err: %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("salida tras cancelación: %q", out.String())
	}
}

func TestRunOversizedLineKeepsLoopAlive(t *testing.T) {
	t.Parallel()

	srv := mcp.NewServer("adbridge", "test")
	srv.RegisterTool("ping", "responde pong", nil,
		func(ctx context.Context, args map[string]any) (any, error) {
			return "pong", nil
		})

	// una línea de más de 1 MiB responde -32700 y el loop sigue vivo
	in := strings.Repeat("a", (1<<20)+16) + "\n" +
		`{"jsonrpc":"2.0","method":"tools/call","params":{"name":"ping"},"id":2}` + "\n"

	var out strings.Builder
	if err := Run(context.Background(), srv, strings.NewReader(in), &out); err != nil {
		t.Fatalf("Run: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("respuestas: %d (%q)", len(lines), out.String())
	}
	if !strings.Contains(lines[0], "-32700") {
		t.Fatalf("línea 1 debería ser parse error: %s", lines[0])
	}
	if !strings.Contains(lines[1], `"pong"`) {
		t.Fatalf("línea 2: %s", lines[1])
	}
}
