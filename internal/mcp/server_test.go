package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	mcperrors "github.com/dropDatabas3/adbridge/internal/mcp/errors"
)

func newTestServer() *Server {
	s := NewServer("adbridge", "1.0.0")
	s.RegisterTool("echo", "devuelve sus argumentos", map[string]any{
		"type": "object",
	}, func(ctx context.Context, args map[string]any) (any, error) {
		return args, nil
	})
	s.RegisterTool("boom_taxonomy", "falla con error de taxonomía", nil,
		func(ctx context.Context, args map[string]any) (any, error) {
			return nil, mcperrors.NewRateLimited("upstream saturado", 30)
		})
	s.RegisterTool("boom_raw", "falla con error crudo", nil,
		func(ctx context.Context, args map[string]any) (any, error) {
			return nil, errors.New("algo explotó")
		})
	return s
}

func exactlyOneKey(t *testing.T, m map[string]any) string {
	t.Helper()
	if len(m) != 1 {
		t.Fatalf("se esperaba exactamente una clave result/error, hay %d: %v", len(m), m)
	}
	for k := range m {
		if k != "result" && k != "error" {
			t.Fatalf("clave inesperada %q", k)
		}
		return k
	}
	return ""
}

func TestCallToolSuccess(t *testing.T) {
	t.Parallel()
	s := newTestServer()

	out := s.CallTool(context.Background(), "echo", map[string]any{"x": float64(1)})
	if k := exactlyOneKey(t, out); k != "result" {
		t.Fatalf("clave: %s", k)
	}
	res := out["result"].(map[string]any)
	if res["x"] != float64(1) {
		t.Fatalf("result: %v", res)
	}
}

func TestCallToolUnknownName(t *testing.T) {
	t.Parallel()
	s := newTestServer()

	out := s.CallTool(context.Background(), "no-existe", nil)
	if k := exactlyOneKey(t, out); k != "error" {
		t.Fatalf("clave: %s", k)
	}
	e := out["error"].(map[string]any)
	if e["error_type"] != string(mcperrors.KindNotFound) {
		t.Fatalf("error_type: %v", e["error_type"])
	}
}

func TestCallToolTaxonomyErrorPassesThrough(t *testing.T) {
	t.Parallel()
	s := newTestServer()

	out := s.CallTool(context.Background(), "boom_taxonomy", nil)
	e := out["error"].(map[string]any)
	if e["error_type"] != string(mcperrors.KindRateLimited) {
		t.Fatalf("error_type: %v", e["error_type"])
	}
	if e["recoverable"] != true {
		t.Fatalf("recoverable: %v", e["recoverable"])
	}
	if e["retry_after"] != 30 {
		t.Fatalf("retry_after: %v", e["retry_after"])
	}
}

func TestCallToolRawErrorWrapped(t *testing.T) {
	t.Parallel()
	s := newTestServer()

	out := s.CallTool(context.Background(), "boom_raw", nil)
	e := out["error"].(map[string]any)
	if e["error_type"] != string(mcperrors.KindAPIError) {
		t.Fatalf("error_type: %v", e["error_type"])
	}
	if e["recoverable"] != true {
		t.Fatalf("recoverable: %v", e["recoverable"])
	}
	if e["message"] != "algo explotó" {
		t.Fatalf("message: %v", e["message"])
	}
}

func TestListToolsSortedAndEmptyLegal(t *testing.T) {
	t.Parallel()

	empty := NewServer("x", "0")
	if got := empty.ListTools(); len(got) != 0 {
		t.Fatalf("registro vacío devolvió %d tools", len(got))
	}

	s := newTestServer()
	tools := s.ListTools()
	if len(tools) != 3 {
		t.Fatalf("tools: %d", len(tools))
	}
	for i := 1; i < len(tools); i++ {
		if tools[i-1].Name >= tools[i].Name {
			t.Fatalf("sin orden: %s >= %s", tools[i-1].Name, tools[i].Name)
		}
	}
}

func handle(t *testing.T, s *Server, raw string) Response {
	t.Helper()
	return s.HandleRequest(context.Background(), []byte(raw))
}

func TestHandleRequestEchoesIDVerbatim(t *testing.T) {
	t.Parallel()
	s := newTestServer()

	for _, tc := range []struct {
		raw    string
		wantID string
	}{
		{`{"jsonrpc":"2.0","method":"tools/list","id":7}`, `7`},
		{`{"jsonrpc":"2.0","method":"tools/list","id":"abc-1"}`, `"abc-1"`},
		{`{"jsonrpc":"2.0","method":"tools/list","id":null}`, `null`},
		{`{"jsonrpc":"2.0","method":"no/such","id":42}`, `42`},
	} {
		resp := handle(t, s, tc.raw)
		out, err := json.Marshal(resp)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var dec map[string]json.RawMessage
		if err := json.Unmarshal(out, &dec); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if string(dec["id"]) != tc.wantID {
			t.Fatalf("id de %s: %s, se esperaba %s", tc.raw, dec["id"], tc.wantID)
		}
	}
}

func TestHandleRequestProtocolErrors(t *testing.T) {
	t.Parallel()
	s := newTestServer()

	for _, tc := range []struct {
		name string
		raw  string
		code int
	}{
		{"parse error", `{esto no es json`, -32700},
		{"bad version", `{"jsonrpc":"1.0","method":"tools/list","id":1}`, -32600},
		{"missing version", `{"method":"tools/list","id":1}`, -32600},
		{"unknown method", `{"jsonrpc":"2.0","method":"resources/list","id":1}`, -32601},
		{"call without params", `{"jsonrpc":"2.0","method":"tools/call","id":1}`, -32602},
		{"call without name", `{"jsonrpc":"2.0","method":"tools/call","params":{"arguments":{}},"id":1}`, -32602},
	} {
		resp := handle(t, s, tc.raw)
		if resp.Error == nil {
			t.Fatalf("%s: sin error de protocolo", tc.name)
		}
		if resp.Error.Code != tc.code {
			t.Fatalf("%s: code %d, se esperaba %d", tc.name, resp.Error.Code, tc.code)
		}
		if resp.Result != nil {
			t.Fatalf("%s: result y error presentes a la vez", tc.name)
		}
	}
}

func TestHandleRequestInitialize(t *testing.T) {
	t.Parallel()
	s := newTestServer()

	resp := handle(t, s, `{"jsonrpc":"2.0","method":"initialize","id":1}`)
	if resp.Error != nil {
		t.Fatalf("initialize: %v", resp.Error)
	}
	res := resp.Result.(map[string]any)
	if res["protocolVersion"] != "2024-11-05" {
		t.Fatalf("protocolVersion: %v", res["protocolVersion"])
	}
	info := res["serverInfo"].(map[string]any)
	if info["name"] != "adbridge" || info["version"] != "1.0.0" {
		t.Fatalf("serverInfo: %v", info)
	}
	if _, ok := res["capabilities"].(map[string]any)["tools"]; !ok {
		t.Fatalf("capabilities: %v", res["capabilities"])
	}
}

func TestHandleRequestToolsCall(t *testing.T) {
	t.Parallel()
	s := newTestServer()

	resp := handle(t, s, `{"jsonrpc":"2.0","method":"tools/call","params":{"name":"echo","arguments":{"q":"ok"}},"id":5}`)
	if resp.Error != nil {
		t.Fatalf("tools/call: %v", resp.Error)
	}
	wrapped := resp.Result.(map[string]any)
	key := exactlyOneKey(t, wrapped)
	if key != "result" {
		t.Fatalf("clave: %s", key)
	}

	// tool desconocido viaja como error de taxonomía, no de protocolo
	resp = handle(t, s, `{"jsonrpc":"2.0","method":"tools/call","params":{"name":"nope"},"id":6}`)
	if resp.Error != nil {
		t.Fatalf("tool desconocido no debe ser error de protocolo: %v", resp.Error)
	}
	wrapped = resp.Result.(map[string]any)
	if exactlyOneKey(t, wrapped) != "error" {
		t.Fatalf("se esperaba error de taxonomía: %v", wrapped)
	}
}
