// Package mcp implementa el router de requests: un registro de tools con
// schema JSON y un sobre request/response estilo JSON-RPC 2.0, agnóstico
// del transporte (lo usan tanto la capa HTTP como el loop stdio).
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dropDatabas3/adbridge/internal/mcp/errors"
	"github.com/dropDatabas3/adbridge/internal/metrics"
	"github.com/dropDatabas3/adbridge/internal/observability/logger"
)

const protocolVersion = "2024-11-05"

// Códigos de error de protocolo JSON-RPC 2.0.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

// ToolHandler ejecuta un tool con argumentos ya decodificados.
type ToolHandler func(ctx context.Context, args map[string]any) (any, error)

type toolEntry struct {
	description string
	inputSchema map[string]any
	handler     ToolHandler
}

// ToolInfo es la ficha pública de un tool registrado.
type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Server mantiene el registro de tools y despacha sobres JSON-RPC.
// Registrar es típicamente fase de arranque; despachar es concurrente.
type Server struct {
	name    string
	version string

	mu    sync.RWMutex
	tools map[string]toolEntry
}

// NewServer crea un server con registro vacío (legal: ListTools devuelve []).
func NewServer(name, version string) *Server {
	return &Server{
		name:    name,
		version: version,
		tools:   make(map[string]toolEntry),
	}
}

// RegisterTool agrega o reemplaza un tool por nombre.
func (s *Server) RegisterTool(name, description string, inputSchema map[string]any, handler ToolHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[name] = toolEntry{
		description: description,
		inputSchema: inputSchema,
		handler:     handler,
	}
}

// ListTools devuelve los tools registrados, ordenados por nombre.
func (s *Server) ListTools() []ToolInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ToolInfo, 0, len(s.tools))
	for name, e := range s.tools {
		out = append(out, ToolInfo{Name: name, Description: e.description, InputSchema: e.inputSchema})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CallTool ejecuta un tool y devuelve un mapa con EXACTAMENTE una de las
// claves "result" o "error". Nunca propaga un panic textual ni un error
// crudo: todo fallo sale como dict de la taxonomía.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) map[string]any {
	s.mu.RLock()
	entry, ok := s.tools[name]
	s.mu.RUnlock()

	if !ok {
		metrics.ToolCalls.WithLabelValues(name, "not_found").Inc()
		return map[string]any{
			"error": errors.NewNotFound(fmt.Sprintf("tool desconocido: %s", name)).ToMap(),
		}
	}

	start := time.Now()
	result, err := entry.handler(ctx, args)
	metrics.ToolLatency.WithLabelValues(name).Observe(float64(time.Since(start).Milliseconds()))

	if err != nil {
		e := errors.FromError(err)
		metrics.ToolCalls.WithLabelValues(name, string(e.Type)).Inc()
		logger.From(ctx).Warn("tool falló",
			logger.Tool(name), logger.ErrKind(string(e.Type)))
		return map[string]any{"error": e.ToMap()}
	}

	metrics.ToolCalls.WithLabelValues(name, "ok").Inc()
	return map[string]any{"result": result}
}

// Request es el sobre de entrada JSON-RPC 2.0.
// ID queda como raw para poder devolverlo byte a byte.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// RPCError es el error de nivel protocolo (no confundir con la taxonomía,
// que viaja dentro de result/error de tools/call).
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Response es el sobre de salida. Exactamente uno de Result/Error va seteado.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

type callParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

func protoError(id json.RawMessage, code int, msg string) Response {
	return Response{JSONRPC: "2.0", Error: &RPCError{Code: code, Message: msg}, ID: id}
}

// HandleRequest procesa un sobre crudo y devuelve siempre una Response con
// el id del request reproducido tal cual (incluso nulo o ausente).
func (s *Server) HandleRequest(ctx context.Context, raw []byte) Response {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return protoError(nil, codeParseError, "parse error")
	}

	if req.JSONRPC != "2.0" {
		return protoError(req.ID, codeInvalidRequest, fmt.Sprintf("versión jsonrpc inválida: %q", req.JSONRPC))
	}

	metrics.RPCRequests.WithLabelValues(req.Method).Inc()

	switch req.Method {
	case "initialize":
		return Response{
			JSONRPC: "2.0",
			Result: map[string]any{
				"protocolVersion": protocolVersion,
				"capabilities": map[string]any{
					"tools": map[string]any{"listChanged": false},
				},
				"serverInfo": map[string]any{
					"name":    s.name,
					"version": s.version,
				},
			},
			ID: req.ID,
		}

	case "tools/list":
		return Response{
			JSONRPC: "2.0",
			Result:  map[string]any{"tools": s.ListTools()},
			ID:      req.ID,
		}

	case "tools/call":
		if len(req.Params) == 0 {
			return protoError(req.ID, codeInvalidParams, "params requerido para tools/call")
		}
		var p callParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return protoError(req.ID, codeInvalidParams, "params inválido: "+err.Error())
		}
		if p.Name == "" {
			return protoError(req.ID, codeInvalidParams, "params.name requerido")
		}
		return Response{
			JSONRPC: "2.0",
			Result:  s.CallTool(ctx, p.Name, p.Arguments),
			ID:      req.ID,
		}

	default:
		return protoError(req.ID, codeMethodNotFound, fmt.Sprintf("método desconocido: %s", req.Method))
	}
}
