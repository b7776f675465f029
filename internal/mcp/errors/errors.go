// Package errors define la taxonomía cerrada de errores del subsistema MCP.
// Todo componente (oauth, token store, connection manager, adapters, router)
// retorna errores de este tipo; el router los serializa tal cual al cliente.
package errors

import (
	"fmt"
)

// Kind identifica la clase de error. El set es cerrado: siete clases.
type Kind string

const (
	KindAuthRequired  Kind = "auth_required"
	KindAuthExpired   Kind = "auth_expired"
	KindRateLimited   Kind = "rate_limited"
	KindAPIError      Kind = "api_error"
	KindNetworkError  Kind = "network_error"
	KindInvalidParams Kind = "invalid_params"
	KindNotFound      Kind = "not_found"
)

// Error es el sobre uniforme de error del subsistema.
// RetryAfter está en segundos; 0 significa ausente (nunca se serializa en 0).
type Error struct {
	Type        Kind           `json:"error_type"`
	Message     string         `json:"message"`
	Recoverable bool           `json:"recoverable"`
	RetryAfter  int            `json:"retry_after,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	Err         error          `json:"-"` // causa original, sólo para logs
}

// Error implementa la interfaz error.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap permite acceder a la causa original.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetails agrega el mapa de detalles. Devuelve una COPIA para no mutar
// errores compartidos entre goroutines.
func (e *Error) WithDetails(d map[string]any) *Error {
	ne := *e
	ne.Details = d
	return &ne
}

// WithDetail agrega una entrada puntual de detalle. Devuelve una COPIA.
func (e *Error) WithDetail(key string, value any) *Error {
	ne := *e
	ne.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		ne.Details[k] = v
	}
	ne.Details[key] = value
	return &ne
}

// WithCause agrega el error original. Devuelve una COPIA.
func (e *Error) WithCause(err error) *Error {
	ne := *e
	ne.Err = err
	return &ne
}

// WithRecoverable fija la recuperabilidad. Devuelve una COPIA.
func (e *Error) WithRecoverable(recoverable bool) *Error {
	ne := *e
	ne.Recoverable = recoverable
	return &ne
}

// WithRetryAfter fija el retry_after en segundos. Devuelve una COPIA.
func (e *Error) WithRetryAfter(seconds int) *Error {
	ne := *e
	ne.RetryAfter = seconds
	return &ne
}

// ToMap serializa el error al mapa plano del protocolo.
// retry_after y details se omiten cuando están ausentes, nunca van en null.
func (e *Error) ToMap() map[string]any {
	m := map[string]any{
		"error_type":  string(e.Type),
		"message":     e.Message,
		"recoverable": e.Recoverable,
	}
	if e.RetryAfter > 0 {
		m["retry_after"] = e.RetryAfter
	}
	if len(e.Details) > 0 {
		m["details"] = e.Details
	}
	return m
}

// FromMap reconstruye un Error desde el mapa del protocolo.
// Tolera retry_after como int o float64 (JSON decodifica números a float64).
func FromMap(m map[string]any) *Error {
	e := &Error{Type: KindAPIError, Recoverable: false}
	if v, ok := m["error_type"].(string); ok {
		e.Type = Kind(v)
	}
	if v, ok := m["message"].(string); ok {
		e.Message = v
	}
	if v, ok := m["recoverable"].(bool); ok {
		e.Recoverable = v
	}
	switch v := m["retry_after"].(type) {
	case int:
		e.RetryAfter = v
	case float64:
		e.RetryAfter = int(v)
	}
	if v, ok := m["details"].(map[string]any); ok {
		e.Details = v
	}
	return e
}

// =================================================================================
// CONSTRUCTORES POR CLASE
// =================================================================================

// NewAuthRequired indica que no hay credencial utilizable: el usuario debe
// autenticarse. No recuperable por defecto.
func NewAuthRequired(message string) *Error {
	return &Error{Type: KindAuthRequired, Message: message, Recoverable: false}
}

// NewAuthExpired indica que el refresh token ya no sirve: re-auth obligatoria.
// Nunca debe reintentarse en silencio.
func NewAuthExpired(message string) *Error {
	return &Error{Type: KindAuthExpired, Message: message, Recoverable: false}
}

// NewRateLimited indica throttling del upstream. Siempre lleva retry_after
// (segundos); si el provider no lo informó, el caller pasa el default de 60.
func NewRateLimited(message string, retryAfter int) *Error {
	return &Error{Type: KindRateLimited, Message: message, Recoverable: true, RetryAfter: retryAfter}
}

// NewAPIError es el error genérico de upstream; la recuperabilidad la decide
// el caller según el contexto (5xx sí, 4xx no).
func NewAPIError(message string, recoverable bool) *Error {
	return &Error{Type: KindAPIError, Message: message, Recoverable: recoverable}
}

// NewNetworkError cubre fallas de transporte y timeouts. Recuperable.
func NewNetworkError(message string) *Error {
	return &Error{Type: KindNetworkError, Message: message, Recoverable: true}
}

// NewInvalidParams indica argumentos inválidos del caller. No recuperable.
func NewInvalidParams(message string) *Error {
	return &Error{Type: KindInvalidParams, Message: message, Recoverable: false}
}

// NewNotFound indica recurso inexistente. No recuperable.
func NewNotFound(message string) *Error {
	return &Error{Type: KindNotFound, Message: message, Recoverable: false}
}

// FromError convierte un error genérico en *Error.
// Si ya es *Error lo devuelve tal cual; si no, lo envuelve como api_error
// recuperable conservando la causa (contrato del router para panics ajenos).
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return NewAPIError(err.Error(), true).WithCause(err)
}
