package sanitize

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// APIErrorEntry es un registro sanitizado de un error de upstream.
// Se guarda ya enmascarado: el ring nunca contiene secretos.
type APIErrorEntry struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	Platform   string         `json:"platform"`
	Operation  string         `json:"operation"`
	Message    string         `json:"message"`
	StatusCode int            `json:"status_code,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// APIErrorLog es un ring acotado en memoria con los últimos errores de API,
// pensado para herramientas de salud/debug. Seguro para uso concurrente.
type APIErrorLog struct {
	mu      sync.Mutex
	entries []APIErrorEntry
	next    int
	full    bool
}

// NewAPIErrorLog crea un ring con capacidad fija (mínimo 1).
func NewAPIErrorLog(capacity int) *APIErrorLog {
	if capacity < 1 {
		capacity = 1
	}
	return &APIErrorLog{entries: make([]APIErrorEntry, capacity)}
}

// Record agrega una entrada, sanitizando mensaje y detalles antes de guardar.
func (l *APIErrorLog) Record(platform, operation, message string, statusCode int, details map[string]any) APIErrorEntry {
	entry := APIErrorEntry{
		ID:         uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		Platform:   platform,
		Operation:  operation,
		Message:    String(message),
		StatusCode: statusCode,
		Details:    Map(details),
	}

	l.mu.Lock()
	l.entries[l.next] = entry
	l.next++
	if l.next == len(l.entries) {
		l.next = 0
		l.full = true
	}
	l.mu.Unlock()
	return entry
}

// Recent devuelve hasta n entradas, de la más nueva a la más vieja.
func (l *APIErrorLog) Recent(n int) []APIErrorEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	size := l.next
	if l.full {
		size = len(l.entries)
	}
	if n <= 0 || n > size {
		n = size
	}

	out := make([]APIErrorEntry, 0, n)
	idx := l.next - 1
	for len(out) < n {
		if idx < 0 {
			idx = len(l.entries) - 1
		}
		out = append(out, l.entries[idx])
		idx--
	}
	return out
}

// Len devuelve la cantidad de entradas retenidas.
func (l *APIErrorLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.full {
		return len(l.entries)
	}
	return l.next
}
