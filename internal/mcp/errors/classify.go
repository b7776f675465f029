package errors

import (
	"fmt"
	"net/http"
)

// defaultRetryAfter es el retry_after en segundos cuando el upstream devolvió
// 429 sin header Retry-After.
const defaultRetryAfter = 60

// ClassifyHTTPStatus mapea un status HTTP de upstream a la taxonomía:
//
//	401 -> auth_required
//	403 -> auth_expired
//	404 -> not_found
//	429 -> rate_limited (retry_after: el provisto, o 60)
//	5xx -> api_error recuperable
//	resto 4xx -> api_error no recuperable
//
// body se adjunta truncado en details para diagnóstico.
func ClassifyHTTPStatus(status int, body string) *Error {
	const maxBody = 512
	if len(body) > maxBody {
		body = body[:maxBody]
	}

	var e *Error
	switch {
	case status == http.StatusUnauthorized:
		e = NewAuthRequired("credencial rechazada por el upstream (401)")
	case status == http.StatusForbidden:
		e = NewAuthExpired("acceso denegado por el upstream (403): re-autenticación requerida")
	case status == http.StatusNotFound:
		e = NewNotFound("recurso inexistente en el upstream (404)")
	case status == http.StatusTooManyRequests:
		e = NewRateLimited("rate limit del upstream (429)", defaultRetryAfter)
	case status >= 500:
		e = NewAPIError(fmt.Sprintf("error del upstream (%d)", status), true)
	default:
		e = NewAPIError(fmt.Sprintf("request rechazado por el upstream (%d)", status), false)
	}

	d := map[string]any{"status_code": status}
	if body != "" {
		d["body"] = body
	}
	return e.WithDetails(d)
}

// ClassifyHTTPResponse es ClassifyHTTPStatus pero leyendo Retry-After de la
// respuesta cuando el status es 429.
func ClassifyHTTPResponse(status int, retryAfterHeader string, body string) *Error {
	e := ClassifyHTTPStatus(status, body)
	if status == http.StatusTooManyRequests && retryAfterHeader != "" {
		var secs int
		if _, err := fmt.Sscanf(retryAfterHeader, "%d", &secs); err == nil && secs > 0 {
			e = e.WithRetryAfter(secs)
		}
	}
	return e
}
