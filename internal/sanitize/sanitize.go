// Package sanitize es la frontera de logging: todo payload que pueda arrastrar
// datos de upstream (tokens, credenciales, PII) pasa por acá antes de loguearse
// o persistirse en el registro de errores.
package sanitize

import (
	"fmt"
	"regexp"
	"strings"
)

// maxDepth acota la recursión sobre mapas/listas anidadas.
const maxDepth = 10

// marker es el sufijo fijo con el que se enmascara un valor sensible.
const marker = "****"

// sensitiveKeys se matchea case-insensitive y por substring contra las claves
// de los mapas: "X-Api-Key", "user_password" y "refreshToken" caen todos.
var sensitiveKeys = []string{
	"access_token",
	"refresh_token",
	"token",
	"password",
	"secret",
	"api_key",
	"apikey",
	"authorization",
	"credential",
	"private_key",
	"session",
	"cookie",
}

var (
	reBearer = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-._~+/]+=*`)
	reEmail  = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	// corridas de 13-19 dígitos (con o sin separadores), formato tarjeta
	reCard = regexp.MustCompile(`\b(?:\d[ \-]?){13,19}\b`)
	// pares key=value o key: value con clave sensible inline en texto libre
	reInlineKV = regexp.MustCompile(`(?i)\b([\w\-]*(?:token|secret|password|api_key|apikey|key)[\w\-]*)\s*[=:]\s*([^\s&,;"']+)`)
)

// Mask enmascara un valor mostrando a lo sumo un prefijo corto.
// "abcdefgh" -> "abcd****"; valores de 8 chars o menos se tapan enteros.
func Mask(value string) string {
	if len(value) <= 8 {
		return marker
	}
	return value[:4] + marker
}

// IsSensitiveKey reporta si una clave de mapa debe enmascararse.
func IsSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

// String enmascara patrones reconocibles dentro de texto libre: bearer tokens,
// pares key=value sensibles, emails y corridas de dígitos tipo tarjeta.
func String(s string) string {
	s = reBearer.ReplaceAllString(s, "Bearer "+marker)
	s = reInlineKV.ReplaceAllString(s, "$1="+marker)
	s = reEmail.ReplaceAllStringFunc(s, func(m string) string {
		at := strings.Index(m, "@")
		if at <= 2 {
			return marker
		}
		return m[:2] + marker + m[at:]
	})
	s = reCard.ReplaceAllString(s, marker)
	return s
}

// Map sanitiza recursivamente un mapa: claves sensibles se enmascaran con
// Mask; strings libres pasan por String; mapas y listas anidados se recorren
// hasta maxDepth niveles. Devuelve una copia, nunca muta el original.
func Map(m map[string]any) map[string]any {
	return sanitizeMap(m, 0)
}

func sanitizeMap(m map[string]any, depth int) map[string]any {
	if m == nil {
		return nil
	}
	if depth >= maxDepth {
		return map[string]any{"_truncated": true}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if IsSensitiveKey(k) {
			out[k] = Mask(fmt.Sprintf("%v", v))
			continue
		}
		out[k] = sanitizeValue(v, depth+1)
	}
	return out
}

func sanitizeValue(v any, depth int) any {
	if depth >= maxDepth {
		return "_truncated"
	}
	switch t := v.(type) {
	case string:
		return String(t)
	case map[string]any:
		return sanitizeMap(t, depth)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = sanitizeValue(e, depth+1)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = String(e)
		}
		return out
	default:
		return v
	}
}

// Error sanitiza el mensaje de un error para loguearlo.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}
