package oauth

import (
	"fmt"
	"os"
	"strings"

	mcperrors "github.com/dropDatabas3/adbridge/internal/mcp/errors"
)

// Credentials son las credenciales de app de un provider.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// CredentialsSource resuelve credenciales por plataforma.
// La implementación por defecto lee variables de entorno; los tests inyectan
// una tabla fija.
type CredentialsSource interface {
	Lookup(platform string) (Credentials, error)
}

// EnvCredentials lee <PLATFORM>_CLIENT_ID / _CLIENT_SECRET / _REDIRECT_URI
// (ej: META_CLIENT_ID). Getenv es inyectable para tests.
type EnvCredentials struct {
	Getenv func(string) string
}

// Lookup implementa CredentialsSource.
func (e EnvCredentials) Lookup(platform string) (Credentials, error) {
	getenv := e.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	prefix := strings.ToUpper(strings.TrimSpace(platform))
	c := Credentials{
		ClientID:     strings.TrimSpace(getenv(prefix + "_CLIENT_ID")),
		ClientSecret: strings.TrimSpace(getenv(prefix + "_CLIENT_SECRET")),
		RedirectURI:  strings.TrimSpace(getenv(prefix + "_REDIRECT_URI")),
	}
	return c, nil
}

// StaticCredentials es una tabla fija plataforma -> credenciales.
type StaticCredentials map[string]Credentials

// Lookup implementa CredentialsSource.
func (s StaticCredentials) Lookup(platform string) (Credentials, error) {
	c, ok := s[strings.ToLower(strings.TrimSpace(platform))]
	if !ok {
		return Credentials{}, fmt.Errorf("sin credenciales para %q", platform)
	}
	return c, nil
}

// resolveClientID toma el explícito si vino, si no el de la config; ninguno
// de los dos presente es un error de configuración claro, nunca un no-op.
func resolveClientID(explicit string, c Credentials, platform string) (string, *mcperrors.Error) {
	if v := strings.TrimSpace(explicit); v != "" {
		return v, nil
	}
	if c.ClientID != "" {
		return c.ClientID, nil
	}
	return "", mcperrors.NewInvalidParams(
		fmt.Sprintf("client_id no configurado para %s: setee %s_CLIENT_ID", platform, strings.ToUpper(platform)))
}

func resolveClientSecret(explicit string, c Credentials, platform string) (string, *mcperrors.Error) {
	if v := strings.TrimSpace(explicit); v != "" {
		return v, nil
	}
	if c.ClientSecret != "" {
		return c.ClientSecret, nil
	}
	return "", mcperrors.NewInvalidParams(
		fmt.Sprintf("client_secret no configurado para %s: setee %s_CLIENT_SECRET", platform, strings.ToUpper(platform)))
}
