// Package domain define los tipos centrales del subsistema de conexiones OAuth:
// credenciales por (user, platform), vistas de conexión y configuración de provider.
package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// TokenData es la credencial de una plataforma para un usuario.
// AccessToken y RefreshToken se cifran antes de persistir; el resto es metadata
// no secreta. ExpiresAt es siempre un instante absoluto, nunca relativo.
type TokenData struct {
	AccessToken    string    `json:"access_token"`
	RefreshToken   string    `json:"refresh_token"`
	ExpiresAt      time.Time `json:"expires_at"`
	Scopes         []string  `json:"scopes"`
	PlatformUserID string    `json:"platform_user_id"`
}

// Validate verifica los invariantes mínimos de una credencial.
func (t TokenData) Validate() error {
	if strings.TrimSpace(t.AccessToken) == "" {
		return fmt.Errorf("token: access_token vacío")
	}
	if strings.TrimSpace(t.RefreshToken) == "" {
		return fmt.Errorf("token: refresh_token vacío")
	}
	if t.ExpiresAt.IsZero() {
		return fmt.Errorf("token: expires_at sin setear")
	}
	return nil
}

// IsExpired reporta si la credencial ya venció al instante dado.
func (t TokenData) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// ConnectionStatus es el estado derivado de una conexión.
type ConnectionStatus string

const (
	StatusActive  ConnectionStatus = "active"
	StatusExpired ConnectionStatus = "expired"
	StatusError   ConnectionStatus = "error"
)

// Connection es la vista no secreta de una credencial almacenada.
// Status se computa al leer, nunca se persiste.
type Connection struct {
	Platform       string           `json:"platform"`
	UserID         string           `json:"user_id"`
	PlatformUserID string           `json:"platform_user_id"`
	ConnectedAt    time.Time        `json:"connected_at"`
	LastSync       time.Time        `json:"last_sync"`
	Status         ConnectionStatus `json:"status"`
}

// ConnectionHealth es el resultado puntual de un healthcheck.
// No se persiste; ErrorMessage sólo está presente cuando IsHealthy es false.
type ConnectionHealth struct {
	Platform     string    `json:"platform"`
	IsHealthy    bool      `json:"is_healthy"`
	TokenValid   bool      `json:"token_valid"`
	LastChecked  time.Time `json:"last_checked"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// OAuthConfig agrupa las credenciales y endpoints de un provider.
// AuthURL y TokenURL deben ser HTTPS; construir con otra cosa es un error duro.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
	AuthURL      string
	TokenURL     string
}

// Validate exige endpoints https y credenciales presentes.
func (c OAuthConfig) Validate() error {
	for _, ep := range []struct{ name, raw string }{
		{"auth_url", c.AuthURL},
		{"token_url", c.TokenURL},
	} {
		u, err := url.Parse(ep.raw)
		if err != nil {
			return fmt.Errorf("oauth config: %s inválida: %w", ep.name, err)
		}
		if u.Scheme != "https" {
			return fmt.Errorf("oauth config: %s debe ser https, es %q", ep.name, u.Scheme)
		}
	}
	if strings.TrimSpace(c.ClientID) == "" {
		return fmt.Errorf("oauth config: client_id vacío")
	}
	return nil
}

// NormalizePlatform canonicaliza un nombre de plataforma para claves de storage.
func NormalizePlatform(platform string) string {
	return strings.ToLower(strings.TrimSpace(platform))
}
