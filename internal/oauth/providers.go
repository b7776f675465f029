// Package oauth implementa el flujo authorization-code contra los providers
// soportados: construcción de la URL de autorización, canje de code por token
// y refresh. Las diferencias entre providers (separador de scopes, verbo del
// token endpoint, soporte de refresh) viven en la tabla de providers; el resto
// del subsistema sólo ve TokenData y errores de la taxonomía.
package oauth

import (
	"fmt"
	"strings"
	"time"

	mcperrors "github.com/dropDatabas3/adbridge/internal/mcp/errors"
)

// ExchangeStyle define cómo habla el token endpoint de un provider.
type ExchangeStyle int

const (
	// ExchangeGet manda los parámetros por query string (Meta).
	ExchangeGet ExchangeStyle = iota
	// ExchangeForm manda un POST application/x-www-form-urlencoded (Google).
	ExchangeForm
	// ExchangeJSON manda un POST con body JSON (Shopify).
	ExchangeJSON
)

// Provider describe los endpoints y quirks de una plataforma.
// AuthURL/TokenURL pueden contener el placeholder {shop}, que se interpola
// con el tenant en los providers que lo requieren.
type Provider struct {
	Name          string
	AuthURL       string
	TokenURL      string
	DefaultScopes []string

	// ScopeSep separa los scopes en la URL de autorización: "," o " ".
	ScopeSep string

	// Style define el verbo/encoding del token endpoint.
	Style ExchangeStyle

	// RequiresTenant exige shop/tenant para interpolar en los endpoints.
	RequiresTenant bool

	// SupportsRefresh indica si el provider tiene refresh real. Si es false,
	// Refresh rechaza con auth_required no recuperable y el refresh_token
	// almacenado es el propio access token (sentinel).
	SupportsRefresh bool

	// FixedValidity se usa cuando el provider no informa expires_in.
	FixedValidity time.Duration

	// AccessTokenAsRefresh indica que el provider no emite refresh token
	// propio: el access token hace de refresh token (sentinel). Al refrescar,
	// el sentinel se reemplaza por el access token nuevo.
	AccessTokenAsRefresh bool

	// OmitResponseType omite response_type=code en la URL de autorización
	// (Shopify no lo usa).
	OmitResponseType bool

	// ExtraAuthParams se agregan tal cual a la URL de autorización
	// (ej: access_type=offline de Google).
	ExtraAuthParams map[string]string
}

// Tabla estática de providers soportados.
var providers = map[string]Provider{
	"meta": {
		Name:            "meta",
		AuthURL:         "https://www.facebook.com/v21.0/dialog/oauth",
		TokenURL:        "https://graph.facebook.com/v21.0/oauth/access_token",
		DefaultScopes:   []string{"ads_management", "ads_read", "business_management"},
		ScopeSep:        ",",
		Style:                ExchangeGet,
		SupportsRefresh:      true, // long-lived token vía fb_exchange_token
		FixedValidity:        60 * 24 * time.Hour,
		AccessTokenAsRefresh: true,
	},
	"google": {
		Name:            "google",
		AuthURL:         "https://accounts.google.com/o/oauth2/v2/auth",
		TokenURL:        "https://oauth2.googleapis.com/token",
		DefaultScopes:   []string{"https://www.googleapis.com/auth/adwords"},
		ScopeSep:        " ",
		Style:           ExchangeForm,
		SupportsRefresh: true,
		ExtraAuthParams: map[string]string{
			"access_type": "offline",
			"prompt":      "consent",
		},
	},
	"shopify": {
		Name:                 "shopify",
		AuthURL:              "https://{shop}.myshopify.com/admin/oauth/authorize",
		TokenURL:             "https://{shop}.myshopify.com/admin/oauth/access_token",
		DefaultScopes:        []string{"read_orders", "read_products", "read_analytics"},
		ScopeSep:             ",",
		Style:                ExchangeJSON,
		RequiresTenant:       true,
		SupportsRefresh:      false,
		AccessTokenAsRefresh: true,
		OmitResponseType:     true,
		// Shopify no expira el token offline; ventana fija de ~1 año por política.
		FixedValidity: 365 * 24 * time.Hour,
	},
}

// SupportedPlatforms lista los nombres de plataforma conocidos.
func SupportedPlatforms() []string {
	out := make([]string, 0, len(providers))
	for name := range providers {
		out = append(out, name)
	}
	return out
}

// lookupProvider resuelve un provider por nombre, case-insensitive.
func lookupProvider(platform string) (Provider, bool) {
	p, ok := providers[strings.ToLower(strings.TrimSpace(platform))]
	return p, ok
}

// LookupProvider resuelve un provider o falla con invalid_params.
func LookupProvider(platform string) (Provider, error) {
	if p, ok := lookupProvider(platform); ok {
		return p, nil
	}
	return Provider{}, mcperrors.NewInvalidParams(
		fmt.Sprintf("plataforma no soportada: %q (soportadas: %s)", platform, strings.Join(SupportedPlatforms(), ", ")))
}

// interpolateTenant reemplaza {shop} por el tenant.
func interpolateTenant(endpoint, tenant string) string {
	return strings.ReplaceAll(endpoint, "{shop}", tenant)
}
