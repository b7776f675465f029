package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dropDatabas3/adbridge/internal/domain"
	mcperrors "github.com/dropDatabas3/adbridge/internal/mcp/errors"
)

// defaultTimeout es el timeout de las llamadas al token endpoint.
const defaultTimeout = 30 * time.Second

// Flow ejecuta los intercambios OAuth contra los token endpoints.
// Se construye con NewFlow; los colaboradores (http client, credenciales,
// reloj) se inyectan, nunca hay estado global.
type Flow struct {
	http      *http.Client
	creds     CredentialsSource
	now       func() time.Time
	overrides map[string]Provider
}

// Option configura un Flow.
type Option func(*Flow)

// WithHTTPClient reemplaza el cliente HTTP (tests, proxies).
func WithHTTPClient(c *http.Client) Option {
	return func(f *Flow) { f.http = c }
}

// WithClock fija el reloj (tests).
func WithClock(now func() time.Time) Option {
	return func(f *Flow) { f.now = now }
}

// WithProvider reemplaza o agrega una entrada de la tabla de providers.
// Los endpoints siguen obligados a ser https.
func WithProvider(p Provider) Option {
	return func(f *Flow) { f.overrides[strings.ToLower(p.Name)] = p }
}

// NewFlow crea un Flow con timeout de 30s por default.
func NewFlow(creds CredentialsSource, opts ...Option) *Flow {
	f := &Flow{
		http:      &http.Client{Timeout: defaultTimeout},
		creds:     creds,
		now:       time.Now,
		overrides: make(map[string]Provider),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Flow) provider(platform string) (Provider, *mcperrors.Error) {
	name := strings.ToLower(strings.TrimSpace(platform))
	if p, ok := f.overrides[name]; ok {
		return p, nil
	}
	if p, ok := lookupProvider(name); ok {
		return p, nil
	}
	return Provider{}, mcperrors.NewInvalidParams(
		fmt.Sprintf("plataforma no soportada: %q (soportadas: %s)", platform, strings.Join(SupportedPlatforms(), ", ")))
}

// endpointURL interpola el tenant y exige https, sin importar cómo se haya
// configurado la tabla.
func endpointURL(endpoint, tenant string) (*url.URL, *mcperrors.Error) {
	raw := interpolateTenant(endpoint, tenant)
	u, err := url.Parse(raw)
	if err != nil {
		return nil, mcperrors.NewInvalidParams(fmt.Sprintf("endpoint inválido: %v", err))
	}
	if u.Scheme != "https" {
		return nil, mcperrors.NewInvalidParams(fmt.Sprintf("endpoint debe ser https: %s", raw))
	}
	return u, nil
}

// AuthURLRequest son los parámetros de BuildAuthURL. ClientID y Scopes son
// opcionales: vacíos se resuelven desde la config / defaults del provider.
type AuthURLRequest struct {
	Platform    string
	State       string
	RedirectURI string
	Tenant      string
	ClientID    string
	Scopes      []string
}

// BuildAuthURL arma la URL de autorización del provider.
func (f *Flow) BuildAuthURL(req AuthURLRequest) (string, error) {
	p, perr := f.provider(req.Platform)
	if perr != nil {
		return "", perr
	}
	if strings.TrimSpace(req.State) == "" {
		return "", mcperrors.NewInvalidParams("state vacío")
	}
	if strings.TrimSpace(req.RedirectURI) == "" {
		return "", mcperrors.NewInvalidParams("redirect_uri vacío")
	}
	if p.RequiresTenant && strings.TrimSpace(req.Tenant) == "" {
		return "", mcperrors.NewInvalidParams(fmt.Sprintf("%s requiere tenant (shop domain)", p.Name))
	}

	creds, err := f.creds.Lookup(p.Name)
	if err != nil {
		return "", mcperrors.NewInvalidParams(err.Error())
	}
	clientID, perr := resolveClientID(req.ClientID, creds, p.Name)
	if perr != nil {
		return "", perr
	}

	u, perr := endpointURL(p.AuthURL, req.Tenant)
	if perr != nil {
		return "", perr
	}

	scopes := req.Scopes
	if len(scopes) == 0 {
		scopes = p.DefaultScopes
	}

	q := u.Query()
	q.Set("client_id", clientID)
	q.Set("redirect_uri", req.RedirectURI)
	q.Set("state", req.State)
	q.Set("scope", strings.Join(scopes, p.ScopeSep))
	if !p.OmitResponseType {
		q.Set("response_type", "code")
	}
	for k, v := range p.ExtraAuthParams {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ExchangeRequest son los parámetros del canje code -> token.
type ExchangeRequest struct {
	Platform     string
	Code         string
	RedirectURI  string
	Tenant       string
	ClientID     string
	ClientSecret string
}

// ExchangeCode canjea el authorization code por TokenData normalizada.
// 4xx/5xx del upstream se envuelven como auth_required recuperable con el
// body adjunto; fallas de transporte como network_error.
func (f *Flow) ExchangeCode(ctx context.Context, req ExchangeRequest) (domain.TokenData, error) {
	var zero domain.TokenData

	p, perr := f.provider(req.Platform)
	if perr != nil {
		return zero, perr
	}
	if strings.TrimSpace(req.Code) == "" {
		return zero, mcperrors.NewInvalidParams("authorization code vacío")
	}
	if strings.TrimSpace(req.RedirectURI) == "" {
		return zero, mcperrors.NewInvalidParams("redirect_uri vacío")
	}
	if p.RequiresTenant && strings.TrimSpace(req.Tenant) == "" {
		return zero, mcperrors.NewInvalidParams(fmt.Sprintf("%s requiere tenant (shop domain)", p.Name))
	}

	creds, err := f.creds.Lookup(p.Name)
	if err != nil {
		return zero, mcperrors.NewInvalidParams(err.Error())
	}
	clientID, perr := resolveClientID(req.ClientID, creds, p.Name)
	if perr != nil {
		return zero, perr
	}
	clientSecret, perr := resolveClientSecret(req.ClientSecret, creds, p.Name)
	if perr != nil {
		return zero, perr
	}

	u, perr := endpointURL(p.TokenURL, req.Tenant)
	if perr != nil {
		return zero, perr
	}

	var httpReq *http.Request
	switch p.Style {
	case ExchangeGet:
		q := u.Query()
		q.Set("client_id", clientID)
		q.Set("client_secret", clientSecret)
		q.Set("redirect_uri", req.RedirectURI)
		q.Set("code", req.Code)
		u.RawQuery = q.Encode()
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)

	case ExchangeForm:
		form := url.Values{}
		form.Set("grant_type", "authorization_code")
		form.Set("code", req.Code)
		form.Set("client_id", clientID)
		form.Set("client_secret", clientSecret)
		form.Set("redirect_uri", req.RedirectURI)
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodPost, u.String(), strings.NewReader(form.Encode()))
		if httpReq != nil {
			httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}

	case ExchangeJSON:
		body, _ := json.Marshal(map[string]string{
			"client_id":     clientID,
			"client_secret": clientSecret,
			"code":          req.Code,
		})
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
		if httpReq != nil {
			httpReq.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return zero, mcperrors.NewNetworkError(fmt.Sprintf("armar request: %v", err))
	}

	tr, merr := f.doTokenRequest(httpReq, func(status int, body string) *mcperrors.Error {
		return mcperrors.NewAuthRequired(
			fmt.Sprintf("el canje de code falló para %s (%d)", p.Name, status)).
			WithRecoverable(true).
			WithDetails(map[string]any{"status_code": status, "body": truncate(body)})
	})
	if merr != nil {
		return zero, merr
	}

	return f.normalize(p, tr, "")
}

// RefreshRequest son los parámetros del refresh.
type RefreshRequest struct {
	Platform     string
	RefreshToken string
	Tenant       string
	ClientID     string
	ClientSecret string
}

// Refresh renueva el access token. Providers sin refresh real rechazan con
// auth_required no recuperable; un grant inválido/revocado se clasifica como
// auth_expired no recuperable (el manager lo traduce a "re-autenticar").
func (f *Flow) Refresh(ctx context.Context, req RefreshRequest) (domain.TokenData, error) {
	var zero domain.TokenData

	p, perr := f.provider(req.Platform)
	if perr != nil {
		return zero, perr
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		return zero, mcperrors.NewInvalidParams("refresh_token vacío")
	}
	if !p.SupportsRefresh {
		return zero, mcperrors.NewAuthRequired(
			fmt.Sprintf("%s no soporta refresh: el usuario debe re-autenticarse", p.Name))
	}
	if p.RequiresTenant && strings.TrimSpace(req.Tenant) == "" {
		return zero, mcperrors.NewInvalidParams(fmt.Sprintf("%s requiere tenant (shop domain)", p.Name))
	}

	creds, err := f.creds.Lookup(p.Name)
	if err != nil {
		return zero, mcperrors.NewInvalidParams(err.Error())
	}
	clientID, perr := resolveClientID(req.ClientID, creds, p.Name)
	if perr != nil {
		return zero, perr
	}
	clientSecret, perr := resolveClientSecret(req.ClientSecret, creds, p.Name)
	if perr != nil {
		return zero, perr
	}

	u, perr := endpointURL(p.TokenURL, req.Tenant)
	if perr != nil {
		return zero, perr
	}

	var httpReq *http.Request
	switch p.Style {
	case ExchangeGet:
		// Meta: long-lived token vía fb_exchange_token
		q := u.Query()
		q.Set("grant_type", "fb_exchange_token")
		q.Set("client_id", clientID)
		q.Set("client_secret", clientSecret)
		q.Set("fb_exchange_token", req.RefreshToken)
		u.RawQuery = q.Encode()
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)

	default:
		form := url.Values{}
		form.Set("grant_type", "refresh_token")
		form.Set("refresh_token", req.RefreshToken)
		form.Set("client_id", clientID)
		form.Set("client_secret", clientSecret)
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodPost, u.String(), strings.NewReader(form.Encode()))
		if httpReq != nil {
			httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return zero, mcperrors.NewNetworkError(fmt.Sprintf("armar request: %v", err))
	}

	tr, merr := f.doTokenRequest(httpReq, func(status int, body string) *mcperrors.Error {
		// 400/401 o invalid_grant: el grant ya no sirve, nada que reintentar
		if status == http.StatusBadRequest || status == http.StatusUnauthorized ||
			strings.Contains(body, "invalid_grant") {
			return mcperrors.NewAuthExpired(
				fmt.Sprintf("refresh rechazado por %s: grant inválido o revocado, re-autenticación requerida", p.Name)).
				WithDetails(map[string]any{"status_code": status, "body": truncate(body)})
		}
		return mcperrors.ClassifyHTTPStatus(status, body)
	})
	if merr != nil {
		return zero, merr
	}

	return f.normalize(p, tr, req.RefreshToken)
}

// tokenResponse cubre las variantes de respuesta de los tres providers.
// user_id viene como número en Meta y asociado en Shopify; se decodifica
// con alias ordenados en normalize.
type tokenResponse struct {
	AccessToken    string      `json:"access_token"`
	RefreshToken   string      `json:"refresh_token"`
	ExpiresIn      json.Number `json:"expires_in"`
	Scope          string      `json:"scope"`
	TokenType      string      `json:"token_type"`
	UserID         json.Number `json:"user_id"`
	AssociatedUser *struct {
		ID json.Number `json:"id"`
	} `json:"associated_user"`
}

// doTokenRequest ejecuta la llamada y separa las tres clases de falla:
// transporte (network_error), status no-2xx (lo decide onHTTPError) y
// body indecodificable (api_error).
func (f *Flow) doTokenRequest(req *http.Request, onHTTPError func(status int, body string) *mcperrors.Error) (tokenResponse, *mcperrors.Error) {
	var tr tokenResponse

	resp, err := f.http.Do(req)
	if err != nil {
		if urlErr, ok := err.(*url.Error); ok && urlErr.Timeout() {
			return tr, mcperrors.NewNetworkError(
				fmt.Sprintf("timeout llamando a %s", req.URL.Host)).WithCause(err)
		}
		return tr, mcperrors.NewNetworkError(
			fmt.Sprintf("fallo de transporte contra %s", req.URL.Host)).WithCause(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return tr, mcperrors.NewNetworkError("leyendo respuesta del token endpoint").WithCause(err)
	}

	if resp.StatusCode/100 != 2 {
		return tr, onHTTPError(resp.StatusCode, string(raw))
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&tr); err != nil {
		return tr, mcperrors.NewAPIError("respuesta del token endpoint no es JSON válido", false).WithCause(err)
	}
	return tr, nil
}

// normalize convierte la respuesta heterogénea en TokenData:
// expires_in relativo -> expires_at absoluto (o la ventana fija del provider),
// refresh_token ausente -> backfill por política, scopes del response o los
// defaults, platform_user_id con fallback "unknown".
func (f *Flow) normalize(p Provider, tr tokenResponse, oldRefresh string) (domain.TokenData, error) {
	if tr.AccessToken == "" {
		return domain.TokenData{}, mcperrors.NewAPIError(
			fmt.Sprintf("respuesta de %s sin access_token", p.Name), false)
	}

	now := f.now()

	var expiresAt time.Time
	if secs, err := tr.ExpiresIn.Int64(); err == nil && secs > 0 {
		expiresAt = now.Add(time.Duration(secs) * time.Second)
	} else if p.FixedValidity > 0 {
		expiresAt = now.Add(p.FixedValidity)
	} else {
		expiresAt = now.Add(time.Hour)
	}

	refresh := tr.RefreshToken
	if refresh == "" {
		if p.AccessTokenAsRefresh || oldRefresh == "" {
			refresh = tr.AccessToken
		} else {
			// Google puede omitir el refresh token al refrescar: se conserva el viejo
			refresh = oldRefresh
		}
	}

	scopes := p.DefaultScopes
	if tr.Scope != "" {
		scopes = strings.FieldsFunc(tr.Scope, func(r rune) bool {
			return r == ',' || r == ' '
		})
	}

	platformUserID := "unknown"
	if s := tr.UserID.String(); s != "" && s != "0" {
		platformUserID = s
	} else if tr.AssociatedUser != nil && tr.AssociatedUser.ID.String() != "" {
		platformUserID = tr.AssociatedUser.ID.String()
	}

	td := domain.TokenData{
		AccessToken:    tr.AccessToken,
		RefreshToken:   refresh,
		ExpiresAt:      expiresAt,
		Scopes:         scopes,
		PlatformUserID: platformUserID,
	}
	if err := td.Validate(); err != nil {
		return domain.TokenData{}, mcperrors.NewAPIError(err.Error(), false)
	}
	return td, nil
}

func truncate(s string) string {
	const max = 512
	if len(s) > max {
		return s[:max]
	}
	return s
}
