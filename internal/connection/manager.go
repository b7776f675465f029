// Package connection orquesta el ciclo de vida de las conexiones OAuth:
// emite estados CSRF, completa callbacks, refresca tokens vencidos en forma
// transparente, y expone listado/salud/desconexión por (user, platform).
package connection

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/adbridge/internal/domain"
	"github.com/dropDatabas3/adbridge/internal/kv"
	mcperrors "github.com/dropDatabas3/adbridge/internal/mcp/errors"
	"github.com/dropDatabas3/adbridge/internal/metrics"
	"github.com/dropDatabas3/adbridge/internal/oauth"
	"github.com/dropDatabas3/adbridge/internal/observability/logger"
	"github.com/dropDatabas3/adbridge/internal/tokenstore"
)

const (
	statePrefix = "state:"
	metaPrefix  = "meta:"

	// defaultStateTTL acota la vida de un estado CSRF nunca consumido.
	defaultStateTTL = 10 * time.Minute
)

// OAuthFlow es lo que el manager necesita del helper OAuth.
// *oauth.Flow lo implementa; los tests inyectan un fake.
type OAuthFlow interface {
	BuildAuthURL(req oauth.AuthURLRequest) (string, error)
	ExchangeCode(ctx context.Context, req oauth.ExchangeRequest) (domain.TokenData, error)
	Refresh(ctx context.Context, req oauth.RefreshRequest) (domain.TokenData, error)
}

// PendingState es el registro efímero CSRF de un flujo en curso.
type PendingState struct {
	UserID      string    `json:"user_id"`
	Platform    string    `json:"platform"`
	RedirectURI string    `json:"redirect_uri"`
	Tenant      string    `json:"tenant,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// connMeta es la metadata no secreta de una conexión establecida.
type connMeta struct {
	PlatformUserID string            `json:"platform_user_id"`
	ConnectedAt    time.Time         `json:"connected_at"`
	LastSync       time.Time         `json:"last_sync"`
	Extra          map[string]string `json:"extra,omitempty"`
}

// Manager es el punto de entrada único para obtener tokens utilizables.
// Todas las operaciones clavan estricto en (user_id, platform): ninguna lee
// ni escribe estado de otro usuario.
type Manager struct {
	store    *tokenstore.Store
	flow     OAuthFlow
	kv       kv.Client
	now      func() time.Time
	stateTTL time.Duration

	// refreshGroup deduplica refresh concurrentes de la misma clave.
	refreshGroup singleflight.Group
}

// ManagerOption configura un Manager.
type ManagerOption func(*Manager)

// WithClock fija el reloj (tests).
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithStateTTL cambia la expiración de los estados CSRF pendientes.
func WithStateTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) { m.stateTTL = ttl }
}

// NewManager arma el manager con sus colaboradores inyectados.
func NewManager(store *tokenstore.Store, flow OAuthFlow, client kv.Client, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:    store,
		flow:     flow,
		kv:       client,
		now:      time.Now,
		stateTTL: defaultStateTTL,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// generateState produce un token CSRF de 32 bytes aleatorios en base64url.
func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("state random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// GetOAuthURL genera un state fresco, lo registra como pendiente y devuelve
// la URL de autorización. Cada llamada produce un state distinto, incluso con
// argumentos idénticos.
func (m *Manager) GetOAuthURL(ctx context.Context, platform, userID, redirectURI, tenant string) (string, error) {
	state, err := generateState()
	if err != nil {
		return "", mcperrors.NewAPIError(err.Error(), false)
	}

	authURL, err := m.flow.BuildAuthURL(oauth.AuthURLRequest{
		Platform:    platform,
		State:       state,
		RedirectURI: redirectURI,
		Tenant:      tenant,
	})
	if err != nil {
		return "", err
	}

	rec, err := json.Marshal(PendingState{
		UserID:      userID,
		Platform:    domain.NormalizePlatform(platform),
		RedirectURI: redirectURI,
		Tenant:      tenant,
		CreatedAt:   m.now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("connection: marshal state: %w", err)
	}
	if err := m.kv.Set(ctx, statePrefix+state, string(rec), m.stateTTL); err != nil {
		return "", fmt.Errorf("connection: guardar state: %w", err)
	}

	logger.From(ctx).Debug("oauth url emitida",
		logger.Platform(domain.NormalizePlatform(platform)), logger.UserID(userID))
	return authURL, nil
}

// VerifyState consume un estado CSRF. Es one-shot: la primera verificación
// devuelve el registro y lo elimina; las siguientes devuelven (nil, nil).
// Ausente no es error: el caller lo trata como callback inválido o repetido.
func (m *Manager) VerifyState(ctx context.Context, state string) (*PendingState, error) {
	raw, err := m.kv.Get(ctx, statePrefix+state)
	if kv.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("connection: leer state: %w", err)
	}

	// el Delete decide la carrera: sólo quien borró de verdad consumió el state
	deleted, err := m.kv.Delete(ctx, statePrefix+state)
	if err != nil {
		return nil, fmt.Errorf("connection: consumir state: %w", err)
	}
	if !deleted {
		return nil, nil
	}

	var rec PendingState
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("connection: state corrupto: %w", err)
	}
	return &rec, nil
}

// HandleOAuthCallback canjea el code, guarda la credencial y registra la
// metadata de conexión. La verificación CSRF es responsabilidad del caller
// (VerifyState antes de llamar acá).
func (m *Manager) HandleOAuthCallback(ctx context.Context, platform, code, userID, redirectURI, tenant string) error {
	td, err := m.flow.ExchangeCode(ctx, oauth.ExchangeRequest{
		Platform:    platform,
		Code:        code,
		RedirectURI: redirectURI,
		Tenant:      tenant,
	})
	if err != nil {
		return err
	}

	if err := m.store.Store(ctx, userID, platform, td); err != nil {
		return err
	}

	now := m.now().UTC()
	meta := connMeta{
		PlatformUserID: td.PlatformUserID,
		ConnectedAt:    now,
		LastSync:       now,
	}
	if tenant != "" {
		meta.Extra = map[string]string{"tenant": tenant}
	}
	if err := m.writeMeta(ctx, userID, platform, meta); err != nil {
		return err
	}

	logger.From(ctx).Info("conexión establecida",
		logger.Platform(domain.NormalizePlatform(platform)),
		logger.UserID(userID),
		logger.PlatformUserID(td.PlatformUserID))
	return nil
}

// GetAccessToken es EL camino de lectura de tokens: vigente lo devuelve tal
// cual, vencido dispara el refresh transparente, ausente exige autenticación.
// Ningún otro componente debe leer el token store directo.
func (m *Manager) GetAccessToken(ctx context.Context, platform, userID, tenant string) (string, error) {
	td, err := m.store.Get(ctx, userID, platform)
	if err != nil {
		return "", err
	}
	if td == nil {
		return "", mcperrors.NewAuthRequired(
			fmt.Sprintf("sin conexión con %s: el usuario debe autenticarse", domain.NormalizePlatform(platform)))
	}

	if !td.IsExpired(m.now()) {
		m.touchLastSync(ctx, userID, platform)
		return td.AccessToken, nil
	}

	return m.RefreshToken(ctx, platform, userID, tenant)
}

// RefreshToken renueva la credencial y la reemplaza entera en el store.
// Refreshes concurrentes de la misma (user, platform) se colapsan en una
// sola llamada al provider vía singleflight.
func (m *Manager) RefreshToken(ctx context.Context, platform, userID, tenant string) (string, error) {
	key := userID + ":" + domain.NormalizePlatform(platform)

	v, err, _ := m.refreshGroup.Do(key, func() (any, error) {
		return m.doRefresh(ctx, platform, userID, tenant)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Manager) doRefresh(ctx context.Context, platform, userID, tenant string) (string, error) {
	old, err := m.store.Get(ctx, userID, platform)
	if err != nil {
		return "", err
	}
	if old == nil {
		return "", mcperrors.NewAuthRequired(
			fmt.Sprintf("sin conexión con %s: el usuario debe autenticarse", domain.NormalizePlatform(platform)))
	}

	fresh, err := m.flow.Refresh(ctx, oauth.RefreshRequest{
		Platform:     platform,
		RefreshToken: old.RefreshToken,
		Tenant:       tenant,
	})
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues(domain.NormalizePlatform(platform), "error").Inc()
		if e, ok := err.(*mcperrors.Error); ok && !e.Recoverable &&
			(e.Type == mcperrors.KindAuthExpired || e.Type == mcperrors.KindAuthRequired) {
			logger.From(ctx).Warn("refresh rechazado, re-auth requerida",
				logger.Platform(domain.NormalizePlatform(platform)),
				logger.UserID(userID),
				logger.ErrKind(string(e.Type)))
			return "", mcperrors.NewAuthExpired(
				fmt.Sprintf("la sesión con %s venció: el usuario debe re-autenticarse", domain.NormalizePlatform(platform))).
				WithDetails(map[string]any{
					"platform":       domain.NormalizePlatform(platform),
					"user_id":        userID,
					"original_error": e.ToMap(),
				})
		}
		// rate limit, red, 5xx: el caller decide si reintenta (retry policy)
		return "", err
	}

	// el provider puede no reenviar el platform_user_id: se conserva el viejo
	if fresh.PlatformUserID == "" || fresh.PlatformUserID == "unknown" {
		fresh.PlatformUserID = old.PlatformUserID
	}

	// el TokenData nuevo se arma completo ANTES del único Store: una
	// cancelación a mitad de camino nunca deja un registro a medias
	if err := m.store.Store(ctx, userID, platform, fresh); err != nil {
		return "", err
	}
	m.touchLastSync(ctx, userID, platform)
	metrics.TokenRefreshes.WithLabelValues(domain.NormalizePlatform(platform), "success").Inc()

	logger.From(ctx).Info("token refrescado",
		logger.Platform(domain.NormalizePlatform(platform)), logger.UserID(userID))
	return fresh.AccessToken, nil
}

// DisconnectPlatform borra credencial y metadata. True si algo existía.
// No toca otras plataformas del usuario ni al mismo platform de otros usuarios.
func (m *Manager) DisconnectPlatform(ctx context.Context, platform, userID string) (bool, error) {
	tokDeleted, err := m.store.Delete(ctx, userID, platform)
	if err != nil {
		return false, err
	}
	metaDeleted, err := m.kv.Delete(ctx, m.metaKey(userID, platform))
	if err != nil {
		return tokDeleted, err
	}

	if tokDeleted || metaDeleted {
		logger.From(ctx).Info("plataforma desconectada",
			logger.Platform(domain.NormalizePlatform(platform)), logger.UserID(userID))
	}
	return tokDeleted || metaDeleted, nil
}

// ListConnections enumera las conexiones del usuario con status derivado del
// vencimiento actual. Usuario sin tokens: lista vacía, no error.
func (m *Manager) ListConnections(ctx context.Context, userID string) ([]domain.Connection, error) {
	platforms, err := m.store.ListPlatforms(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := m.now()
	conns := make([]domain.Connection, 0, len(platforms))
	for _, p := range platforms {
		td, err := m.store.Get(ctx, userID, p)
		if err != nil || td == nil {
			continue
		}

		status := domain.StatusActive
		if td.IsExpired(now) {
			status = domain.StatusExpired
		}

		c := domain.Connection{
			Platform:       p,
			UserID:         userID,
			PlatformUserID: td.PlatformUserID,
			ConnectedAt:    now,
			LastSync:       now,
			Status:         status,
		}
		if meta, ok := m.readMeta(ctx, userID, p); ok {
			c.PlatformUserID = meta.PlatformUserID
			c.ConnectedAt = meta.ConnectedAt
			c.LastSync = meta.LastSync
		}
		conns = append(conns, c)
	}
	return conns, nil
}

// CheckConnectionHealth evalúa la validez del token SIN refrescar: es un
// chequeo de sólo lectura, a diferencia de GetAccessToken.
func (m *Manager) CheckConnectionHealth(ctx context.Context, platform, userID string) (domain.ConnectionHealth, error) {
	p := domain.NormalizePlatform(platform)
	h := domain.ConnectionHealth{
		Platform:    p,
		LastChecked: m.now().UTC(),
	}

	td, err := m.store.Get(ctx, userID, platform)
	if err != nil {
		return h, err
	}
	if td == nil {
		h.ErrorMessage = fmt.Sprintf("sin conexión con %s", p)
		return h, nil
	}
	if td.IsExpired(m.now()) {
		h.ErrorMessage = fmt.Sprintf("el token de %s está vencido", p)
		return h, nil
	}

	h.IsHealthy = true
	h.TokenValid = true
	return h, nil
}

// GetPlatformMetadata lee una clave libre de la metadata de conexión.
func (m *Manager) GetPlatformMetadata(ctx context.Context, platform, userID, key string) (string, bool) {
	meta, ok := m.readMeta(ctx, userID, platform)
	if !ok || meta.Extra == nil {
		return "", false
	}
	v, ok := meta.Extra[key]
	return v, ok
}

// SetPlatformMetadata escribe una clave libre (ej: el shop domain resuelto
// durante el callback, para que el adapter lo use después).
func (m *Manager) SetPlatformMetadata(ctx context.Context, platform, userID, key, value string) error {
	meta, ok := m.readMeta(ctx, userID, platform)
	if !ok {
		now := m.now().UTC()
		meta = connMeta{ConnectedAt: now, LastSync: now}
	}
	if meta.Extra == nil {
		meta.Extra = make(map[string]string)
	}
	meta.Extra[key] = value
	return m.writeMeta(ctx, userID, platform, meta)
}

// --- metadata helpers ---

// metaKey escapa los componentes igual que el token store: ":" en un
// user_id no puede colarse en el namespace de otro usuario.
func (m *Manager) metaKey(userID, platform string) string {
	return metaPrefix + url.QueryEscape(userID) + ":" + url.QueryEscape(domain.NormalizePlatform(platform))
}

func (m *Manager) readMeta(ctx context.Context, userID, platform string) (connMeta, bool) {
	raw, err := m.kv.Get(ctx, m.metaKey(userID, platform))
	if err != nil {
		return connMeta{}, false
	}
	var meta connMeta
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return connMeta{}, false
	}
	return meta, true
}

func (m *Manager) writeMeta(ctx context.Context, userID, platform string, meta connMeta) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("connection: marshal metadata: %w", err)
	}
	return m.kv.Set(ctx, m.metaKey(userID, platform), string(raw), 0)
}

func (m *Manager) touchLastSync(ctx context.Context, userID, platform string) {
	meta, ok := m.readMeta(ctx, userID, platform)
	if !ok {
		return
	}
	meta.LastSync = m.now().UTC()
	_ = m.writeMeta(ctx, userID, platform, meta)
}
