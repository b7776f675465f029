// Package httpapi expone el subsistema por HTTP: el sobre JSON-RPC en /rpc,
// el flujo OAuth de navegador en /connect/{platform}/* y los endpoints de
// operación (/healthz, /metrics).
package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dropDatabas3/adbridge/internal/connection"
	"github.com/dropDatabas3/adbridge/internal/domain"
	"github.com/dropDatabas3/adbridge/internal/mcp"
	mcperrors "github.com/dropDatabas3/adbridge/internal/mcp/errors"
	"github.com/dropDatabas3/adbridge/internal/observability/logger"
)

const maxRPCBody = 1 << 20

// Deps agrupa los colaboradores del router HTTP.
type Deps struct {
	Server  *mcp.Server
	Manager *connection.Manager
}

// Handler arma el router chi con middlewares y rutas del subsistema.
func Handler(deps Deps) http.Handler {
	h := &handlers{srv: deps.Server, mgr: deps.Manager}

	r := chi.NewRouter()
	r.Use(withRequestID)
	r.Use(withLogging)
	r.Use(withRecover)

	r.Post("/rpc", h.rpc)
	r.Get("/connect/{platform}/start", h.connectStart)
	r.Get("/connect/{platform}/callback", h.connectCallback)
	r.Get("/healthz", h.healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

type handlers struct {
	srv *mcp.Server
	mgr *connection.Manager
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeTaxonomyError traduce un error de la taxonomía a HTTP: el status
// refleja el tipo, el cuerpo lleva el dict completo bajo "error".
func writeTaxonomyError(w http.ResponseWriter, err error) {
	e := mcperrors.FromError(err)

	status := http.StatusInternalServerError
	switch e.Type {
	case mcperrors.KindInvalidParams:
		status = http.StatusBadRequest
	case mcperrors.KindAuthRequired, mcperrors.KindAuthExpired:
		status = http.StatusUnauthorized
	case mcperrors.KindNotFound:
		status = http.StatusNotFound
	case mcperrors.KindRateLimited:
		status = http.StatusTooManyRequests
	case mcperrors.KindNetworkError:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]any{"error": e.ToMap()})
}

// rpc procesa un sobre JSON-RPC por request. Los errores de protocolo van
// igual con 200: el status HTTP no reemplaza al sobre.
func (h *handlers) rpc(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxRPCBody))
	if err != nil {
		writeTaxonomyError(w, mcperrors.NewInvalidParams("leyendo body: "+err.Error()))
		return
	}
	resp := h.srv.HandleRequest(r.Context(), raw)
	writeJSON(w, http.StatusOK, resp)
}

// connectStart inicia el flujo OAuth de navegador: genera el state y
// redirige al provider.
func (h *handlers) connectStart(w http.ResponseWriter, r *http.Request) {
	platform := chi.URLParam(r, "platform")
	q := r.URL.Query()

	userID := q.Get("user_id")
	if userID == "" {
		writeTaxonomyError(w, mcperrors.NewInvalidParams("user_id requerido"))
		return
	}
	redirectURI := q.Get("redirect_uri")
	if redirectURI == "" {
		writeTaxonomyError(w, mcperrors.NewInvalidParams("redirect_uri requerido"))
		return
	}

	authURL, err := h.mgr.GetOAuthURL(r.Context(), platform, userID, redirectURI, q.Get("shop"))
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// connectCallback cierra el flujo: consume el state y canjea el code.
func (h *handlers) connectCallback(w http.ResponseWriter, r *http.Request) {
	platform := chi.URLParam(r, "platform")
	q := r.URL.Query()

	if upstream := q.Get("error"); upstream != "" {
		writeTaxonomyError(w, mcperrors.NewAuthRequired("el provider rechazó la autorización: "+upstream))
		return
	}

	state := q.Get("state")
	code := q.Get("code")
	if state == "" || code == "" {
		writeTaxonomyError(w, mcperrors.NewInvalidParams("state y code requeridos"))
		return
	}

	pending, err := h.mgr.VerifyState(r.Context(), state)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	if pending == nil {
		writeTaxonomyError(w, mcperrors.NewInvalidParams("state inválido, vencido o ya usado"))
		return
	}
	if pending.Platform != domain.NormalizePlatform(platform) {
		writeTaxonomyError(w, mcperrors.NewInvalidParams("el state no corresponde a esta plataforma"))
		return
	}

	if err := h.mgr.HandleOAuthCallback(r.Context(),
		pending.Platform, code, pending.UserID, pending.RedirectURI, pending.Tenant); err != nil {
		logger.From(r.Context()).Warn("callback falló",
			logger.Platform(pending.Platform), logger.UserID(pending.UserID))
		writeTaxonomyError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"platform":  pending.Platform,
		"user_id":   pending.UserID,
		"connected": true,
	})
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
