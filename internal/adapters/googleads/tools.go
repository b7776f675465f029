package googleads

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dropDatabas3/adbridge/internal/connection"
	"github.com/dropDatabas3/adbridge/internal/mcp"
	mcperrors "github.com/dropDatabas3/adbridge/internal/mcp/errors"
	"github.com/dropDatabas3/adbridge/internal/sanitize"
)

// EnvDeveloperToken es la variable con el developer token de la API.
const EnvDeveloperToken = "GOOGLE_ADS_DEVELOPER_TOKEN"

// Service expone los datos de Google Ads como tools del router.
// Las credenciales salen SIEMPRE del connection manager, por llamada:
// el service no guarda tokens propios.
type Service struct {
	mgr            *connection.Manager
	developerToken string
	errlog         *sanitize.APIErrorLog
	clientOpts     []ClientOption
}

// ServiceOption configura un Service.
type ServiceOption func(*Service)

// WithDeveloperToken fija el developer token (por defecto sale del env).
func WithDeveloperToken(tok string) ServiceOption {
	return func(s *Service) { s.developerToken = tok }
}

// WithServiceErrorLog comparte el ring de errores con los clientes que arma.
func WithServiceErrorLog(l *sanitize.APIErrorLog) ServiceOption {
	return func(s *Service) { s.errlog = l }
}

// WithClientOptions pasa opciones extra a cada Client (tests).
func WithClientOptions(opts ...ClientOption) ServiceOption {
	return func(s *Service) { s.clientOpts = opts }
}

// NewService arma el service sobre el manager de conexiones.
func NewService(mgr *connection.Manager, opts ...ServiceOption) *Service {
	s := &Service{
		mgr:            mgr,
		developerToken: os.Getenv(EnvDeveloperToken),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func baseSchema(withDates bool, required ...string) map[string]any {
	props := map[string]any{
		"user_id": map[string]any{
			"type":        "string",
			"description": "Identificador del usuario dueño de la conexión",
		},
	}
	if len(required) > 1 {
		props["customer_id"] = map[string]any{
			"type":        "string",
			"description": "Customer ID de Google Ads (con o sin guiones)",
		}
	}
	if withDates {
		props["date_from"] = map[string]any{
			"type":        "string",
			"description": "Fecha inicial YYYY-MM-DD",
		}
		props["date_to"] = map[string]any{
			"type":        "string",
			"description": "Fecha final YYYY-MM-DD",
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// Register publica los cuatro tools de Google Ads en el server.
func (s *Service) Register(srv *mcp.Server) {
	srv.RegisterTool("google_list_customers",
		"Lista las cuentas de Google Ads accesibles para el usuario",
		baseSchema(false, "user_id"),
		s.listCustomers)

	srv.RegisterTool("google_get_campaigns",
		"Trae campañas con métricas de un customer de Google Ads",
		baseSchema(true, "user_id", "customer_id"),
		s.getCampaigns)

	srv.RegisterTool("google_get_keywords",
		"Trae keywords con métricas de un customer de Google Ads",
		baseSchema(true, "user_id", "customer_id"),
		s.getKeywords)

	srv.RegisterTool("google_get_ad_groups",
		"Trae ad groups con métricas de un customer de Google Ads",
		baseSchema(true, "user_id", "customer_id"),
		s.getAdGroups)
}

func argString(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

// validateDate exige formato YYYY-MM-DD estricto. Se valida en el borde,
// antes de cualquier acceso a red o storage.
func validateDate(value, field string) error {
	if value == "" {
		return nil
	}
	if _, err := time.Parse("2006-01-02", value); err != nil {
		return mcperrors.NewInvalidParams(fmt.Sprintf("%s debe ser YYYY-MM-DD, recibido %q", field, value))
	}
	return nil
}

// newClient resuelve el token vigente vía el manager y arma un Client.
func (s *Service) newClient(ctx context.Context, userID string) (*Client, error) {
	token, err := s.mgr.GetAccessToken(ctx, "google", userID, "")
	if err != nil {
		return nil, err
	}
	opts := append([]ClientOption{WithErrorLog(s.errlog)}, s.clientOpts...)
	return NewClient(token, s.developerToken, opts...)
}

func (s *Service) listCustomers(ctx context.Context, args map[string]any) (any, error) {
	userID := argString(args, "user_id")
	if userID == "" {
		return nil, mcperrors.NewInvalidParams("user_id requerido")
	}

	client, err := s.newClient(ctx, userID)
	if err != nil {
		return nil, err
	}
	customers, err := client.ListCustomers(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"customers": customers, "count": len(customers)}, nil
}

// fetchArgs valida los argumentos comunes de los tools por customer.
func fetchArgs(args map[string]any) (userID, customerID, from, to string, err error) {
	userID = argString(args, "user_id")
	if userID == "" {
		return "", "", "", "", mcperrors.NewInvalidParams("user_id requerido")
	}
	customerID = argString(args, "customer_id")
	if customerID == "" {
		return "", "", "", "", mcperrors.NewInvalidParams("customer_id requerido")
	}
	from = argString(args, "date_from")
	if err = validateDate(from, "date_from"); err != nil {
		return "", "", "", "", err
	}
	to = argString(args, "date_to")
	if err = validateDate(to, "date_to"); err != nil {
		return "", "", "", "", err
	}
	return userID, customerID, from, to, nil
}

func (s *Service) getCampaigns(ctx context.Context, args map[string]any) (any, error) {
	userID, customerID, from, to, err := fetchArgs(args)
	if err != nil {
		return nil, err
	}
	client, err := s.newClient(ctx, userID)
	if err != nil {
		return nil, err
	}
	campaigns, err := client.GetCampaigns(ctx, customerID, from, to)
	if err != nil {
		return nil, err
	}
	return map[string]any{"campaigns": campaigns, "count": len(campaigns)}, nil
}

func (s *Service) getKeywords(ctx context.Context, args map[string]any) (any, error) {
	userID, customerID, from, to, err := fetchArgs(args)
	if err != nil {
		return nil, err
	}
	client, err := s.newClient(ctx, userID)
	if err != nil {
		return nil, err
	}
	keywords, err := client.GetKeywords(ctx, customerID, from, to)
	if err != nil {
		return nil, err
	}
	return map[string]any{"keywords": keywords, "count": len(keywords)}, nil
}

func (s *Service) getAdGroups(ctx context.Context, args map[string]any) (any, error) {
	userID, customerID, from, to, err := fetchArgs(args)
	if err != nil {
		return nil, err
	}
	client, err := s.newClient(ctx, userID)
	if err != nil {
		return nil, err
	}
	groups, err := client.GetAdGroups(ctx, customerID, from, to)
	if err != nil {
		return nil, err
	}
	return map[string]any{"ad_groups": groups, "count": len(groups)}, nil
}
