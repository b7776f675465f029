package googleads

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

	mcperrors "github.com/dropDatabas3/adbridge/internal/mcp/errors"
	"github.com/dropDatabas3/adbridge/internal/metrics"
	"github.com/dropDatabas3/adbridge/internal/observability/logger"
	"github.com/dropDatabas3/adbridge/internal/sanitize"
)

const (
	apiVersion     = "v18"
	defaultBaseURL = "https://googleads.googleapis.com/" + apiVersion
	defaultTimeout = 30 * time.Second
)

// Client habla con la API REST de Google Ads para un access token dado.
// Es de corta vida: se arma por llamada con el token vigente del manager,
// nunca cachea credenciales propias.
type Client struct {
	http           *http.Client
	base           string
	accessToken    string
	developerToken string
	loginCustomer  string
	errlog         *sanitize.APIErrorLog
}

// ClientOption configura un Client.
type ClientOption func(*Client)

// WithHTTPClient inyecta el http.Client (tests).
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// WithBaseURL apunta el cliente a otro endpoint (tests).
func WithBaseURL(base string) ClientOption {
	return func(c *Client) { c.base = strings.TrimRight(base, "/") }
}

// WithLoginCustomer setea el header login-customer-id (cuentas MCC).
func WithLoginCustomer(id string) ClientOption {
	return func(c *Client) { c.loginCustomer = id }
}

// WithErrorLog registra los fallos upstream en el ring de errores.
func WithErrorLog(l *sanitize.APIErrorLog) ClientOption {
	return func(c *Client) { c.errlog = l }
}

// NewClient valida las credenciales mínimas y arma el cliente.
func NewClient(accessToken, developerToken string, opts ...ClientOption) (*Client, error) {
	if accessToken == "" {
		return nil, mcperrors.NewInvalidParams("access_token requerido")
	}
	if developerToken == "" {
		return nil, mcperrors.NewInvalidParams("developer token de Google Ads no configurado (GOOGLE_ADS_DEVELOPER_TOKEN)")
	}
	c := &Client{
		http:           &http.Client{Timeout: defaultTimeout},
		base:           defaultBaseURL,
		accessToken:    accessToken,
		developerToken: developerToken,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) headers(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("developer-token", c.developerToken)
	req.Header.Set("Content-Type", "application/json")
	if c.loginCustomer != "" {
		req.Header.Set("login-customer-id", c.loginCustomer)
	}
}

func (c *Client) recordError(ctx context.Context, op, msg string, status int, details map[string]any) {
	metrics.UpstreamErrors.WithLabelValues("google", opErrorType(status)).Inc()
	if c.errlog != nil {
		c.errlog.Record("google", op, msg, status, details)
	}
	logger.From(ctx).Warn("google ads api error",
		logger.Platform("google"),
		logger.Op(op),
		logger.Status(status),
		logger.String("detail", sanitize.String(msg)))
}

func opErrorType(status int) string {
	switch {
	case status == 0:
		return string(mcperrors.KindNetworkError)
	case status == 401 || status == 403:
		return string(mcperrors.KindAuthRequired)
	case status == 429:
		return string(mcperrors.KindRateLimited)
	default:
		return string(mcperrors.KindAPIError)
	}
}

// doRequest ejecuta una llamada y decodifica el JSON. Timeouts y fallas de
// transporte salen como network_error; status >= 400 pasa por el
// clasificador de la taxonomía.
func (c *Client) doRequest(ctx context.Context, method, endpoint string, body any) (map[string]any, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, mcperrors.NewInvalidParams("request body inválido: " + err.Error())
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+endpoint, reader)
	if err != nil {
		return nil, mcperrors.NewInvalidParams("request inválido: " + err.Error())
	}
	c.headers(req)

	resp, err := c.http.Do(req)
	if err != nil {
		var msg string
		if ue, ok := err.(*url.Error); ok && ue.Timeout() {
			msg = "timeout hablando con Google Ads: " + ue.Err.Error()
		} else {
			msg = "error de red hablando con Google Ads: " + err.Error()
		}
		c.recordError(ctx, method+" "+endpoint, msg, 0, nil)
		return nil, mcperrors.NewNetworkError(msg).WithCause(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, mcperrors.NewNetworkError("leyendo respuesta de Google Ads: " + err.Error()).WithCause(err)
	}

	if resp.StatusCode >= 400 {
		c.recordError(ctx, method+" "+endpoint,
			fmt.Sprintf("google ads respondió %d", resp.StatusCode),
			resp.StatusCode,
			map[string]any{"body": string(raw)})
		return nil, mcperrors.ClassifyHTTPResponse(resp.StatusCode, resp.Header.Get("Retry-After"), string(raw))
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, mcperrors.NewAPIError("respuesta de Google Ads no es JSON: "+err.Error(), false)
	}
	return out, nil
}

// search ejecuta una consulta GAQL contra un customer.
func (c *Client) search(ctx context.Context, customerID, query string) ([]row, error) {
	customerID = strings.ReplaceAll(customerID, "-", "")
	endpoint := "/customers/" + customerID + "/googleAds:search"

	out, err := c.doRequest(ctx, http.MethodPost, endpoint, map[string]string{"query": query})
	if err != nil {
		return nil, err
	}

	raw, _ := out["results"].([]any)
	rows := make([]row, 0, len(raw))
	for _, v := range raw {
		if m, ok := v.(map[string]any); ok {
			rows = append(rows, row(m))
		}
	}
	return rows, nil
}

// dateFilter arma la cláusula de fechas opcional de una GAQL.
func dateFilter(from, to string) string {
	switch {
	case from != "" && to != "":
		return fmt.Sprintf(" AND segments.date BETWEEN '%s' AND '%s'", from, to)
	case from != "":
		return fmt.Sprintf(" AND segments.date >= '%s'", from)
	case to != "":
		return fmt.Sprintf(" AND segments.date <= '%s'", to)
	}
	return ""
}

// ListCustomers enumera las cuentas accesibles con sus datos básicos.
// Las cuentas que no se pueden consultar se saltean, no abortan el listado.
func (c *Client) ListCustomers(ctx context.Context) ([]Customer, error) {
	out, err := c.doRequest(ctx, http.MethodGet, "/customers:listAccessibleCustomers", nil)
	if err != nil {
		return nil, err
	}

	names, _ := out["resourceNames"].([]any)
	customers := make([]Customer, 0, len(names))
	for _, v := range names {
		rn, ok := v.(string)
		if !ok {
			continue
		}
		id := lastSegment(rn, "/")

		rows, err := c.search(ctx, id,
			"SELECT customer.id, customer.descriptive_name, customer.currency_code, customer.time_zone FROM customer LIMIT 1")
		if err != nil {
			logger.From(ctx).Debug("customer inaccesible, salteado",
				logger.Platform("google"), logger.Key(id))
			continue
		}
		if len(rows) == 0 {
			customers = append(customers, Customer{ID: id, Currency: "USD"})
			continue
		}
		customers = append(customers, customerFromRow(rows[0]))
	}
	return customers, nil
}

// GetCampaigns trae las campañas no removidas con métricas del período.
func (c *Client) GetCampaigns(ctx context.Context, customerID, dateFrom, dateTo string) ([]Campaign, error) {
	query := "SELECT campaign.id, campaign.name, campaign.status, campaign.advertising_channel_type, " +
		"metrics.cost_micros, metrics.impressions, metrics.clicks, metrics.conversions " +
		"FROM campaign WHERE campaign.status != 'REMOVED'" + dateFilter(dateFrom, dateTo)

	rows, err := c.search(ctx, customerID, query)
	if err != nil {
		return nil, err
	}
	campaigns := make([]Campaign, 0, len(rows))
	for _, r := range rows {
		campaigns = append(campaigns, campaignFromRow(r))
	}
	return campaigns, nil
}

// GetKeywords trae los keywords no removidos con métricas del período.
func (c *Client) GetKeywords(ctx context.Context, customerID, dateFrom, dateTo string) ([]Keyword, error) {
	query := "SELECT ad_group_criterion.criterion_id, ad_group_criterion.keyword.text, " +
		"ad_group_criterion.keyword.match_type, ad_group_criterion.quality_info.quality_score, " +
		"metrics.cost_micros, metrics.impressions, metrics.clicks, metrics.conversions " +
		"FROM keyword_view WHERE ad_group_criterion.status != 'REMOVED'" + dateFilter(dateFrom, dateTo)

	rows, err := c.search(ctx, customerID, query)
	if err != nil {
		return nil, err
	}
	keywords := make([]Keyword, 0, len(rows))
	for _, r := range rows {
		keywords = append(keywords, keywordFromRow(r))
	}
	return keywords, nil
}

// GetAdGroups trae los ad groups no removidos con métricas del período.
func (c *Client) GetAdGroups(ctx context.Context, customerID, dateFrom, dateTo string) ([]AdGroup, error) {
	query := "SELECT ad_group.id, ad_group.name, ad_group.campaign, ad_group.status, " +
		"metrics.cost_micros, metrics.impressions, metrics.clicks, metrics.conversions " +
		"FROM ad_group WHERE ad_group.status != 'REMOVED'" + dateFilter(dateFrom, dateTo)

	rows, err := c.search(ctx, customerID, query)
	if err != nil {
		return nil, err
	}
	groups := make([]AdGroup, 0, len(rows))
	for _, r := range rows {
		groups = append(groups, adGroupFromRow(r))
	}
	return groups, nil
}
