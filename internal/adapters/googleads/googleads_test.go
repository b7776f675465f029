package googleads

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dropDatabas3/adbridge/internal/connection"
	"github.com/dropDatabas3/adbridge/internal/domain"
	"github.com/dropDatabas3/adbridge/internal/kv"
	mcperrors "github.com/dropDatabas3/adbridge/internal/mcp/errors"
	"github.com/dropDatabas3/adbridge/internal/oauth"
	"github.com/dropDatabas3/adbridge/internal/sanitize"
	"github.com/dropDatabas3/adbridge/internal/security/secretbox"
	"github.com/dropDatabas3/adbridge/internal/tokenstore"
)

func decodeRow(t *testing.T, raw string) row {
	t.Helper()
	var r row
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		t.Fatalf("row: %v", err)
	}
	return r
}

func TestCampaignFromRowMicrosAndDerived(t *testing.T) {
	t.Parallel()

	r := decodeRow(t, `{
		"campaign": {"id": "123", "name": "Verano", "status": "ENABLED", "advertisingChannelType": "SEARCH"},
		"metrics": {"costMicros": "2500000", "impressions": "1000", "clicks": "50", "conversions": 5}
	}`)
	c := campaignFromRow(r)

	if c.ID != "123" || c.Name != "Verano" || c.CampaignType != "SEARCH" {
		t.Fatalf("campaña: %+v", c)
	}
	if c.Cost != 2.5 {
		t.Fatalf("cost en unidades: %v", c.Cost)
	}
	if c.CPC != 2.5/50 {
		t.Fatalf("cpc: %v", c.CPC)
	}
	if c.CTR != 5.0 {
		t.Fatalf("ctr: %v", c.CTR)
	}
}

func TestCampaignFromRowZeroGuards(t *testing.T) {
	t.Parallel()

	r := decodeRow(t, `{
		"campaign": {"id": "9", "name": "Sin tráfico", "status": "PAUSED"},
		"metrics": {"cost_micros": "1000000", "impressions": "0", "clicks": "0"}
	}`)
	c := campaignFromRow(r)

	if c.CPC != 0.0 || c.CTR != 0.0 {
		t.Fatalf("sin clicks/impresiones las derivadas deben ser 0: cpc=%v ctr=%v", c.CPC, c.CTR)
	}
	if c.Cost != 1.0 {
		t.Fatalf("alias snake_case no decodificó: %v", c.Cost)
	}
}

func TestCampaignIDFromResourceName(t *testing.T) {
	t.Parallel()

	r := decodeRow(t, `{"campaign": {"resourceName": "customers/111/campaigns/777", "name": "x"}}`)
	if c := campaignFromRow(r); c.ID != "777" {
		t.Fatalf("id desde resource name: %q", c.ID)
	}
}

func TestKeywordFromRow(t *testing.T) {
	t.Parallel()

	r := decodeRow(t, `{
		"adGroupCriterion": {
			"criterionId": "42",
			"keyword": {"text": "zapatillas", "matchType": "EXACT"},
			"qualityInfo": {"qualityScore": 8}
		},
		"metrics": {"costMicros": "500000", "impressions": "200", "clicks": "10", "conversions": 1}
	}`)
	k := keywordFromRow(r)

	if k.ID != "42" || k.Text != "zapatillas" || k.MatchType != "EXACT" {
		t.Fatalf("keyword: %+v", k)
	}
	if k.QualityScore == nil || *k.QualityScore != 8 {
		t.Fatalf("quality score: %v", k.QualityScore)
	}
	if k.Cost != 0.5 {
		t.Fatalf("cost: %v", k.Cost)
	}
}

func TestKeywordQualityScoreAbsent(t *testing.T) {
	t.Parallel()

	r := decodeRow(t, `{"adGroupCriterion": {"criterionId": "1", "keyword": {"text": "a"}}}`)
	if k := keywordFromRow(r); k.QualityScore != nil {
		t.Fatalf("quality score ausente debe ser nil: %v", *k.QualityScore)
	}
}

func TestKeywordQualityInfoSnakeCase(t *testing.T) {
	t.Parallel()

	r := decodeRow(t, `{
		"ad_group_criterion": {
			"criterion_id": "7",
			"keyword": {"text": "b"},
			"quality_info": {"quality_score": 5}
		}
	}`)
	k := keywordFromRow(r)
	if k.QualityScore == nil || *k.QualityScore != 5 {
		t.Fatalf("quality score con alias snake_case: %v", k.QualityScore)
	}
}

func TestAdGroupFromRow(t *testing.T) {
	t.Parallel()

	r := decodeRow(t, `{
		"adGroup": {"id": "55", "name": "Grupo A", "campaign": "customers/1/campaigns/321", "status": "ENABLED"},
		"metrics": {"costMicros": "3000000", "impressions": "100", "clicks": "3"}
	}`)
	g := adGroupFromRow(r)

	if g.ID != "55" || g.CampaignID != "321" {
		t.Fatalf("ad group: %+v", g)
	}
	if g.Cost != 3.0 {
		t.Fatalf("cost: %v", g.Cost)
	}
}

func TestCustomerFromRowDefaults(t *testing.T) {
	t.Parallel()

	r := decodeRow(t, `{"customer": {"resourceName": "customers/909", "descriptiveName": "Tienda"}}`)
	c := customerFromRow(r)
	if c.ID != "909" || c.Name != "Tienda" || c.Currency != "USD" {
		t.Fatalf("customer: %+v", c)
	}
}

func newFakeAPI(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient("tok-123", "dev-456",
		WithHTTPClient(srv.Client()), WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client, srv
}

func TestClientSearchSendsAuthHeaders(t *testing.T) {
	t.Parallel()

	client, _ := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-123" {
			t.Errorf("Authorization: %q", got)
		}
		if got := r.Header.Get("developer-token"); got != "dev-456" {
			t.Errorf("developer-token: %q", got)
		}
		if !strings.HasSuffix(r.URL.Path, "/customers/1234567890/googleAds:search") {
			t.Errorf("path: %s", r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["query"] == "" {
			t.Errorf("body sin query: %v %v", body, err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results": [{"campaign": {"id": "1", "name": "c"}, "metrics": {"costMicros": "1000000"}}]}`))
	})

	// el id con guiones se normaliza
	campaigns, err := client.GetCampaigns(context.Background(), "123-456-7890", "", "")
	if err != nil {
		t.Fatalf("GetCampaigns: %v", err)
	}
	if len(campaigns) != 1 || campaigns[0].Cost != 1.0 {
		t.Fatalf("campañas: %+v", campaigns)
	}
}

func TestClientDateFilterInQuery(t *testing.T) {
	t.Parallel()

	var gotQuery string
	client, _ := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		gotQuery = body["query"]
		w.Write([]byte(`{"results": []}`))
	})

	if _, err := client.GetKeywords(context.Background(), "1", "2026-01-01", "2026-01-31"); err != nil {
		t.Fatalf("GetKeywords: %v", err)
	}
	if !strings.Contains(gotQuery, "segments.date BETWEEN '2026-01-01' AND '2026-01-31'") {
		t.Fatalf("query sin filtro de fechas: %s", gotQuery)
	}
}

func TestClientClassifiesUpstreamErrors(t *testing.T) {
	t.Parallel()

	errlog := sanitize.NewAPIErrorLog(10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "15")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": "rate limit"}`))
	}))
	t.Cleanup(srv.Close)
	client, err := NewClient("tok", "dev",
		WithHTTPClient(srv.Client()), WithBaseURL(srv.URL), WithErrorLog(errlog))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	_, err = client.GetAdGroups(context.Background(), "1", "", "")
	e, ok := err.(*mcperrors.Error)
	if !ok || e.Type != mcperrors.KindRateLimited {
		t.Fatalf("se esperaba rate_limited: %v", err)
	}
	if e.RetryAfter != 15 {
		t.Fatalf("retry_after: %d", e.RetryAfter)
	}
	if errlog.Len() != 1 {
		t.Fatalf("el error no quedó en el ring: %d", errlog.Len())
	}
}

func TestClientNetworkError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	client, err := NewClient("tok", "dev", WithBaseURL(base))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = client.ListCustomers(context.Background())
	e, ok := err.(*mcperrors.Error)
	if !ok || e.Type != mcperrors.KindNetworkError {
		t.Fatalf("se esperaba network_error: %v", err)
	}
	if !e.Recoverable {
		t.Fatal("network_error debe ser recuperable")
	}
}

func TestNewClientRequiresCredentials(t *testing.T) {
	t.Parallel()

	if _, err := NewClient("", "dev"); err == nil {
		t.Fatal("sin access token no debe construir")
	}
	_, err := NewClient("tok", "")
	e, ok := err.(*mcperrors.Error)
	if !ok || e.Type != mcperrors.KindInvalidParams {
		t.Fatalf("sin developer token: %v", err)
	}
	if !strings.Contains(e.Message, EnvDeveloperToken) {
		t.Fatalf("el mensaje no nombra la variable: %s", e.Message)
	}
}

func newToolService(t *testing.T) (*Service, *tokenstore.Store) {
	t.Helper()
	key := make([]byte, 32)
	cipher, err := secretbox.New(key)
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	store := tokenstore.New(kv.NewMemory("test"), cipher)
	flow := oauth.NewFlow(oauth.StaticCredentials{})
	mgr := connection.NewManager(store, flow, kv.NewMemory("test"))
	return NewService(mgr, WithDeveloperToken("dev")), store
}

func TestToolsValidateBeforeNetwork(t *testing.T) {
	t.Parallel()
	svc, _ := newToolService(t)
	ctx := context.Background()

	_, err := svc.getCampaigns(ctx, map[string]any{"customer_id": "1"})
	if e, ok := err.(*mcperrors.Error); !ok || e.Type != mcperrors.KindInvalidParams {
		t.Fatalf("sin user_id: %v", err)
	}

	_, err = svc.getCampaigns(ctx, map[string]any{"user_id": "u1"})
	if e, ok := err.(*mcperrors.Error); !ok || e.Type != mcperrors.KindInvalidParams {
		t.Fatalf("sin customer_id: %v", err)
	}

	_, err = svc.getCampaigns(ctx, map[string]any{
		"user_id": "u1", "customer_id": "1", "date_from": "01/02/2026",
	})
	e, ok := err.(*mcperrors.Error)
	if !ok || e.Type != mcperrors.KindInvalidParams {
		t.Fatalf("fecha inválida: %v", err)
	}
	if !strings.Contains(e.Message, "YYYY-MM-DD") {
		t.Fatalf("mensaje: %s", e.Message)
	}
}

func TestToolsRequireConnection(t *testing.T) {
	t.Parallel()
	svc, _ := newToolService(t)

	_, err := svc.listCustomers(context.Background(), map[string]any{"user_id": "sin-conexion"})
	if e, ok := err.(*mcperrors.Error); !ok || e.Type != mcperrors.KindAuthRequired {
		t.Fatalf("sin conexión: %v", err)
	}
}

func TestToolsUseStoredToken(t *testing.T) {
	t.Parallel()
	svc, store := newToolService(t)
	ctx := context.Background()

	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"resourceNames": []}`))
	}))
	t.Cleanup(srv.Close)
	svc.clientOpts = []ClientOption{WithHTTPClient(srv.Client()), WithBaseURL(srv.URL)}

	// sembrar una conexión google vigente
	key := "tok-de-google"
	if err := store.Store(ctx, "u1", "google", domain.TokenData{
		AccessToken:    key,
		RefreshToken:   "r",
		ExpiresAt:      time.Now().Add(time.Hour),
		PlatformUserID: "g-1",
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	out, err := svc.listCustomers(ctx, map[string]any{"user_id": "u1"})
	if err != nil {
		t.Fatalf("listCustomers: %v", err)
	}
	if gotAuth != "Bearer "+key {
		t.Fatalf("Authorization: %q", gotAuth)
	}
	res := out.(map[string]any)
	if res["count"] != 0 {
		t.Fatalf("count: %v", res["count"])
	}
}
