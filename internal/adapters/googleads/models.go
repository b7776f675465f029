// Package googleads traduce llamadas genéricas de tools a la API de Google
// Ads (búsquedas GAQL) y normaliza las respuestas a registros tipados con
// montos en unidades de moneda y métricas derivadas.
package googleads

import (
	"encoding/json"
	"strconv"
	"strings"
)

const microsPerUnit = 1_000_000

// Customer es una cuenta accesible de Google Ads.
type Customer struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Currency string `json:"currency"`
	Timezone string `json:"timezone"`
}

// Campaign es una campaña con sus métricas del período consultado.
// Cost viene convertido de micros a unidades; CPC y CTR son derivadas.
type Campaign struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Status       string  `json:"status"`
	CampaignType string  `json:"campaign_type"`
	Cost         float64 `json:"cost"`
	Impressions  int64   `json:"impressions"`
	Clicks       int64   `json:"clicks"`
	Conversions  float64 `json:"conversions"`
	CPC          float64 `json:"cpc"`
	CTR          float64 `json:"ctr"`
}

// Keyword es un criterio de keyword con métricas. QualityScore puede faltar.
type Keyword struct {
	ID           string  `json:"id"`
	Text         string  `json:"text"`
	MatchType    string  `json:"match_type"`
	Impressions  int64   `json:"impressions"`
	Clicks       int64   `json:"clicks"`
	Cost         float64 `json:"cost"`
	Conversions  float64 `json:"conversions"`
	QualityScore *int    `json:"quality_score"`
}

// AdGroup es un grupo de anuncios con métricas.
type AdGroup struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	CampaignID  string  `json:"campaign_id"`
	Status      string  `json:"status"`
	Cost        float64 `json:"cost"`
	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
	Conversions float64 `json:"conversions"`
}

// row es una fila cruda del resultado de googleAds:search.
type row map[string]any

func (r row) section(name string) map[string]any {
	if m, ok := r[name].(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// str busca la primera clave presente. La API usa camelCase pero algunos
// proxies reescriben a snake_case, por eso se aceptan alias en orden.
func str(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			return v
		case json.Number:
			return v.String()
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

// num tolera números JSON y strings numéricos (la API de Google Ads
// serializa los contadores de 64 bits como strings).
func num(m map[string]any, keys ...string) float64 {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			return v
		case json.Number:
			f, err := v.Float64()
			if err == nil {
				return f
			}
		case string:
			f, err := strconv.ParseFloat(v, 64)
			if err == nil {
				return f
			}
		case int:
			return float64(v)
		case int64:
			return float64(v)
		}
	}
	return 0
}

// lastSegment extrae el id final de un resource name (customers/123/... o
// criterios con separador ~).
func lastSegment(resourceName, sep string) string {
	if resourceName == "" {
		return ""
	}
	parts := strings.Split(resourceName, sep)
	return parts[len(parts)-1]
}

// customerFromRow arma un Customer desde una fila GAQL de la tabla customer.
func customerFromRow(r row) Customer {
	c := r.section("customer")
	id := str(c, "id")
	if id == "" {
		id = lastSegment(str(c, "resourceName", "resource_name"), "/")
	}
	currency := str(c, "currencyCode", "currency_code")
	if currency == "" {
		currency = "USD"
	}
	return Customer{
		ID:       id,
		Name:     str(c, "descriptiveName", "descriptive_name", "name"),
		Currency: currency,
		Timezone: str(c, "timeZone", "time_zone"),
	}
}

// campaignFromRow arma una Campaign desde una fila campaign+metrics.
// Las derivadas usan guarda de cero: sin clicks no hay CPC, sin
// impresiones no hay CTR, nunca una división por cero.
func campaignFromRow(r row) Campaign {
	c := r.section("campaign")
	m := r.section("metrics")

	id := str(c, "id")
	if id == "" {
		id = lastSegment(str(c, "resourceName", "resource_name"), "/")
	}

	cost := num(m, "costMicros", "cost_micros") / microsPerUnit
	clicks := int64(num(m, "clicks"))
	impressions := int64(num(m, "impressions"))

	cpc := 0.0
	if clicks > 0 {
		cpc = cost / float64(clicks)
	}
	ctr := 0.0
	if impressions > 0 {
		ctr = float64(clicks) / float64(impressions) * 100
	}

	return Campaign{
		ID:           id,
		Name:         str(c, "name"),
		Status:       str(c, "status"),
		CampaignType: str(c, "advertisingChannelType", "advertising_channel_type", "type"),
		Cost:         cost,
		Impressions:  impressions,
		Clicks:       clicks,
		Conversions:  num(m, "conversions"),
		CPC:          cpc,
		CTR:          ctr,
	}
}

// keywordFromRow arma una Keyword desde una fila adGroupCriterion+metrics.
func keywordFromRow(r row) Keyword {
	crit := r.section("adGroupCriterion")
	if len(crit) == 0 {
		crit = r.section("ad_group_criterion")
	}
	m := r.section("metrics")

	info, _ := crit["keyword"].(map[string]any)

	id := str(crit, "criterionId", "criterion_id")
	if id == "" {
		id = lastSegment(str(crit, "resourceName", "resource_name"), "~")
	}

	var quality *int
	qi, ok := crit["qualityInfo"].(map[string]any)
	if !ok {
		qi, ok = crit["quality_info"].(map[string]any)
	}
	if ok {
		if qs := num(qi, "qualityScore", "quality_score"); qs > 0 {
			v := int(qs)
			quality = &v
		}
	}

	return Keyword{
		ID:           id,
		Text:         str(info, "text"),
		MatchType:    str(info, "matchType", "match_type"),
		Impressions:  int64(num(m, "impressions")),
		Clicks:       int64(num(m, "clicks")),
		Cost:         num(m, "costMicros", "cost_micros") / microsPerUnit,
		Conversions:  num(m, "conversions"),
		QualityScore: quality,
	}
}

// adGroupFromRow arma un AdGroup desde una fila adGroup+metrics.
func adGroupFromRow(r row) AdGroup {
	g := r.section("adGroup")
	if len(g) == 0 {
		g = r.section("ad_group")
	}
	m := r.section("metrics")

	id := str(g, "id")
	if id == "" {
		id = lastSegment(str(g, "resourceName", "resource_name"), "/")
	}

	return AdGroup{
		ID:          id,
		Name:        str(g, "name"),
		CampaignID:  lastSegment(str(g, "campaign"), "/"),
		Status:      str(g, "status"),
		Cost:        num(m, "costMicros", "cost_micros") / microsPerUnit,
		Impressions: int64(num(m, "impressions")),
		Clicks:      int64(num(m, "clicks")),
		Conversions: num(m, "conversions"),
	}
}
