package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Métricas Prometheus del subsistema. Viven en un paquete propio para evitar
// ciclos de import entre el router, los adapters y la capa HTTP.

var (
	RPCRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "adbridge_rpc_requests_total",
		Help: "Requests JSON-RPC por método",
	}, []string{"method"})

	ToolCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "adbridge_tool_calls_total",
		Help: "Invocaciones de tools por nombre y resultado",
	}, []string{"tool", "outcome"})

	ToolLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "adbridge_tool_latency_ms",
		Help:    "Latencia de tools en milisegundos",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14),
	}, []string{"tool"})

	TokenRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "adbridge_token_refreshes_total",
		Help: "Refreshes de token por plataforma y resultado",
	}, []string{"platform", "outcome"})

	UpstreamErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "adbridge_upstream_errors_total",
		Help: "Errores de APIs upstream por plataforma y tipo",
	}, []string{"platform", "error_type"})
)

// Register registra todas las métricas en el registry dado (o el default si es nil).
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{
		RPCRequests,
		ToolCalls,
		ToolLatency,
		TokenRefreshes,
		UpstreamErrors,
	} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
