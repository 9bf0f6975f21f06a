package health

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for health check outcomes.
// Modeled on internal/escrow/metrics.go's promauto.NewCounterVec/
// NewHistogramVec constructor shape, scoped to one registry per
// Monitor instance so repeated construction (e.g. in tests) never
// collides with the global default registerer.
type Metrics struct {
	ChecksTotal      *prometheus.CounterVec
	CheckLatency     *prometheus.HistogramVec
	ConsecutiveFails *prometheus.GaugeVec
	AutoDisables     *prometheus.CounterVec
}

// NewMetrics registers health-check collectors against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ChecksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "health_checks_total",
			Help: "Total number of connector health checks performed.",
		}, []string{"installation_id", "result"}),
		CheckLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "health_check_duration_seconds",
			Help:    "Duration of connector health check calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"installation_id"}),
		ConsecutiveFails: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "health_consecutive_failures",
			Help: "Current consecutive failure count per installation.",
		}, []string{"installation_id"}),
		AutoDisables: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "health_auto_disables_total",
			Help: "Total number of auto-disable events fired.",
		}, []string{"installation_id"}),
	}
}

func (m *Metrics) record(id string, healthy bool, latencySeconds float64, consecutiveFailures int) {
	if m == nil {
		return
	}
	result := "healthy"
	if !healthy {
		result = "unhealthy"
	}
	m.ChecksTotal.WithLabelValues(id, result).Inc()
	m.CheckLatency.WithLabelValues(id).Observe(latencySeconds)
	m.ConsecutiveFails.WithLabelValues(id).Set(float64(consecutiveFailures))
}

func (m *Metrics) recordAutoDisable(id string) {
	if m == nil {
		return
	}
	m.AutoDisables.WithLabelValues(id).Inc()
}
