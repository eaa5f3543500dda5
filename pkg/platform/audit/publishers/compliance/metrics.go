package compliance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	audit "aegis/pkg/platform/audit"
)

// Metrics holds Prometheus metrics for synchronous audit writes.
type Metrics struct {
	EntriesPersisted *prometheus.CounterVec
	PersistFailures  prometheus.Counter
	Retries          prometheus.Counter
	PersistDuration  prometheus.Histogram
}

// NewMetrics registers the synchronous audit metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EntriesPersisted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_audit_sync_persisted_total",
			Help: "Audit entries persisted synchronously, by outcome",
		}, []string{"outcome"}),
		PersistFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "aegis_audit_sync_persist_failures_total",
			Help: "Synchronous audit writes that failed after all retries",
		}),
		Retries: f.NewCounter(prometheus.CounterOpts{
			Name: "aegis_audit_sync_retries_total",
			Help: "Retried synchronous audit writes",
		}),
		PersistDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "aegis_audit_sync_persist_duration_seconds",
			Help:    "Time to persist an audit entry synchronously, retries included",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
	}
}

func (m *Metrics) IncEntriesPersisted(outcome audit.Outcome) {
	if m == nil {
		return
	}
	m.EntriesPersisted.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) IncPersistFailures() {
	if m == nil {
		return
	}
	m.PersistFailures.Inc()
}

func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.Retries.Inc()
}

func (m *Metrics) ObservePersistDuration(seconds float64) {
	if m == nil {
		return
	}
	m.PersistDuration.Observe(seconds)
}
