package session

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics covers session binding and bound transactions.
type Metrics struct {
	BindingFailures *prometheus.CounterVec
	Rollbacks       prometheus.Counter
	TxDuration      prometheus.Histogram
}

// NewMetrics registers session metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		BindingFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_session_binding_failures_total",
			Help: "Failed transaction-local session assignments by variable",
		}, []string{"variable"}),
		Rollbacks: f.NewCounter(prometheus.CounterOpts{
			Name: "aegis_session_tx_rollbacks_total",
			Help: "Bound transactions that did not commit",
		}),
		TxDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "aegis_session_tx_duration_seconds",
			Help:    "Duration of bound transactions from begin to commit or rollback",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) IncBindingFailure(variable string) {
	if m != nil {
		m.BindingFailures.WithLabelValues(variable).Inc()
	}
}

func (m *Metrics) IncRollback() {
	if m != nil {
		m.Rollbacks.Inc()
	}
}

func (m *Metrics) ObserveTx(d time.Duration) {
	if m != nil {
		m.TxDuration.Observe(d.Seconds())
	}
}
