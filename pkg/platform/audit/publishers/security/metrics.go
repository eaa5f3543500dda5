package security

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
)

const (
	reasonOverflow  = "overflow"
	reasonSinkError = "sink_error"
	reasonClosed    = "closed"
)

// Metrics holds Prometheus metrics for async audit publishing.
type Metrics struct {
	Enqueued     prometheus.Counter
	Flushed      prometheus.Counter
	Dropped      *prometheus.CounterVec
	Buffered     prometheus.Gauge
	BreakerState prometheus.Gauge
}

// NewMetrics registers the async audit metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Enqueued: f.NewCounter(prometheus.CounterOpts{
			Name: "aegis_audit_async_enqueued_total",
			Help: "Audit entries accepted by the async publisher",
		}),
		Flushed: f.NewCounter(prometheus.CounterOpts{
			Name: "aegis_audit_async_flushed_total",
			Help: "Audit entries delivered to the async sink",
		}),
		Dropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_audit_async_dropped_total",
			Help: "Audit entries dropped by the async publisher, by reason",
		}, []string{"reason"}),
		Buffered: f.NewGauge(prometheus.GaugeOpts{
			Name: "aegis_audit_async_buffered",
			Help: "Audit entries waiting in the async buffer",
		}),
		BreakerState: f.NewGauge(prometheus.GaugeOpts{
			Name: "aegis_audit_async_breaker_state",
			Help: "Async sink circuit breaker state (0=closed, 1=half-open, 2=open)",
		}),
	}
}

func (m *Metrics) IncEnqueued() {
	if m == nil {
		return
	}
	m.Enqueued.Inc()
}

func (m *Metrics) IncFlushed(n int) {
	if m == nil {
		return
	}
	m.Flushed.Add(float64(n))
}

func (m *Metrics) IncDropped(reason string, n int) {
	if m == nil {
		return
	}
	m.Dropped.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) SetBuffered(n int) {
	if m == nil {
		return
	}
	m.Buffered.Set(float64(n))
}

func (m *Metrics) SetBreakerState(state gobreaker.State) {
	if m == nil {
		return
	}
	m.BreakerState.Set(float64(state))
}
