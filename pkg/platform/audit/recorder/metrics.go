package recorder

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	audit "aegis/pkg/platform/audit"
)

// Metrics counts recorded entries and publishing failures.
type Metrics struct {
	Recorded        *prometheus.CounterVec
	PublishFailures *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Recorded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_audit_recorded_total",
			Help: "Audit entries handed off successfully, by mode and outcome",
		}, []string{"mode", "outcome"}),
		PublishFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_audit_publish_failures_total",
			Help: "Audit entries that could not be handed off, by mode",
		}, []string{"mode"}),
	}
}

func (m *Metrics) IncRecorded(mode Mode, outcome audit.Outcome) {
	if m == nil {
		return
	}
	m.Recorded.WithLabelValues(mode.String(), string(outcome)).Inc()
}

func (m *Metrics) IncPublishFailure(mode Mode) {
	if m == nil {
		return
	}
	m.PublishFailures.WithLabelValues(mode.String()).Inc()
}
