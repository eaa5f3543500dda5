package evaluator

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts decisions.
type Metrics struct {
	Decisions *prometheus.CounterVec
}

// NewMetrics registers evaluator metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Decisions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_authz_decisions_total",
			Help: "Permission decisions by result and deciding rule",
		}, []string{"allowed", "rule"}),
	}
}

// IncDecision records one decision.
func (m *Metrics) IncDecision(d Decision) {
	if m != nil {
		m.Decisions.WithLabelValues(strconv.FormatBool(d.Allowed), string(d.Rule)).Inc()
	}
}
