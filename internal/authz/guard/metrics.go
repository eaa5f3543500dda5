package guard

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts denials by permission.
type Metrics struct {
	Denied *prometheus.CounterVec
}

// NewMetrics registers guard metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Denied: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_authz_denied_total",
			Help: "Guarded calls rejected by permission",
		}, []string{"permission"}),
	}
}

func (m *Metrics) IncDenied(permission string) {
	if m != nil {
		m.Denied.WithLabelValues(permission).Inc()
	}
}
