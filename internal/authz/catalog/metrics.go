package catalog

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks snapshot refreshes.
type Metrics struct {
	Refreshes       *prometheus.CounterVec
	RefreshDuration prometheus.Histogram
	SnapshotRows    *prometheus.GaugeVec
}

// NewMetrics registers catalog metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_authz_catalog_refresh_total",
			Help: "Reference snapshot refreshes by result",
		}, []string{"result"}),
		RefreshDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "aegis_authz_catalog_refresh_duration_seconds",
			Help:    "Duration of reference snapshot loads",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		SnapshotRows: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aegis_authz_catalog_rows",
			Help: "Rows in the active reference snapshot by table",
		}, []string{"table"}),
	}
}

func (m *Metrics) IncRefresh(result string) {
	if m != nil {
		m.Refreshes.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) ObserveRefresh(d time.Duration) {
	if m != nil {
		m.RefreshDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) SetSize(permissions, roles, userGrants int) {
	if m != nil {
		m.SnapshotRows.WithLabelValues("permissions").Set(float64(permissions))
		m.SnapshotRows.WithLabelValues("roles").Set(float64(roles))
		m.SnapshotRows.WithLabelValues("user_permissions").Set(float64(userGrants))
	}
}
