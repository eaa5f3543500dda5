package compliance

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the compliance monitor and the retention purge.
type Metrics struct {
	Alerts        *prometheus.CounterVec
	ScanFailures  prometheus.Counter
	ScanDuration  prometheus.Histogram
	Purged        prometheus.Counter
	PurgeFailures prometheus.Counter
	LastPurge     prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Alerts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_compliance_alerts_total",
			Help: "Compliance alerts raised, by type and severity",
		}, []string{"type", "severity"}),
		ScanFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "aegis_compliance_scan_failures_total",
			Help: "Compliance scans that could not read the audit store",
		}),
		ScanDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "aegis_compliance_scan_duration_seconds",
			Help:    "Time to run one compliance scan",
			Buckets: prometheus.DefBuckets,
		}),
		Purged: f.NewCounter(prometheus.CounterOpts{
			Name: "aegis_audit_purged_entries_total",
			Help: "Audit entries deleted by the retention purge",
		}),
		PurgeFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "aegis_audit_purge_failures_total",
			Help: "Retention purges that failed",
		}),
		LastPurge: f.NewGauge(prometheus.GaugeOpts{
			Name: "aegis_audit_last_purge_timestamp_seconds",
			Help: "Unix time of the last successful retention purge",
		}),
	}
}

func (m *Metrics) IncAlert(a Alert) {
	if m == nil {
		return
	}
	m.Alerts.WithLabelValues(string(a.Type), string(a.Severity)).Inc()
}

func (m *Metrics) IncScanFailure() {
	if m == nil {
		return
	}
	m.ScanFailures.Inc()
}

func (m *Metrics) ObserveScan(d time.Duration) {
	if m == nil {
		return
	}
	m.ScanDuration.Observe(d.Seconds())
}

func (m *Metrics) AddPurged(n int64) {
	if m == nil {
		return
	}
	m.Purged.Add(float64(n))
	m.LastPurge.SetToCurrentTime()
}

func (m *Metrics) IncPurgeFailure() {
	if m == nil {
		return
	}
	m.PurgeFailures.Inc()
}
