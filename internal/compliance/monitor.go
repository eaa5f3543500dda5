package compliance

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"aegis/pkg/domain"
	audit "aegis/pkg/platform/audit"
)

const (
	defaultScanLimit   = 10000
	approachingHorizon = 30 * 24 * time.Hour
)

// Source is the read side of the audit store the monitor needs.
type Source interface {
	ListSince(ctx context.Context, since time.Time, limit int) ([]audit.Entry, error)
	ListUnreconciledBefore(ctx context.Context, cutoff time.Time, limit int) ([]audit.Entry, error)
	CountRetentionBefore(ctx context.Context, cutoff time.Time) (int64, error)
	CountRetentionBetween(ctx context.Context, from, to time.Time) (int64, error)
}

// Notifier delivers alerts raised by a scan.
type Notifier interface {
	Notify(ctx context.Context, alerts []Alert) error
}

// Monitor evaluates the alert rules over the audit trail.
type Monitor struct {
	source      Source
	sealer      *audit.Sealer
	thresholds  Thresholds
	territories domain.TerritorySet
	scanLimit   int
	notifier    Notifier
	clock       func() time.Time
	logger      *slog.Logger
	metrics     *Metrics
}

type Option func(*Monitor)

func WithThresholds(t Thresholds) Option {
	return func(m *Monitor) {
		m.thresholds = t
	}
}

// WithSealer enables checksum verification.
func WithSealer(s *audit.Sealer) Option {
	return func(m *Monitor) {
		m.sealer = s
	}
}

func WithTerritories(set domain.TerritorySet) Option {
	return func(m *Monitor) {
		m.territories = set
	}
}

func WithScanLimit(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.scanLimit = n
		}
	}
}

func WithNotifier(n Notifier) Option {
	return func(m *Monitor) {
		if n != nil {
			m.notifier = n
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(m *Monitor) {
		if clock != nil {
			m.clock = clock
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithMetrics(metrics *Metrics) Option {
	return func(m *Monitor) {
		m.metrics = metrics
	}
}

func NewMonitor(source Source, opts ...Option) *Monitor {
	m := &Monitor{
		source:      source,
		thresholds:  DefaultThresholds(),
		territories: domain.NewTerritorySet(domain.DefaultTerritories...),
		scanLimit:   defaultScanLimit,
		clock:       time.Now,
		logger:      slog.Default(),
	}
	m.notifier = NewLogNotifier(m.logger)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// scanData is what one scan reads, fetched in parallel.
type scanData struct {
	recent      []audit.Entry
	stale       []audit.Entry
	overdue     int64
	approaching int64
}

// Scan reads the window and returns the alerts, most severe first.
func (m *Monitor) Scan(ctx context.Context) ([]Alert, error) {
	start := time.Now()
	now := m.clock().UTC()
	t := m.thresholds

	var data scanData
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		data.recent, err = m.source.ListSince(gctx, now.Add(-t.Window), m.scanLimit)
		return wrap(err, "list recent audit entries")
	})
	g.Go(func() error {
		var err error
		data.stale, err = m.source.ListUnreconciledBefore(gctx, now.Add(-t.PendingMaxAge), m.scanLimit)
		return wrap(err, "list unreconciled entries")
	})
	g.Go(func() error {
		var err error
		data.overdue, err = m.source.CountRetentionBefore(gctx, now.Add(-t.RetentionGrace))
		return wrap(err, "count overdue entries")
	})
	g.Go(func() error {
		var err error
		data.approaching, err = m.source.CountRetentionBetween(gctx, now, now.Add(approachingHorizon))
		return wrap(err, "count entries approaching retention")
	})
	if err := g.Wait(); err != nil {
		m.metrics.IncScanFailure()
		return nil, err
	}
	if len(data.recent) == m.scanLimit {
		m.logger.WarnContext(ctx, "compliance scan hit its entry limit; older entries in the window were not evaluated",
			"limit", m.scanLimit)
	}

	var alerts []Alert
	alerts = append(alerts, m.accessRules(data.recent, now)...)
	alerts = append(alerts, m.entryRules(data.recent, now)...)
	alerts = append(alerts, m.retentionRules(data, now)...)
	for _, e := range data.stale {
		alerts = append(alerts, Alert{
			Type:       AlertIntegrity,
			Severity:   SeverityWarning,
			Message:    fmt.Sprintf("PENDING entry for %s unreconciled since %s", e.Operation, e.CreatedAt.Format(time.RFC3339)),
			UserID:     e.UserID,
			EntryID:    entryID(e),
			DetectedAt: now,
		})
	}

	slices.SortStableFunc(alerts, func(a, b Alert) int {
		return cmp.Or(
			cmp.Compare(b.Severity.rank(), a.Severity.rank()),
			cmp.Compare(a.Type, b.Type),
			cmp.Compare(a.UserID, b.UserID),
		)
	})
	for _, a := range alerts {
		m.metrics.IncAlert(a)
	}
	m.metrics.ObserveScan(time.Since(start))
	return alerts, nil
}

// ScanAndNotify runs one scan and hands any alerts to the notifier.
func (m *Monitor) ScanAndNotify(ctx context.Context) error {
	alerts, err := m.Scan(ctx)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		return nil
	}
	return m.notifier.Notify(ctx, alerts)
}

// Run scans on every interval until ctx is done. Failed scans are logged and
// retried on the next tick.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := m.ScanAndNotify(ctx); err != nil && ctx.Err() == nil {
			m.logger.ErrorContext(ctx, "compliance scan failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// accessRules aggregate per user: denial bursts and export volume.
func (m *Monitor) accessRules(entries []audit.Entry, now time.Time) []Alert {
	denied := map[string]int{}
	exports := map[string]int{}
	for _, e := range entries {
		if e.Outcome == audit.OutcomeSecurityDenied {
			denied[e.UserID]++
		}
		if strings.Contains(strings.ToLower(e.Operation), "export") {
			exports[e.UserID]++
		}
	}

	var alerts []Alert
	t := m.thresholds
	for user, n := range denied {
		if t.Denied <= 0 || n < t.Denied {
			continue
		}
		sev := SeverityWarning
		if n >= 2*t.Denied {
			sev = SeverityCritical
		}
		alerts = append(alerts, Alert{
			Type:       AlertAccessViolation,
			Severity:   sev,
			Message:    fmt.Sprintf("%d denied calls within %s", n, t.Window),
			UserID:     user,
			Count:      int64(n),
			DetectedAt: now,
		})
	}
	for user, n := range exports {
		if t.Export <= 0 || n < t.Export {
			continue
		}
		alerts = append(alerts, Alert{
			Type:       AlertDataExport,
			Severity:   SeverityWarning,
			Message:    fmt.Sprintf("%d export operations within %s", n, t.Window),
			UserID:     user,
			Count:      int64(n),
			DetectedAt: now,
		})
	}
	return alerts
}

// entryRules inspect every entry on its own.
func (m *Monitor) entryRules(entries []audit.Entry, now time.Time) []Alert {
	var alerts []Alert
	undeclared := int64(0)
	for _, e := range entries {
		if m.sealer != nil && !m.sealer.Verify(e) {
			alerts = append(alerts, Alert{
				Type:       AlertIntegrity,
				Severity:   SeverityCritical,
				Message:    fmt.Sprintf("checksum mismatch on %s entry", e.Operation),
				UserID:     e.UserID,
				EntryID:    entryID(e),
				DetectedAt: now,
			})
		}
		if !e.RetentionUntil.Equal(audit.RetentionUntil(e.CreatedAt)) {
			alerts = append(alerts, Alert{
				Type:       AlertRetention,
				Severity:   SeverityCritical,
				Message:    "retention deadline is not creation time plus seven years",
				UserID:     e.UserID,
				EntryID:    entryID(e),
				DetectedAt: now,
			})
		}
		if e.Outcome == audit.OutcomeSuccess {
			if _, ok := permissionTargets[e.TargetClass]; ok {
				alerts = append(alerts, Alert{
					Type:       AlertPermissionChange,
					Severity:   SeverityInfo,
					Message:    fmt.Sprintf("%s changed via %s", e.TargetClass, e.Operation),
					UserID:     e.UserID,
					EntryID:    entryID(e),
					DetectedAt: now,
				})
			}
		}
		if e.TargetClass == TargetDataSubjectRequest && e.Outcome == audit.OutcomeError {
			alerts = append(alerts, Alert{
				Type:       AlertDSGVOViolation,
				Severity:   SeverityCritical,
				Message:    fmt.Sprintf("data subject request %s failed: %s", e.Operation, e.ErrorDetails),
				UserID:     e.UserID,
				EntryID:    entryID(e),
				DetectedAt: now,
			})
		}
		if m.outsideJurisdiction(e) {
			undeclared++
		}
	}
	if undeclared > 0 {
		alerts = append(alerts, Alert{
			Type:       AlertDSGVOViolation,
			Severity:   SeverityWarning,
			Message:    fmt.Sprintf("%d entries from territories outside the supported jurisdictions", undeclared),
			Count:      undeclared,
			DetectedAt: now,
		})
	}
	return alerts
}

func (m *Monitor) outsideJurisdiction(e audit.Entry) bool {
	if e.Territory != "" {
		return !m.territories.Contains(e.Territory)
	}
	declared, ok := e.Parameters[audit.ParamDeclaredTerritory].(string)
	return ok && declared != ""
}

func (m *Monitor) retentionRules(data scanData, now time.Time) []Alert {
	var alerts []Alert
	if data.overdue > 0 {
		alerts = append(alerts, Alert{
			Type:       AlertRetention,
			Severity:   SeverityCritical,
			Message:    fmt.Sprintf("%d entries are past retention plus grace; the purge is lagging", data.overdue),
			Count:      data.overdue,
			DetectedAt: now,
		})
	}
	if data.approaching > m.thresholds.Approaching {
		alerts = append(alerts, Alert{
			Type:       AlertRetention,
			Severity:   SeverityInfo,
			Message:    fmt.Sprintf("%d entries reach their retention deadline within 30 days", data.approaching),
			Count:      data.approaching,
			DetectedAt: now,
		})
	}
	return alerts
}

func entryID(e audit.Entry) *domain.EntryID {
	id := e.ID
	return &id
}

func wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}
