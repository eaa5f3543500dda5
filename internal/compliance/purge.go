package compliance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	audit "aegis/pkg/platform/audit"
)

// Purger deletes audit entries whose retention ended more than the grace
// period ago. Running it twice in a row deletes nothing the second time.
type Purger struct {
	store   audit.RetentionStore
	grace   time.Duration
	clock   func() time.Time
	logger  *slog.Logger
	metrics *Metrics
}

type PurgeOption func(*Purger)

func WithGrace(grace time.Duration) PurgeOption {
	return func(p *Purger) {
		if grace >= 0 {
			p.grace = grace
		}
	}
}

func WithPurgeClock(clock func() time.Time) PurgeOption {
	return func(p *Purger) {
		if clock != nil {
			p.clock = clock
		}
	}
}

func WithPurgeLogger(logger *slog.Logger) PurgeOption {
	return func(p *Purger) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithPurgeMetrics(m *Metrics) PurgeOption {
	return func(p *Purger) {
		p.metrics = m
	}
}

func NewPurger(store audit.RetentionStore, opts ...PurgeOption) *Purger {
	p := &Purger{
		store:  store,
		grace:  DefaultThresholds().RetentionGrace,
		clock:  time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Cutoff is the retention deadline before which entries are purged.
func (p *Purger) Cutoff() time.Time {
	return p.clock().UTC().Add(-p.grace)
}

// Purge deletes every entry whose retention ended before Cutoff.
func (p *Purger) Purge(ctx context.Context) (int64, error) {
	cutoff := p.Cutoff()
	n, err := p.store.PurgeRetentionBefore(ctx, cutoff)
	if err != nil {
		p.metrics.IncPurgeFailure()
		p.logger.ErrorContext(ctx, "audit retention purge failed", "cutoff", cutoff, "error", err)
		return 0, fmt.Errorf("purge audit entries before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	p.metrics.AddPurged(n)
	p.logger.InfoContext(ctx, "audit retention purge completed", "cutoff", cutoff, "deleted", n)
	return n, nil
}
