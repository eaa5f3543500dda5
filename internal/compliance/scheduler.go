package compliance

import (
	"context"
	"log/slog"
	"time"
)

// NextMonthlyRun returns the first 03:00 UTC on the first of a month strictly
// after t.
func NextMonthlyRun(t time.Time) time.Time {
	t = t.UTC()
	run := time.Date(t.Year(), t.Month(), 1, 3, 0, 0, 0, time.UTC)
	if !run.After(t) {
		run = run.AddDate(0, 1, 0)
	}
	return run
}

// Scheduler runs the purge once a month.
type Scheduler struct {
	purger     *Purger
	clock      func() time.Time
	runOnStart bool
	logger     *slog.Logger
	after      func(time.Duration) <-chan time.Time
}

type SchedulerOption func(*Scheduler)

// WithRunOnStart purges once before waiting for the first monthly slot.
func WithRunOnStart(enabled bool) SchedulerOption {
	return func(s *Scheduler) {
		s.runOnStart = enabled
	}
}

func WithSchedulerClock(clock func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewScheduler(purger *Purger, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		purger: purger,
		clock:  time.Now,
		logger: slog.Default(),
		after:  time.After,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run blocks until ctx is done. A failed purge is logged and retried at the
// next monthly slot.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.runOnStart {
		s.runOnce(ctx)
	}
	for {
		next := NextMonthlyRun(s.clock())
		wait := next.Sub(s.clock())
		s.logger.DebugContext(ctx, "next audit retention purge scheduled", "at", next)
		select {
		case <-ctx.Done():
			return nil
		case <-s.after(wait):
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	_, _ = s.purger.Purge(ctx)
}
