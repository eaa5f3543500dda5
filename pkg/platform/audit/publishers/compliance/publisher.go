// Package compliance provides the synchronous, fail-closed audit publisher.
//
// Publish blocks until the entry is persisted or the bounded retry budget is
// spent. A returned error means the audit trail has a gap for this call and the
// caller must surface it.
package compliance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	dErrors "aegis/pkg/domain-errors"
	audit "aegis/pkg/platform/audit"
	"aegis/pkg/platform/sentinel"
)

const (
	defaultRetries = 2
	defaultBackoff = 50 * time.Millisecond
)

// Publisher writes entries synchronously with bounded retries.
type Publisher struct {
	store   audit.Writer
	retries int
	backoff time.Duration
	logger  *slog.Logger
	metrics *Metrics
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithLogger sets a logger for error reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// WithRetries sets how many times a failed write is retried. Zero disables retries.
func WithRetries(n int) Option {
	return func(p *Publisher) {
		if n >= 0 {
			p.retries = n
		}
	}
}

// WithBackoff sets the base delay between attempts; attempt n waits n*backoff.
func WithBackoff(d time.Duration) Option {
	return func(p *Publisher) {
		if d >= 0 {
			p.backoff = d
		}
	}
}

// New creates a compliance publisher.
func New(store audit.Writer, opts ...Option) *Publisher {
	p := &Publisher{
		store:   store,
		retries: defaultRetries,
		backoff: defaultBackoff,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish persists entry. Invariant violations are never retried.
//
// An id conflict on the first attempt is returned as is. On a later attempt it
// means an earlier attempt landed after reporting failure, so it counts as
// persisted. A follow-up rejected because the PENDING entry is already
// reconciled was never stored and is returned on any attempt.
func (p *Publisher) Publish(ctx context.Context, entry audit.Entry) error {
	start := time.Now()
	if err := entry.Validate(); err != nil {
		p.metrics.IncPersistFailures()
		return err
	}

	var err error
	attempts := 0
	for attempt := 0; attempt <= p.retries; attempt++ {
		if attempt > 0 {
			if waitErr := p.wait(ctx, attempt); waitErr != nil {
				err = errors.Join(err, waitErr)
				break
			}
			p.metrics.IncRetries()
		}
		attempts++
		err = p.store.Append(ctx, entry)
		if err == nil || (attempt > 0 && errors.Is(err, sentinel.ErrConflict)) {
			p.metrics.ObservePersistDuration(time.Since(start).Seconds())
			p.metrics.IncEntriesPersisted(entry.Outcome)
			return nil
		}
		if errors.Is(err, sentinel.ErrConflict) || errors.Is(err, sentinel.ErrAlreadyReconciled) ||
			dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			break
		}
	}

	p.metrics.IncPersistFailures()
	p.logger.ErrorContext(ctx, "CRITICAL: compliance audit failed",
		"entry_id", entry.ID,
		"operation", entry.Operation,
		"outcome", entry.Outcome,
		"user_id", entry.UserID,
		"attempts", attempts,
		"error", err,
	)
	return fmt.Errorf("compliance audit persistence failed after %d attempt(s): %w", attempts, err)
}

func (p *Publisher) wait(ctx context.Context, attempt int) error {
	if p.backoff == 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(time.Duration(attempt) * p.backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Close is a no-op for the synchronous compliance publisher.
func (p *Publisher) Close(context.Context) error {
	return nil
}
