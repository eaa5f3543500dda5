// Package worker drains async audit batches into a store. It is the async
// sink used when no Kafka brokers are configured.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	audit "aegis/pkg/platform/audit"
	"aegis/pkg/platform/sentinel"
)

const (
	defaultQueueSize    = 64
	defaultDrainTimeout = 10 * time.Second
)

// Worker receives batches on a bounded channel and appends them one by one.
type Worker struct {
	store        audit.Writer
	inbox        chan []audit.Entry
	drainTimeout time.Duration
	logger       *slog.Logger
}

type Option func(*Worker)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithQueueSize sets how many batches may wait before PublishBatch reports the
// worker as unavailable.
func WithQueueSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.inbox = make(chan []audit.Entry, n)
		}
	}
}

func NewWorker(store audit.Writer, opts ...Option) *Worker {
	w := &Worker{
		store:        store,
		inbox:        make(chan []audit.Entry, defaultQueueSize),
		drainTimeout: defaultDrainTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// PublishBatch queues a batch without waiting for a free slot. A full queue
// is reported as sentinel.ErrUnavailable so the caller's breaker can trip.
func (w *Worker) PublishBatch(ctx context.Context, entries []audit.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case w.inbox <- entries:
		return nil
	default:
		return sentinel.ErrUnavailable
	}
}

// Run appends queued batches until ctx is done, then drains what is already
// queued under a bounded timeout.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.drain(ctx)
			return nil
		case batch := <-w.inbox:
			w.persist(ctx, batch)
		}
	}
}

func (w *Worker) drain(ctx context.Context) {
	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.drainTimeout)
	defer cancel()
	for {
		select {
		case batch := <-w.inbox:
			w.persist(drainCtx, batch)
		default:
			return
		}
	}
}

// persist logs and skips entries that fail; redelivered ids are not failures.
func (w *Worker) persist(ctx context.Context, batch []audit.Entry) {
	for _, entry := range batch {
		err := w.store.Append(ctx, entry)
		if err == nil || errors.Is(err, sentinel.ErrConflict) {
			continue
		}
		w.logger.ErrorContext(ctx, "async audit entry not persisted",
			"entry_id", entry.ID,
			"operation", entry.Operation,
			"error", err,
		)
	}
}
