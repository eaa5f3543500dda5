package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"aegis/internal/authz/models"
	dErrors "aegis/pkg/domain-errors"
	txctx "aegis/pkg/platform/tx"
)

const defaultTxTimeout = 5 * time.Second

// ErrNotStarted marks a unit of work abandoned before its transaction began,
// because the caller's context was already done. Nothing was bound or executed.
var ErrNotStarted = errors.New("transaction not started")

// Runner runs a function inside a transaction bound to the caller's attributes.
// Order per call: begin, bind, fn, commit. Any failure rolls back, which also
// discards the bindings.
type Runner struct {
	db      *sql.DB
	binder  *Binder
	timeout time.Duration
	logger  *slog.Logger
	metrics *Metrics
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithTimeout bounds transactions whose context carries no deadline.
func WithTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithRunnerLogger sets the logger.
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithRunnerMetrics sets transaction metrics.
func WithRunnerMetrics(m *Metrics) RunnerOption {
	return func(r *Runner) {
		r.metrics = m
	}
}

// NewRunner creates a runner over db.
func NewRunner(db *sql.DB, binder *Binder, opts ...RunnerOption) *Runner {
	r := &Runner{
		db:      db,
		binder:  binder,
		timeout: defaultTxTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunInTx begins a transaction, binds attrs, and runs fn with the transaction
// both passed directly and carried in ctx for stores using tx.Executor.
func (r *Runner) RunInTx(ctx context.Context, attrs models.SecurityAttributes, fn func(ctx context.Context, tx *sql.Tx) error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ErrNotStarted, ctxErr)
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %w", ErrNotStarted, ctxErr)
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "begin transaction")
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				r.logger.WarnContext(ctx, "transaction rollback failed", "error", rbErr)
			}
			r.metrics.IncRollback()
		}
		r.metrics.ObserveTx(time.Since(start))
	}()

	if err := r.binder.Bind(ctx, tx, attrs); err != nil {
		return err
	}
	if err := fn(txctx.WithTx(ctx, tx), tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return dErrors.Wrap(errors.Join(err, ctxErr), dErrors.CodeTimeout, "commit transaction")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "commit transaction")
	}
	committed = true
	return nil
}
