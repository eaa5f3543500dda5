// Package guarded composes the guard, the session-bound transaction and the
// audit recorder around a business call, in that order:
//
//	authorize -> begin + bind session -> execute -> commit/rollback -> record audit
//
// A denied call never reaches the database. A call whose context is already
// done produces neither bindings nor an audit entry.
package guarded

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"aegis/internal/authz/guard"
	"aegis/internal/authz/models"
	"aegis/internal/session"
	audit "aegis/pkg/platform/audit"
	"aegis/pkg/platform/audit/recorder"
)

const tracerName = "aegis/internal/guarded"

// Declaration is everything a business operation declares to be guarded,
// bound and audited.
type Declaration struct {
	Requirement guard.Requirement
	Audit       recorder.Spec
}

// Declare builds a declaration requiring permission and recording the call
// under the permission code.
func Declare(permission, targetClass string) Declaration {
	return Declaration{
		Requirement: guard.Require(permission),
		Audit:       recorder.Spec{TargetClass: targetClass},
	}
}

// Operation returns the audited operation name: the declared one, else the
// required permission code.
func (d Declaration) Operation() string {
	switch {
	case d.Audit.Operation != "":
		return d.Audit.Operation
	case d.Requirement.Permission != "":
		return d.Requirement.Permission
	case len(d.Requirement.AnyOf) > 0:
		return d.Requirement.AnyOf[0]
	}
	return ""
}

// Checker is the guard surface.
type Checker interface {
	Check(ctx context.Context, attrs models.SecurityAttributes, req guard.Requirement) error
}

// TxRunner opens a session-bound transaction.
type TxRunner interface {
	RunInTx(ctx context.Context, attrs models.SecurityAttributes, fn func(ctx context.Context, tx *sql.Tx) error) error
}

// Auditor records denials and completions.
type Auditor interface {
	RecordDenied(ctx context.Context, actor recorder.Actor, spec recorder.Spec, permission string, args []any) (audit.Entry, error)
	RecordCompletion(ctx context.Context, actor recorder.Actor, spec recorder.Spec, c recorder.Completion) (audit.Entry, error)
}

// Chain holds the three collaborators.
type Chain struct {
	guard   Checker
	runner  TxRunner
	auditor Auditor
	tracer  trace.Tracer
	clock   func() time.Time
	logger  *slog.Logger
}

type Option func(*Chain)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Chain) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(c *Chain) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// WithClock overrides the clock used to measure call duration.
func WithClock(clock func() time.Time) Option {
	return func(c *Chain) {
		if clock != nil {
			c.clock = clock
		}
	}
}

func NewChain(g Checker, runner TxRunner, auditor Auditor, opts ...Option) *Chain {
	c := &Chain{
		guard:   g,
		runner:  runner,
		auditor: auditor,
		tracer:  otel.Tracer(tracerName),
		clock:   time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call runs op under decl for the caller described by attrs. args are the
// business arguments the audit Spec refers to by position.
//
// Errors:
//   - *guard.PermissionDenied when the guard rejects the call, joined with a
//     *recorder.PublishingFailure if the denial could not be recorded.
//   - the session or op error when the call ran and failed.
//   - a lone *recorder.PublishingFailure when op succeeded but its synchronous
//     audit entry was not persisted. The result is valid in that case; use
//     Succeeded to tell it apart.
func Call[T any](ctx context.Context, c *Chain, attrs models.SecurityAttributes, decl Declaration, args []any, op func(ctx context.Context, tx *sql.Tx) (T, error)) (T, error) {
	var zero T
	spec := decl.Audit
	spec.Operation = decl.Operation()
	actor := recorder.Actor{UserID: attrs.UserID, OrgID: attrs.OrgID, Territory: attrs.Territory}

	ctx, span := c.tracer.Start(ctx, "guarded "+spec.Operation, trace.WithAttributes(
		attribute.String("aegis.operation", spec.Operation),
		attribute.String("aegis.user_id", attrs.UserID),
		attribute.String("aegis.audit_mode", spec.Mode.String()),
	))
	defer span.End()

	if err := ctx.Err(); err != nil {
		fail(span, err)
		return zero, err
	}

	if err := c.authorize(ctx, attrs, decl.Requirement); err != nil {
		var denied *guard.PermissionDenied
		if errors.As(err, &denied) {
			_, auditErr := c.record(ctx, func(ctx context.Context) (audit.Entry, error) {
				return c.auditor.RecordDenied(ctx, actor, spec, denied.Permission, args)
			})
			err = errors.Join(err, auditErr)
		}
		fail(span, err)
		return zero, err
	}

	start := c.clock()
	var result T
	runErr := c.execute(ctx, attrs, func(ctx context.Context, tx *sql.Tx) error {
		r, err := op(ctx, tx)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if errors.Is(runErr, session.ErrNotStarted) {
		fail(span, runErr)
		return zero, runErr
	}

	completion := recorder.Completion{Args: args, Err: runErr, Duration: c.clock().Sub(start)}
	if runErr == nil {
		completion.Result = result
	}
	_, auditErr := c.record(ctx, func(ctx context.Context) (audit.Entry, error) {
		return c.auditor.RecordCompletion(ctx, actor, spec, completion)
	})

	if runErr != nil {
		err := errors.Join(runErr, auditErr)
		fail(span, err)
		return zero, err
	}
	if auditErr != nil {
		c.logger.ErrorContext(ctx, "CRITICAL: operation succeeded but its audit entry was not persisted",
			"operation", spec.Operation,
			"user_id", attrs.UserID,
			"error", auditErr,
		)
		fail(span, auditErr)
		return result, auditErr
	}
	return result, nil
}

// Exec is Call for operations without a result.
func Exec(ctx context.Context, c *Chain, attrs models.SecurityAttributes, decl Declaration, args []any, op func(ctx context.Context, tx *sql.Tx) error) error {
	_, err := Call(ctx, c, attrs, decl, args, func(ctx context.Context, tx *sql.Tx) (struct{}, error) {
		return struct{}{}, op(ctx, tx)
	})
	return err
}

// Succeeded reports whether err leaves the business result valid: no error,
// or only the synchronous audit failure reported alongside a success.
func Succeeded(err error) bool {
	if err == nil {
		return true
	}
	_, ok := err.(*recorder.PublishingFailure)
	return ok
}

func (c *Chain) authorize(ctx context.Context, attrs models.SecurityAttributes, req guard.Requirement) error {
	ctx, span := c.tracer.Start(ctx, "authorize")
	defer span.End()
	err := c.guard.Check(ctx, attrs, req)
	span.SetAttributes(attribute.Bool("aegis.allowed", err == nil))
	return err
}

func (c *Chain) execute(ctx context.Context, attrs models.SecurityAttributes, fn func(ctx context.Context, tx *sql.Tx) error) error {
	ctx, span := c.tracer.Start(ctx, "execute")
	defer span.End()
	err := c.runner.RunInTx(ctx, attrs, fn)
	if err != nil {
		fail(span, err)
	}
	return err
}

func (c *Chain) record(ctx context.Context, fn func(ctx context.Context) (audit.Entry, error)) (audit.Entry, error) {
	ctx, span := c.tracer.Start(ctx, "audit")
	defer span.End()
	entry, err := fn(ctx)
	if err != nil {
		fail(span, err)
	} else if !entry.ID.IsNil() {
		span.SetAttributes(
			attribute.String("aegis.audit_entry_id", entry.ID.String()),
			attribute.String("aegis.audit_outcome", string(entry.Outcome)),
		)
	}
	return entry, err
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
