// Package session binds caller attributes to a database transaction as
// transaction-local settings, for row-level security policies to read.
package session

import (
	"context"
	"fmt"
	"log/slog"

	"aegis/internal/authz/models"
	dErrors "aegis/pkg/domain-errors"
	txctx "aegis/pkg/platform/tx"
)

// Variables are the bound attribute names in binding order. Each is set as
// "app.<name>".
var Variables = []string{"user_id", "org_id", "territory", "scopes", "contact_roles", "roles"}

// DefaultPrefix namespaces the settings.
const DefaultPrefix = "app."

// set_config's third argument makes the assignment transaction-local, the
// parameterized equivalent of SET LOCAL. Both name and value are bound.
const bindStatement = `SELECT set_config($1, $2, true)`

// BindingFailure means a setting could not be applied. The enclosing
// transaction must be abandoned.
type BindingFailure struct {
	Variable string
	Err      error
}

func (e *BindingFailure) Error() string {
	return fmt.Sprintf("session binding failed for %s: %v", e.Variable, e.Err)
}

// Unwrap exposes both the session-binding code and the driver error.
func (e *BindingFailure) Unwrap() []error {
	return []error{dErrors.New(dErrors.CodeSessionBinding, "session binding failed"), e.Err}
}

// Binder issues the six transaction-local assignments.
type Binder struct {
	prefix  string
	logger  *slog.Logger
	metrics *Metrics
}

// BinderOption configures a Binder.
type BinderOption func(*Binder)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) BinderOption {
	return func(b *Binder) {
		b.logger = logger
	}
}

// WithMetrics sets binding metrics.
func WithMetrics(m *Metrics) BinderOption {
	return func(b *Binder) {
		b.metrics = m
	}
}

// NewBinder creates a binder.
func NewBinder(opts ...BinderOption) *Binder {
	b := &Binder{prefix: DefaultPrefix, logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Bind applies attrs to tx. Absent values are bound as "", never NULL. The
// statements are all-or-nothing: on the first failure Bind stops and returns
// *BindingFailure, and the caller must roll back. Re-binding the same
// attributes within one transaction leaves the settings unchanged.
func (b *Binder) Bind(ctx context.Context, tx txctx.Execer, attrs models.SecurityAttributes) error {
	values := attrs.SessionValues()
	for _, name := range Variables {
		setting := b.prefix + name
		if _, err := tx.ExecContext(ctx, bindStatement, setting, values[name]); err != nil {
			b.metrics.IncBindingFailure(name)
			b.logger.ErrorContext(ctx, "session binding failed",
				"variable", setting,
				"user_id", attrs.UserID,
				"error", err,
			)
			return &BindingFailure{Variable: setting, Err: err}
		}
	}
	return nil
}
