// Package guard enforces a declared permission requirement before a guarded
// operation runs.
package guard

import (
	"context"
	"fmt"
	"log/slog"

	"aegis/internal/authz/evaluator"
	"aegis/internal/authz/models"
	dErrors "aegis/pkg/domain-errors"
)

// PermissionDenied reports a failed requirement. It carries the permission code
// and the operator-supplied message only; role and grant details are never
// included so denials cannot be used to enumerate the permission model.
type PermissionDenied struct {
	Permission string
	Message    string
}

func (e *PermissionDenied) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("permission denied: %s: %s", e.Permission, e.Message)
	}
	return "permission denied: " + e.Permission
}

// Unwrap exposes the forbidden code to dErrors.HasCode.
func (e *PermissionDenied) Unwrap() error {
	return dErrors.New(dErrors.CodeForbidden, "permission denied")
}

// Requirement is a declared permission check. An empty Permission means no
// check. AnyOf lists alternatives that satisfy the requirement equally; the
// denial reports Permission.
type Requirement struct {
	Permission string
	AnyOf      []string
	Message    string
}

// Require builds a single-code requirement.
func Require(code string) Requirement {
	return Requirement{Permission: code}
}

// Decider is the evaluator surface the guard needs.
type Decider interface {
	Evaluate(attrs models.SecurityAttributes, code string) evaluator.Decision
}

// Guard checks requirements.
type Guard struct {
	decider Decider
	logger  *slog.Logger
	metrics *Metrics
}

// Option configures a Guard.
type Option func(*Guard)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		g.logger = logger
	}
}

// WithMetrics sets denial metrics.
func WithMetrics(m *Metrics) Option {
	return func(g *Guard) {
		g.metrics = m
	}
}

// New creates a guard over decider.
func New(decider Decider, opts ...Option) *Guard {
	g := &Guard{decider: decider, logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check returns nil when attrs satisfy req, or *PermissionDenied.
func (g *Guard) Check(ctx context.Context, attrs models.SecurityAttributes, req Requirement) error {
	if req.Permission == "" && len(req.AnyOf) == 0 {
		return nil
	}
	codes := req.AnyOf
	if req.Permission != "" {
		codes = append([]string{req.Permission}, req.AnyOf...)
	}
	for _, code := range codes {
		if d := g.decider.Evaluate(attrs, code); d.Allowed {
			return nil
		}
	}

	reported := codes[0]
	g.metrics.IncDenied(reported)
	g.logger.InfoContext(ctx, "permission denied",
		"permission", reported,
		"user_id", attrs.UserID,
		"org_id", attrs.OrgID,
	)
	return &PermissionDenied{Permission: reported, Message: req.Message}
}

// Run checks req and, on allow, invokes fn and returns its result unchanged.
// On deny fn is never called.
func Run[T any](ctx context.Context, g *Guard, attrs models.SecurityAttributes, req Requirement, fn func(ctx context.Context) (T, error)) (T, error) {
	if err := g.Check(ctx, attrs, req); err != nil {
		var zero T
		return zero, err
	}
	return fn(ctx)
}
