// Package evaluator decides whether caller attributes hold a permission code.
//
// Precedence, first match wins:
//
//  1. malformed, empty, unknown or inactive code: deny
//  2. super-admin role in attributes: allow
//  3. active direct grant for the user (expiry checked against the clock): allow
//  4. granted role permission on any active role the caller holds: allow
//  5. otherwise: deny
//
// Evaluation reads an immutable snapshot only. It performs no I/O and is safe
// to call before any transaction exists. The SQL function app_has_scope
// implements the same order for row-level security policies.
package evaluator

import (
	"log/slog"
	"slices"
	"time"

	"aegis/internal/authz/models"
	"aegis/internal/authz/store"
)

// DefaultSuperAdminRole is the role that bypasses grant lookup.
const DefaultSuperAdminRole = "admin"

// Rule names the precedence step that produced a decision. Rules are for logs
// and metrics only and must not reach callers.
type Rule string

const (
	RuleInvalidCode  Rule = "invalid_code"
	RuleUnknownCode  Rule = "unknown_code"
	RuleInactiveCode Rule = "inactive_code"
	RuleNoSnapshot   Rule = "no_snapshot"
	RuleSuperAdmin   Rule = "super_admin"
	RuleDirectGrant  Rule = "direct_grant"
	RuleRoleGrant    Rule = "role_grant"
	RuleDefaultDeny  Rule = "default_deny"
	RuleInternal     Rule = "internal_error"
)

// Decision is the evaluation result.
type Decision struct {
	Allowed bool
	Rule    Rule
}

// SnapshotSource yields the current reference snapshot. A nil snapshot denies.
type SnapshotSource interface {
	Snapshot() *store.Snapshot
}

// Clock abstracts the current time so grant expiry is deterministic in tests.
type Clock func() time.Time

// Evaluator is the permission decision function.
type Evaluator struct {
	source         SnapshotSource
	superAdminRole string
	clock          Clock
	logger         *slog.Logger
	metrics        *Metrics
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithSuperAdminRole overrides DefaultSuperAdminRole.
func WithSuperAdminRole(role string) Option {
	return func(e *Evaluator) {
		if role != "" {
			e.superAdminRole = role
		}
	}
}

// WithClock overrides the time source for expiry checks.
func WithClock(clock Clock) Option {
	return func(e *Evaluator) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Evaluator) {
		e.logger = logger
	}
}

// WithMetrics sets decision metrics.
func WithMetrics(m *Metrics) Option {
	return func(e *Evaluator) {
		e.metrics = m
	}
}

// New creates an evaluator over source.
func New(source SnapshotSource, opts ...Option) *Evaluator {
	e := &Evaluator{
		source:         source,
		superAdminRole: DefaultSuperAdminRole,
		clock:          time.Now,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SuperAdminRole returns the configured super-admin role name.
func (e *Evaluator) SuperAdminRole() string { return e.superAdminRole }

// Evaluate decides whether attrs hold code. Any internal fault resolves to deny.
func (e *Evaluator) Evaluate(attrs models.SecurityAttributes, code string) (decision Decision) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("permission evaluation panicked, denying",
				"permission", code,
				"user_id", attrs.UserID,
				"panic", r,
			)
			decision = Decision{Rule: RuleInternal}
		}
		e.metrics.IncDecision(decision)
	}()

	return e.evaluate(e.source.Snapshot(), attrs.Normalized(), code, e.clock())
}

// Allows is Evaluate reduced to a boolean.
func (e *Evaluator) Allows(attrs models.SecurityAttributes, code string) bool {
	return e.Evaluate(attrs, code).Allowed
}

func (e *Evaluator) evaluate(snap *store.Snapshot, attrs models.SecurityAttributes, code string, now time.Time) Decision {
	if !models.ValidPermissionCode(code) {
		return Decision{Rule: RuleInvalidCode}
	}
	if snap == nil {
		return Decision{Rule: RuleNoSnapshot}
	}
	perm, ok := snap.Permission(code)
	if !ok {
		return Decision{Rule: RuleUnknownCode}
	}
	if !perm.Active {
		return Decision{Rule: RuleInactiveCode}
	}
	if attrs.HasRole(e.superAdminRole) {
		return Decision{Allowed: true, Rule: RuleSuperAdmin}
	}
	if attrs.UserID != "" {
		for _, grant := range snap.UserGrants(attrs.UserID, code) {
			if grant.ActiveAt(now) {
				return Decision{Allowed: true, Rule: RuleDirectGrant}
			}
		}
	}
	for _, role := range attrs.Roles {
		if snap.RoleGranted(role, code) {
			return Decision{Allowed: true, Rule: RuleRoleGrant}
		}
	}
	return Decision{Rule: RuleDefaultDeny}
}

// ListEffectivePermissions returns every code attrs currently hold, sorted:
// the closure of granted role permissions on active roles plus active direct
// grants, restricted to active permissions. A super-admin holds every active
// permission. Faults yield an empty set.
func (e *Evaluator) ListEffectivePermissions(attrs models.SecurityAttributes) (codes []string) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("effective permission listing panicked", "user_id", attrs.UserID, "panic", r)
			codes = nil
		}
	}()

	snap := e.source.Snapshot()
	if snap == nil {
		return nil
	}
	attrs = attrs.Normalized()
	if attrs.HasRole(e.superAdminRole) {
		return snap.ActivePermissionCodes()
	}

	now := e.clock()
	seen := make(map[string]struct{})
	add := func(code string) {
		if p, ok := snap.Permission(code); ok && p.Active && models.ValidPermissionCode(code) {
			seen[code] = struct{}{}
		}
	}
	if attrs.UserID != "" {
		for _, grant := range snap.AllUserGrants(attrs.UserID) {
			if grant.ActiveAt(now) {
				add(grant.Permission)
			}
		}
	}
	for _, role := range attrs.Roles {
		for _, code := range snap.RoleGrantedCodes(role) {
			add(code)
		}
	}

	codes = make([]string, 0, len(seen))
	for code := range seen {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	return codes
}
