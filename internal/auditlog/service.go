// Package auditlog serves the audit trail to authorized callers and accepts
// reconciliations of PENDING entries.
package auditlog

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"aegis/internal/authz/guard"
	"aegis/internal/authz/models"
	"aegis/internal/guarded"
	"aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
	audit "aegis/pkg/platform/audit"
	"aegis/pkg/platform/audit/recorder"
	"aegis/pkg/platform/sentinel"
)

const (
	PermissionRead  = "audit:read"
	PermissionWrite = "audit:write"
	PermissionAdmin = "admin:all"

	TargetClass = "AuditEntry"

	DefaultLimit = 50
	MaxLimit     = 500
)

var (
	readDecl = guarded.Declaration{
		Requirement: guard.Requirement{Permission: PermissionRead, AnyOf: []string{PermissionAdmin}},
		Audit:       recorder.Spec{TargetClass: TargetClass, OptOut: true},
	}
	reconcileSpec = recorder.Spec{Operation: "audit:reconcile", TargetClass: TargetClass, EntityIDArg: 1}
	reconcileReq  = guard.Requirement{Permission: PermissionWrite, AnyOf: []string{PermissionAdmin}}
)

// Reconciler is the recorder surface the service needs.
type Reconciler interface {
	RecordDenied(ctx context.Context, actor recorder.Actor, spec recorder.Spec, permission string, args []any) (audit.Entry, error)
	Reconcile(ctx context.Context, actor recorder.Actor, pendingID domain.EntryID, outcome audit.Outcome, details string) (audit.Entry, error)
}

// Service guards every read behind audit:read and every reconciliation behind
// audit:write. Reads run inside a session-bound transaction so row-level
// security on the audit table applies; successful reads are not themselves
// audited, denials always are.
type Service struct {
	chain      *guarded.Chain
	guard      guarded.Checker
	reader     audit.Reader
	reconciler Reconciler
	logger     *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(chain *guarded.Chain, g guarded.Checker, reader audit.Reader, reconciler Reconciler, opts ...Option) *Service {
	s := &Service{
		chain:      chain,
		guard:      g,
		reader:     reader,
		reconciler: reconciler,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListRecent returns the newest entries first.
func (s *Service) ListRecent(ctx context.Context, attrs models.SecurityAttributes, limit int) ([]audit.Entry, error) {
	limit = clampLimit(limit)
	decl := readDecl
	decl.Audit.Operation = "audit:list"
	return guarded.Call(ctx, s.chain, attrs, decl, []any{limit}, func(ctx context.Context, _ *sql.Tx) ([]audit.Entry, error) {
		return s.reader.ListRecent(ctx, limit)
	})
}

// ListByUser returns userID's entries, newest first.
func (s *Service) ListByUser(ctx context.Context, attrs models.SecurityAttributes, userID string, limit int) ([]audit.Entry, error) {
	if userID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "user id is required")
	}
	limit = clampLimit(limit)
	decl := readDecl
	decl.Audit.Operation = "audit:list_by_user"
	return guarded.Call(ctx, s.chain, attrs, decl, []any{userID, limit}, func(ctx context.Context, _ *sql.Tx) ([]audit.Entry, error) {
		return s.reader.ListByUser(ctx, userID, limit)
	})
}

// Get returns one entry.
func (s *Service) Get(ctx context.Context, attrs models.SecurityAttributes, id domain.EntryID) (audit.Entry, error) {
	decl := readDecl
	decl.Audit.Operation = "audit:get"
	entry, err := guarded.Call(ctx, s.chain, attrs, decl, []any{id.String()}, func(ctx context.Context, _ *sql.Tx) (audit.Entry, error) {
		return s.reader.Get(ctx, id)
	})
	if errors.Is(err, sentinel.ErrNotFound) {
		return audit.Entry{}, dErrors.Wrap(err, dErrors.CodeNotFound, "audit entry not found")
	}
	return entry, err
}

// Reconcile appends the terminal outcome of a PENDING entry.
func (s *Service) Reconcile(ctx context.Context, attrs models.SecurityAttributes, pendingID domain.EntryID, outcome audit.Outcome, details string) (audit.Entry, error) {
	actor := recorder.Actor{UserID: attrs.UserID, OrgID: attrs.OrgID, Territory: attrs.Territory}
	if err := s.guard.Check(ctx, attrs, reconcileReq); err != nil {
		var denied *guard.PermissionDenied
		if errors.As(err, &denied) {
			_, auditErr := s.reconciler.RecordDenied(ctx, actor, reconcileSpec, denied.Permission, []any{pendingID.String()})
			err = errors.Join(err, auditErr)
		}
		return audit.Entry{}, err
	}
	entry, err := s.reconciler.Reconcile(ctx, actor, pendingID, outcome, details)
	if err != nil {
		s.logger.WarnContext(ctx, "audit reconciliation rejected",
			"pending_id", pendingID.String(),
			"user_id", attrs.UserID,
			"error", err,
		)
		return audit.Entry{}, err
	}
	return entry, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}
