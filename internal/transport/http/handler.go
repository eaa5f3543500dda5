// Package httptransport is the thin HTTP layer over the audit trail and the
// permission evaluator. Handlers build the caller's attributes from trusted
// headers and delegate; they hold no business logic.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"aegis/internal/authz/models"
	"aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
	audit "aegis/pkg/platform/audit"
	"aegis/pkg/platform/httputil"
	"aegis/pkg/requestcontext"
)

// AuditService is the guarded audit trail.
type AuditService interface {
	ListRecent(ctx context.Context, attrs models.SecurityAttributes, limit int) ([]audit.Entry, error)
	ListByUser(ctx context.Context, attrs models.SecurityAttributes, userID string, limit int) ([]audit.Entry, error)
	Get(ctx context.Context, attrs models.SecurityAttributes, id domain.EntryID) (audit.Entry, error)
	Reconcile(ctx context.Context, attrs models.SecurityAttributes, pendingID domain.EntryID, outcome audit.Outcome, details string) (audit.Entry, error)
}

// PermissionLister computes a caller's effective permissions.
type PermissionLister interface {
	ListEffectivePermissions(attrs models.SecurityAttributes) []string
}

// Handler serves the audit and permission endpoints.
type Handler struct {
	audit       AuditService
	permissions PermissionLister
	logger      *slog.Logger
}

// New constructs a handler.
func New(auditService AuditService, permissions PermissionLister, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{audit: auditService, permissions: permissions, logger: logger}
}

// Register mounts the endpoints on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/audit/entries", h.HandleListEntries)
	r.Get("/audit/entries/{id}", h.HandleGetEntry)
	r.Post("/audit/entries/{id}/reconcile", h.HandleReconcile)
	r.Get("/permissions/effective", h.HandleEffectivePermissions)
}

// HandleListEntries handles GET /audit/entries?user_id=&limit=.
func (h *Handler) HandleListEntries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	attrs, ok := h.attributes(w, r)
	if !ok {
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var entries []audit.Entry
	if userID := r.URL.Query().Get("user_id"); userID != "" {
		entries, err = h.audit.ListByUser(ctx, attrs, userID, limit)
	} else {
		entries, err = h.audit.ListRecent(ctx, attrs, limit)
	}
	if err != nil {
		h.fail(ctx, w, "list audit entries", attrs, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toListResponse(entries))
}

// HandleGetEntry handles GET /audit/entries/{id}.
func (h *Handler) HandleGetEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	attrs, ok := h.attributes(w, r)
	if !ok {
		return
	}
	id, ok := h.entryID(w, r)
	if !ok {
		return
	}
	entry, err := h.audit.Get(ctx, attrs, id)
	if err != nil {
		h.fail(ctx, w, "get audit entry", attrs, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toEntryResponse(entry))
}

// HandleReconcile handles POST /audit/entries/{id}/reconcile.
func (h *Handler) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	attrs, ok := h.attributes(w, r)
	if !ok {
		return
	}
	id, ok := h.entryID(w, r)
	if !ok {
		return
	}
	req, err := httputil.DecodeJSON[ReconcileRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	followUp, err := h.audit.Reconcile(ctx, attrs, id, audit.Outcome(req.Outcome), req.Details)
	if err != nil {
		h.fail(ctx, w, "reconcile audit entry", attrs, err)
		return
	}
	h.logger.InfoContext(ctx, "audit entry reconciled",
		"request_id", requestcontext.RequestID(ctx),
		"pending_id", id.String(),
		"follow_up_id", followUp.ID.String(),
		"user_id", attrs.UserID,
	)
	httputil.WriteJSON(w, http.StatusCreated, toEntryResponse(followUp))
}

// HandleEffectivePermissions handles GET /permissions/effective.
func (h *Handler) HandleEffectivePermissions(w http.ResponseWriter, r *http.Request) {
	attrs, ok := h.attributes(w, r)
	if !ok {
		return
	}
	codes := h.permissions.ListEffectivePermissions(attrs)
	if codes == nil {
		codes = []string{}
	}
	httputil.WriteJSON(w, http.StatusOK, EffectivePermissionsResponse{UserID: attrs.UserID, Permissions: codes})
}

func (h *Handler) attributes(w http.ResponseWriter, r *http.Request) (models.SecurityAttributes, bool) {
	attrs, err := AttributesFromRequest(r)
	if err != nil {
		ctx := r.Context()
		h.logger.WarnContext(ctx, "request without caller identity",
			"request_id", requestcontext.RequestID(ctx),
			"client_ip", requestcontext.ClientIP(ctx),
		)
		httputil.WriteError(w, err)
		return models.SecurityAttributes{}, false
	}
	return attrs, true
}

func (h *Handler) entryID(w http.ResponseWriter, r *http.Request) (domain.EntryID, bool) {
	id, err := domain.ParseEntryID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid audit entry id"))
		return domain.EntryID{}, false
	}
	return id, true
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, action string, attrs models.SecurityAttributes, err error) {
	status := httputil.StatusFor(dErrors.CodeOf(err))
	log := h.logger.WarnContext
	if status >= http.StatusInternalServerError {
		log = h.logger.ErrorContext
	}
	log(ctx, action+" failed",
		"request_id", requestcontext.RequestID(ctx),
		"user_id", attrs.UserID,
		"status", status,
		"error", err,
	)
	httputil.WriteError(w, err)
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "limit must be a non-negative integer")
	}
	return n, nil
}
