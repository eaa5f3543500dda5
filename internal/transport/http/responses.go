package httptransport

import (
	"time"

	audit "aegis/pkg/platform/audit"
)

// EntryResponse is the wire form of an audit entry.
type EntryResponse struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	OrgID          string         `json:"org_id,omitempty"`
	Territory      string         `json:"territory,omitempty"`
	Operation      string         `json:"operation"`
	TargetClass    string         `json:"target_class,omitempty"`
	Parameters     map[string]any `json:"parameters"`
	Outcome        string         `json:"outcome"`
	ErrorDetails   string         `json:"error_details,omitempty"`
	DurationMs     int64          `json:"duration_ms"`
	CreatedAt      time.Time      `json:"created_at"`
	RetentionUntil time.Time      `json:"retention_until"`
	ReconcilesID   string         `json:"reconciles_id,omitempty"`
	RequestID      string         `json:"request_id,omitempty"`
	Checksum       string         `json:"checksum"`
}

// ListResponse wraps a page of entries.
type ListResponse struct {
	Entries []EntryResponse `json:"entries"`
	Count   int             `json:"count"`
}

// EffectivePermissionsResponse lists what the caller may do.
type EffectivePermissionsResponse struct {
	UserID      string   `json:"user_id"`
	Permissions []string `json:"permissions"`
}

// ReconcileRequest is the body of a reconciliation.
type ReconcileRequest struct {
	Outcome string `json:"outcome"`
	Details string `json:"details"`
}

func toEntryResponse(e audit.Entry) EntryResponse {
	resp := EntryResponse{
		ID:             e.ID.String(),
		UserID:         e.UserID,
		OrgID:          e.OrgID,
		Territory:      string(e.Territory),
		Operation:      e.Operation,
		TargetClass:    e.TargetClass,
		Parameters:     e.Parameters,
		Outcome:        string(e.Outcome),
		ErrorDetails:   e.ErrorDetails,
		DurationMs:     e.DurationMs,
		CreatedAt:      e.CreatedAt,
		RetentionUntil: e.RetentionUntil,
		RequestID:      e.RequestID,
		Checksum:       e.Checksum,
	}
	if resp.Parameters == nil {
		resp.Parameters = map[string]any{}
	}
	if e.ReconcilesID != nil {
		resp.ReconcilesID = e.ReconcilesID.String()
	}
	return resp
}

func toListResponse(entries []audit.Entry) ListResponse {
	out := make([]EntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryResponse(e))
	}
	return ListResponse{Entries: out, Count: len(out)}
}
