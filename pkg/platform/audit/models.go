// Package audit defines the audit trail record and the ports that persist it.
//
// Entries are append-only: once written, no component updates them. The only
// deletion path is the retention purge, and only after RetentionUntil plus the
// grace period.
package audit

import (
	"fmt"
	"time"

	"aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
)

// Outcome is the recorded result of an audited call.
type Outcome string

const (
	OutcomeSuccess        Outcome = "SUCCESS"
	OutcomeSecurityDenied Outcome = "SECURITY_DENIED"
	OutcomeError          Outcome = "ERROR"
	// OutcomePending marks a call whose side effects were not yet confirmed when
	// the entry was written. A later follow-up entry reconciles it.
	OutcomePending Outcome = "PENDING"
)

// Valid reports whether o is one of the four outcomes.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSuccess, OutcomeSecurityDenied, OutcomeError, OutcomePending:
		return true
	}
	return false
}

// RetentionYears is the legal retention period for audit entries.
const RetentionYears = 7

// RetentionUntil derives the retention deadline from the creation time.
func RetentionUntil(createdAt time.Time) time.Time {
	return createdAt.AddDate(RetentionYears, 0, 0)
}

// Reserved parameter keys.
const (
	ParamArguments  = "arguments"
	ParamEntityID   = "entity_id"
	ParamOldValue   = "old_value"
	ParamNewValue   = "new_value"
	ParamPermission = "permission"
	// ParamDeclaredTerritory holds a caller territory the store does not admit.
	ParamDeclaredTerritory = "declared_territory"
)

// Entry is one audit record.
type Entry struct {
	ID             domain.EntryID   `json:"id"`
	UserID         string           `json:"user_id"`
	OrgID          string           `json:"org_id"`
	Territory      domain.Territory `json:"territory,omitempty"`
	Operation      string           `json:"operation"`
	TargetClass    string           `json:"target_class"`
	Parameters     map[string]any   `json:"parameters"`
	Outcome        Outcome          `json:"outcome"`
	ErrorDetails   string           `json:"error_details,omitempty"`
	DurationMs     int64            `json:"duration_ms"`
	CreatedAt      time.Time        `json:"created_at"`
	RetentionUntil time.Time        `json:"retention_until"`
	ReconcilesID   *domain.EntryID  `json:"reconciles_id,omitempty"`
	RequestID      string           `json:"request_id,omitempty"`
	Checksum       string           `json:"checksum"`
}

// Validate checks the invariants the audit store enforces.
func (e Entry) Validate() error {
	switch {
	case e.ID.IsNil():
		return dErrors.New(dErrors.CodeInvariantViolation, "audit entry id is required")
	case e.Operation == "":
		return dErrors.New(dErrors.CodeInvariantViolation, "audit entry operation is required")
	case !e.Outcome.Valid():
		return dErrors.New(dErrors.CodeInvariantViolation, fmt.Sprintf("invalid audit outcome %q", e.Outcome))
	case e.DurationMs < 0:
		return dErrors.New(dErrors.CodeInvariantViolation, "audit entry duration must not be negative")
	case e.CreatedAt.IsZero():
		return dErrors.New(dErrors.CodeInvariantViolation, "audit entry creation time is required")
	case !e.RetentionUntil.Equal(RetentionUntil(e.CreatedAt)):
		return dErrors.New(dErrors.CodeInvariantViolation, "audit entry retention must be creation time plus seven years")
	case e.ReconcilesID != nil && e.Outcome == OutcomePending:
		return dErrors.New(dErrors.CodeInvariantViolation, "a reconciliation entry cannot be PENDING")
	}
	return nil
}

// Reconciles reports whether e is the follow-up of a PENDING entry.
func (e Entry) Reconciles() bool { return e.ReconcilesID != nil }
