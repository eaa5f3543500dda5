// Package compliance scans the audit trail for compliance conditions and runs
// the retention purge. Scans are read-only; the purge is the only component
// allowed to delete audit entries.
package compliance

import (
	"fmt"
	"time"

	"aegis/pkg/domain"
)

// AlertType classifies a compliance alert.
type AlertType string

const (
	AlertRetention        AlertType = "RETENTION"
	AlertIntegrity        AlertType = "INTEGRITY"
	AlertAccessViolation  AlertType = "ACCESS_VIOLATION"
	AlertDataExport       AlertType = "DATA_EXPORT"
	AlertPermissionChange AlertType = "PERMISSION_CHANGE"
	AlertDSGVOViolation   AlertType = "DSGVO_VIOLATION"
)

// Severity ranks alerts.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	}
	return 0
}

// Alert is one detected condition.
type Alert struct {
	Type       AlertType       `json:"type"`
	Severity   Severity        `json:"severity"`
	Message    string          `json:"message"`
	UserID     string          `json:"user_id,omitempty"`
	EntryID    *domain.EntryID `json:"entry_id,omitempty"`
	Count      int64           `json:"count,omitempty"`
	DetectedAt time.Time       `json:"detected_at"`
}

func (a Alert) String() string {
	return fmt.Sprintf("[%s/%s] %s", a.Type, a.Severity, a.Message)
}

// Thresholds tune the alert rules.
type Thresholds struct {
	// Window is how far back the scan reads entries.
	Window time.Duration
	// Denied is the per-user SECURITY_DENIED count that raises a warning;
	// twice as many is critical.
	Denied int
	// Export is the per-user export operation count that raises a warning.
	Export int
	// Approaching is the number of entries reaching retention within 30 days
	// above which an informational alert is raised.
	Approaching int64
	// PendingMaxAge is how long a PENDING entry may stay unreconciled.
	PendingMaxAge time.Duration
	// RetentionGrace is how long past retention an entry may linger before purge.
	RetentionGrace time.Duration
}

// DefaultThresholds returns the production defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Window:         24 * time.Hour,
		Denied:         10,
		Export:         5,
		Approaching:    10000,
		PendingMaxAge:  24 * time.Hour,
		RetentionGrace: 30 * 24 * time.Hour,
	}
}

// Target classes whose successful modification is a permission change.
var permissionTargets = map[string]struct{}{
	"Permission":     {},
	"Role":           {},
	"RolePermission": {},
	"UserPermission": {},
}

// TargetDataSubjectRequest marks GDPR data subject request operations.
const TargetDataSubjectRequest = "DataSubjectRequest"
