// Package models holds the caller attributes and the permission reference data
// the evaluator decides over.
package models

import (
	"regexp"
	"slices"
	"strings"
	"time"

	"aegis/pkg/domain"
	pstrings "aegis/pkg/platform/strings"
)

// SecurityAttributes is the per-call snapshot of the caller's identity and scope.
// It is created once at call entry from upstream-verified claims and passed
// explicitly down the call chain; it is never stored in shared state.
type SecurityAttributes struct {
	UserID       string
	OrgID        string
	Territory    domain.Territory
	Scopes       []string
	ContactRoles []string
	Roles        []string
}

// NewSecurityAttributes normalizes set-valued fields (trimmed, deduplicated, sorted)
// and the territory code.
func NewSecurityAttributes(userID, orgID, territory string, scopes, contactRoles, roles []string) SecurityAttributes {
	return SecurityAttributes{
		UserID:       userID,
		OrgID:        orgID,
		Territory:    domain.Territory(territory),
		Scopes:       scopes,
		ContactRoles: contactRoles,
		Roles:        roles,
	}.Normalized()
}

// Normalized returns a copy in the form NewSecurityAttributes produces. The
// evaluator and the session binding both decide over this form, so a struct
// literal with stray whitespace or duplicates is read the same way by each.
func (a SecurityAttributes) Normalized() SecurityAttributes {
	return SecurityAttributes{
		UserID:       strings.TrimSpace(a.UserID),
		OrgID:        strings.TrimSpace(a.OrgID),
		Territory:    domain.NormalizeTerritory(string(a.Territory)),
		Scopes:       normalizeSet(a.Scopes),
		ContactRoles: normalizeSet(a.ContactRoles),
		Roles:        normalizeSet(a.Roles),
	}
}

// HasRole reports whether the attributes carry role.
func (a SecurityAttributes) HasRole(role string) bool {
	return role != "" && slices.Contains(a.Roles, role)
}

// SessionValues renders the attributes for the session-binding protocol.
// Every value is a string; absent values are the empty string, never null.
// Set-valued attributes are joined with commas in sorted order so identical
// attribute sets always bind identical values.
func (a SecurityAttributes) SessionValues() map[string]string {
	a = a.Normalized()
	return map[string]string{
		"user_id":       a.UserID,
		"org_id":        a.OrgID,
		"territory":     string(a.Territory),
		"scopes":        JoinSet(a.Scopes),
		"contact_roles": JoinSet(a.ContactRoles),
		"roles":         JoinSet(a.Roles),
	}
}

// JoinSet renders a set as a sorted, deduplicated, comma-separated string.
func JoinSet(values []string) string {
	return strings.Join(normalizeSet(values), ",")
}

// SplitSet parses the comma-separated form produced by JoinSet.
func SplitSet(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return normalizeSet(strings.Split(raw, ","))
}

func normalizeSet(values []string) []string {
	return pstrings.SortedSet(values, ",")
}

// permissionCodePattern accepts "resource:action" with lowercase tokens.
var permissionCodePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]*:[a-z0-9][a-z0-9_.-]*$`)

// ValidPermissionCode reports whether code has the "resource:action" shape.
func ValidPermissionCode(code string) bool {
	return len(code) <= 128 && permissionCodePattern.MatchString(code)
}

// Permission is immutable reference data identifying one authorizable operation.
type Permission struct {
	Code     string `json:"code" yaml:"code"`
	Resource string `json:"resource" yaml:"resource"`
	Active   bool   `json:"active" yaml:"active"`
}

// Role is a coarse role name.
type Role struct {
	Name   string `json:"name" yaml:"name"`
	Active bool   `json:"active" yaml:"active"`
}

// RolePermission joins a role to a permission. Granted=false is an explicit
// negative grant and never allows.
type RolePermission struct {
	Role       string `json:"role" yaml:"role"`
	Permission string `json:"permission" yaml:"permission"`
	Granted    bool   `json:"granted" yaml:"granted"`
}

// UserPermission is a direct grant of one permission to one user.
type UserPermission struct {
	UserID     string     `json:"user_id" yaml:"user_id"`
	Permission string     `json:"permission" yaml:"permission"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
}

// ActiveAt reports whether the grant is in force at now. A grant without an
// expiry never lapses; a grant expiring exactly at now is no longer active.
func (p UserPermission) ActiveAt(now time.Time) bool {
	return p.ExpiresAt == nil || p.ExpiresAt.After(now)
}
