// Package store loads permission reference data and freezes it into immutable
// snapshots for the evaluator.
package store

import (
	"context"
	"fmt"
	"slices"
	"time"

	"aegis/internal/authz/models"
	dErrors "aegis/pkg/domain-errors"
)

// ReferenceData is the raw, serializable form of the permission tables.
type ReferenceData struct {
	Permissions     []models.Permission     `json:"permissions" yaml:"permissions"`
	Roles           []models.Role           `json:"roles" yaml:"roles"`
	RolePermissions []models.RolePermission `json:"role_permissions" yaml:"role_permissions"`
	UserPermissions []models.UserPermission `json:"user_permissions" yaml:"user_permissions"`
}

// Loader reads the current reference data from a backing source.
type Loader interface {
	Load(ctx context.Context) (ReferenceData, error)
}

// Validate checks codes and references. Seeds are validated before they are
// applied; rows read back from the database are trusted to the schema.
func (d ReferenceData) Validate() error {
	perms := make(map[string]struct{}, len(d.Permissions))
	for _, p := range d.Permissions {
		if !models.ValidPermissionCode(p.Code) {
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("invalid permission code %q", p.Code))
		}
		perms[p.Code] = struct{}{}
	}
	roles := make(map[string]struct{}, len(d.Roles))
	for _, r := range d.Roles {
		if r.Name == "" {
			return dErrors.New(dErrors.CodeValidation, "role name is required")
		}
		roles[r.Name] = struct{}{}
	}
	for _, rp := range d.RolePermissions {
		if _, ok := roles[rp.Role]; !ok {
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("role permission references unknown role %q", rp.Role))
		}
		if _, ok := perms[rp.Permission]; !ok {
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("role permission references unknown permission %q", rp.Permission))
		}
	}
	for _, up := range d.UserPermissions {
		if up.UserID == "" {
			return dErrors.New(dErrors.CodeValidation, "user permission requires a user id")
		}
		if _, ok := perms[up.Permission]; !ok {
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("user permission references unknown permission %q", up.Permission))
		}
	}
	return nil
}

// Snapshot is an immutable, indexed view of ReferenceData. It is safe for
// concurrent use and is replaced wholesale on refresh, never mutated.
type Snapshot struct {
	permissions map[string]models.Permission
	roles       map[string]models.Role
	roleGrants  map[string]map[string]bool
	userGrants  map[string][]models.UserPermission
	loadedAt    time.Time
}

// NewSnapshot indexes data. Duplicate role grants collapse to the most
// restrictive value: a negative row always wins.
func NewSnapshot(data ReferenceData, loadedAt time.Time) *Snapshot {
	s := &Snapshot{
		permissions: make(map[string]models.Permission, len(data.Permissions)),
		roles:       make(map[string]models.Role, len(data.Roles)),
		roleGrants:  make(map[string]map[string]bool),
		userGrants:  make(map[string][]models.UserPermission),
		loadedAt:    loadedAt,
	}
	for _, p := range data.Permissions {
		s.permissions[p.Code] = p
	}
	for _, r := range data.Roles {
		s.roles[r.Name] = r
	}
	for _, rp := range data.RolePermissions {
		grants, ok := s.roleGrants[rp.Role]
		if !ok {
			grants = make(map[string]bool)
			s.roleGrants[rp.Role] = grants
		}
		if prev, seen := grants[rp.Permission]; seen {
			grants[rp.Permission] = prev && rp.Granted
			continue
		}
		grants[rp.Permission] = rp.Granted
	}
	for _, up := range data.UserPermissions {
		if up.ExpiresAt != nil {
			exp := up.ExpiresAt.UTC()
			up.ExpiresAt = &exp
		}
		s.userGrants[up.UserID] = append(s.userGrants[up.UserID], up)
	}
	return s
}

// LoadedAt is when the underlying data was read.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// Permission looks up a permission by code.
func (s *Snapshot) Permission(code string) (models.Permission, bool) {
	p, ok := s.permissions[code]
	return p, ok
}

// RoleActive reports whether role exists and is active.
func (s *Snapshot) RoleActive(role string) bool {
	r, ok := s.roles[role]
	return ok && r.Active
}

// RoleGranted reports whether role carries a positive grant for code.
// Inactive and unknown roles grant nothing.
func (s *Snapshot) RoleGranted(role, code string) bool {
	if !s.RoleActive(role) {
		return false
	}
	return s.roleGrants[role][code]
}

// UserGrants returns the direct grants held by userID for code, expired or not.
func (s *Snapshot) UserGrants(userID, code string) []models.UserPermission {
	var out []models.UserPermission
	for _, up := range s.userGrants[userID] {
		if up.Permission == code {
			out = append(out, up)
		}
	}
	return out
}

// ActivePermissionCodes lists every active permission, sorted.
func (s *Snapshot) ActivePermissionCodes() []string {
	out := make([]string, 0, len(s.permissions))
	for code, p := range s.permissions {
		if p.Active {
			out = append(out, code)
		}
	}
	slices.Sort(out)
	return out
}

// RoleGrantedCodes lists the codes positively granted to role. Inactive and
// unknown roles yield nothing.
func (s *Snapshot) RoleGrantedCodes(role string) []string {
	if !s.RoleActive(role) {
		return nil
	}
	var out []string
	for code, granted := range s.roleGrants[role] {
		if granted {
			out = append(out, code)
		}
	}
	return out
}

// AllUserGrants returns every direct grant held by userID.
func (s *Snapshot) AllUserGrants(userID string) []models.UserPermission {
	return slices.Clone(s.userGrants[userID])
}

// Size reports row counts for logging and metrics.
func (s *Snapshot) Size() (permissions, roles, userGrants int) {
	n := 0
	for _, g := range s.userGrants {
		n += len(g)
	}
	return len(s.permissions), len(s.roles), n
}
