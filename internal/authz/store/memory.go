package store

import (
	"context"
	"slices"
	"sync"

	"aegis/internal/authz/models"
)

// InMemoryStore keeps reference data in process. Used for tests and for
// running from a seed file without a database.
type InMemoryStore struct {
	mu   sync.RWMutex
	data ReferenceData
}

// NewInMemoryStore creates a store holding data.
func NewInMemoryStore(data ReferenceData) *InMemoryStore {
	return &InMemoryStore{data: cloneData(data)}
}

// Load returns a copy of the current data.
func (s *InMemoryStore) Load(_ context.Context) (ReferenceData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneData(s.data), nil
}

// Replace swaps the stored data.
func (s *InMemoryStore) Replace(data ReferenceData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = cloneData(data)
}

// GrantUser appends a direct user grant.
func (s *InMemoryStore) GrantUser(up models.UserPermission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.UserPermissions = append(s.data.UserPermissions, up)
}

func cloneData(d ReferenceData) ReferenceData {
	out := ReferenceData{
		Permissions:     slices.Clone(d.Permissions),
		Roles:           slices.Clone(d.Roles),
		RolePermissions: slices.Clone(d.RolePermissions),
		UserPermissions: make([]models.UserPermission, 0, len(d.UserPermissions)),
	}
	for _, up := range d.UserPermissions {
		if up.ExpiresAt != nil {
			exp := *up.ExpiresAt
			up.ExpiresAt = &exp
		}
		out.UserPermissions = append(out.UserPermissions, up)
	}
	return out
}
