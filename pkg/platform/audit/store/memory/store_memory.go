package memory

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"aegis/pkg/domain"
	audit "aegis/pkg/platform/audit"
	"aegis/pkg/platform/sentinel"
)

// InMemoryStore is an audit.Store for tests and single-process development.
// It enforces the same uniqueness rules as the postgres schema.
type InMemoryStore struct {
	mu         sync.RWMutex
	entries    map[domain.EntryID]audit.Entry
	order      []domain.EntryID
	reconciled map[domain.EntryID]domain.EntryID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		entries:    make(map[domain.EntryID]audit.Entry),
		reconciled: make(map[domain.EntryID]domain.EntryID),
	}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[domain.EntryID]audit.Entry)
	s.order = nil
	s.reconciled = make(map[domain.EntryID]domain.EntryID)
}

func (s *InMemoryStore) Append(_ context.Context, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[entry.ID]; exists {
		return sentinel.ErrConflict
	}
	if entry.ReconcilesID != nil {
		if _, done := s.reconciled[*entry.ReconcilesID]; done {
			return sentinel.ErrAlreadyReconciled
		}
		s.reconciled[*entry.ReconcilesID] = entry.ID
	}
	s.entries[entry.ID] = clone(entry)
	s.order = append(s.order, entry.ID)
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id domain.EntryID) (audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return audit.Entry{}, sentinel.ErrNotFound
	}
	return clone(e), nil
}

// ListRecent returns the most recent entries, newest first.
func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]audit.Entry, error) {
	return s.collect(limit, func(audit.Entry) bool { return true }), nil
}

func (s *InMemoryStore) ListByUser(_ context.Context, userID string, limit int) ([]audit.Entry, error) {
	return s.collect(limit, func(e audit.Entry) bool { return e.UserID == userID }), nil
}

func (s *InMemoryStore) ListSince(_ context.Context, since time.Time, limit int) ([]audit.Entry, error) {
	return s.collect(limit, func(e audit.Entry) bool { return !e.CreatedAt.Before(since) }), nil
}

func (s *InMemoryStore) FindReconciliation(_ context.Context, pendingID domain.EntryID) (audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	followUp, ok := s.reconciled[pendingID]
	if !ok {
		return audit.Entry{}, sentinel.ErrNotFound
	}
	return clone(s.entries[followUp]), nil
}

func (s *InMemoryStore) ListUnreconciledBefore(_ context.Context, cutoff time.Time, limit int) ([]audit.Entry, error) {
	s.mu.RLock()
	reconciled := maps.Clone(s.reconciled)
	s.mu.RUnlock()
	return s.collect(limit, func(e audit.Entry) bool {
		_, done := reconciled[e.ID]
		return e.Outcome == audit.OutcomePending && e.CreatedAt.Before(cutoff) && !done
	}), nil
}

func (s *InMemoryStore) CountRetentionBefore(_ context.Context, cutoff time.Time) (int64, error) {
	return int64(len(s.collect(0, func(e audit.Entry) bool { return e.RetentionUntil.Before(cutoff) }))), nil
}

func (s *InMemoryStore) CountRetentionBetween(_ context.Context, from, to time.Time) (int64, error) {
	return int64(len(s.collect(0, func(e audit.Entry) bool {
		return !e.RetentionUntil.Before(from) && e.RetentionUntil.Before(to)
	}))), nil
}

func (s *InMemoryStore) PurgeRetentionBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var purged int64
	kept := s.order[:0]
	for _, id := range s.order {
		e := s.entries[id]
		if e.RetentionUntil.Before(cutoff) {
			delete(s.entries, id)
			if e.ReconcilesID != nil {
				delete(s.reconciled, *e.ReconcilesID)
			}
			purged++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return purged, nil
}

// Len returns the number of stored entries.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// collect walks entries newest first. A limit <= 0 means no limit.
func (s *InMemoryStore) collect(limit int, keep func(audit.Entry) bool) []audit.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]audit.Entry, 0)
	for _, id := range slices.Backward(s.order) {
		e := s.entries[id]
		if !keep(e) {
			continue
		}
		out = append(out, clone(e))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	slices.SortStableFunc(out, func(a, b audit.Entry) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out
}

func clone(e audit.Entry) audit.Entry {
	e.Parameters = maps.Clone(e.Parameters)
	if e.ReconcilesID != nil {
		id := *e.ReconcilesID
		e.ReconcilesID = &id
	}
	return e
}

var _ audit.Store = (*InMemoryStore)(nil)
