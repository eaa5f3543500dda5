package audit

import (
	"context"
	"time"

	"aegis/pkg/domain"
)

// Writer appends entries. Appending an id that already exists returns
// sentinel.ErrConflict and leaves the stored entry untouched. A second
// follow-up for the same PENDING entry returns sentinel.ErrAlreadyReconciled.
type Writer interface {
	Append(ctx context.Context, entry Entry) error
}

// Reader serves the audit read API and the compliance monitor.
type Reader interface {
	// Get returns sentinel.ErrNotFound for unknown ids.
	Get(ctx context.Context, id domain.EntryID) (Entry, error)
	ListRecent(ctx context.Context, limit int) ([]Entry, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]Entry, error)
	// ListSince returns entries created at or after since, newest first.
	ListSince(ctx context.Context, since time.Time, limit int) ([]Entry, error)
	// FindReconciliation returns the follow-up of a PENDING entry, or sentinel.ErrNotFound.
	FindReconciliation(ctx context.Context, pendingID domain.EntryID) (Entry, error)
	// ListUnreconciledBefore returns PENDING entries created before cutoff that
	// have no follow-up.
	ListUnreconciledBefore(ctx context.Context, cutoff time.Time, limit int) ([]Entry, error)
}

// RetentionStore supports the retention job and retention alerts.
type RetentionStore interface {
	// CountRetentionBefore counts entries whose retention ended before cutoff.
	CountRetentionBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// CountRetentionBetween counts entries whose retention ends in [from, to).
	CountRetentionBetween(ctx context.Context, from, to time.Time) (int64, error)
	// PurgeRetentionBefore deletes entries whose retention ended before cutoff.
	PurgeRetentionBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Store is the full audit persistence port.
type Store interface {
	Writer
	Reader
	RetentionStore
}
