// Package sentinel holds the store-level facts that services translate into
// domain errors. Input validation belongs in pkg/domain-errors.
package sentinel

import "errors"

var (
	// ErrNotFound: no row with that id.
	ErrNotFound = errors.New("not found")
	// ErrConflict: the id is already stored.
	ErrConflict = errors.New("conflict")
	// ErrAlreadyReconciled: the pending entry already has a follow-up stored under another id.
	ErrAlreadyReconciled = errors.New("already reconciled")
	// ErrUnavailable: the sink cannot take writes right now (queue full, breaker open, drain incomplete).
	ErrUnavailable = errors.New("unavailable")
)
