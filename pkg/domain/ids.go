package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "aegis/pkg/domain-errors"
)

// EntryID identifies one audit entry. Distinct from uuid.UUID so entry ids
// cannot be confused with other identifiers at compile time.
type EntryID uuid.UUID

// NewEntryID returns a random entry id.
func NewEntryID() EntryID { return EntryID(uuid.New()) }

func (id EntryID) String() string { return uuid.UUID(id).String() }

// IsNil reports whether the id is the zero UUID.
func (id EntryID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// ParseEntryID parses an entry id at a trust boundary. Empty, malformed and
// nil UUIDs are rejected with CodeInvalidInput.
func ParseEntryID(s string) (EntryID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return EntryID{}, err
	}
	return EntryID(u), nil
}

func parseUUID(s string) (uuid.UUID, error) {
	if strings.TrimSpace(s) == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id is required")
	}
	if len(s) > 64 {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id is too long")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid id format")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must not be nil")
	}
	return u, nil
}

// MarshalText renders the canonical UUID form.
func (id EntryID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText parses with the same rules as ParseEntryID.
func (id *EntryID) UnmarshalText(b []byte) error {
	parsed, err := ParseEntryID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
