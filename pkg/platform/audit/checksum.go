package audit

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Sealer computes the keyed checksum stored with every entry. A mismatch on
// read means the row was altered outside the recorder.
type Sealer struct {
	key []byte
}

// NewSealer creates a sealer. Keys longer than BLAKE2b accepts are hashed
// down first; an empty key yields an unkeyed digest.
func NewSealer(key []byte) *Sealer {
	if len(key) > blake2b.Size {
		sum := blake2b.Sum256(key)
		key = sum[:]
	}
	return &Sealer{key: append([]byte(nil), key...)}
}

// Sum returns the hex checksum of e's canonical form. The Checksum field
// itself is not covered.
func (s *Sealer) Sum(e Entry) (string, error) {
	canonical, err := canonicalBytes(e)
	if err != nil {
		return "", err
	}
	h, err := blake2b.New256(s.key)
	if err != nil {
		return "", fmt.Errorf("init checksum: %w", err)
	}
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Seal sets e.Checksum.
func (s *Sealer) Seal(e *Entry) error {
	sum, err := s.Sum(*e)
	if err != nil {
		return err
	}
	e.Checksum = sum
	return nil
}

// Verify reports whether e carries a valid checksum.
func (s *Sealer) Verify(e Entry) bool {
	sum, err := s.Sum(e)
	return err == nil && e.Checksum != "" && sum == e.Checksum
}

// canonicalEntry fixes field order and value formatting so an entry read back
// from the store hashes to the same bytes it was sealed with.
type canonicalEntry struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	OrgID          string          `json:"org_id"`
	Territory      string          `json:"territory"`
	Operation      string          `json:"operation"`
	TargetClass    string          `json:"target_class"`
	Parameters     json.RawMessage `json:"parameters"`
	Outcome        string          `json:"outcome"`
	ErrorDetails   string          `json:"error_details"`
	DurationMs     int64           `json:"duration_ms"`
	CreatedAt      string          `json:"created_at"`
	RetentionUntil string          `json:"retention_until"`
	ReconcilesID   string          `json:"reconciles_id"`
	RequestID      string          `json:"request_id"`
}

func canonicalBytes(e Entry) ([]byte, error) {
	params, err := CanonicalParameters(e.Parameters)
	if err != nil {
		return nil, err
	}
	c := canonicalEntry{
		ID:             e.ID.String(),
		UserID:         e.UserID,
		OrgID:          e.OrgID,
		Territory:      string(e.Territory),
		Operation:      e.Operation,
		TargetClass:    e.TargetClass,
		Parameters:     params,
		Outcome:        string(e.Outcome),
		ErrorDetails:   e.ErrorDetails,
		DurationMs:     e.DurationMs,
		CreatedAt:      canonicalTime(e.CreatedAt),
		RetentionUntil: canonicalTime(e.RetentionUntil),
		RequestID:      e.RequestID,
	}
	if e.ReconcilesID != nil {
		c.ReconcilesID = e.ReconcilesID.String()
	}
	return json.Marshal(c)
}

// CanonicalParameters renders parameters the way they survive a JSON column
// round trip: sorted keys, float64 numbers, {} for empty.
func CanonicalParameters(params map[string]any) ([]byte, error) {
	if len(params) == 0 {
		return []byte("{}"), nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal audit parameters: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("normalize audit parameters: %w", err)
	}
	return json.Marshal(generic)
}

// Timestamps are stored at microsecond precision.
func canonicalTime(t time.Time) string {
	return t.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano)
}
