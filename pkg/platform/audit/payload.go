package audit

import (
	"encoding/json"
	"fmt"
)

// payloadVersion tags the wire format produced for the async transport.
const payloadVersion = 1

type payload struct {
	Version int   `json:"version"`
	Entry   Entry `json:"entry"`
}

// MarshalPayload encodes e for the async transport.
func MarshalPayload(e Entry) ([]byte, error) {
	b, err := json.Marshal(payload{Version: payloadVersion, Entry: e})
	if err != nil {
		return nil, fmt.Errorf("marshal audit payload: %w", err)
	}
	return b, nil
}

// UnmarshalPayload decodes and validates an entry from the async transport.
func UnmarshalPayload(b []byte) (Entry, error) {
	var p payload
	if err := json.Unmarshal(b, &p); err != nil {
		return Entry{}, fmt.Errorf("unmarshal audit payload: %w", err)
	}
	if p.Version != payloadVersion {
		return Entry{}, fmt.Errorf("unsupported audit payload version %d", p.Version)
	}
	if err := p.Entry.Validate(); err != nil {
		return Entry{}, err
	}
	return p.Entry, nil
}
