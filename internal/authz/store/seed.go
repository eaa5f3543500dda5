package store

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadSeedFile reads reference data from a YAML fixture and validates it.
func LoadSeedFile(path string) (ReferenceData, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ReferenceData{}, fmt.Errorf("read seed file: %w", err)
	}
	return ParseSeed(raw)
}

// ParseSeed decodes a YAML seed document. Unknown keys are rejected so typos in
// fixtures surface instead of silently dropping grants.
func ParseSeed(raw []byte) (ReferenceData, error) {
	var data ReferenceData
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&data); err != nil {
		return ReferenceData{}, fmt.Errorf("decode seed: %w", err)
	}
	if err := data.Validate(); err != nil {
		return ReferenceData{}, err
	}
	return data, nil
}
