package domain

import "strings"

// Territory is a jurisdiction code such as "DE". The empty territory means
// "no value" and is never a member of a TerritorySet.
type Territory string

const (
	TerritoryGermany     Territory = "DE"
	TerritoryAustria     Territory = "AT"
	TerritorySwitzerland Territory = "CH"
)

// DefaultTerritories are the jurisdictions the audit store accepts out of the box.
var DefaultTerritories = []Territory{TerritoryGermany, TerritoryAustria, TerritorySwitzerland}

// NormalizeTerritory upper-cases and trims a raw territory code.
func NormalizeTerritory(raw string) Territory {
	return Territory(strings.ToUpper(strings.TrimSpace(raw)))
}

// TerritorySet is an immutable set of supported jurisdictions.
type TerritorySet struct {
	members map[Territory]struct{}
}

// NewTerritorySet builds a set, normalizing and dropping empty codes.
func NewTerritorySet(codes ...Territory) TerritorySet {
	m := make(map[Territory]struct{}, len(codes))
	for _, c := range codes {
		c = NormalizeTerritory(string(c))
		if c == "" {
			continue
		}
		m[c] = struct{}{}
	}
	return TerritorySet{members: m}
}

// Contains reports whether t is supported.
func (s TerritorySet) Contains(t Territory) bool {
	if t == "" {
		return false
	}
	_, ok := s.members[t]
	return ok
}

// Codes returns the members in no particular order.
func (s TerritorySet) Codes() []Territory {
	out := make([]Territory, 0, len(s.members))
	for t := range s.members {
		out = append(out, t)
	}
	return out
}
