// Package entities contains core domain data structures.
package entities

import (
	"strings"
	"time"
)

// Kind represents the category of a tracked entity.
type Kind string

// Known entity kinds. Mentions with an unrecognized kind hint fall back to
// KindOther rather than failing resolution.
const (
	KindPerson   Kind = "person"
	KindProject  Kind = "project"
	KindFeature  Kind = "feature"
	KindDeadline Kind = "deadline"
	KindOther    Kind = "other"
)

// ParseKind maps a free-form kind hint to a known Kind.
func ParseKind(s string) Kind {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindPerson:
		return KindPerson
	case KindProject:
		return KindProject
	case KindFeature:
		return KindFeature
	case KindDeadline:
		return KindDeadline
	default:
		return KindOther
	}
}

// Entity represents a canonical real-world subject (person, project, feature)
// tracked across meetings. A mention in a transcript resolves to exactly one
// Entity; every accepted raw spelling is kept as an alias so later exact
// lookups short-circuit the fuzzier resolution stages.
type Entity struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`            // Canonical display name (e.g., "Project Alpha")
	NormalizedName string    `json:"normalized_name"` // Lowercase, whitespace-collapsed (e.g., "project alpha")
	Kind           Kind      `json:"kind"`
	Aliases        []string  `json:"aliases,omitempty"` // Raw spellings seen for this entity; grows monotonically
	CreatedAt      time.Time `json:"created_at"`
}

// HasAlias reports whether the given raw string is already recorded against
// this entity, compared in normalized form.
func (e *Entity) HasAlias(raw string) bool {
	norm := NormalizeName(raw)
	if norm == e.NormalizedName {
		return true
	}
	for _, a := range e.Aliases {
		if NormalizeName(a) == norm {
			return true
		}
	}
	return false
}

// NormalizeName converts a name to its canonical matching form: lowercased,
// trimmed, with internal whitespace runs collapsed to single spaces.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
