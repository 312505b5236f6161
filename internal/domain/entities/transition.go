package entities

import "time"

// DetectionMethod indicates how a transition was detected.
type DetectionMethod string

const (
	// DetectionExplicit marks transitions produced by the comparison engine.
	DetectionExplicit DetectionMethod = "explicit"
	// DetectionInferred marks transitions synthesized by the validation pass
	// when a persisted state had no matching transition record.
	DetectionInferred DetectionMethod = "inferred"
)

// StateTransition records a meaningful change between two consecutive states
// of an entity. FromStateID is empty for an entity's first observation.
// Transitions are append-only and never edited.
type StateTransition struct {
	ID            string          `json:"id"`
	EntityID      string          `json:"entity_id"`
	FromStateID   string          `json:"from_state_id,omitempty"`
	ToStateID     string          `json:"to_state_id"`
	ChangedFields []string        `json:"changed_fields"`
	Detection     DetectionMethod `json:"detection"`
	Rationale     string          `json:"rationale,omitempty"`
	MeetingID     string          `json:"meeting_id"`
	CreatedAt     time.Time       `json:"created_at"`
}
