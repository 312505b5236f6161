package entities

import "time"

// Meeting anchors a batch of extracted candidates to a point in time.
// State ordering within an entity's history uses the meeting's OccurredAt
// first, insertion order second.
type Meeting struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	OccurredAt time.Time `json:"occurred_at"`
	CreatedAt  time.Time `json:"created_at"`
}
