package entities

import "time"

// AuditEntry represents a logged processing action (a process run, a
// self-healed discrepancy, an administrative change).
type AuditEntry struct {
	ID        int64          `json:"id"`
	Action    string         `json:"action"`
	EntityID  string         `json:"entity_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
