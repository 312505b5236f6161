package entities

import "time"

// EntityState is a meeting-scoped snapshot of an entity's attributes
// (status, owner, progress, free-form fields). States are immutable once
// written; a later snapshot supersedes but never overwrites an earlier one.
// For a given entity, states are totally ordered by (meeting time, insertion
// order) and the latest one is the entity's current state.
type EntityState struct {
	ID         string            `json:"id"`
	EntityID   string            `json:"entity_id"`
	MeetingID  string            `json:"meeting_id"`
	Attributes map[string]string `json:"attributes"`
	Confidence float64           `json:"confidence"`
	CreatedAt  time.Time         `json:"created_at"`
}

// AttributeNames returns the state's attribute keys. Order is unspecified.
func (s *EntityState) AttributeNames() []string {
	names := make([]string, 0, len(s.Attributes))
	for k := range s.Attributes {
		names = append(names, k)
	}
	return names
}

// DiffAttributes returns the names of attributes whose values differ between
// prev and next, including attributes present on only one side. A nil prev
// means every attribute of next is new. This is a purely syntactic diff;
// semantic judgment of whether a difference is meaningful belongs to the
// comparison engine.
func DiffAttributes(prev *EntityState, next *EntityState) []string {
	if next == nil {
		return nil
	}
	if prev == nil {
		return next.AttributeNames()
	}

	var changed []string
	for k, v := range next.Attributes {
		if pv, ok := prev.Attributes[k]; !ok || pv != v {
			changed = append(changed, k)
		}
	}
	for k := range prev.Attributes {
		if _, ok := next.Attributes[k]; !ok {
			changed = append(changed, k)
		}
	}
	return changed
}
