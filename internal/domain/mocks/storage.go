package mocks

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/ersonp/minutes-core/internal/domain/entities"
)

// Storage is an in-memory mock implementation of ports.Storage. States are
// ordered by insertion per entity, which matches the chronological insert
// order tests use.
type Storage struct {
	// FailWrites, when set, makes every write operation return this error.
	FailWrites error

	mu          sync.Mutex
	entities    map[string]*entities.Entity
	meetings    map[string]*entities.Meeting
	states      map[string][]entities.EntityState // keyed by entity ID, oldest first
	transitions []entities.StateTransition
	audit       []entities.AuditEntry
}

// NewStorage creates an empty in-memory storage.
func NewStorage() *Storage {
	return &Storage{
		entities: make(map[string]*entities.Entity),
		meetings: make(map[string]*entities.Meeting),
		states:   make(map[string][]entities.EntityState),
	}
}

// EnsureSchema is a no-op.
func (m *Storage) EnsureSchema(ctx context.Context) error { return nil }

// Close is a no-op.
func (m *Storage) Close() error { return nil }

// SaveEntity inserts or updates an entity. On a (kind, normalized name)
// conflict the existing row wins and entity.ID is rewritten to its id,
// matching the sqlite repository.
func (m *Storage) SaveEntity(ctx context.Context, entity *entities.Entity) error {
	if m.FailWrites != nil {
		return m.FailWrites
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.entities {
		if existing.ID == entity.ID {
			continue
		}
		if existing.Kind == entity.Kind && existing.NormalizedName == entity.NormalizedName {
			existing.Name = entity.Name
			for _, a := range entity.Aliases {
				if !existing.HasAlias(a) {
					existing.Aliases = append(existing.Aliases, a)
				}
			}
			entity.ID = existing.ID
			return nil
		}
	}

	cp := *entity
	cp.Aliases = append([]string(nil), entity.Aliases...)
	m.entities[entity.ID] = &cp
	return nil
}

// AddAlias records a raw spelling against an entity.
func (m *Storage) AddAlias(ctx context.Context, entityID, alias string) error {
	if m.FailWrites != nil {
		return m.FailWrites
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entities[entityID]
	if !ok {
		return nil
	}
	if !e.HasAlias(alias) {
		e.Aliases = append(e.Aliases, alias)
	}
	return nil
}

// FindEntityByName finds an entity by normalized name or alias.
func (m *Storage) FindEntityByName(ctx context.Context, kind entities.Kind, name string) (*entities.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	norm := entities.NormalizeName(name)
	for _, e := range m.entities {
		if e.Kind != kind {
			continue
		}
		if e.NormalizedName == norm || e.HasAlias(name) {
			return copyEntity(e), nil
		}
	}
	return nil, nil
}

// FindEntityByID finds an entity by ID.
func (m *Storage) FindEntityByID(ctx context.Context, entityID string) (*entities.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entities[entityID]; ok {
		return copyEntity(e), nil
	}
	return nil, nil
}

// BatchGetEntities fetches multiple entities by ID.
func (m *Storage) BatchGetEntities(ctx context.Context, entityIDs []string) (map[string]*entities.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]*entities.Entity)
	for _, id := range entityIDs {
		if e, ok := m.entities[id]; ok {
			out[id] = copyEntity(e)
		}
	}
	return out, nil
}

// ListEntities lists entities, optionally filtered by kind.
func (m *Storage) ListEntities(ctx context.Context, kind entities.Kind, limit, offset int) ([]*entities.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var all []*entities.Entity
	for _, e := range m.entities {
		if kind != "" && e.Kind != kind {
			continue
		}
		all = append(all, copyEntity(e))
	}
	// Map iteration order is random; paging needs a stable order.
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// SearchEntities searches entities by name or alias substring.
func (m *Storage) SearchEntities(ctx context.Context, query string, limit int) ([]*entities.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	norm := entities.NormalizeName(query)
	var out []*entities.Entity
	for _, e := range m.entities {
		if strings.Contains(e.NormalizedName, norm) {
			out = append(out, copyEntity(e))
			continue
		}
		for _, a := range e.Aliases {
			if strings.Contains(entities.NormalizeName(a), norm) {
				out = append(out, copyEntity(e))
				break
			}
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// CountEntities returns the total number of entities.
func (m *Storage) CountEntities(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entities), nil
}

// SaveMeeting inserts or updates a meeting.
func (m *Storage) SaveMeeting(ctx context.Context, meeting *entities.Meeting) error {
	if m.FailWrites != nil {
		return m.FailWrites
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *meeting
	m.meetings[meeting.ID] = &cp
	return nil
}

// FindMeeting finds a meeting by ID.
func (m *Storage) FindMeeting(ctx context.Context, meetingID string) (*entities.Meeting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if mt, ok := m.meetings[meetingID]; ok {
		cp := *mt
		return &cp, nil
	}
	return nil, nil
}

// BatchGetCurrentStates returns the latest state per entity.
func (m *Storage) BatchGetCurrentStates(ctx context.Context, entityIDs []string) (map[string]*entities.EntityState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]*entities.EntityState)
	for _, id := range entityIDs {
		if history := m.states[id]; len(history) > 0 {
			cp := history[len(history)-1]
			out[id] = &cp
		}
	}
	return out, nil
}

// BatchSaveStates persists state snapshots.
func (m *Storage) BatchSaveStates(ctx context.Context, states []*entities.EntityState) error {
	if m.FailWrites != nil {
		return m.FailWrites
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveStatesLocked(states)
	return nil
}

func (m *Storage) saveStatesLocked(states []*entities.EntityState) {
	for _, s := range states {
		m.states[s.EntityID] = append(m.states[s.EntityID], *s)
	}
}

// FindPreviousState returns the state recorded before the given one.
func (m *Storage) FindPreviousState(ctx context.Context, entityID, beforeStateID string) (*entities.EntityState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	history := m.states[entityID]
	for i, s := range history {
		if s.ID == beforeStateID {
			if i == 0 {
				return nil, nil
			}
			cp := history[i-1]
			return &cp, nil
		}
	}
	return nil, nil
}

// ListStatesByEntity returns an entity's state history, oldest first.
func (m *Storage) ListStatesByEntity(ctx context.Context, entityID string) ([]entities.EntityState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]entities.EntityState(nil), m.states[entityID]...), nil
}

// ListStatesByMeeting returns every state persisted for a meeting.
func (m *Storage) ListStatesByMeeting(ctx context.Context, meetingID string) ([]entities.EntityState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []entities.EntityState
	for _, history := range m.states {
		for _, s := range history {
			if s.MeetingID == meetingID {
				out = append(out, s)
			}
		}
	}
	return out, nil
}

// BatchSaveTransitions persists transition records.
func (m *Storage) BatchSaveTransitions(ctx context.Context, transitions []*entities.StateTransition) error {
	if m.FailWrites != nil {
		return m.FailWrites
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveTransitionsLocked(transitions)
	return nil
}

func (m *Storage) saveTransitionsLocked(transitions []*entities.StateTransition) {
	for _, t := range transitions {
		m.transitions = append(m.transitions, *t)
	}
}

// BatchSaveStatesAndTransitions persists both record sets as one unit.
func (m *Storage) BatchSaveStatesAndTransitions(ctx context.Context, states []*entities.EntityState, transitions []*entities.StateTransition) error {
	if m.FailWrites != nil {
		return m.FailWrites
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveStatesLocked(states)
	m.saveTransitionsLocked(transitions)
	return nil
}

// ListTransitionsByEntity returns an entity's transitions, oldest first.
func (m *Storage) ListTransitionsByEntity(ctx context.Context, entityID string) ([]entities.StateTransition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []entities.StateTransition
	for _, t := range m.transitions {
		if t.EntityID == entityID {
			out = append(out, t)
		}
	}
	return out, nil
}

// ListTransitionsByMeeting returns every transition recorded for a meeting.
func (m *Storage) ListTransitionsByMeeting(ctx context.Context, meetingID string) ([]entities.StateTransition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []entities.StateTransition
	for _, t := range m.transitions {
		if t.MeetingID == meetingID {
			out = append(out, t)
		}
	}
	return out, nil
}

// LogAction records an audit entry.
func (m *Storage) LogAction(ctx context.Context, action string, entityID string, details map[string]any) error {
	if m.FailWrites != nil {
		return m.FailWrites
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.audit = append(m.audit, entities.AuditEntry{
		ID:       int64(len(m.audit) + 1),
		Action:   action,
		EntityID: entityID,
		Details:  details,
	})
	return nil
}

// FindAuditLogByAction finds audit entries by action type.
func (m *Storage) FindAuditLogByAction(ctx context.Context, action string, limit int) ([]entities.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []entities.AuditEntry
	for _, e := range m.audit {
		if e.Action == action {
			out = append(out, e)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// DeleteTransitionsByEntity removes an entity's transition rows, bypassing
// the append-only contract. Tests use it to simulate a state persisted
// without its transition.
func (m *Storage) DeleteTransitionsByEntity(entityID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.transitions[:0]
	for _, t := range m.transitions {
		if t.EntityID != entityID {
			kept = append(kept, t)
		}
	}
	m.transitions = kept
}

func copyEntity(e *entities.Entity) *entities.Entity {
	cp := *e
	cp.Aliases = append([]string(nil), e.Aliases...)
	return &cp
}
