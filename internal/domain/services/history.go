package services

import (
	"context"
	"fmt"

	"github.com/ersonp/minutes-core/internal/domain/entities"
	"github.com/ersonp/minutes-core/internal/domain/ports"
)

// DefaultListLimit is the default page size for entity listings.
const DefaultListLimit = 100

// EntityHistory bundles everything the downstream query/answer layer reads
// about one entity: its identity, state history, and transition history.
type EntityHistory struct {
	Entity      *entities.Entity
	States      []entities.EntityState
	Transitions []entities.StateTransition
}

// HistoryService exposes the read-only accessors consumed by the downstream
// answer-synthesis layer. It never writes.
type HistoryService struct {
	storage ports.Storage
}

// NewHistoryService creates a history service.
func NewHistoryService(storage ports.Storage) *HistoryService {
	return &HistoryService{storage: storage}
}

// FindEntity looks up an entity by name across kinds, preferring an exact
// normalized match over a search hit.
func (s *HistoryService) FindEntity(ctx context.Context, name string) (*entities.Entity, error) {
	norm := entities.NormalizeName(name)
	for _, kind := range []entities.Kind{entities.KindPerson, entities.KindProject, entities.KindFeature, entities.KindDeadline, entities.KindOther} {
		e, err := s.storage.FindEntityByName(ctx, kind, name)
		if err != nil {
			return nil, fmt.Errorf("finding entity: %w", err)
		}
		if e != nil {
			return e, nil
		}
	}

	matches, err := s.storage.SearchEntities(ctx, norm, 1)
	if err != nil {
		return nil, fmt.Errorf("searching entities: %w", err)
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return matches[0], nil
}

// History returns the full state and transition history for one entity.
func (s *HistoryService) History(ctx context.Context, entityID string) (*EntityHistory, error) {
	entity, err := s.storage.FindEntityByID(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("finding entity: %w", err)
	}
	if entity == nil {
		return nil, nil
	}

	states, err := s.storage.ListStatesByEntity(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("listing states: %w", err)
	}
	transitions, err := s.storage.ListTransitionsByEntity(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("listing transitions: %w", err)
	}

	return &EntityHistory{Entity: entity, States: states, Transitions: transitions}, nil
}

// BatchHistories returns histories for a set of entities, keyed by ID.
func (s *HistoryService) BatchHistories(ctx context.Context, entityIDs []string) (map[string]*EntityHistory, error) {
	found, err := s.storage.BatchGetEntities(ctx, entityIDs)
	if err != nil {
		return nil, fmt.Errorf("fetching entities: %w", err)
	}

	histories := make(map[string]*EntityHistory, len(found))
	for id, entity := range found {
		states, err := s.storage.ListStatesByEntity(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("listing states: %w", err)
		}
		transitions, err := s.storage.ListTransitionsByEntity(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("listing transitions: %w", err)
		}
		histories[id] = &EntityHistory{Entity: entity, States: states, Transitions: transitions}
	}
	return histories, nil
}

// ListEntities pages through entities, optionally filtered by kind.
func (s *HistoryService) ListEntities(ctx context.Context, kind entities.Kind, limit, offset int) ([]*entities.Entity, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return s.storage.ListEntities(ctx, kind, limit, offset)
}

// SearchEntities searches entities by name or alias pattern.
func (s *HistoryService) SearchEntities(ctx context.Context, query string, limit int) ([]*entities.Entity, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return s.storage.SearchEntities(ctx, query, limit)
}

// Export walks every entity and collects the complete entity, state, and
// transition record set, oldest first per entity.
func (s *HistoryService) Export(ctx context.Context) ([]*EntityHistory, error) {
	var all []*EntityHistory
	for offset := 0; ; offset += entityPageSize {
		page, err := s.storage.ListEntities(ctx, "", entityPageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("listing entities: %w", err)
		}
		for _, e := range page {
			h, err := s.History(ctx, e.ID)
			if err != nil {
				return nil, err
			}
			if h != nil {
				all = append(all, h)
			}
		}
		if len(page) < entityPageSize {
			return all, nil
		}
	}
}
