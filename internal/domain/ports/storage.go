package ports

import (
	"context"

	"github.com/ersonp/minutes-core/internal/domain/entities"
)

// Storage defines the interface for the relational storage collaborator.
// All batch operations accept empty input without error and are atomic per
// call: either every row in the batch is committed or none is. Lookup
// methods return nil (not an error) when nothing matches.
type Storage interface {
	// EnsureSchema creates the database schema if it doesn't exist.
	EnsureSchema(ctx context.Context) error

	// Close closes the database connection.
	Close() error

	// Entity operations

	// SaveEntity inserts or updates an entity record (aliases included).
	// Normalized name is unique per kind: when another record already holds
	// the same (kind, normalized name), that record wins and entity.ID is
	// rewritten to the surviving id.
	SaveEntity(ctx context.Context, entity *entities.Entity) error

	// AddAlias records a raw spelling against an entity. Adding an alias that
	// already exists is a no-op.
	AddAlias(ctx context.Context, entityID, alias string) error

	// FindEntityByName finds an entity of the given kind whose normalized
	// name or any alias matches the normalized form of name.
	FindEntityByName(ctx context.Context, kind entities.Kind, name string) (*entities.Entity, error)

	// FindEntityByID finds an entity by its ID.
	FindEntityByID(ctx context.Context, entityID string) (*entities.Entity, error)

	// BatchGetEntities fetches multiple entities by ID in one query.
	BatchGetEntities(ctx context.Context, entityIDs []string) (map[string]*entities.Entity, error)

	// ListEntities lists entities, optionally filtered by kind (empty kind
	// means all), with pagination.
	ListEntities(ctx context.Context, kind entities.Kind, limit, offset int) ([]*entities.Entity, error)

	// SearchEntities searches entities by name or alias pattern.
	SearchEntities(ctx context.Context, query string, limit int) ([]*entities.Entity, error)

	// CountEntities returns the total number of entities.
	CountEntities(ctx context.Context) (int, error)

	// Meeting operations

	// SaveMeeting inserts or updates a meeting record.
	SaveMeeting(ctx context.Context, meeting *entities.Meeting) error

	// FindMeeting finds a meeting by ID.
	FindMeeting(ctx context.Context, meetingID string) (*entities.Meeting, error)

	// State operations

	// BatchGetCurrentStates returns the latest state per entity, keyed by
	// entity ID. Entities with no recorded state are absent from the map.
	BatchGetCurrentStates(ctx context.Context, entityIDs []string) (map[string]*entities.EntityState, error)

	// BatchSaveStates persists state snapshots.
	BatchSaveStates(ctx context.Context, states []*entities.EntityState) error

	// FindPreviousState returns the latest state of the entity recorded
	// strictly before the given state, or nil if it was the first.
	FindPreviousState(ctx context.Context, entityID, beforeStateID string) (*entities.EntityState, error)

	// ListStatesByEntity returns an entity's state history, oldest first.
	ListStatesByEntity(ctx context.Context, entityID string) ([]entities.EntityState, error)

	// ListStatesByMeeting returns every state persisted for a meeting.
	ListStatesByMeeting(ctx context.Context, meetingID string) ([]entities.EntityState, error)

	// Transition operations

	// BatchSaveTransitions persists transition records.
	BatchSaveTransitions(ctx context.Context, transitions []*entities.StateTransition) error

	// BatchSaveStatesAndTransitions persists states together with their
	// transitions in a single transaction, so a state and the transition
	// that explains it are committed or rolled back as one unit.
	BatchSaveStatesAndTransitions(ctx context.Context, states []*entities.EntityState, transitions []*entities.StateTransition) error

	// ListTransitionsByEntity returns an entity's transitions, oldest first.
	ListTransitionsByEntity(ctx context.Context, entityID string) ([]entities.StateTransition, error)

	// ListTransitionsByMeeting returns every transition recorded for a meeting.
	ListTransitionsByMeeting(ctx context.Context, meetingID string) ([]entities.StateTransition, error)

	// Audit log

	// LogAction logs a processing action to the audit log.
	LogAction(ctx context.Context, action string, entityID string, details map[string]any) error

	// FindAuditLogByAction finds audit log entries by action type.
	FindAuditLogByAction(ctx context.Context, action string, limit int) ([]entities.AuditEntry, error)
}
