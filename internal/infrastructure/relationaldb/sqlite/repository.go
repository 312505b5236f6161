// Package sqlite provides a SQLite implementation of the Storage interface.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ersonp/minutes-core/internal/domain/entities"
	"github.com/ersonp/minutes-core/internal/infrastructure/config"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Repository implements ports.Storage using SQLite.
type Repository struct {
	db   *sql.DB
	path string
}

// NewRepository creates a new SQLite repository.
func NewRepository(cfg config.SQLiteConfig) (*Repository, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite path is required")
	}

	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	// Enable foreign keys for referential integrity
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	// Enable WAL mode for better concurrent read/write performance
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Set busy timeout to avoid "database is locked" errors
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	return &Repository{
		db:   db,
		path: cfg.Path,
	}, nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Path returns the database file path.
func (r *Repository) Path() string {
	return r.path
}

// EnsureSchema creates the database schema if it doesn't exist.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	schema := `
	-- Meetings (anchor a batch of candidates to a point in time)
	CREATE TABLE IF NOT EXISTS meetings (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		occurred_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_meetings_occurred ON meetings(occurred_at);

	-- Canonical entities (one row per resolved real-world subject)
	CREATE TABLE IF NOT EXISTS entities (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		normalized_name TEXT NOT NULL,
		kind TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(kind, normalized_name)
	);
	CREATE INDEX IF NOT EXISTS idx_entities_normalized ON entities(kind, normalized_name);

	-- Raw spellings accepted for an entity; grows monotonically
	CREATE TABLE IF NOT EXISTS entity_aliases (
		entity_id TEXT NOT NULL REFERENCES entities(id),
		alias TEXT NOT NULL,
		normalized_alias TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(entity_id, normalized_alias)
	);
	CREATE INDEX IF NOT EXISTS idx_aliases_normalized ON entity_aliases(normalized_alias);

	-- Immutable state snapshots; rowid breaks ties within a meeting
	CREATE TABLE IF NOT EXISTS entity_states (
		id TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL REFERENCES entities(id),
		meeting_id TEXT NOT NULL REFERENCES meetings(id),
		attributes TEXT NOT NULL,
		confidence REAL NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_states_entity ON entity_states(entity_id);
	CREATE INDEX IF NOT EXISTS idx_states_meeting ON entity_states(meeting_id);

	-- Append-only transition records
	CREATE TABLE IF NOT EXISTS state_transitions (
		id TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL REFERENCES entities(id),
		from_state_id TEXT,
		to_state_id TEXT NOT NULL REFERENCES entity_states(id),
		changed_fields TEXT,
		detection TEXT NOT NULL,
		rationale TEXT,
		meeting_id TEXT NOT NULL REFERENCES meetings(id),
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_transitions_entity ON state_transitions(entity_id);
	CREATE INDEX IF NOT EXISTS idx_transitions_meeting ON state_transitions(meeting_id);
	CREATE INDEX IF NOT EXISTS idx_transitions_to_state ON state_transitions(to_state_id);

	-- Audit log (tracks processing runs and self-healed discrepancies)
	CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		action TEXT NOT NULL,
		entity_id TEXT,
		details TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_audit_log_entity ON audit_log(entity_id);
	CREATE INDEX IF NOT EXISTS idx_audit_log_action ON audit_log(action);
	`

	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// SaveEntity saves or updates an entity, aliases included. When another row
// already holds the same (kind, normalized name), that row wins and entity.ID
// is rewritten to its id, so two concurrent resolutions of the same new name
// converge on one identity instead of leaving a dangling id.
func (r *Repository) SaveEntity(ctx context.Context, entity *entities.Entity) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO entities (id, name, normalized_name, kind, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(kind, normalized_name) DO UPDATE SET
			name = excluded.name
	`
	_, err = tx.ExecContext(ctx, query,
		entity.ID,
		entity.Name,
		entity.NormalizedName,
		string(entity.Kind),
		entity.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving entity: %w", err)
	}

	var survivingID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM entities WHERE kind = ? AND normalized_name = ?`,
		string(entity.Kind), entity.NormalizedName,
	).Scan(&survivingID)
	if err != nil {
		return fmt.Errorf("reading back entity: %w", err)
	}
	entity.ID = survivingID

	for _, alias := range entity.Aliases {
		if err := insertAlias(ctx, tx, entity.ID, alias); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing entity: %w", err)
	}
	return nil
}

// AddAlias records a raw spelling against an entity. Re-adding an existing
// alias is a no-op.
func (r *Repository) AddAlias(ctx context.Context, entityID, alias string) error {
	return insertAlias(ctx, r.db, entityID, alias)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertAlias(ctx context.Context, db execer, entityID, alias string) error {
	query := `
		INSERT OR IGNORE INTO entity_aliases (entity_id, alias, normalized_alias)
		VALUES (?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query, entityID, alias, entities.NormalizeName(alias))
	if err != nil {
		return fmt.Errorf("saving alias: %w", err)
	}
	return nil
}

// FindEntityByName finds an entity of the given kind whose normalized name
// or any recorded alias matches the normalized form of name.
func (r *Repository) FindEntityByName(ctx context.Context, kind entities.Kind, name string) (*entities.Entity, error) {
	normalized := entities.NormalizeName(name)
	query := `
		SELECT id, name, normalized_name, kind, created_at
		FROM entities
		WHERE kind = ? AND (
			normalized_name = ?
			OR id IN (SELECT entity_id FROM entity_aliases WHERE normalized_alias = ?)
		)
		LIMIT 1
	`
	row := r.db.QueryRowContext(ctx, query, string(kind), normalized, normalized)

	entity, err := scanEntityRow(row)
	if err != nil || entity == nil {
		return entity, err
	}

	if err := r.loadAliases(ctx, map[string]*entities.Entity{entity.ID: entity}); err != nil {
		return nil, err
	}
	return entity, nil
}

// FindEntityByID finds an entity by its ID.
func (r *Repository) FindEntityByID(ctx context.Context, entityID string) (*entities.Entity, error) {
	query := `
		SELECT id, name, normalized_name, kind, created_at
		FROM entities
		WHERE id = ?
	`
	row := r.db.QueryRowContext(ctx, query, entityID)

	entity, err := scanEntityRow(row)
	if err != nil || entity == nil {
		return entity, err
	}

	if err := r.loadAliases(ctx, map[string]*entities.Entity{entity.ID: entity}); err != nil {
		return nil, err
	}
	return entity, nil
}

// BatchGetEntities fetches multiple entities by ID in a single query.
func (r *Repository) BatchGetEntities(ctx context.Context, entityIDs []string) (map[string]*entities.Entity, error) {
	if len(entityIDs) == 0 {
		return map[string]*entities.Entity{}, nil
	}

	// Build placeholders for IN clause
	placeholders := make([]string, len(entityIDs))
	args := make([]any, len(entityIDs))
	for i, id := range entityIDs {
		placeholders[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf(`
		SELECT id, name, normalized_name, kind, created_at
		FROM entities
		WHERE id IN (%s)
	`, strings.Join(placeholders, ","))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying entities: %w", err)
	}
	defer rows.Close()

	result := make(map[string]*entities.Entity, len(entityIDs))
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		result[entity.ID] = entity
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := r.loadAliases(ctx, result); err != nil {
		return nil, err
	}
	return result, nil
}

// ListEntities lists entities with pagination, optionally filtered by kind.
func (r *Repository) ListEntities(ctx context.Context, kind entities.Kind, limit, offset int) ([]*entities.Entity, error) {
	query := `
		SELECT id, name, normalized_name, kind, created_at
		FROM entities
		WHERE (? = '' OR kind = ?)
		ORDER BY name ASC
		LIMIT ? OFFSET ?
	`
	rows, err := r.db.QueryContext(ctx, query, string(kind), string(kind), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying entities: %w", err)
	}
	defer rows.Close()

	return r.collectEntities(ctx, rows, limit)
}

// SearchEntities searches entities by name or alias pattern.
func (r *Repository) SearchEntities(ctx context.Context, query string, limit int) ([]*entities.Entity, error) {
	pattern := "%" + entities.NormalizeName(query) + "%"
	sqlQuery := `
		SELECT DISTINCT e.id, e.name, e.normalized_name, e.kind, e.created_at
		FROM entities e
		LEFT JOIN entity_aliases a ON a.entity_id = e.id
		WHERE e.normalized_name LIKE ? OR a.normalized_alias LIKE ?
		ORDER BY e.name ASC
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, sqlQuery, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("searching entities: %w", err)
	}
	defer rows.Close()

	return r.collectEntities(ctx, rows, limit)
}

// CountEntities returns the total number of entities.
func (r *Repository) CountEntities(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entities`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting entities: %w", err)
	}
	return count, nil
}

// SaveMeeting saves or updates a meeting.
func (r *Repository) SaveMeeting(ctx context.Context, meeting *entities.Meeting) error {
	query := `
		INSERT INTO meetings (id, title, occurred_at, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			occurred_at = excluded.occurred_at
	`
	_, err := r.db.ExecContext(ctx, query,
		meeting.ID,
		meeting.Title,
		meeting.OccurredAt,
		meeting.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving meeting: %w", err)
	}
	return nil
}

// FindMeeting finds a meeting by ID.
func (r *Repository) FindMeeting(ctx context.Context, meetingID string) (*entities.Meeting, error) {
	query := `
		SELECT id, title, occurred_at, created_at
		FROM meetings
		WHERE id = ?
	`
	row := r.db.QueryRowContext(ctx, query, meetingID)

	var m entities.Meeting
	err := row.Scan(&m.ID, &m.Title, &m.OccurredAt, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning meeting: %w", err)
	}
	return &m, nil
}

// stateOrdering sorts states chronologically: meeting time first, insertion
// order second.
const stateOrdering = `m.occurred_at ASC, s.rowid ASC`

// BatchGetCurrentStates returns the latest state per entity, keyed by entity ID.
func (r *Repository) BatchGetCurrentStates(ctx context.Context, entityIDs []string) (map[string]*entities.EntityState, error) {
	if len(entityIDs) == 0 {
		return map[string]*entities.EntityState{}, nil
	}

	placeholders := make([]string, len(entityIDs))
	args := make([]any, len(entityIDs))
	for i, id := range entityIDs {
		placeholders[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf(`
		SELECT s.id, s.entity_id, s.meeting_id, s.attributes, s.confidence, s.created_at
		FROM entity_states s
		JOIN meetings m ON m.id = s.meeting_id
		WHERE s.entity_id IN (%s)
		ORDER BY %s
	`, strings.Join(placeholders, ","), stateOrdering)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying states: %w", err)
	}
	defer rows.Close()

	// Rows arrive oldest first, so the last row per entity wins.
	result := make(map[string]*entities.EntityState, len(entityIDs))
	for rows.Next() {
		state, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		result[state.EntityID] = state
	}
	return result, rows.Err()
}

// BatchSaveStates persists state snapshots in a single transaction.
func (r *Repository) BatchSaveStates(ctx context.Context, states []*entities.EntityState) error {
	return r.BatchSaveStatesAndTransitions(ctx, states, nil)
}

// BatchSaveTransitions persists transition records in a single transaction.
func (r *Repository) BatchSaveTransitions(ctx context.Context, transitions []*entities.StateTransition) error {
	return r.BatchSaveStatesAndTransitions(ctx, nil, transitions)
}

// BatchSaveStatesAndTransitions persists states together with their
// transitions; either all rows commit or none do.
func (r *Repository) BatchSaveStatesAndTransitions(ctx context.Context, states []*entities.EntityState, transitions []*entities.StateTransition) error {
	if len(states) == 0 && len(transitions) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stateQuery := `
		INSERT INTO entity_states (id, entity_id, meeting_id, attributes, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	for _, s := range states {
		attrs, err := json.Marshal(s.Attributes)
		if err != nil {
			return fmt.Errorf("marshaling attributes: %w", err)
		}
		if _, err := tx.ExecContext(ctx, stateQuery,
			s.ID, s.EntityID, s.MeetingID, string(attrs), s.Confidence, s.CreatedAt,
		); err != nil {
			return fmt.Errorf("saving state: %w", err)
		}
	}

	transitionQuery := `
		INSERT INTO state_transitions (id, entity_id, from_state_id, to_state_id, changed_fields, detection, rationale, meeting_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, t := range transitions {
		fields, err := json.Marshal(t.ChangedFields)
		if err != nil {
			return fmt.Errorf("marshaling changed fields: %w", err)
		}
		var fromState sql.NullString
		if t.FromStateID != "" {
			fromState = sql.NullString{String: t.FromStateID, Valid: true}
		}
		if _, err := tx.ExecContext(ctx, transitionQuery,
			t.ID, t.EntityID, fromState, t.ToStateID, string(fields),
			string(t.Detection), t.Rationale, t.MeetingID, t.CreatedAt,
		); err != nil {
			return fmt.Errorf("saving transition: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing batch: %w", err)
	}
	return nil
}

// FindPreviousState returns the latest state of the entity recorded strictly
// before the given state, or nil if it was the first.
func (r *Repository) FindPreviousState(ctx context.Context, entityID, beforeStateID string) (*entities.EntityState, error) {
	query := `
		SELECT s.id, s.entity_id, s.meeting_id, s.attributes, s.confidence, s.created_at
		FROM entity_states s
		JOIN meetings m ON m.id = s.meeting_id
		JOIN entity_states b ON b.id = ?
		JOIN meetings bm ON bm.id = b.meeting_id
		WHERE s.entity_id = ? AND s.id != b.id
			AND (m.occurred_at < bm.occurred_at
				OR (m.occurred_at = bm.occurred_at AND s.rowid < b.rowid))
		ORDER BY m.occurred_at DESC, s.rowid DESC
		LIMIT 1
	`
	rows, err := r.db.QueryContext(ctx, query, beforeStateID, entityID)
	if err != nil {
		return nil, fmt.Errorf("querying previous state: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanState(rows)
}

// ListStatesByEntity returns an entity's state history, oldest first.
func (r *Repository) ListStatesByEntity(ctx context.Context, entityID string) ([]entities.EntityState, error) {
	query := fmt.Sprintf(`
		SELECT s.id, s.entity_id, s.meeting_id, s.attributes, s.confidence, s.created_at
		FROM entity_states s
		JOIN meetings m ON m.id = s.meeting_id
		WHERE s.entity_id = ?
		ORDER BY %s
	`, stateOrdering)
	return r.queryStates(ctx, query, entityID)
}

// ListStatesByMeeting returns every state persisted for a meeting.
func (r *Repository) ListStatesByMeeting(ctx context.Context, meetingID string) ([]entities.EntityState, error) {
	query := `
		SELECT s.id, s.entity_id, s.meeting_id, s.attributes, s.confidence, s.created_at
		FROM entity_states s
		WHERE s.meeting_id = ?
		ORDER BY s.rowid ASC
	`
	return r.queryStates(ctx, query, meetingID)
}

// ListTransitionsByEntity returns an entity's transitions, oldest first.
func (r *Repository) ListTransitionsByEntity(ctx context.Context, entityID string) ([]entities.StateTransition, error) {
	query := `
		SELECT id, entity_id, from_state_id, to_state_id, changed_fields, detection, rationale, meeting_id, created_at
		FROM state_transitions
		WHERE entity_id = ?
		ORDER BY rowid ASC
	`
	return r.queryTransitions(ctx, query, entityID)
}

// ListTransitionsByMeeting returns every transition recorded for a meeting.
func (r *Repository) ListTransitionsByMeeting(ctx context.Context, meetingID string) ([]entities.StateTransition, error) {
	query := `
		SELECT id, entity_id, from_state_id, to_state_id, changed_fields, detection, rationale, meeting_id, created_at
		FROM state_transitions
		WHERE meeting_id = ?
		ORDER BY rowid ASC
	`
	return r.queryTransitions(ctx, query, meetingID)
}

// LogAction logs an action to the audit log.
func (r *Repository) LogAction(ctx context.Context, action string, entityID string, details map[string]any) error {
	var detailsJSON sql.NullString
	if details != nil {
		data, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("marshaling details: %w", err)
		}
		detailsJSON = sql.NullString{String: string(data), Valid: true}
	}

	var entityIDPtr sql.NullString
	if entityID != "" {
		entityIDPtr = sql.NullString{String: entityID, Valid: true}
	}

	query := `INSERT INTO audit_log (action, entity_id, details) VALUES (?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query, action, entityIDPtr, detailsJSON)
	if err != nil {
		return fmt.Errorf("logging action: %w", err)
	}
	return nil
}

// FindAuditLogByAction finds audit log entries by action type.
func (r *Repository) FindAuditLogByAction(ctx context.Context, action string, limit int) ([]entities.AuditEntry, error) {
	query := `
		SELECT id, action, entity_id, details, created_at
		FROM audit_log
		WHERE action = ?
		ORDER BY created_at DESC
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, query, action, limit)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer rows.Close()

	var entries []entities.AuditEntry
	for rows.Next() {
		var entry entities.AuditEntry
		var entityID, details sql.NullString

		if err := rows.Scan(
			&entry.ID,
			&entry.Action,
			&entityID,
			&details,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}

		entry.EntityID = entityID.String

		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &entry.Details); err != nil {
				return nil, fmt.Errorf("unmarshaling details: %w", err)
			}
		}

		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// scanner abstracts sql.Row and sql.Rows for shared scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanEntityRow(row *sql.Row) (*entities.Entity, error) {
	var entity entities.Entity
	var kind string
	err := row.Scan(
		&entity.ID,
		&entity.Name,
		&entity.NormalizedName,
		&kind,
		&entity.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning entity: %w", err)
	}
	entity.Kind = entities.Kind(kind)
	return &entity, nil
}

func scanEntity(rows *sql.Rows) (*entities.Entity, error) {
	var entity entities.Entity
	var kind string
	if err := rows.Scan(
		&entity.ID,
		&entity.Name,
		&entity.NormalizedName,
		&kind,
		&entity.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("scanning entity: %w", err)
	}
	entity.Kind = entities.Kind(kind)
	return &entity, nil
}

func scanState(s scanner) (*entities.EntityState, error) {
	var state entities.EntityState
	var attrs string
	if err := s.Scan(
		&state.ID,
		&state.EntityID,
		&state.MeetingID,
		&attrs,
		&state.Confidence,
		&state.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("scanning state: %w", err)
	}
	if err := json.Unmarshal([]byte(attrs), &state.Attributes); err != nil {
		return nil, fmt.Errorf("unmarshaling attributes: %w", err)
	}
	return &state, nil
}

// collectEntities drains entity rows and attaches their aliases.
func (r *Repository) collectEntities(ctx context.Context, rows *sql.Rows, capacity int) ([]*entities.Entity, error) {
	result := make([]*entities.Entity, 0, capacity)
	byID := make(map[string]*entities.Entity, capacity)
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, entity)
		byID[entity.ID] = entity
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := r.loadAliases(ctx, byID); err != nil {
		return nil, err
	}
	return result, nil
}

// loadAliases attaches alias lists to the given entities in one query.
func (r *Repository) loadAliases(ctx context.Context, byID map[string]*entities.Entity) error {
	if len(byID) == 0 {
		return nil
	}

	placeholders := make([]string, 0, len(byID))
	args := make([]any, 0, len(byID))
	for id := range byID {
		placeholders = append(placeholders, "?")
		args = append(args, id)
	}

	query := fmt.Sprintf(`
		SELECT entity_id, alias
		FROM entity_aliases
		WHERE entity_id IN (%s)
		ORDER BY rowid ASC
	`, strings.Join(placeholders, ","))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("querying aliases: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var entityID, alias string
		if err := rows.Scan(&entityID, &alias); err != nil {
			return fmt.Errorf("scanning alias: %w", err)
		}
		if e, ok := byID[entityID]; ok {
			e.Aliases = append(e.Aliases, alias)
		}
	}
	return rows.Err()
}

func (r *Repository) queryStates(ctx context.Context, query string, args ...any) ([]entities.EntityState, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying states: %w", err)
	}
	defer rows.Close()

	states := make([]entities.EntityState, 0, 16)
	for rows.Next() {
		state, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, *state)
	}
	return states, rows.Err()
}

func (r *Repository) queryTransitions(ctx context.Context, query string, args ...any) ([]entities.StateTransition, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying transitions: %w", err)
	}
	defer rows.Close()

	transitions := make([]entities.StateTransition, 0, 16)
	for rows.Next() {
		var t entities.StateTransition
		var fromState, rationale sql.NullString
		var fields, detection string

		if err := rows.Scan(
			&t.ID,
			&t.EntityID,
			&fromState,
			&t.ToStateID,
			&fields,
			&detection,
			&rationale,
			&t.MeetingID,
			&t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning transition: %w", err)
		}

		t.FromStateID = fromState.String
		t.Rationale = rationale.String
		t.Detection = entities.DetectionMethod(detection)

		if fields != "" {
			if err := json.Unmarshal([]byte(fields), &t.ChangedFields); err != nil {
				return nil, fmt.Errorf("unmarshaling changed fields: %w", err)
			}
		}

		transitions = append(transitions, t)
	}
	return transitions, rows.Err()
}
