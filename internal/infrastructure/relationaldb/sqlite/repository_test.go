package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/ersonp/minutes-core/internal/domain/entities"
	"github.com/ersonp/minutes-core/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRepo creates an in-memory SQLite repository for testing.
func setupTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(config.SQLiteConfig{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	err = repo.EnsureSchema(context.Background())
	require.NoError(t, err)

	return repo
}

func saveMeeting(t *testing.T, repo *Repository, id string, occurredAt time.Time) {
	t.Helper()
	err := repo.SaveMeeting(context.Background(), &entities.Meeting{
		ID:         id,
		Title:      "standup " + id,
		OccurredAt: occurredAt,
		CreatedAt:  time.Now(),
	})
	require.NoError(t, err)
}

func saveEntity(t *testing.T, repo *Repository, id, name string, kind entities.Kind) {
	t.Helper()
	err := repo.SaveEntity(context.Background(), &entities.Entity{
		ID:             id,
		Name:           name,
		NormalizedName: entities.NormalizeName(name),
		Kind:           kind,
		CreatedAt:      time.Now(),
	})
	require.NoError(t, err)
}

func TestNewRepository(t *testing.T) {
	t.Run("success with memory database", func(t *testing.T) {
		repo, err := NewRepository(config.SQLiteConfig{Path: ":memory:"})
		require.NoError(t, err)
		defer repo.Close()
		assert.NotNil(t, repo)
	})

	t.Run("error with empty path", func(t *testing.T) {
		_, err := NewRepository(config.SQLiteConfig{Path: ""})
		require.Error(t, err)
	})
}

func TestRepository_EnsureSchema(t *testing.T) {
	repo := setupTestRepo(t)

	// Verify tables exist
	tables := []string{"meetings", "entities", "entity_aliases", "entity_states", "state_transitions", "audit_log"}
	for _, table := range tables {
		var count int
		err := repo.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "table %s should exist", table)
	}
}

func TestRepository_EnsureSchema_Idempotent(t *testing.T) {
	repo := setupTestRepo(t)

	// Should not error when called again
	err := repo.EnsureSchema(context.Background())
	require.NoError(t, err)
}

func TestRepository_Entities(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	t.Run("save and find by name", func(t *testing.T) {
		saveEntity(t, repo, "ent-1", "Project Alpha", entities.KindProject)

		found, err := repo.FindEntityByName(ctx, entities.KindProject, "project alpha")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, "ent-1", found.ID)
		assert.Equal(t, "Project Alpha", found.Name)
	})

	t.Run("kind scoping", func(t *testing.T) {
		found, err := repo.FindEntityByName(ctx, entities.KindPerson, "project alpha")
		require.NoError(t, err)
		assert.Nil(t, found)
	})

	t.Run("find by alias", func(t *testing.T) {
		err := repo.AddAlias(ctx, "ent-1", "Alpha Project")
		require.NoError(t, err)

		found, err := repo.FindEntityByName(ctx, entities.KindProject, "ALPHA   project")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, "ent-1", found.ID)
		assert.Equal(t, []string{"Alpha Project"}, found.Aliases)
	})

	t.Run("alias insert idempotent", func(t *testing.T) {
		err := repo.AddAlias(ctx, "ent-1", "alpha project")
		require.NoError(t, err)

		found, err := repo.FindEntityByID(ctx, "ent-1")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Len(t, found.Aliases, 1)
	})

	t.Run("find by id missing", func(t *testing.T) {
		found, err := repo.FindEntityByID(ctx, "nonexistent")
		require.NoError(t, err)
		assert.Nil(t, found)
	})

	t.Run("batch get", func(t *testing.T) {
		saveEntity(t, repo, "ent-2", "Dana", entities.KindPerson)

		result, err := repo.BatchGetEntities(ctx, []string{"ent-1", "ent-2", "missing"})
		require.NoError(t, err)
		require.Len(t, result, 2)
		assert.Equal(t, "Project Alpha", result["ent-1"].Name)
		assert.Equal(t, "Dana", result["ent-2"].Name)
	})

	t.Run("list with kind filter", func(t *testing.T) {
		list, err := repo.ListEntities(ctx, entities.KindPerson, 10, 0)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "Dana", list[0].Name)

		all, err := repo.ListEntities(ctx, "", 10, 0)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("search matches alias", func(t *testing.T) {
		found, err := repo.SearchEntities(ctx, "alpha", 10)
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "ent-1", found[0].ID)
	})

	t.Run("count", func(t *testing.T) {
		count, err := repo.CountEntities(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})
}

func TestRepository_SaveEntityNormalizedNameConflict(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	saveEntity(t, repo, "ent-1", "Project Alpha", entities.KindProject)

	// A second writer racing on the same new name minted its own id; the
	// first row survives and the caller's entity adopts its id.
	loser := &entities.Entity{
		ID:             "ent-2",
		Name:           "project   ALPHA",
		NormalizedName: entities.NormalizeName("project   ALPHA"),
		Kind:           entities.KindProject,
		Aliases:        []string{"PA"},
		CreatedAt:      time.Now(),
	}
	require.NoError(t, repo.SaveEntity(ctx, loser))
	assert.Equal(t, "ent-1", loser.ID)

	missing, err := repo.FindEntityByID(ctx, "ent-2")
	require.NoError(t, err)
	assert.Nil(t, missing, "the losing id must not become a row")

	survivor, err := repo.FindEntityByID(ctx, "ent-1")
	require.NoError(t, err)
	require.NotNil(t, survivor)
	assert.Equal(t, "project   ALPHA", survivor.Name)
	assert.Contains(t, survivor.Aliases, "PA")

	count, err := repo.CountEntities(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRepository_Meetings(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	occurred := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	saveMeeting(t, repo, "mtg-1", occurred)

	found, err := repo.FindMeeting(ctx, "mtg-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "standup mtg-1", found.Title)
	assert.True(t, found.OccurredAt.Equal(occurred))

	missing, err := repo.FindMeeting(ctx, "nonexistent")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRepository_States(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	saveEntity(t, repo, "ent-1", "Project Alpha", entities.KindProject)
	saveMeeting(t, repo, "mtg-1", time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	saveMeeting(t, repo, "mtg-2", time.Date(2025, 3, 17, 9, 0, 0, 0, time.UTC))

	first := &entities.EntityState{
		ID:         "state-1",
		EntityID:   "ent-1",
		MeetingID:  "mtg-1",
		Attributes: map[string]string{"status": "planned"},
		Confidence: 0.9,
		CreatedAt:  time.Now(),
	}
	second := &entities.EntityState{
		ID:         "state-2",
		EntityID:   "ent-1",
		MeetingID:  "mtg-2",
		Attributes: map[string]string{"status": "in_progress"},
		Confidence: 0.95,
		CreatedAt:  time.Now(),
	}

	require.NoError(t, repo.BatchSaveStates(ctx, []*entities.EntityState{first, second}))

	t.Run("current state is latest by meeting time", func(t *testing.T) {
		current, err := repo.BatchGetCurrentStates(ctx, []string{"ent-1"})
		require.NoError(t, err)
		require.NotNil(t, current["ent-1"])
		assert.Equal(t, "state-2", current["ent-1"].ID)
		assert.Equal(t, "in_progress", current["ent-1"].Attributes["status"])
	})

	t.Run("previous state", func(t *testing.T) {
		prev, err := repo.FindPreviousState(ctx, "ent-1", "state-2")
		require.NoError(t, err)
		require.NotNil(t, prev)
		assert.Equal(t, "state-1", prev.ID)

		none, err := repo.FindPreviousState(ctx, "ent-1", "state-1")
		require.NoError(t, err)
		assert.Nil(t, none)
	})

	t.Run("list by entity oldest first", func(t *testing.T) {
		history, err := repo.ListStatesByEntity(ctx, "ent-1")
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, "state-1", history[0].ID)
		assert.Equal(t, "state-2", history[1].ID)
	})

	t.Run("list by meeting", func(t *testing.T) {
		states, err := repo.ListStatesByMeeting(ctx, "mtg-2")
		require.NoError(t, err)
		require.Len(t, states, 1)
		assert.Equal(t, "state-2", states[0].ID)
	})
}

func TestRepository_Transitions(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	saveEntity(t, repo, "ent-1", "Project Alpha", entities.KindProject)
	saveMeeting(t, repo, "mtg-1", time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))

	state := &entities.EntityState{
		ID:         "state-1",
		EntityID:   "ent-1",
		MeetingID:  "mtg-1",
		Attributes: map[string]string{"status": "planned"},
		Confidence: 0.9,
		CreatedAt:  time.Now(),
	}
	transition := &entities.StateTransition{
		ID:            "trans-1",
		EntityID:      "ent-1",
		ToStateID:     "state-1",
		ChangedFields: []string{"status"},
		Detection:     entities.DetectionExplicit,
		Rationale:     "first observation",
		MeetingID:     "mtg-1",
		CreatedAt:     time.Now(),
	}

	t.Run("states and transitions commit together", func(t *testing.T) {
		err := repo.BatchSaveStatesAndTransitions(ctx,
			[]*entities.EntityState{state},
			[]*entities.StateTransition{transition},
		)
		require.NoError(t, err)

		byEntity, err := repo.ListTransitionsByEntity(ctx, "ent-1")
		require.NoError(t, err)
		require.Len(t, byEntity, 1)
		assert.Equal(t, "trans-1", byEntity[0].ID)
		assert.Empty(t, byEntity[0].FromStateID)
		assert.Equal(t, []string{"status"}, byEntity[0].ChangedFields)
		assert.Equal(t, entities.DetectionExplicit, byEntity[0].Detection)
	})

	t.Run("batch rolls back on bad row", func(t *testing.T) {
		good := &entities.EntityState{
			ID:         "state-2",
			EntityID:   "ent-1",
			MeetingID:  "mtg-1",
			Attributes: map[string]string{"status": "in_progress"},
			CreatedAt:  time.Now(),
		}
		// References a state that doesn't exist, violating the FK
		bad := &entities.StateTransition{
			ID:        "trans-2",
			EntityID:  "ent-1",
			ToStateID: "no-such-state",
			Detection: entities.DetectionExplicit,
			MeetingID: "mtg-1",
			CreatedAt: time.Now(),
		}

		err := repo.BatchSaveStatesAndTransitions(ctx,
			[]*entities.EntityState{good},
			[]*entities.StateTransition{bad},
		)
		require.Error(t, err)

		history, err := repo.ListStatesByEntity(ctx, "ent-1")
		require.NoError(t, err)
		assert.Len(t, history, 1, "state from failed batch should not persist")
	})

	t.Run("list by meeting", func(t *testing.T) {
		byMeeting, err := repo.ListTransitionsByMeeting(ctx, "mtg-1")
		require.NoError(t, err)
		assert.Len(t, byMeeting, 1)
	})

	t.Run("empty batch is a no-op", func(t *testing.T) {
		require.NoError(t, repo.BatchSaveStatesAndTransitions(ctx, nil, nil))
	})
}

func TestRepository_AuditLog(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	err := repo.LogAction(ctx, "process_meeting", "", map[string]any{"meeting_id": "mtg-1", "candidates": 3})
	require.NoError(t, err)
	err = repo.LogAction(ctx, "self_heal", "ent-1", map[string]any{"inferred": 1})
	require.NoError(t, err)

	entries, err := repo.FindAuditLogByAction(ctx, "self_heal", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "ent-1", entries[0].EntityID)
	assert.Equal(t, float64(1), entries[0].Details["inferred"])

	none, err := repo.FindAuditLogByAction(ctx, "unknown_action", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}
