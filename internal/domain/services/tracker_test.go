package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ersonp/minutes-core/internal/domain/entities"
	"github.com/ersonp/minutes-core/internal/domain/mocks"
	"github.com/ersonp/minutes-core/internal/domain/ports"
)

type trackerFixture struct {
	storage *mocks.Storage
	backend *mocks.InferenceBackend
	tracker *TransitionTracker
}

func newTrackerFixture(t *testing.T) *trackerFixture {
	t.Helper()
	f := &trackerFixture{
		storage: mocks.NewStorage(),
		backend: &mocks.InferenceBackend{BackendName: "mock", Structured: true},
	}
	gateway := NewInferenceGateway([]ports.InferenceBackend{f.backend}, nil, 0, nil)
	resolver := NewEntityResolver(f.storage, &mocks.Embedder{}, &mocks.VectorIndex{}, gateway, ResolverConfig{}, nil)
	comparator := NewStateComparisonEngine(gateway, nil, ComparisonConfig{}, nil)
	f.tracker = NewTransitionTracker(resolver, comparator, f.storage, nil)
	return f
}

func meetingAt(id string, occurred time.Time) entities.Meeting {
	return entities.Meeting{ID: id, Title: id, OccurredAt: occurred}
}

func TestProcess_FirstObservation(t *testing.T) {
	f := newTrackerFixture(t)
	ctx := context.Background()

	result, err := f.tracker.Process(ctx, meetingAt("mtg-1", time.Now()), []entities.StateCandidate{
		{RawName: "Project Alpha", Kind: "project", Attributes: map[string]string{"status": "planned"}, Confidence: 0.9},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.EntitiesCreated)
	assert.Equal(t, 1, result.TransitionsCreated)
	assert.Equal(t, 0, result.InferredTransitions)
	assert.Equal(t, 0, result.Unchanged)
	require.Len(t, result.EntitiesTouched, 1)
	assert.Equal(t, 0, f.backend.Calls(), "first observation needs no comparison backend")

	transitions, err := f.storage.ListTransitionsByEntity(ctx, result.EntitiesTouched[0])
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	assert.Empty(t, transitions[0].FromStateID)
	assert.Equal(t, entities.DetectionExplicit, transitions[0].Detection)
	assert.Equal(t, []string{"status"}, transitions[0].ChangedFields)

	audit, err := f.storage.FindAuditLogByAction(ctx, "process_meeting", 0)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, "mtg-1", audit[0].Details["meeting_id"])
}

func TestProcess_MeaningfulChangeAcrossMeetings(t *testing.T) {
	f := newTrackerFixture(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	_, err := f.tracker.Process(ctx, meetingAt("mtg-1", base), []entities.StateCandidate{
		{RawName: "Project Alpha", Kind: "project", Attributes: map[string]string{"status": "planned"}, Confidence: 1},
	})
	require.NoError(t, err)

	f.backend.Responses = []string{`[
		{"pair": 0, "changed": true, "changed_fields": ["status"], "rationale": "work started"}
	]`}
	result, err := f.tracker.Process(ctx, meetingAt("mtg-2", base.AddDate(0, 0, 7)), []entities.StateCandidate{
		{RawName: "project alpha", Kind: "project", Attributes: map[string]string{"status": "in_progress"}, Confidence: 1},
	})
	require.NoError(t, err)

	assert.Equal(t, 0, result.EntitiesCreated, "same entity across meetings")
	assert.Equal(t, 1, result.TransitionsCreated)

	entityID := result.EntitiesTouched[0]
	transitions, err := f.storage.ListTransitionsByEntity(ctx, entityID)
	require.NoError(t, err)
	require.Len(t, transitions, 2)
	assert.NotEmpty(t, transitions[1].FromStateID, "second transition links back to the prior state")
	assert.Equal(t, "work started", transitions[1].Rationale)

	states, err := f.storage.ListStatesByEntity(ctx, entityID)
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, transitions[1].FromStateID, states[0].ID)
	assert.Equal(t, transitions[1].ToStateID, states[1].ID)
}

func TestProcess_CosmeticRestatementRecordsNothing(t *testing.T) {
	f := newTrackerFixture(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	_, err := f.tracker.Process(ctx, meetingAt("mtg-1", base), []entities.StateCandidate{
		{RawName: "Project Alpha", Kind: "project", Attributes: map[string]string{"progress": "30%"}, Confidence: 1},
	})
	require.NoError(t, err)

	f.backend.Responses = []string{`[
		{"pair": 0, "changed": false, "changed_fields": [], "rationale": "same progress, rephrased"}
	]`}
	result, err := f.tracker.Process(ctx, meetingAt("mtg-2", base.AddDate(0, 0, 7)), []entities.StateCandidate{
		{RawName: "Project Alpha", Kind: "project", Attributes: map[string]string{"progress": "30 percent"}, Confidence: 1},
	})
	require.NoError(t, err)

	assert.Equal(t, 0, result.TransitionsCreated)
	assert.Equal(t, 1, result.Unchanged)

	states, err := f.storage.ListStatesByEntity(ctx, result.EntitiesTouched[0])
	require.NoError(t, err)
	assert.Len(t, states, 1, "an unchanged candidate persists no new state")
}

func TestProcess_DegradedComparisonStillRecords(t *testing.T) {
	f := newTrackerFixture(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	_, err := f.tracker.Process(ctx, meetingAt("mtg-1", base), []entities.StateCandidate{
		{RawName: "Project Alpha", Kind: "project", Attributes: map[string]string{"status": "planned"}, Confidence: 1},
	})
	require.NoError(t, err)

	// Every backend down: the comparison degrades but the change must not
	// be lost.
	f.backend.Err = errors.New("all backends down")
	result, err := f.tracker.Process(ctx, meetingAt("mtg-2", base.AddDate(0, 0, 7)), []entities.StateCandidate{
		{RawName: "Project Alpha", Kind: "project", Attributes: map[string]string{"status": "shipped"}, Confidence: 1},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.TransitionsCreated)
	transitions, err := f.storage.ListTransitionsByEntity(ctx, result.EntitiesTouched[0])
	require.NoError(t, err)
	require.Len(t, transitions, 2)
	assert.Equal(t, "comparison unavailable", transitions[1].Rationale)
	assert.Equal(t, []string{"status"}, transitions[1].ChangedFields)
}

func TestProcess_MergesDuplicateCandidates(t *testing.T) {
	f := newTrackerFixture(t)
	ctx := context.Background()

	result, err := f.tracker.Process(ctx, meetingAt("mtg-1", time.Now()), []entities.StateCandidate{
		{RawName: "Project Alpha", Kind: "project", Attributes: map[string]string{"status": "planned", "owner": "dana"}, Confidence: 0.6},
		{RawName: "project alpha", Kind: "project", Attributes: map[string]string{"status": "in_progress"}, Confidence: 0.9},
	})
	require.NoError(t, err)

	require.Len(t, result.EntitiesTouched, 1, "duplicate mentions merge into one entity")
	assert.Equal(t, 1, result.EntitiesCreated)

	states, err := f.storage.ListStatesByEntity(ctx, result.EntitiesTouched[0])
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, "in_progress", states[0].Attributes["status"], "later candidate wins the conflict")
	assert.Equal(t, "dana", states[0].Attributes["owner"], "attributes union across duplicates")
	assert.Equal(t, 0.9, states[0].Confidence, "highest confidence wins")
}

func TestProcess_UnknownKindFallsBackToOther(t *testing.T) {
	f := newTrackerFixture(t)
	ctx := context.Background()

	result, err := f.tracker.Process(ctx, meetingAt("mtg-1", time.Now()), []entities.StateCandidate{
		{RawName: "Q3 Offsite", Kind: "gathering", Attributes: map[string]string{"venue": "tbd"}, Confidence: 1},
	})
	require.NoError(t, err)
	require.Len(t, result.EntitiesTouched, 1)

	e, err := f.storage.FindEntityByID(ctx, result.EntitiesTouched[0])
	require.NoError(t, err)
	assert.Equal(t, entities.KindOther, e.Kind)
}

func TestProcess_EmptyCandidates(t *testing.T) {
	f := newTrackerFixture(t)
	ctx := context.Background()

	result, err := f.tracker.Process(ctx, meetingAt("mtg-1", time.Now()), nil)
	require.NoError(t, err)
	assert.Empty(t, result.EntitiesTouched)
	assert.Equal(t, 0, result.TransitionsCreated)

	meeting, err := f.storage.FindMeeting(ctx, "mtg-1")
	require.NoError(t, err)
	assert.NotNil(t, meeting, "the meeting itself is still recorded")
}

func TestProcess_RequiresMeetingID(t *testing.T) {
	f := newTrackerFixture(t)
	_, err := f.tracker.Process(context.Background(), entities.Meeting{}, nil)
	require.Error(t, err)
}

func TestProcess_StorageFailureSurfaces(t *testing.T) {
	f := newTrackerFixture(t)
	f.storage.FailWrites = errors.New("disk full")

	_, err := f.tracker.Process(context.Background(), meetingAt("mtg-1", time.Now()), []entities.StateCandidate{
		{RawName: "Project Alpha", Kind: "project", Attributes: map[string]string{"status": "planned"}, Confidence: 1},
	})
	require.Error(t, err, "storage failures must surface for retry, never be swallowed")
}

func TestValidateMeeting_SynthesizesMissingTransition(t *testing.T) {
	f := newTrackerFixture(t)
	ctx := context.Background()

	// A state persisted without its transition record: the aftermath of a
	// crash between batches or a mis-classified comparison.
	e := &entities.Entity{ID: "ent-1", Name: "Project Alpha", NormalizedName: "project alpha", Kind: entities.KindProject}
	require.NoError(t, f.storage.SaveEntity(ctx, e))
	orphan := &entities.EntityState{
		ID:         uuid.New().String(),
		EntityID:   "ent-1",
		MeetingID:  "mtg-1",
		Attributes: map[string]string{"status": "planned"},
		Confidence: 1,
	}
	require.NoError(t, f.storage.BatchSaveStates(ctx, []*entities.EntityState{orphan}))

	inferred, err := f.tracker.validateMeeting(ctx, "mtg-1")
	require.NoError(t, err)
	assert.Equal(t, 1, inferred)

	transitions, err := f.storage.ListTransitionsByEntity(ctx, "ent-1")
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	assert.Equal(t, entities.DetectionInferred, transitions[0].Detection)
	assert.Equal(t, orphan.ID, transitions[0].ToStateID)
	assert.Empty(t, transitions[0].FromStateID)
	assert.Equal(t, []string{"status"}, transitions[0].ChangedFields)

	audit, err := f.storage.FindAuditLogByAction(ctx, "self_heal", 0)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, "ent-1", audit[0].EntityID)
}

func TestValidateMeeting_Idempotent(t *testing.T) {
	f := newTrackerFixture(t)
	ctx := context.Background()

	e := &entities.Entity{ID: "ent-1", Name: "Project Alpha", NormalizedName: "project alpha", Kind: entities.KindProject}
	require.NoError(t, f.storage.SaveEntity(ctx, e))
	orphan := &entities.EntityState{ID: uuid.New().String(), EntityID: "ent-1", MeetingID: "mtg-1",
		Attributes: map[string]string{"status": "planned"}}
	require.NoError(t, f.storage.BatchSaveStates(ctx, []*entities.EntityState{orphan}))

	first, err := f.tracker.validateMeeting(ctx, "mtg-1")
	require.NoError(t, err)
	assert.Equal(t, 1, first)

	second, err := f.tracker.validateMeeting(ctx, "mtg-1")
	require.NoError(t, err)
	assert.Equal(t, 0, second, "a covered state is never re-healed")
}

func TestValidateMeeting_IgnoresIdenticalStates(t *testing.T) {
	f := newTrackerFixture(t)
	ctx := context.Background()

	e := &entities.Entity{ID: "ent-1", Name: "Project Alpha", NormalizedName: "project alpha", Kind: entities.KindProject}
	require.NoError(t, f.storage.SaveEntity(ctx, e))

	prior := &entities.EntityState{ID: uuid.New().String(), EntityID: "ent-1", MeetingID: "mtg-1",
		Attributes: map[string]string{"status": "planned"}}
	repeat := &entities.EntityState{ID: uuid.New().String(), EntityID: "ent-1", MeetingID: "mtg-2",
		Attributes: map[string]string{"status": "planned"}}
	require.NoError(t, f.storage.BatchSaveStates(ctx, []*entities.EntityState{prior, repeat}))

	// Cover the first state so only the repeat is uncovered.
	require.NoError(t, f.storage.BatchSaveTransitions(ctx, []*entities.StateTransition{{
		ID: uuid.New().String(), EntityID: "ent-1", ToStateID: prior.ID,
		ChangedFields: []string{"status"}, Detection: entities.DetectionExplicit, MeetingID: "mtg-1",
	}}))

	inferred, err := f.tracker.validateMeeting(ctx, "mtg-2")
	require.NoError(t, err)
	assert.Equal(t, 0, inferred, "a state identical to its predecessor is not a change")
}

func TestProcess_SelfHealCoversCrashRemnants(t *testing.T) {
	f := newTrackerFixture(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	_, err := f.tracker.Process(ctx, meetingAt("mtg-1", base), []entities.StateCandidate{
		{RawName: "Project Alpha", Kind: "project", Attributes: map[string]string{"status": "planned"}, Confidence: 1},
	})
	require.NoError(t, err)

	entityID := ""
	list, err := f.storage.ListEntities(ctx, entities.KindProject, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	entityID = list[0].ID

	// Simulate a crash that left the state without its transition, then
	// re-run the validation pass for that meeting.
	f.storage.DeleteTransitionsByEntity(entityID)

	inferred, err := f.tracker.validateMeeting(ctx, "mtg-1")
	require.NoError(t, err)
	assert.Equal(t, 1, inferred)

	transitions, err := f.storage.ListTransitionsByEntity(ctx, entityID)
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	assert.Equal(t, entities.DetectionInferred, transitions[0].Detection)
}

func TestEntityLockSet(t *testing.T) {
	locks := newEntityLockSet()

	t.Run("duplicate ids acquired once", func(t *testing.T) {
		unlock := locks.lockAll([]string{"b", "a", "b"})
		unlock()
	})

	t.Run("concurrent holders exclude each other", func(t *testing.T) {
		unlock := locks.lockAll([]string{"x"})

		acquired := make(chan struct{})
		go func() {
			u := locks.lockAll([]string{"x"})
			close(acquired)
			u()
		}()

		select {
		case <-acquired:
			t.Fatal("second holder acquired the lock while the first still held it")
		case <-time.After(50 * time.Millisecond):
		}

		unlock()
		select {
		case <-acquired:
		case <-time.After(time.Second):
			t.Fatal("second holder never acquired the lock after release")
		}
	})
}
