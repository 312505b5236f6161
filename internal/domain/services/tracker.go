package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/ersonp/minutes-core/internal/domain/entities"
	"github.com/ersonp/minutes-core/internal/domain/ports"
)

// entityLockSet serializes writes to each entity's current-state pointer.
// Two meetings mentioning the same entity concurrently must not both read
// the same prior state and independently record a transition.
type entityLockSet struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newEntityLockSet() *entityLockSet {
	return &entityLockSet{locks: make(map[string]*sync.Mutex)}
}

// lockAll acquires the per-entity locks for every ID in sorted order (sorted
// acquisition prevents deadlock between concurrent Process calls) and
// returns the matching unlock function.
func (s *entityLockSet) lockAll(entityIDs []string) func() {
	ids := append([]string(nil), entityIDs...)
	sort.Strings(ids)

	acquired := make([]*sync.Mutex, 0, len(ids))
	for i, id := range ids {
		if i > 0 && ids[i-1] == id {
			continue
		}
		s.mu.Lock()
		l, ok := s.locks[id]
		if !ok {
			l = &sync.Mutex{}
			s.locks[id] = l
		}
		s.mu.Unlock()

		l.Lock()
		acquired = append(acquired, l)
	}

	return func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			acquired[i].Unlock()
		}
	}
}

// ProcessResult summarizes one tracked meeting.
type ProcessResult struct {
	MeetingID           string
	EntitiesTouched     []string // Entity IDs, in first-mention order
	EntitiesCreated     int
	TransitionsCreated  int
	InferredTransitions int
	Unchanged           int
}

// TransitionTracker orchestrates one processing unit per meeting: resolve
// identities, fetch prior states, compare in batch, persist states together
// with their transitions, and run the completeness validation pass. It owns
// the lifecycle of EntityState and StateTransition records.
//
// Resolver and comparator failures degrade locally and never abort the
// batch; only storage failures are fatal to Process and surfaced for retry
// at the meeting-ingestion level.
type TransitionTracker struct {
	resolver   *EntityResolver
	comparator *StateComparisonEngine
	storage    ports.Storage
	locks      *entityLockSet
	logger     *slog.Logger

	inferredTransitions metric.Int64Counter
	degradedComparisons metric.Int64Counter
}

// NewTransitionTracker creates a tracker. All collaborators are injected so
// tests can substitute deterministic fakes for the remote pieces.
func NewTransitionTracker(resolver *EntityResolver, comparator *StateComparisonEngine, storage ports.Storage, logger *slog.Logger) *TransitionTracker {
	if logger == nil {
		logger = slog.Default()
	}
	t := &TransitionTracker{
		resolver:   resolver,
		comparator: comparator,
		storage:    storage,
		locks:      newEntityLockSet(),
		logger:     logger,
	}

	meter := otel.Meter("github.com/ersonp/minutes-core/internal/domain/services")
	var err error
	t.inferredTransitions, err = meter.Int64Counter("minutes.transitions.inferred",
		metric.WithDescription("Transitions synthesized by the validation pass"))
	if err != nil {
		logger.Warn("creating inferred-transitions counter failed", "error", err)
	}
	t.degradedComparisons, err = meter.Int64Counter("minutes.comparisons.degraded",
		metric.WithDescription("State comparisons that fell back to the conservative default"))
	if err != nil {
		logger.Warn("creating degraded-comparisons counter failed", "error", err)
	}
	return t
}

// trackedCandidate is one resolved entity with its merged candidate state.
type trackedCandidate struct {
	entity     *entities.Entity
	attributes map[string]string
	confidence float64
	created    bool
}

// Process ingests one meeting's extractor output. Candidates may repeat
// names and vary casing; duplicates resolving to the same entity are merged
// (attribute union, later values win) before comparison.
func (t *TransitionTracker) Process(ctx context.Context, meeting entities.Meeting, candidates []entities.StateCandidate) (*ProcessResult, error) {
	if meeting.ID == "" {
		return nil, fmt.Errorf("meeting id is required")
	}
	if meeting.OccurredAt.IsZero() {
		meeting.OccurredAt = time.Now()
	}
	meeting.CreatedAt = time.Now()

	result := &ProcessResult{MeetingID: meeting.ID}
	if len(candidates) == 0 {
		if err := t.storage.SaveMeeting(ctx, &meeting); err != nil {
			return nil, fmt.Errorf("saving meeting: %w", err)
		}
		return result, nil
	}

	tracked, err := t.resolveCandidates(ctx, candidates)
	if err != nil {
		return nil, err
	}

	entityIDs := make([]string, 0, len(tracked))
	for _, tc := range tracked {
		entityIDs = append(entityIDs, tc.entity.ID)
		if tc.created {
			result.EntitiesCreated++
		}
	}
	result.EntitiesTouched = entityIDs

	unlock := t.locks.lockAll(entityIDs)
	defer unlock()

	if err := t.storage.SaveMeeting(ctx, &meeting); err != nil {
		return nil, fmt.Errorf("saving meeting: %w", err)
	}

	priorStates, err := t.storage.BatchGetCurrentStates(ctx, entityIDs)
	if err != nil {
		return nil, fmt.Errorf("fetching current states: %w", err)
	}

	pairs := make([]StatePair, len(tracked))
	for i, tc := range tracked {
		pairs[i] = StatePair{
			Prior: priorStates[tc.entity.ID],
			Candidate: &entities.EntityState{
				ID:         uuid.New().String(),
				EntityID:   tc.entity.ID,
				MeetingID:  meeting.ID,
				Attributes: tc.attributes,
				Confidence: tc.confidence,
				CreatedAt:  time.Now(),
			},
		}
	}

	verdicts := t.comparator.CompareBatch(ctx, pairs)

	var states []*entities.EntityState
	var transitions []*entities.StateTransition
	for i, v := range verdicts {
		if v.Degraded {
			t.addCount(ctx, t.degradedComparisons, 1)
		}
		if !v.Changed {
			result.Unchanged++
			continue
		}

		fromID := ""
		if pairs[i].Prior != nil {
			fromID = pairs[i].Prior.ID
		}
		states = append(states, pairs[i].Candidate)
		transitions = append(transitions, &entities.StateTransition{
			ID:            uuid.New().String(),
			EntityID:      pairs[i].Candidate.EntityID,
			FromStateID:   fromID,
			ToStateID:     pairs[i].Candidate.ID,
			ChangedFields: v.ChangedFields,
			Detection:     entities.DetectionExplicit,
			Rationale:     v.Rationale,
			MeetingID:     meeting.ID,
			CreatedAt:     time.Now(),
		})
	}

	// A state and the transition that explains it commit as one unit.
	if err := t.storage.BatchSaveStatesAndTransitions(ctx, states, transitions); err != nil {
		return nil, fmt.Errorf("persisting states and transitions: %w", err)
	}
	result.TransitionsCreated = len(transitions)

	inferred, err := t.validateMeeting(ctx, meeting.ID)
	if err != nil {
		return nil, err
	}
	result.InferredTransitions = inferred
	result.TransitionsCreated += inferred

	if err := t.storage.LogAction(ctx, "process_meeting", "", map[string]any{
		"meeting_id":  meeting.ID,
		"entities":    len(entityIDs),
		"transitions": result.TransitionsCreated,
		"inferred":    inferred,
	}); err != nil {
		t.logger.Warn("writing audit entry failed", "error", err)
	}

	return result, nil
}

// resolveCandidates batch-resolves all raw names (one Resolve call per kind
// group) and merges candidates that land on the same entity.
func (t *TransitionTracker) resolveCandidates(ctx context.Context, candidates []entities.StateCandidate) ([]*trackedCandidate, error) {
	byKind := make(map[entities.Kind][]string)
	kindOrder := make([]entities.Kind, 0, 4)
	for _, c := range candidates {
		kind := entities.ParseKind(c.Kind)
		if _, ok := byKind[kind]; !ok {
			kindOrder = append(kindOrder, kind)
		}
		byKind[kind] = append(byKind[kind], c.RawName)
	}

	resolutions := make(map[entities.Kind]map[string]*Resolution, len(kindOrder))
	for _, kind := range kindOrder {
		res, err := t.resolver.Resolve(ctx, kind, byKind[kind])
		if err != nil {
			return nil, fmt.Errorf("resolving %s mentions: %w", kind, err)
		}
		resolutions[kind] = res
	}

	var tracked []*trackedCandidate
	byEntity := make(map[string]*trackedCandidate)
	for _, c := range candidates {
		kind := entities.ParseKind(c.Kind)
		res := resolutions[kind][c.RawName]
		if res == nil {
			// Resolve guarantees a result per mention; a miss here is a bug.
			return nil, fmt.Errorf("no resolution for mention %q", c.RawName)
		}

		tc, ok := byEntity[res.Entity.ID]
		if !ok {
			tc = &trackedCandidate{
				entity:     res.Entity,
				attributes: make(map[string]string, len(c.Attributes)),
				created:    res.Created,
			}
			byEntity[res.Entity.ID] = tc
			tracked = append(tracked, tc)
		}
		for k, v := range c.Attributes {
			tc.attributes[k] = v
		}
		if c.Confidence > tc.confidence {
			tc.confidence = c.Confidence
		}
	}
	return tracked, nil
}

// validateMeeting is the completeness guarantee: every state persisted for
// the meeting whose attributes syntactically differ from the state before
// it must have a transition record. Any state left uncovered (a comparison
// failure path mis-classified, a crash between batches in an earlier run)
// gets a minimal transition synthesized, tagged inferred, and counted.
func (t *TransitionTracker) validateMeeting(ctx context.Context, meetingID string) (int, error) {
	states, err := t.storage.ListStatesByMeeting(ctx, meetingID)
	if err != nil {
		return 0, fmt.Errorf("listing meeting states: %w", err)
	}
	if len(states) == 0 {
		return 0, nil
	}

	transitions, err := t.storage.ListTransitionsByMeeting(ctx, meetingID)
	if err != nil {
		return 0, fmt.Errorf("listing meeting transitions: %w", err)
	}
	covered := make(map[string]bool, len(transitions))
	for _, tr := range transitions {
		covered[tr.ToStateID] = true
	}

	var synthesized []*entities.StateTransition
	for i := range states {
		state := states[i]
		if covered[state.ID] {
			continue
		}

		prior, err := t.storage.FindPreviousState(ctx, state.EntityID, state.ID)
		if err != nil {
			return 0, fmt.Errorf("finding previous state: %w", err)
		}
		changed := entities.DiffAttributes(prior, &state)
		if prior != nil && len(changed) == 0 {
			continue
		}

		fromID := ""
		if prior != nil {
			fromID = prior.ID
		}
		synthesized = append(synthesized, &entities.StateTransition{
			ID:            uuid.New().String(),
			EntityID:      state.EntityID,
			FromStateID:   fromID,
			ToStateID:     state.ID,
			ChangedFields: changed,
			Detection:     entities.DetectionInferred,
			Rationale:     "synthesized by validation pass",
			MeetingID:     meetingID,
			CreatedAt:     time.Now(),
		})

		t.logger.Warn("state change had no transition record, synthesizing",
			"entity", state.EntityID, "state", state.ID, "meeting", meetingID)
		if err := t.storage.LogAction(ctx, "self_heal", state.EntityID, map[string]any{
			"meeting_id": meetingID,
			"state_id":   state.ID,
			"fields":     changed,
		}); err != nil {
			t.logger.Warn("writing audit entry failed", "error", err)
		}
	}

	if len(synthesized) == 0 {
		return 0, nil
	}
	if err := t.storage.BatchSaveTransitions(ctx, synthesized); err != nil {
		return 0, fmt.Errorf("persisting inferred transitions: %w", err)
	}
	t.addCount(ctx, t.inferredTransitions, int64(len(synthesized)))
	return len(synthesized), nil
}

func (t *TransitionTracker) addCount(ctx context.Context, counter metric.Int64Counter, n int64) {
	if counter != nil {
		counter.Add(ctx, n)
	}
}
