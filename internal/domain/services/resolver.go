package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ersonp/minutes-core/internal/domain/entities"
	"github.com/ersonp/minutes-core/internal/domain/ports"
)

const disambiguationPrompt = `Mention from a meeting transcript: %q (kind: %s)
Known entity: %q (also seen as: %s)

Do the mention and the known entity refer to the same real-world thing?
Return ONLY a JSON object: {"same_entity": true/false, "confidence": 0.0-1.0}`

// ResolutionStage names the resolver stage that produced a match.
type ResolutionStage string

const (
	StageExact    ResolutionStage = "exact"
	StageFuzzy    ResolutionStage = "fuzzy"
	StageVector   ResolutionStage = "vector"
	StageSemantic ResolutionStage = "semantic"
	StageCreated  ResolutionStage = "created"
)

// ResolverConfig holds the acceptance thresholds for the fuzzy and vector
// stages. The values are empirically tuned, not derived, which is why they
// are configuration rather than constants.
type ResolverConfig struct {
	// FuzzyThreshold is the minimum lexical similarity for a fuzzy match.
	FuzzyThreshold float64
	// FuzzyMargin is the minimum lead over the runner-up candidate; a tie
	// within the margin falls through to the next stage, never a guess.
	FuzzyMargin float64
	// DisambiguationFloor is the minimum lexical score for a candidate to be
	// considered plausible enough for the semantic stage.
	DisambiguationFloor float64
	// VectorThreshold is the minimum similarity score for a vector match.
	VectorThreshold float32
	// VectorMargin is the minimum separation from the second neighbor.
	VectorMargin float32
	// DisambiguationLimit caps how many candidates the semantic stage asks
	// the inference gateway about.
	DisambiguationLimit int
	// DisambiguationThreshold is the minimum confidence for accepting an
	// affirmative semantic answer.
	DisambiguationThreshold float64
}

func (c *ResolverConfig) applyDefaults() {
	if c.FuzzyThreshold <= 0 {
		c.FuzzyThreshold = 0.85
	}
	if c.FuzzyMargin <= 0 {
		c.FuzzyMargin = 0.05
	}
	if c.DisambiguationFloor <= 0 {
		c.DisambiguationFloor = 0.5
	}
	if c.VectorThreshold <= 0 {
		c.VectorThreshold = 0.80
	}
	if c.VectorMargin <= 0 {
		c.VectorMargin = 0.05
	}
	if c.DisambiguationLimit <= 0 {
		c.DisambiguationLimit = 3
	}
	if c.DisambiguationThreshold <= 0 {
		c.DisambiguationThreshold = 0.7
	}
}

// entityPageSize is the page size for loading known entities.
const entityPageSize = 500

// neighborLimit is how many nearest neighbors the vector stage requests;
// one winner, one runner-up for the margin check, and a few spares for the
// semantic stage.
const neighborLimit = 5

// Resolution is the outcome of resolving one raw mention.
type Resolution struct {
	Entity     *entities.Entity
	Stage      ResolutionStage
	Confidence float64
	Created    bool
}

// EntityResolver maps raw mention strings to canonical entity identities
// using a layered strategy: exact normalized match, fuzzy lexical match,
// vector nearest-neighbor match, gateway-backed semantic disambiguation,
// and finally creation of a new entity. Each stage runs only when the prior
// stage produced no confident match.
//
// Remote failures (embedding, index lookup, disambiguation) degrade to "no
// match for that stage"; Resolve returns an error only when the storage
// collaborator itself fails.
type EntityResolver struct {
	storage  ports.Storage
	embedder ports.Embedder
	index    ports.VectorIndex
	gateway  *InferenceGateway
	cfg      ResolverConfig
	logger   *slog.Logger
}

// NewEntityResolver creates a resolver.
func NewEntityResolver(storage ports.Storage, embedder ports.Embedder, index ports.VectorIndex, gateway *InferenceGateway, cfg ResolverConfig, logger *slog.Logger) *EntityResolver {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &EntityResolver{
		storage:  storage,
		embedder: embedder,
		index:    index,
		gateway:  gateway,
		cfg:      cfg,
		logger:   logger,
	}
}

// knownIndex is the in-memory view of existing entities for one Resolve
// call: the candidate pool for the exact and fuzzy stages.
type knownIndex struct {
	entities []*entities.Entity
	byNorm   map[string]*entities.Entity
	byID     map[string]*entities.Entity
}

func newKnownIndex(list []*entities.Entity) *knownIndex {
	idx := &knownIndex{
		byNorm: make(map[string]*entities.Entity),
		byID:   make(map[string]*entities.Entity),
	}
	for _, e := range list {
		idx.add(e)
	}
	return idx
}

func (idx *knownIndex) add(e *entities.Entity) {
	idx.entities = append(idx.entities, e)
	idx.byID[e.ID] = e
	idx.byNorm[e.NormalizedName] = e
	for _, alias := range e.Aliases {
		norm := entities.NormalizeName(alias)
		if _, taken := idx.byNorm[norm]; !taken {
			idx.byNorm[norm] = e
		}
	}
}

// addAlias records a new alias both in memory and in the index's lookup map.
func (idx *knownIndex) addAlias(e *entities.Entity, raw string) {
	e.Aliases = append(e.Aliases, raw)
	norm := entities.NormalizeName(raw)
	if _, taken := idx.byNorm[norm]; !taken {
		idx.byNorm[norm] = e
	}
}

// groupMember is a mention bound to a pending group by the in-memory stages.
type groupMember struct {
	raw   string
	stage ResolutionStage
	score float64
}

// pendingGroup collects mentions that matched nothing known in-memory but
// matched each other; they resolve (or mint a new entity) together, so that
// "Project Alpha" and "project alpha" in one batch never become two entities.
type pendingGroup struct {
	canonical string // first raw spelling, becomes the name on creation
	norm      string
	members   []groupMember
	lexical   []scoredMatch // plausible-but-not-confident fuzzy candidates
}

// Resolve maps every raw mention to an entity identity. It must be called
// with all mentions of one processing unit at once: known entities are
// loaded once, unresolved mentions are embedded in a single batch, and their
// neighbor queries go out in a single round trip.
func (r *EntityResolver) Resolve(ctx context.Context, kind entities.Kind, mentions []string) (map[string]*Resolution, error) {
	known, err := r.loadKnown(ctx, kind)
	if err != nil {
		return nil, err
	}
	idx := newKnownIndex(known)

	results := make(map[string]*Resolution)
	var groups []*pendingGroup

	for _, raw := range mentions {
		if _, done := results[raw]; done {
			continue
		}

		// Exact match wins before anything else; an exactly-known name must
		// never bind to a pending group formed by an earlier ambiguous mention.
		norm := entities.NormalizeName(raw)
		if e, ok := idx.byNorm[norm]; ok {
			results[raw] = &Resolution{Entity: e, Stage: StageExact, Confidence: 1.0}
			if err := r.recordAlias(ctx, idx, e, raw); err != nil {
				return nil, err
			}
			continue
		}

		if g, stage, score := bindToPending(groups, raw, r.cfg); g != nil {
			g.members = append(g.members, groupMember{raw: raw, stage: stage, score: score})
			// Resolution filled in once the group settles.
			continue
		}

		g, res := r.fuzzyStage(idx, raw, norm)
		if res != nil {
			results[raw] = res
			if err := r.recordAlias(ctx, idx, res.Entity, raw); err != nil {
				return nil, err
			}
			continue
		}
		groups = append(groups, g)
	}

	if len(groups) == 0 {
		return results, nil
	}

	if err := r.settleGroups(ctx, kind, idx, groups, results); err != nil {
		return nil, err
	}
	return results, nil
}

// loadKnown pages through every stored entity of the given kind.
func (r *EntityResolver) loadKnown(ctx context.Context, kind entities.Kind) ([]*entities.Entity, error) {
	var all []*entities.Entity
	for offset := 0; ; offset += entityPageSize {
		page, err := r.storage.ListEntities(ctx, kind, entityPageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("loading known entities: %w", err)
		}
		all = append(all, page...)
		if len(page) < entityPageSize {
			return all, nil
		}
	}
}

// fuzzyStage runs lexical matching for one mention. It returns either an
// accepted resolution or a new pending group carrying the near-miss
// candidates for the semantic stage.
func (r *EntityResolver) fuzzyStage(idx *knownIndex, raw, norm string) (*pendingGroup, *Resolution) {
	matches := rankLexical(raw, idx.entities)

	var best, second float64
	if len(matches) > 0 {
		best = matches[0].score
	}
	if len(matches) > 1 {
		second = matches[1].score
	}

	if best >= r.cfg.FuzzyThreshold && best-second >= r.cfg.FuzzyMargin {
		return nil, &Resolution{Entity: matches[0].entity, Stage: StageFuzzy, Confidence: best}
	}

	g := &pendingGroup{canonical: raw, norm: norm}
	for _, m := range matches {
		if m.score < r.cfg.DisambiguationFloor {
			break
		}
		g.lexical = append(g.lexical, m)
		if len(g.lexical) == r.cfg.DisambiguationLimit {
			break
		}
	}
	return g, nil
}

// bindToPending checks whether a mention belongs to an earlier unresolved
// group in the same batch.
func bindToPending(groups []*pendingGroup, raw string, cfg ResolverConfig) (*pendingGroup, ResolutionStage, float64) {
	norm := entities.NormalizeName(raw)

	var best *pendingGroup
	var bestScore float64
	for _, g := range groups {
		if g.norm == norm {
			return g, StageExact, 1.0
		}
		if s := LexicalSimilarity(raw, g.canonical); s >= cfg.FuzzyThreshold && s > bestScore {
			best = g
			bestScore = s
		}
	}
	if best != nil {
		return best, StageFuzzy, bestScore
	}
	return nil, "", 0
}

// settleGroups runs the remote stages (vector, semantic) for every pending
// group and creates new entities for groups nothing accepted.
func (r *EntityResolver) settleGroups(ctx context.Context, kind entities.Kind, idx *knownIndex, groups []*pendingGroup, results map[string]*Resolution) error {
	neighbors := r.lookupNeighbors(ctx, groups)
	vectors := neighbors.vectors

	for gi, g := range groups {
		res := r.vectorStage(idx, neighbors.lists, gi)

		var vectorNear []scoredMatch
		if res == nil {
			vectorNear = r.vectorNearMisses(idx, neighbors.lists, gi)
			candidates := mergeCandidates(g.lexical, vectorNear, r.cfg.DisambiguationLimit)
			res = r.semanticStage(ctx, kind, g.canonical, candidates)
		}

		created := false
		if res == nil {
			e, err := r.createEntity(ctx, kind, g.canonical, vectorAt(vectors, gi))
			if err != nil {
				return err
			}
			idx.add(e)
			res = &Resolution{Entity: e, Stage: StageCreated, Confidence: 1.0, Created: true}
			created = true
		}

		results[g.canonical] = res
		if !created {
			if err := r.recordAlias(ctx, idx, res.Entity, g.canonical); err != nil {
				return err
			}
		}
		for _, m := range g.members {
			results[m.raw] = &Resolution{Entity: res.Entity, Stage: m.stage, Confidence: m.score}
			if err := r.recordAlias(ctx, idx, res.Entity, m.raw); err != nil {
				return err
			}
		}
	}
	return nil
}

// neighborResults carries the batched embedding and nearest-neighbor
// lookups for all pending groups. Either slice may be nil after a remote
// failure; the vector stage then simply finds no match.
type neighborResults struct {
	vectors [][]float32
	lists   [][]ports.Neighbor
}

// lookupNeighbors embeds every pending mention in one batch and issues all
// neighbor queries in one round trip.
func (r *EntityResolver) lookupNeighbors(ctx context.Context, groups []*pendingGroup) neighborResults {
	if r.embedder == nil || r.index == nil {
		return neighborResults{}
	}

	texts := make([]string, len(groups))
	for i, g := range groups {
		texts[i] = g.canonical
	}

	vectors, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil || len(vectors) != len(groups) {
		r.logger.Warn("embedding mentions failed, skipping vector stage", "error", err)
		return neighborResults{}
	}

	lists, err := r.index.NearestNeighborsBatch(ctx, vectors, neighborLimit)
	if err != nil || len(lists) != len(groups) {
		r.logger.Warn("nearest-neighbor lookup failed, skipping vector stage", "error", err)
		return neighborResults{vectors: vectors}
	}
	return neighborResults{vectors: vectors, lists: lists}
}

func vectorAt(vectors [][]float32, i int) []float32 {
	if i >= len(vectors) {
		return nil
	}
	return vectors[i]
}

// vectorStage accepts the top neighbor only if its score clears the
// threshold and it is separated from the runner-up by the margin.
func (r *EntityResolver) vectorStage(idx *knownIndex, lists [][]ports.Neighbor, gi int) *Resolution {
	filtered := r.kindNeighbors(idx, lists, gi)
	if len(filtered) == 0 {
		return nil
	}

	top := filtered[0]
	var second float32
	if len(filtered) > 1 {
		second = filtered[1].Score
	}
	if top.Score >= r.cfg.VectorThreshold && top.Score-second >= r.cfg.VectorMargin {
		return &Resolution{
			Entity:     idx.byID[top.EntityID],
			Stage:      StageVector,
			Confidence: float64(top.Score),
		}
	}
	return nil
}

// vectorNearMisses returns neighbors close enough to be worth a semantic
// disambiguation question.
func (r *EntityResolver) vectorNearMisses(idx *knownIndex, lists [][]ports.Neighbor, gi int) []scoredMatch {
	var near []scoredMatch
	for _, n := range r.kindNeighbors(idx, lists, gi) {
		if n.Score < r.cfg.VectorThreshold-r.cfg.VectorMargin {
			break
		}
		near = append(near, scoredMatch{entity: idx.byID[n.EntityID], score: float64(n.Score)})
	}
	return near
}

// kindNeighbors filters a group's neighbor list to entities of the resolved
// kind (the index is shared across kinds; the loaded known set is not).
func (r *EntityResolver) kindNeighbors(idx *knownIndex, lists [][]ports.Neighbor, gi int) []ports.Neighbor {
	if gi >= len(lists) {
		return nil
	}
	var filtered []ports.Neighbor
	for _, n := range lists[gi] {
		if _, ok := idx.byID[n.EntityID]; ok {
			filtered = append(filtered, n)
		}
	}
	return filtered
}

// mergeCandidates combines fuzzy and vector near-misses, deduplicated by
// entity, capped at limit. Fuzzy candidates come first; they were scored
// against the actual alias strings.
func mergeCandidates(lexical, vector []scoredMatch, limit int) []scoredMatch {
	seen := make(map[string]bool)
	var merged []scoredMatch
	for _, m := range append(append([]scoredMatch{}, lexical...), vector...) {
		if m.entity == nil || seen[m.entity.ID] {
			continue
		}
		seen[m.entity.ID] = true
		merged = append(merged, m)
		if len(merged) == limit {
			break
		}
	}
	return merged
}

// rawDisambiguation is the JSON structure the backend returns per candidate.
type rawDisambiguation struct {
	SameEntity bool    `json:"same_entity"`
	Confidence float64 `json:"confidence"`
}

// semanticStage asks the inference gateway whether the mention names any of
// the plausible candidates, accepting the highest-confidence affirmative
// answer above the threshold. Any gateway failure counts as "no".
func (r *EntityResolver) semanticStage(ctx context.Context, kind entities.Kind, mention string, candidates []scoredMatch) *Resolution {
	if r.gateway == nil || len(candidates) == 0 {
		return nil
	}

	reqs := make([]ports.InferenceRequest, len(candidates))
	for i, c := range candidates {
		aliases := "none"
		if len(c.entity.Aliases) > 0 {
			aliases = fmt.Sprintf("%q", c.entity.Aliases)
		}
		reqs[i] = ports.InferenceRequest{
			Prompt:      fmt.Sprintf(disambiguationPrompt, mention, kind, c.entity.Name, aliases),
			JSONOutput:  true,
			Temperature: 0,
		}
	}

	responses, err := r.gateway.InvokeBatch(ctx, reqs)
	if err != nil {
		r.logger.Warn("semantic disambiguation degraded", "mention", mention, "error", err)
	}

	var best *Resolution
	for i, resp := range responses {
		if resp.Content == "" {
			continue
		}
		var raw rawDisambiguation
		if err := json.Unmarshal([]byte(cleanJSONResponse(resp.Content)), &raw); err != nil {
			r.logger.Warn("unparseable disambiguation response", "mention", mention, "error", err)
			continue
		}
		if !raw.SameEntity || raw.Confidence < r.cfg.DisambiguationThreshold {
			continue
		}
		if best == nil || raw.Confidence > best.Confidence {
			best = &Resolution{
				Entity:     candidates[i].entity,
				Stage:      StageSemantic,
				Confidence: raw.Confidence,
			}
		}
	}
	return best
}

// createEntity mints a new entity for a mention no stage accepted and
// registers its name embedding with the vector index (best effort).
func (r *EntityResolver) createEntity(ctx context.Context, kind entities.Kind, name string, vector []float32) (*entities.Entity, error) {
	e := &entities.Entity{
		ID:             uuid.New().String(),
		Name:           name,
		NormalizedName: entities.NormalizeName(name),
		Kind:           kind,
		CreatedAt:      time.Now(),
	}
	if err := r.storage.SaveEntity(ctx, e); err != nil {
		return nil, fmt.Errorf("creating entity %q: %w", name, err)
	}

	if r.index != nil && vector != nil {
		point := ports.NamePoint{EntityID: e.ID, Name: e.Name, Kind: string(kind), Vector: vector}
		if err := r.index.UpsertBatch(ctx, []ports.NamePoint{point}); err != nil {
			r.logger.Warn("indexing new entity name failed", "entity", e.Name, "error", err)
		}
	}
	return e, nil
}

// recordAlias persists an accepted raw spelling against an entity so future
// exact matches short-circuit the fuzzier stages. The alias set only grows.
func (r *EntityResolver) recordAlias(ctx context.Context, idx *knownIndex, e *entities.Entity, raw string) error {
	if e.HasAlias(raw) {
		return nil
	}
	if err := r.storage.AddAlias(ctx, e.ID, raw); err != nil {
		return fmt.Errorf("recording alias %q: %w", raw, err)
	}
	idx.addAlias(e, raw)
	return nil
}
