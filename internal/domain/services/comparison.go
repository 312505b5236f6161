package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ersonp/minutes-core/internal/domain/entities"
	"github.com/ersonp/minutes-core/internal/domain/ports"
)

const comparisonPrompt = `You compare project-tracking state snapshots taken from meeting notes.

For each numbered pair below, decide whether the candidate state is a MEANINGFUL change
from the prior state, or only a cosmetic restatement (different casing, punctuation,
paraphrase of the same value, "30%%" vs "30 percent", "in_progress" vs "in progress").

Pairs:
%s

For every pair return:
- pair: the pair number (0-based)
- changed: true if any attribute meaningfully changed
- changed_fields: names of the attributes that meaningfully changed (empty if changed is false)
- rationale: one short sentence

Return ONLY a valid JSON array with exactly one object per pair, no other text.`

// DefaultComparisonBatchSize caps how many state pairs are packed into one
// inference request. Backends have token limits; oversized batches come back
// truncated or malformed.
const DefaultComparisonBatchSize = 20

// StatePair is one comparison unit: the entity's last known state (nil for a
// first observation) and the candidate state proposed by the extractor.
type StatePair struct {
	Prior     *entities.EntityState
	Candidate *entities.EntityState
}

// Verdict is the comparison outcome for one pair.
type Verdict struct {
	Changed       bool     `json:"changed"`
	ChangedFields []string `json:"changed_fields"`
	Rationale     string   `json:"rationale,omitempty"`
	Degraded      bool     `json:"-"` // True when the backends were unavailable and the conservative default applied
}

// ComparisonConfig controls batching and caching for the comparison engine.
type ComparisonConfig struct {
	BatchSize int
	CacheTTL  time.Duration
}

func (c *ComparisonConfig) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultComparisonBatchSize
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
}

// StateComparisonEngine decides which (prior, candidate) state pairs
// represent a meaningful change. Semantic judgment is delegated to the
// inference gateway in batches; each pair is first checked against the cache
// using a fingerprint over canonicalized serializations of both states.
type StateComparisonEngine struct {
	gateway *InferenceGateway
	cache   ports.Cache
	cfg     ComparisonConfig
	logger  *slog.Logger
}

// NewStateComparisonEngine creates a comparison engine.
func NewStateComparisonEngine(gateway *InferenceGateway, cache ports.Cache, cfg ComparisonConfig, logger *slog.Logger) *StateComparisonEngine {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &StateComparisonEngine{
		gateway: gateway,
		cache:   cache,
		cfg:     cfg,
		logger:  logger,
	}
}

// CompareBatch returns one verdict per pair, preserving input order. It never
// fails: a pair the backends cannot judge degrades to the conservative
// changed=true default, because dropping a real change is worse than
// over-reporting one and the validation pass downstream tolerates false
// positives.
func (e *StateComparisonEngine) CompareBatch(ctx context.Context, pairs []StatePair) []Verdict {
	verdicts := make([]Verdict, len(pairs))

	// First observations and cache hits never reach a backend.
	var pending []int
	for i, pair := range pairs {
		if pair.Candidate == nil {
			verdicts[i] = Verdict{Changed: false, Rationale: "no candidate state"}
			continue
		}
		if pair.Prior == nil {
			verdicts[i] = Verdict{
				Changed:       true,
				ChangedFields: pair.Candidate.AttributeNames(),
				Rationale:     "first observation",
			}
			continue
		}
		if v, ok := e.cachedVerdict(ctx, pair); ok {
			verdicts[i] = v
			continue
		}
		pending = append(pending, i)
	}

	if len(pending) == 0 {
		return verdicts
	}

	chunks := chunkIndexes(pending, e.cfg.BatchSize)
	reqs := make([]ports.InferenceRequest, len(chunks))
	for c, chunk := range chunks {
		reqs[c] = ports.InferenceRequest{
			Prompt:      fmt.Sprintf(comparisonPrompt, renderPairs(pairs, chunk)),
			JSONOutput:  true,
			Temperature: 0.1,
		}
	}

	responses, err := e.gateway.InvokeBatch(ctx, reqs)
	if err != nil {
		e.logger.Warn("state comparison degraded for some pairs", "error", err)
	}

	for c, chunk := range chunks {
		if responses[c].Content == "" {
			e.degradeChunk(pairs, chunk, verdicts)
			continue
		}
		if err := e.applyChunkResponse(ctx, pairs, chunk, responses[c].Content, verdicts); err != nil {
			e.logger.Warn("unparseable comparison response, applying conservative default",
				"backend", responses[c].Backend, "error", err)
			e.degradeChunk(pairs, chunk, verdicts)
		}
	}

	return verdicts
}

// cachedVerdict checks the cache for a previously computed verdict.
func (e *StateComparisonEngine) cachedVerdict(ctx context.Context, pair StatePair) (Verdict, bool) {
	if e.cache == nil {
		return Verdict{}, false
	}
	data, ok, err := e.cache.Get(ctx, StateFingerprint(pair.Prior, pair.Candidate))
	if err != nil || !ok {
		return Verdict{}, false
	}
	var v Verdict
	if err := json.Unmarshal(data, &v); err != nil {
		return Verdict{}, false
	}
	return v, true
}

// storeVerdict caches a backend-produced verdict. Degraded defaults are
// never cached; they must be retried once the backends recover.
func (e *StateComparisonEngine) storeVerdict(ctx context.Context, pair StatePair, v Verdict) {
	if e.cache == nil || v.Degraded {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := e.cache.Set(ctx, StateFingerprint(pair.Prior, pair.Candidate), data, e.cfg.CacheTTL); err != nil {
		e.logger.Warn("caching comparison verdict failed", "error", err)
	}
}

// degradeChunk applies the conservative default to every pair in the chunk.
func (e *StateComparisonEngine) degradeChunk(pairs []StatePair, chunk []int, verdicts []Verdict) {
	for _, i := range chunk {
		verdicts[i] = Verdict{
			Changed:       true,
			ChangedFields: entities.DiffAttributes(pairs[i].Prior, pairs[i].Candidate),
			Rationale:     "comparison unavailable",
			Degraded:      true,
		}
	}
}

// rawVerdict is the JSON structure the backend returns per pair.
type rawVerdict struct {
	Pair          int      `json:"pair"`
	Changed       bool     `json:"changed"`
	ChangedFields []string `json:"changed_fields"`
	Rationale     string   `json:"rationale"`
}

// applyChunkResponse parses one backend response covering a chunk of pairs
// and fills in the matching verdicts.
func (e *StateComparisonEngine) applyChunkResponse(ctx context.Context, pairs []StatePair, chunk []int, content string, verdicts []Verdict) error {
	var raw []rawVerdict
	if err := json.Unmarshal([]byte(cleanJSONResponse(content)), &raw); err != nil {
		return fmt.Errorf("parsing verdict JSON: %w", err)
	}

	seen := make(map[int]bool, len(raw))
	for _, rv := range raw {
		if rv.Pair < 0 || rv.Pair >= len(chunk) {
			continue
		}
		i := chunk[rv.Pair]
		seen[rv.Pair] = true

		v := Verdict{
			Changed:       rv.Changed,
			ChangedFields: rv.ChangedFields,
			Rationale:     rv.Rationale,
		}
		// A changed verdict with no named fields is untrustworthy output;
		// fall back to the syntactic diff so the transition stays auditable.
		if v.Changed && len(v.ChangedFields) == 0 {
			v.ChangedFields = entities.DiffAttributes(pairs[i].Prior, pairs[i].Candidate)
		}
		if !v.Changed {
			v.ChangedFields = nil
		}

		verdicts[i] = v
		e.storeVerdict(ctx, pairs[i], v)
	}

	// Pairs the backend skipped get the conservative default.
	for pos, i := range chunk {
		if !seen[pos] {
			verdicts[i] = Verdict{
				Changed:       true,
				ChangedFields: entities.DiffAttributes(pairs[i].Prior, pairs[i].Candidate),
				Rationale:     "comparison unavailable",
				Degraded:      true,
			}
		}
	}
	return nil
}

// renderPairs formats a chunk of pairs for the comparison prompt.
func renderPairs(pairs []StatePair, chunk []int) string {
	var b strings.Builder
	for pos, i := range chunk {
		prior := "(none)"
		if pairs[i].Prior != nil {
			prior = CanonicalAttributes(pairs[i].Prior.Attributes)
		}
		fmt.Fprintf(&b, "Pair %d:\n  prior: %s\n  candidate: %s\n",
			pos, prior, CanonicalAttributes(pairs[i].Candidate.Attributes))
	}
	return b.String()
}

// chunkIndexes splits a list of indexes into groups of at most size.
func chunkIndexes(indexes []int, size int) [][]int {
	var chunks [][]int
	for len(indexes) > size {
		chunks = append(chunks, indexes[:size])
		indexes = indexes[size:]
	}
	if len(indexes) > 0 {
		chunks = append(chunks, indexes)
	}
	return chunks
}
