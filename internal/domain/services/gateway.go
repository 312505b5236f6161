package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ersonp/minutes-core/internal/domain/ports"
)

// ErrBackendExhausted indicates that every configured inference backend
// rejected or errored the same logical request.
var ErrBackendExhausted = errors.New("all inference backends exhausted")

// DefaultCacheTTL bounds how long inference results are reused. Requests are
// deduplicated within a processing window, not across unbounded history.
const DefaultCacheTTL = 6 * time.Hour

// InferenceGateway wraps an ordered chain of text-inference backends behind
// a single Invoke surface. The cache is consulted before the first backend
// and populated after any success, keyed on the logical request only, so a
// repeated request skips the network path no matter which backend answered
// it the first time.
type InferenceGateway struct {
	backends []ports.InferenceBackend
	cache    ports.Cache
	cacheTTL time.Duration
	logger   *slog.Logger
}

// NewInferenceGateway creates a gateway over the given backend chain.
// Backends are tried in slice order. A nil cache disables caching.
func NewInferenceGateway(backends []ports.InferenceBackend, cache ports.Cache, cacheTTL time.Duration, logger *slog.Logger) *InferenceGateway {
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InferenceGateway{
		backends: backends,
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   logger,
	}
}

// Invoke runs one logical request through the cache and the fallback chain.
// A transient backend error or malformed response moves on to the next
// backend with the same payload; the first success short-circuits the chain.
// It fails with ErrBackendExhausted only when every backend has failed.
func (g *InferenceGateway) Invoke(ctx context.Context, req ports.InferenceRequest) (ports.InferenceResponse, error) {
	key := requestFingerprint(req)

	if g.cache != nil {
		if data, ok, err := g.cache.Get(ctx, key); err == nil && ok {
			var resp ports.InferenceResponse
			if err := json.Unmarshal(data, &resp); err == nil {
				return resp, nil
			}
			// Corrupt cache entry: fall through to the backends.
		}
	}

	var lastErr error
	for _, backend := range g.backends {
		if err := ctx.Err(); err != nil {
			return ports.InferenceResponse{}, err
		}

		dispatch := req
		if dispatch.JSONOutput && !backend.SupportsStructuredOutput() {
			dispatch.JSONOutput = false
		}

		resp, err := backend.Complete(ctx, dispatch)
		if err != nil {
			g.logger.Warn("inference backend failed, trying next",
				"backend", backend.Name(), "error", err)
			lastErr = err
			continue
		}
		if strings.TrimSpace(resp.Content) == "" {
			g.logger.Warn("inference backend returned empty response, trying next",
				"backend", backend.Name())
			lastErr = fmt.Errorf("backend %s: empty response", backend.Name())
			continue
		}

		resp.Backend = backend.Name()
		if g.cache != nil {
			if data, err := json.Marshal(resp); err == nil {
				if err := g.cache.Set(ctx, key, data, g.cacheTTL); err != nil {
					g.logger.Warn("caching inference response failed", "error", err)
				}
			}
		}
		return resp, nil
	}

	if lastErr == nil {
		lastErr = errors.New("no backends configured")
	}
	return ports.InferenceResponse{}, fmt.Errorf("%w: %v", ErrBackendExhausted, lastErr)
}

// InvokeBatch runs independent logical requests, preserving input order.
// Every request is attempted; responses for failed requests are left
// zero-valued. The returned error is non-nil (wrapping ErrBackendExhausted)
// if at least one request exhausted the chain, alongside whatever responses
// did succeed.
func (g *InferenceGateway) InvokeBatch(ctx context.Context, reqs []ports.InferenceRequest) ([]ports.InferenceResponse, error) {
	responses := make([]ports.InferenceResponse, len(reqs))

	var errs []error
	for i, req := range reqs {
		resp, err := g.Invoke(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return responses, err
			}
			errs = append(errs, fmt.Errorf("request %d: %w", i, err))
			continue
		}
		responses[i] = resp
	}

	return responses, errors.Join(errs...)
}

// cleanJSONResponse strips markdown code fences some backends wrap around
// JSON payloads.
func cleanJSONResponse(content string) string {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```json") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimSuffix(content, "```")
	} else if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(content, "```")
	}

	return strings.TrimSpace(content)
}
