package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ersonp/minutes-core/internal/domain/mocks"
	"github.com/ersonp/minutes-core/internal/domain/ports"
)

func TestInferenceGateway_Invoke(t *testing.T) {
	ctx := context.Background()

	t.Run("first backend answers", func(t *testing.T) {
		primary := &mocks.InferenceBackend{BackendName: "primary", Structured: true, Responses: []string{"answer"}}
		fallback := &mocks.InferenceBackend{BackendName: "fallback", Structured: true, Responses: []string{"other"}}
		gw := NewInferenceGateway([]ports.InferenceBackend{primary, fallback}, nil, 0, nil)

		resp, err := gw.Invoke(ctx, ports.InferenceRequest{Prompt: "hello"})
		require.NoError(t, err)
		assert.Equal(t, "answer", resp.Content)
		assert.Equal(t, "primary", resp.Backend)
		assert.Equal(t, 0, fallback.Calls(), "fallback must not be touched on success")
	})

	t.Run("falls back on backend error", func(t *testing.T) {
		primary := &mocks.InferenceBackend{BackendName: "primary", Err: errors.New("rate limited")}
		fallback := &mocks.InferenceBackend{BackendName: "fallback", Responses: []string{"rescued"}}
		gw := NewInferenceGateway([]ports.InferenceBackend{primary, fallback}, nil, 0, nil)

		resp, err := gw.Invoke(ctx, ports.InferenceRequest{Prompt: "hello"})
		require.NoError(t, err)
		assert.Equal(t, "rescued", resp.Content)
		assert.Equal(t, "fallback", resp.Backend)
	})

	t.Run("empty response counts as failure", func(t *testing.T) {
		primary := &mocks.InferenceBackend{BackendName: "primary", Responses: []string{"   "}}
		fallback := &mocks.InferenceBackend{BackendName: "fallback", Responses: []string{"rescued"}}
		gw := NewInferenceGateway([]ports.InferenceBackend{primary, fallback}, nil, 0, nil)

		resp, err := gw.Invoke(ctx, ports.InferenceRequest{Prompt: "hello"})
		require.NoError(t, err)
		assert.Equal(t, "rescued", resp.Content)
	})

	t.Run("exhausted chain", func(t *testing.T) {
		a := &mocks.InferenceBackend{BackendName: "a", Err: errors.New("down")}
		b := &mocks.InferenceBackend{BackendName: "b", Err: errors.New("also down")}
		gw := NewInferenceGateway([]ports.InferenceBackend{a, b}, nil, 0, nil)

		_, err := gw.Invoke(ctx, ports.InferenceRequest{Prompt: "hello"})
		require.ErrorIs(t, err, ErrBackendExhausted)
		assert.Equal(t, 1, a.Calls())
		assert.Equal(t, 1, b.Calls())
	})

	t.Run("no backends configured", func(t *testing.T) {
		gw := NewInferenceGateway(nil, nil, 0, nil)
		_, err := gw.Invoke(ctx, ports.InferenceRequest{Prompt: "hello"})
		require.ErrorIs(t, err, ErrBackendExhausted)
	})

	t.Run("json hint stripped for unstructured backend", func(t *testing.T) {
		backend := &mocks.InferenceBackend{BackendName: "plain", Structured: false, Responses: []string{"{}"}}
		gw := NewInferenceGateway([]ports.InferenceBackend{backend}, nil, 0, nil)

		_, err := gw.Invoke(ctx, ports.InferenceRequest{Prompt: "hello", JSONOutput: true})
		require.NoError(t, err)
		require.Len(t, backend.SeenRequests, 1)
		assert.False(t, backend.SeenRequests[0].JSONOutput)
	})

	t.Run("cancelled context stops the chain", func(t *testing.T) {
		backend := &mocks.InferenceBackend{BackendName: "a", Responses: []string{"answer"}}
		gw := NewInferenceGateway([]ports.InferenceBackend{backend}, nil, 0, nil)

		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := gw.Invoke(cancelled, ports.InferenceRequest{Prompt: "hello"})
		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 0, backend.Calls())
	})
}

func TestInferenceGateway_Cache(t *testing.T) {
	ctx := context.Background()

	t.Run("identical requests hit the backend once", func(t *testing.T) {
		backend := &mocks.InferenceBackend{BackendName: "primary", Responses: []string{"answer"}}
		cache := mocks.NewCache()
		gw := NewInferenceGateway([]ports.InferenceBackend{backend}, cache, time.Minute, nil)

		req := ports.InferenceRequest{Prompt: "same question"}

		first, err := gw.Invoke(ctx, req)
		require.NoError(t, err)
		second, err := gw.Invoke(ctx, req)
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Equal(t, 1, backend.Calls())
		assert.Equal(t, 1, cache.Hits)
	})

	t.Run("cached response keeps original backend attribution", func(t *testing.T) {
		primary := &mocks.InferenceBackend{BackendName: "primary", Err: errors.New("down")}
		fallback := &mocks.InferenceBackend{BackendName: "fallback", Responses: []string{"rescued"}}
		cache := mocks.NewCache()
		gw := NewInferenceGateway([]ports.InferenceBackend{primary, fallback}, cache, time.Minute, nil)

		req := ports.InferenceRequest{Prompt: "same question"}

		_, err := gw.Invoke(ctx, req)
		require.NoError(t, err)
		resp, err := gw.Invoke(ctx, req)
		require.NoError(t, err)

		assert.Equal(t, "fallback", resp.Backend)
		assert.Equal(t, 1, primary.Calls(), "cache hit must not retry the failed backend")
	})

	t.Run("failed requests are not cached", func(t *testing.T) {
		backend := &mocks.InferenceBackend{BackendName: "a", Err: errors.New("down")}
		cache := mocks.NewCache()
		gw := NewInferenceGateway([]ports.InferenceBackend{backend}, cache, time.Minute, nil)

		_, err := gw.Invoke(ctx, ports.InferenceRequest{Prompt: "hello"})
		require.Error(t, err)
		assert.Equal(t, 0, cache.Len())
	})
}

func TestInferenceGateway_InvokeBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("order preserved", func(t *testing.T) {
		backend := &mocks.InferenceBackend{BackendName: "a", Responses: []string{"one", "two", "three"}}
		gw := NewInferenceGateway([]ports.InferenceBackend{backend}, nil, 0, nil)

		resps, err := gw.InvokeBatch(ctx, []ports.InferenceRequest{
			{Prompt: "1"}, {Prompt: "2"}, {Prompt: "3"},
		})
		require.NoError(t, err)
		require.Len(t, resps, 3)
		assert.Equal(t, "one", resps[0].Content)
		assert.Equal(t, "two", resps[1].Content)
		assert.Equal(t, "three", resps[2].Content)
	})

	t.Run("partial failure keeps successes", func(t *testing.T) {
		// Duplicate prompts share a cache entry, so the second request
		// succeeds from cache even though the backend is now failing.
		backend := &mocks.InferenceBackend{BackendName: "a", Responses: []string{"one"}}
		cache := mocks.NewCache()
		gw := NewInferenceGateway([]ports.InferenceBackend{backend}, cache, time.Minute, nil)

		_, err := gw.Invoke(ctx, ports.InferenceRequest{Prompt: "1"})
		require.NoError(t, err)

		backend.Err = errors.New("down")
		resps, err := gw.InvokeBatch(ctx, []ports.InferenceRequest{
			{Prompt: "1"}, {Prompt: "2"},
		})
		require.ErrorIs(t, err, ErrBackendExhausted)
		assert.Equal(t, "one", resps[0].Content)
		assert.Empty(t, resps[1].Content, "failed request left zero-valued")
	})
}

func TestCleanJSONResponse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "plain", input: `{"a":1}`, want: `{"a":1}`},
		{name: "json fence", input: "```json\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "bare fence", input: "```\n[1,2]\n```", want: "[1,2]"},
		{name: "whitespace", input: "  {\"a\":1}  ", want: `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanJSONResponse(tt.input))
		})
	}
}
