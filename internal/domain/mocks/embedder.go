package mocks

import (
	"context"
	"sync"
)

// Embedder is a mock implementation of ports.Embedder. Vectors are looked
// up by exact text; unknown texts get the Default vector.
type Embedder struct {
	Vectors map[string][]float32
	Default []float32
	Err     error
	mu      sync.Mutex
	calls   int
}

// Embed generates a vector embedding for the given text.
func (m *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates vector embeddings for multiple texts.
func (m *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.Err != nil {
		return nil, m.Err
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		if v, ok := m.Vectors[text]; ok {
			out[i] = v
			continue
		}
		if m.Default != nil {
			out[i] = m.Default
			continue
		}
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

// Calls returns how many batch calls were made.
func (m *Embedder) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
