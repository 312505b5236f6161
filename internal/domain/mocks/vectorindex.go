package mocks

import (
	"context"
	"sync"

	"github.com/ersonp/minutes-core/internal/domain/ports"
)

// VectorIndex is a mock implementation of ports.VectorIndex. Neighbor lists
// are configured per query position or returned empty.
type VectorIndex struct {
	// Neighbors is returned for every query when set.
	Neighbors []ports.Neighbor
	Err       error

	mu       sync.Mutex
	Upserted []ports.NamePoint
	queries  int
}

// EnsureCollection is a no-op.
func (m *VectorIndex) EnsureCollection(ctx context.Context, vectorSize uint64) error {
	return m.Err
}

// UpsertBatch records the upserted points.
func (m *VectorIndex) UpsertBatch(ctx context.Context, points []ports.NamePoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Upserted = append(m.Upserted, points...)
	return nil
}

// NearestNeighbors returns the configured neighbor list.
func (m *VectorIndex) NearestNeighbors(ctx context.Context, vector []float32, limit int) ([]ports.Neighbor, error) {
	lists, err := m.NearestNeighborsBatch(ctx, [][]float32{vector}, limit)
	if err != nil {
		return nil, err
	}
	return lists[0], nil
}

// NearestNeighborsBatch returns the configured neighbor list per query.
func (m *VectorIndex) NearestNeighborsBatch(ctx context.Context, vectors [][]float32, limit int) ([][]ports.Neighbor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queries++
	if m.Err != nil {
		return nil, m.Err
	}

	lists := make([][]ports.Neighbor, len(vectors))
	for i := range vectors {
		lists[i] = m.Neighbors
	}
	return lists, nil
}

// Queries returns how many batch queries were issued.
func (m *VectorIndex) Queries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queries
}

// Close is a no-op.
func (m *VectorIndex) Close() error { return nil }
