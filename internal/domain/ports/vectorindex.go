package ports

import "context"

// Neighbor is one nearest-neighbor result: the entity whose name embedding
// matched, with a cosine similarity score in [0,1] (higher is closer).
type Neighbor struct {
	EntityID string
	Score    float32
}

// VectorIndex defines the interface for the external vector index holding
// entity name embeddings. The index's storage engine is not managed here;
// this core only upserts name points and issues similarity queries.
type VectorIndex interface {
	// EnsureCollection creates the backing collection if it doesn't exist.
	EnsureCollection(ctx context.Context, vectorSize uint64) error

	// UpsertBatch stores name embeddings for multiple entities.
	UpsertBatch(ctx context.Context, points []NamePoint) error

	// NearestNeighbors returns the closest entity name points for one vector.
	NearestNeighbors(ctx context.Context, vector []float32, limit int) ([]Neighbor, error)

	// NearestNeighborsBatch answers one similarity query per input vector in
	// a single round trip, preserving input order.
	NearestNeighborsBatch(ctx context.Context, vectors [][]float32, limit int) ([][]Neighbor, error)

	// Close releases the underlying connection.
	Close() error
}

// NamePoint is an entity name with its embedding, as stored in the index.
type NamePoint struct {
	EntityID string
	Name     string
	Kind     string
	Vector   []float32
}
