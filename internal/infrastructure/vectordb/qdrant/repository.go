// Package qdrant provides a VectorIndex implementation using Qdrant.
package qdrant

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/ersonp/minutes-core/internal/domain/entities"
	"github.com/ersonp/minutes-core/internal/domain/ports"
	"github.com/ersonp/minutes-core/internal/infrastructure/config"
)

// Index implements the VectorIndex interface using Qdrant.
type Index struct {
	client     pb.CollectionsClient
	points     pb.PointsClient
	collection string
	conn       *grpc.ClientConn
}

// NewIndex creates a new Qdrant index client.
func NewIndex(cfg config.QdrantConfig) (*Index, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}

	return &Index{
		client:     pb.NewCollectionsClient(conn),
		points:     pb.NewPointsClient(conn),
		collection: cfg.Collection,
		conn:       conn,
	}, nil
}

// Close closes the gRPC connection.
func (r *Index) Close() error {
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

// EnsureCollection creates the collection if it doesn't exist.
func (r *Index) EnsureCollection(ctx context.Context, vectorSize uint64) error {
	_, err := r.client.Get(ctx, &pb.GetCollectionInfoRequest{
		CollectionName: r.collection,
	})
	if err == nil {
		return nil
	}

	_, err = r.client.Create(ctx, &pb.CreateCollection{
		CollectionName: r.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     vectorSize,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("creating collection: %w", err)
	}

	return nil
}

// DeleteCollection drops the collection. Integration tests use it to start
// from a clean slate.
func (r *Index) DeleteCollection(ctx context.Context) error {
	_, err := r.client.Delete(ctx, &pb.DeleteCollection{
		CollectionName: r.collection,
	})
	if err != nil {
		return fmt.Errorf("deleting collection: %w", err)
	}
	return nil
}

// UpsertBatch stores name embeddings for multiple entities. Point IDs are
// derived from entity ID and normalized name, so re-upserting the same name
// overwrites rather than duplicates.
func (r *Index) UpsertBatch(ctx context.Context, namePoints []ports.NamePoint) error {
	if len(namePoints) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, 0, len(namePoints))
	for _, np := range namePoints {
		point := &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{
					Uuid: pointID(np),
				},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{
						Data: np.Vector,
					},
				},
			},
			Payload: map[string]*pb.Value{
				"entity_id": {Kind: &pb.Value_StringValue{StringValue: np.EntityID}},
				"name":      {Kind: &pb.Value_StringValue{StringValue: np.Name}},
				"kind":      {Kind: &pb.Value_StringValue{StringValue: np.Kind}},
			},
		}
		points = append(points, point)
	}

	_, err := r.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: r.collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("upserting points: %w", err)
	}

	return nil
}

// NearestNeighbors returns the closest entity name points for one vector.
func (r *Index) NearestNeighbors(ctx context.Context, vector []float32, limit int) ([]ports.Neighbor, error) {
	lists, err := r.NearestNeighborsBatch(ctx, [][]float32{vector}, limit)
	if err != nil {
		return nil, err
	}
	return lists[0], nil
}

// NearestNeighborsBatch answers one similarity query per input vector in a
// single round trip, preserving input order.
func (r *Index) NearestNeighborsBatch(ctx context.Context, vectors [][]float32, limit int) ([][]ports.Neighbor, error) {
	if len(vectors) == 0 {
		return nil, nil
	}

	searches := make([]*pb.SearchPoints, 0, len(vectors))
	for _, vector := range vectors {
		searches = append(searches, &pb.SearchPoints{
			CollectionName: r.collection,
			Vector:         vector,
			Limit:          uint64(limit),
			WithPayload: &pb.WithPayloadSelector{
				SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
			},
		})
	}

	resp, err := r.points.SearchBatch(ctx, &pb.SearchBatchPoints{
		CollectionName: r.collection,
		SearchPoints:   searches,
	})
	if err != nil {
		return nil, fmt.Errorf("searching points: %w", err)
	}

	lists := make([][]ports.Neighbor, len(vectors))
	for i, result := range resp.Result {
		if i >= len(lists) {
			break
		}
		lists[i] = scoredPointsToNeighbors(result.Result)
	}

	return lists, nil
}

// scoredPointsToNeighbors converts scored points to neighbor results,
// collapsing multiple name points of the same entity to its best score.
func scoredPointsToNeighbors(points []*pb.ScoredPoint) []ports.Neighbor {
	neighbors := make([]ports.Neighbor, 0, len(points))
	seen := make(map[string]bool, len(points))

	for _, point := range points {
		entityID := getStringValue(point.Payload, "entity_id")
		if entityID == "" || seen[entityID] {
			continue
		}
		seen[entityID] = true
		neighbors = append(neighbors, ports.Neighbor{
			EntityID: entityID,
			Score:    point.Score,
		})
	}

	return neighbors
}

// pointID derives a stable point ID from the entity and normalized name.
func pointID(np ports.NamePoint) string {
	seed := np.EntityID + "|" + entities.NormalizeName(np.Name)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed)).String()
}

func getStringValue(payload map[string]*pb.Value, key string) string {
	if v, ok := payload[key]; ok {
		return v.GetStringValue()
	}
	return ""
}
