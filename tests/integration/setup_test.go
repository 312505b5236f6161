package integration

import (
	"context"
	"os"
	"testing"

	"github.com/ersonp/minutes-core/internal/infrastructure/config"
	embedder "github.com/ersonp/minutes-core/internal/infrastructure/embedder/openai"
	"github.com/ersonp/minutes-core/internal/infrastructure/vectordb/qdrant"
)

const (
	testQdrantHost = "localhost"
	testQdrantPort = 6334
	testCollection = "minutes_integration_test"
)

var testIndex *qdrant.Index

func TestMain(m *testing.M) {
	// Skip if INTEGRATION_TEST is not set
	if os.Getenv("INTEGRATION_TEST") != "1" {
		os.Exit(0)
	}

	cfg := config.QdrantConfig{
		Host:       testQdrantHost,
		Port:       testQdrantPort,
		Collection: testCollection,
	}

	var err error
	testIndex, err = qdrant.NewIndex(cfg)
	if err != nil {
		panic("failed to create index: " + err.Error())
	}

	// Ensure clean collection
	ctx := context.Background()
	_ = testIndex.DeleteCollection(ctx) // Ignore error if collection doesn't exist
	if err := testIndex.EnsureCollection(ctx, uint64(embedder.VectorSize)); err != nil {
		panic("failed to create collection: " + err.Error())
	}

	code := m.Run()

	// Cleanup
	_ = testIndex.DeleteCollection(ctx)
	testIndex.Close()

	os.Exit(code)
}

// resetCollection drops and recreates the collection between tests.
func resetCollection(t *testing.T) {
	t.Helper()
	ctx := t.Context()
	if err := testIndex.DeleteCollection(ctx); err != nil {
		t.Fatalf("failed to delete collection: %v", err)
	}
	if err := testIndex.EnsureCollection(ctx, uint64(embedder.VectorSize)); err != nil {
		t.Fatalf("failed to recreate collection: %v", err)
	}
}
