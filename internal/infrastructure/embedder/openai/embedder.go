// Package openai provides an Embedder implementation using OpenAI.
// Embeddings back the resolver's vector nearest-neighbor stage.
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/ersonp/minutes-core/internal/domain/entities"
	"github.com/ersonp/minutes-core/internal/infrastructure/config"
)

// VectorSize is the dimension of text-embedding-3-small vectors.
const VectorSize = 1536

// maxInputsPerRequest caps one embeddings call. Resolver batches stay far
// below this; directory ingestion can pile up unresolved mentions.
const maxInputsPerRequest = 512

// Embedder implements the Embedder interface using OpenAI.
type Embedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

// NewEmbedder creates a new OpenAI embedder.
func NewEmbedder(cfg config.EmbedderConfig) (*Embedder, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}

	client := openai.NewClient(cfg.APIKey)

	model := openai.SmallEmbedding3
	if cfg.Model != "" {
		model = openai.EmbeddingModel(cfg.Model)
	}

	return &Embedder{
		client: client,
		model:  model,
	}, nil
}

// Embed generates a vector embedding for the given text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	if len(embeddings) == 0 {
		return nil, errors.New("no embeddings returned")
	}

	return embeddings[0], nil
}

// EmbedBatch generates vector embeddings for multiple mention texts,
// preserving input order.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	inputs := embedInputs(texts)

	embeddings := make([][]float32, 0, len(inputs))
	for start := 0; start < len(inputs); start += maxInputsPerRequest {
		end := min(start+maxInputsPerRequest, len(inputs))

		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model: e.model,
			Input: inputs[start:end],
		})
		if err != nil {
			return nil, fmt.Errorf("creating embeddings: %w", err)
		}
		for _, data := range resp.Data {
			embeddings = append(embeddings, data.Embedding)
		}
	}

	if len(embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(embeddings))
	}
	return embeddings, nil
}

// embedInputs normalizes mention texts before embedding. Mentions arrive
// with arbitrary casing and spacing; embedding the normalized form keeps
// every spelling of one name on one vector.
func embedInputs(texts []string) []string {
	inputs := make([]string, len(texts))
	for i, text := range texts {
		inputs[i] = entities.NormalizeName(text)
	}
	return inputs
}
