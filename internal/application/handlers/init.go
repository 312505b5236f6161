// Package handlers contains application use case handlers.
package handlers

import (
	"context"
	"fmt"

	"github.com/ersonp/minutes-core/internal/domain/ports"
	"github.com/ersonp/minutes-core/internal/infrastructure/config"
	embedder "github.com/ersonp/minutes-core/internal/infrastructure/embedder/openai"
)

// InitHandler handles workspace initialization.
type InitHandler struct {
	storage ports.Storage
	index   ports.VectorIndex
}

// NewInitHandler creates a new init handler. Both collaborators are optional;
// a nil one skips its provisioning step.
func NewInitHandler(storage ports.Storage, index ports.VectorIndex) *InitHandler {
	return &InitHandler{
		storage: storage,
		index:   index,
	}
}

// InitResult contains the result of initialization.
type InitResult struct {
	ConfigPath     string
	CollectionName string
}

// Handle initializes the minutes workspace: config file, relational schema,
// and vector collection.
func (h *InitHandler) Handle(ctx context.Context, basePath string) (*InitResult, error) {
	if config.Exists(basePath) {
		return nil, fmt.Errorf("minutes already initialized in %s", basePath)
	}

	if err := config.WriteDefault(basePath); err != nil {
		return nil, fmt.Errorf("writing default config: %w", err)
	}

	cfg, err := config.Load(basePath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if h.storage != nil {
		if err := h.storage.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}

	if h.index != nil {
		if err := h.index.EnsureCollection(ctx, embedder.VectorSize); err != nil {
			return nil, fmt.Errorf("creating collection: %w", err)
		}
	}

	return &InitResult{
		ConfigPath:     config.ConfigFilePath(basePath),
		CollectionName: cfg.Qdrant.Collection,
	}, nil
}
