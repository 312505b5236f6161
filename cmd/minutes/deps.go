package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ersonp/minutes-core/internal/application/handlers"
	"github.com/ersonp/minutes-core/internal/domain/services"
	"github.com/ersonp/minutes-core/internal/infrastructure/cache/memory"
	"github.com/ersonp/minutes-core/internal/infrastructure/config"
	embedder "github.com/ersonp/minutes-core/internal/infrastructure/embedder/openai"
	llm "github.com/ersonp/minutes-core/internal/infrastructure/llm/openai"
	"github.com/ersonp/minutes-core/internal/infrastructure/relationaldb/sqlite"
	"github.com/ersonp/minutes-core/internal/infrastructure/vectordb/qdrant"
)

// Deps holds high-level dependencies for commands.
// Only handlers are exposed - services and repositories are internal.
type Deps struct {
	Config         *config.Config
	ProcessHandler *handlers.ProcessHandler
	EntityHandler  *handlers.EntityHandler
	HistoryHandler *handlers.HistoryHandler
}

// withDeps loads config and builds dependencies, then calls the provided
// function. It handles cleanup automatically.
func withDeps(fn func(*Deps) error) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}

	cfg, err := config.Load(cwd)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	storage, err := sqlite.NewRepository(config.SQLiteConfig{Path: cfg.SQLitePath(cwd)})
	if err != nil {
		return fmt.Errorf("creating sqlite repository: %w", err)
	}
	defer storage.Close()

	ctx := context.Background()
	if err := storage.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensuring sqlite schema: %w", err)
	}

	index, err := qdrant.NewIndex(cfg.Qdrant)
	if err != nil {
		return fmt.Errorf("creating qdrant index: %w", err)
	}
	defer index.Close()

	emb, err := embedder.NewEmbedder(cfg.Embedder)
	if err != nil {
		return fmt.Errorf("creating embedder: %w", err)
	}

	backends, err := llm.NewBackends(cfg.LLM)
	if err != nil {
		return fmt.Errorf("creating inference backends: %w", err)
	}

	cache := memory.New()
	defer cache.Close()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	gateway := services.NewInferenceGateway(backends, cache, time.Duration(cfg.Cache.TTLMinutes)*time.Minute, logger)
	resolver := services.NewEntityResolver(storage, emb, index, gateway, resolverConfig(cfg.Resolver), logger)
	comparator := services.NewStateComparisonEngine(gateway, cache, services.ComparisonConfig{BatchSize: cfg.Comparison.BatchSize}, logger)
	tracker := services.NewTransitionTracker(resolver, comparator, storage, logger)
	history := services.NewHistoryService(storage)

	deps := &Deps{
		Config:         cfg,
		ProcessHandler: handlers.NewProcessHandler(tracker),
		EntityHandler:  handlers.NewEntityHandler(history),
		HistoryHandler: handlers.NewHistoryHandler(history),
	}

	return fn(deps)
}

// resolverConfig maps the configured thresholds onto the resolver's own
// config type; zero values fall back to the resolver's defaults.
func resolverConfig(cfg config.ResolverConfig) services.ResolverConfig {
	return services.ResolverConfig{
		FuzzyThreshold:          cfg.FuzzyThreshold,
		FuzzyMargin:             cfg.FuzzyMargin,
		DisambiguationFloor:     cfg.DisambiguationFloor,
		VectorThreshold:         cfg.VectorThreshold,
		VectorMargin:            cfg.VectorMargin,
		DisambiguationLimit:     cfg.DisambiguationLimit,
		DisambiguationThreshold: cfg.DisambiguationThreshold,
	}
}
