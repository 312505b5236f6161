package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ersonp/minutes-core/internal/application/handlers"
	"github.com/ersonp/minutes-core/internal/infrastructure/config"
	"github.com/ersonp/minutes-core/internal/infrastructure/relationaldb/sqlite"
	"github.com/ersonp/minutes-core/internal/infrastructure/vectordb/qdrant"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a new minutes workspace",
		Long:  "Creates a .minutes directory with default configuration, the SQLite schema, and the Qdrant collection.",
		RunE:  runInit,
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}

	if config.Exists(cwd) {
		return fmt.Errorf("minutes already initialized in %s", cwd)
	}

	// Provision collaborators with the defaults the handler is about to
	// write; Load afterwards would just read the same values back.
	cfg := config.Default()

	storage, err := sqlite.NewRepository(config.SQLiteConfig{Path: cfg.SQLitePath(cwd)})
	if err != nil {
		return fmt.Errorf("creating sqlite repository: %w", err)
	}
	defer storage.Close()

	index, err := qdrant.NewIndex(cfg.Qdrant)
	if err != nil {
		return fmt.Errorf("connecting to qdrant: %w", err)
	}
	defer index.Close()

	handler := handlers.NewInitHandler(storage, index)

	result, err := handler.Handle(ctx, cwd)
	if err != nil {
		return err
	}

	fmt.Printf("Created %s\n", result.ConfigPath)
	fmt.Printf("Created Qdrant collection: %s\n", result.CollectionName)
	fmt.Println("Minutes initialized successfully!")

	return nil
}
