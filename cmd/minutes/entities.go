package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ersonp/minutes-core/internal/domain/entities"
)

func newEntitiesCmd() *cobra.Command {
	var (
		kind        string
		searchQuery string
		limit       int
	)

	cmd := &cobra.Command{
		Use:   "entities",
		Short: "List tracked entities",
		Long: `List all tracked entities.

Use --kind to restrict to one entity kind, or --search to filter by
name or alias.

Examples:
  minutes entities
  minutes entities --kind project
  minutes entities --search "alpha"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEntities(cmd, kind, searchQuery, limit)
		},
	}

	cmd.Flags().StringVarP(&kind, "kind", "k", "", "Filter by kind (person, project, feature, deadline, other)")
	cmd.Flags().StringVar(&searchQuery, "search", "", "Search entities by name or alias")
	cmd.Flags().IntVar(&limit, "limit", DefaultEntitiesLimit, "Maximum number of entities to return")

	return cmd
}

func runEntities(cmd *cobra.Command, kind, searchQuery string, limit int) error {
	ctx := cmd.Context()

	return withDeps(func(d *Deps) error {
		var list []*entities.Entity
		var err error

		if searchQuery != "" {
			list, err = d.EntityHandler.Search(ctx, searchQuery, limit)
		} else {
			list, err = d.EntityHandler.List(ctx, kind, limit, 0)
		}
		if err != nil {
			return fmt.Errorf("listing entities: %w", err)
		}

		if len(list) == 0 {
			fmt.Println("No entities found.")
			return nil
		}

		fmt.Printf("Entities (%d):\n\n", len(list))
		for _, e := range list {
			fmt.Printf("  %-10s %-30s", e.Kind, e.Name)
			if len(e.Aliases) > 0 {
				fmt.Printf(" (also: %v)", e.Aliases)
			}
			fmt.Println()
		}

		return nil
	})
}
