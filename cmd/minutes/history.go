package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ersonp/minutes-core/internal/domain/entities"
	"github.com/ersonp/minutes-core/internal/domain/services"
)

func newHistoryCmd() *cobra.Command {
	var byID bool

	cmd := &cobra.Command{
		Use:   "history <name-or-id>",
		Short: "Show the state history of one entity",
		Long: `Shows every recorded state snapshot and transition for an entity,
oldest first. The entity is looked up by name or alias; use --id to
look up by entity ID instead.

Examples:
  minutes history "Project Alpha"
  minutes history --id 2f9c...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, args[0], byID)
		},
	}

	cmd.Flags().BoolVar(&byID, "id", false, "Look up by entity ID instead of name")

	return cmd
}

func runHistory(cmd *cobra.Command, nameOrID string, byID bool) error {
	ctx := cmd.Context()

	return withDeps(func(d *Deps) error {
		var history *services.EntityHistory
		var err error

		if byID {
			history, err = d.HistoryHandler.HandleByID(ctx, nameOrID)
		} else {
			history, err = d.HistoryHandler.HandleByName(ctx, nameOrID)
		}
		if err != nil {
			return fmt.Errorf("fetching history: %w", err)
		}
		if history == nil {
			fmt.Printf("No entity found for %q.\n", nameOrID)
			return nil
		}

		printHistory(history)
		return nil
	})
}

func printHistory(h *services.EntityHistory) {
	fmt.Printf("%s [%s]\n", h.Entity.Name, h.Entity.Kind)
	if len(h.Entity.Aliases) > 0 {
		fmt.Printf("Aliases: %s\n", strings.Join(h.Entity.Aliases, ", "))
	}

	fmt.Printf("\nStates (%d):\n", len(h.States))
	for i, s := range h.States {
		fmt.Printf("  %d. meeting %s: %s\n", i+1, s.MeetingID, formatAttributes(s.Attributes))
	}

	fmt.Printf("\nTransitions (%d):\n", len(h.Transitions))
	for i, t := range h.Transitions {
		marker := ""
		if t.Detection == entities.DetectionInferred {
			marker = " [inferred]"
		}
		fmt.Printf("  %d. changed %s%s\n", i+1, strings.Join(t.ChangedFields, ", "), marker)
		if t.Rationale != "" {
			fmt.Printf("     %s\n", t.Rationale)
		}
	}
}

func formatAttributes(attrs map[string]string) string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, attrs[k]))
	}
	return strings.Join(parts, " ")
}
