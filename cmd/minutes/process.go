package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ersonp/minutes-core/internal/application/handlers"
)

func newProcessCmd() *cobra.Command {
	var (
		pattern   string
		recursive bool
	)

	cmd := &cobra.Command{
		Use:   "process <file-or-directory>",
		Short: "Process extractor payloads",
		Long: `Reads one or more extractor payload files, resolves each mention to a
canonical entity, and records state transitions for meaningful changes.

Examples:
  minutes process standup.json
  minutes process ./meetings --pattern "*.json"
  minutes process ./meetings --recursive`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcess(cmd, args[0], pattern, recursive)
		},
	}

	cmd.Flags().StringVarP(&pattern, "pattern", "p", "*.json", "File pattern for directory processing")
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Process subdirectories too")

	return cmd
}

func runProcess(cmd *cobra.Command, path, pattern string, recursive bool) error {
	ctx := cmd.Context()

	return withDeps(func(d *Deps) error {
		if handlers.IsDirectory(path) {
			result, err := d.ProcessHandler.HandleDirectory(ctx, path, pattern, recursive, func(file string) {
				fmt.Printf("Processing %s...\n", file)
			})
			if err != nil {
				return fmt.Errorf("processing directory: %w", err)
			}
			printBatchResult(result)
			return nil
		}

		fmt.Printf("Processing %s...\n", path)
		result, err := d.ProcessHandler.Handle(ctx, path)
		if err != nil {
			return fmt.Errorf("processing file: %w", err)
		}
		printFileResult(result)
		return nil
	})
}

func printFileResult(result *handlers.ProcessFileResult) {
	fmt.Printf("Meeting %q (%s): %d candidates\n", result.MeetingTitle, result.MeetingID, result.Candidates)
	fmt.Printf("  entities touched:  %d (%d new)\n", len(result.Result.EntitiesTouched), result.Result.EntitiesCreated)
	fmt.Printf("  transitions:       %d", result.Result.TransitionsCreated)
	if result.Result.InferredTransitions > 0 {
		fmt.Printf(" (%d inferred during validation)", result.Result.InferredTransitions)
	}
	fmt.Println()
	fmt.Printf("  unchanged:         %d\n", result.Result.Unchanged)
}

func printBatchResult(result *handlers.ProcessBatchResult) {
	fmt.Println()
	fmt.Printf("Processed %d files: %d entities, %d transitions\n",
		result.TotalFiles, result.TotalEntities, result.TotalTransitions)

	for _, err := range result.Errors {
		fmt.Printf("  warning: %v\n", err)
	}
}
