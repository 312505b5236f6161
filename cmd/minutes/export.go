package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ersonp/minutes-core/internal/domain/services"
)

type exportFlags struct {
	format string
	output string
}

func newExportCmd() *cobra.Command {
	var flags exportFlags

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the complete record set",
		Long:  "Exports every entity with its state and transition history to JSON, CSV, or markdown.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, flags)
		},
	}

	cmd.Flags().StringVarP(&flags.format, "format", "f", "json", "Output format (json, csv, markdown)")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "Output file (default: stdout)")

	return cmd
}

func runExport(cmd *cobra.Command, flags exportFlags) error {
	if !contains(validFormats, flags.format) {
		return fmt.Errorf("invalid format %q, valid formats: %v", flags.format, validFormats)
	}

	ctx := cmd.Context()

	return withDeps(func(d *Deps) error {
		histories, err := d.HistoryHandler.Export(ctx)
		if err != nil {
			return fmt.Errorf("exporting histories: %w", err)
		}
		if len(histories) == 0 {
			return fmt.Errorf("no entities found to export")
		}

		return writeExport(histories, flags)
	})
}

func writeExport(histories []*services.EntityHistory, flags exportFlags) (err error) {
	var w io.Writer
	var f *os.File

	if flags.output != "" {
		f, err = os.OpenFile(flags.output, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			return fmt.Errorf("creating file: %w", err)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("closing file: %w", cerr)
			}
		}()
		w = f
	} else {
		w = os.Stdout
	}

	if err := formatHistories(w, flags.format, histories); err != nil {
		return fmt.Errorf("formatting output: %w", err)
	}

	if flags.output != "" {
		fmt.Printf("Exported %d entities to %s\n", len(histories), flags.output)
	}

	return nil
}

func formatHistories(w io.Writer, format string, histories []*services.EntityHistory) error {
	switch format {
	case "json":
		return formatJSON(w, histories)
	case "csv":
		return formatCSV(w, histories)
	case "markdown":
		return formatMarkdown(w, histories)
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}

func formatJSON(w io.Writer, histories []*services.EntityHistory) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(histories)
}

func formatCSV(w io.Writer, histories []*services.EntityHistory) error {
	writer := csv.NewWriter(w)

	header := []string{"entity_id", "entity_name", "kind", "meeting_id", "detection", "changed_fields", "rationale"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, h := range histories {
		for _, t := range h.Transitions {
			row := []string{
				h.Entity.ID,
				h.Entity.Name,
				string(h.Entity.Kind),
				t.MeetingID,
				string(t.Detection),
				strings.Join(t.ChangedFields, ";"),
				t.Rationale,
			}
			if err := writer.Write(row); err != nil {
				return err
			}
		}
	}

	writer.Flush()
	return writer.Error()
}

func formatMarkdown(w io.Writer, histories []*services.EntityHistory) error {
	if _, err := fmt.Fprintf(w, "# Exported Histories\n\nTotal: %d entities\n\n", len(histories)); err != nil {
		return err
	}

	if _, err := fmt.Fprint(w, "| Entity | Kind | Meeting | Detection | Changed |\n"); err != nil {
		return err
	}
	if _, err := fmt.Fprint(w, "|--------|------|---------|-----------|---------|\n"); err != nil {
		return err
	}

	for _, h := range histories {
		for _, t := range h.Transitions {
			if _, err := fmt.Fprintf(w, "| %s | %s | %s | %s | %s |\n",
				escapeMarkdown(h.Entity.Name),
				h.Entity.Kind,
				t.MeetingID,
				t.Detection,
				escapeMarkdown(strings.Join(t.ChangedFields, ", ")),
			); err != nil {
				return err
			}
		}
	}

	return nil
}

func escapeMarkdown(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\n", " ")
	return s
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
