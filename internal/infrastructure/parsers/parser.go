// Package parsers provides parsers for extractor output payloads.
package parsers

import (
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/ersonp/minutes-core/internal/domain/entities"
)

// Payload is one meeting's worth of extractor output after parsing and
// validation: the meeting anchor plus its state candidates.
type Payload struct {
	Meeting    entities.Meeting
	Candidates []entities.StateCandidate
}

// rawPayload is the on-disk JSON structure before validation.
type rawPayload struct {
	Meeting    rawMeeting     `json:"meeting"`
	Candidates []rawCandidate `json:"candidates"`
}

type rawMeeting struct {
	ID         string    `json:"id,omitempty"`
	Title      string    `json:"title,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

type rawCandidate struct {
	Name       string            `json:"name"`
	Kind       string            `json:"kind"`
	Attributes map[string]string `json:"attributes"`
	Confidence *float64          `json:"confidence,omitempty"` // Pointer to distinguish 0 from unset
}

// Parser defines the interface for parsing extractor payloads.
type Parser interface {
	Parse(r io.Reader) (*Payload, error)
}

// ForFormat returns the appropriate parser for the given format.
// Supported formats: "json".
func ForFormat(format string) Parser {
	switch strings.ToLower(format) {
	case "json":
		return &JSONParser{}
	default:
		return nil
	}
}

// ForFile returns the appropriate parser based on file extension.
func ForFile(filename string) Parser {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".json":
		return &JSONParser{}
	default:
		return nil
	}
}
