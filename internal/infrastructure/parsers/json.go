package parsers

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/ersonp/minutes-core/internal/domain/entities"
)

// JSONParser parses extractor payloads from JSON format.
type JSONParser struct{}

// Parse reads JSON from the reader and returns the validated payload. A
// missing meeting ID is generated; a missing meeting time is an error since
// state ordering depends on it.
func (p *JSONParser) Parse(r io.Reader) (*Payload, error) {
	var raw rawPayload

	decoder := json.NewDecoder(r)
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}

	if raw.Meeting.OccurredAt.IsZero() {
		return nil, fmt.Errorf("meeting occurred_at is required")
	}

	meetingID := raw.Meeting.ID
	if meetingID == "" {
		meetingID = uuid.New().String()
	}

	payload := &Payload{
		Meeting: entities.Meeting{
			ID:         meetingID,
			Title:      raw.Meeting.Title,
			OccurredAt: raw.Meeting.OccurredAt,
			CreatedAt:  time.Now(),
		},
		Candidates: make([]entities.StateCandidate, 0, len(raw.Candidates)),
	}

	for i, rc := range raw.Candidates {
		if rc.Name == "" {
			return nil, fmt.Errorf("candidate %d: name is required", i)
		}

		confidence := 1.0
		if rc.Confidence != nil {
			confidence = *rc.Confidence
		}
		if confidence < 0 || confidence > 1 {
			return nil, fmt.Errorf("candidate %d: confidence %v out of range", i, confidence)
		}

		payload.Candidates = append(payload.Candidates, entities.StateCandidate{
			RawName:    rc.Name,
			Kind:       rc.Kind,
			Attributes: rc.Attributes,
			Confidence: confidence,
		})
	}

	return payload, nil
}
