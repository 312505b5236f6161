package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/ersonp/minutes-core/internal/domain/entities"
	"github.com/ersonp/minutes-core/internal/domain/services"
)

// EntityHandler handles entity listing and search.
type EntityHandler struct {
	history *services.HistoryService
}

// NewEntityHandler creates a new entity handler.
func NewEntityHandler(history *services.HistoryService) *EntityHandler {
	return &EntityHandler{
		history: history,
	}
}

// List lists entities, optionally filtered by kind ("" means all).
func (h *EntityHandler) List(ctx context.Context, kind string, limit, offset int) ([]*entities.Entity, error) {
	parsed, err := parseKindFilter(kind)
	if err != nil {
		return nil, err
	}
	return h.history.ListEntities(ctx, parsed, limit, offset)
}

// Search searches entities by name or alias pattern.
func (h *EntityHandler) Search(ctx context.Context, query string, limit int) ([]*entities.Entity, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("search query is required")
	}
	return h.history.SearchEntities(ctx, query, limit)
}

// parseKindFilter validates a user-supplied kind filter. Unlike candidate
// ingestion, an unrecognized filter is an error rather than a fallback to
// "other" so that a typo doesn't silently return the wrong slice.
func parseKindFilter(kind string) (entities.Kind, error) {
	trimmed := strings.ToLower(strings.TrimSpace(kind))
	if trimmed == "" {
		return "", nil
	}
	if parsed := entities.ParseKind(trimmed); parsed != entities.KindOther || trimmed == string(entities.KindOther) {
		return parsed, nil
	}
	return "", fmt.Errorf("unknown entity kind: %s", kind)
}
