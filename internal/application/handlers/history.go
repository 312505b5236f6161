package handlers

import (
	"context"
	"fmt"

	"github.com/ersonp/minutes-core/internal/domain/services"
)

// HistoryHandler handles entity history queries and exports.
type HistoryHandler struct {
	history *services.HistoryService
}

// NewHistoryHandler creates a new history handler.
func NewHistoryHandler(history *services.HistoryService) *HistoryHandler {
	return &HistoryHandler{
		history: history,
	}
}

// HandleByName returns the full history for the entity matching the given
// name, or nil if no entity matches.
func (h *HistoryHandler) HandleByName(ctx context.Context, name string) (*services.EntityHistory, error) {
	entity, err := h.history.FindEntity(ctx, name)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, nil
	}
	return h.history.History(ctx, entity.ID)
}

// HandleByID returns the full history for one entity ID.
func (h *HistoryHandler) HandleByID(ctx context.Context, entityID string) (*services.EntityHistory, error) {
	if entityID == "" {
		return nil, fmt.Errorf("entity id is required")
	}
	return h.history.History(ctx, entityID)
}

// Export collects the complete record set for every entity.
func (h *HistoryHandler) Export(ctx context.Context) ([]*services.EntityHistory, error) {
	return h.history.Export(ctx)
}
