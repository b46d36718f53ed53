package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/listingwatch/listingwatch/internal/domain"
)

// StatusSource provides the pieces of engine state the status endpoint
// reports.
type StatusSource interface {
	Get(ctx context.Context) (domain.RefreshState, error)
}

// StatusHandler serves the engine status for the dashboard: run progress,
// recent completions, and scheduling info.
type StatusHandler struct {
	Mode     string
	states   StatusSource
	listings domain.ListingStore
	logger   *slog.Logger
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, states StatusSource, listings domain.ListingStore, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		Mode:     mode,
		states:   states,
		listings: listings,
		logger:   logHandler(logger, "status"),
	}
}

// GetStatus responds with the current refresh state and tracked-listing count.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.states.Get(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "load refresh state failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load refresh state")
		return
	}

	count, err := h.listings.Count(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "count listings failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to count listings")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.Mode,
		"tracked_count":  count,
		"refresh_state":  st,
	})
}
