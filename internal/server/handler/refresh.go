package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/listingwatch/listingwatch/internal/domain"
	"github.com/listingwatch/listingwatch/internal/refresh"
)

// RefreshScheduler is the slice of the scheduler the refresh endpoints use.
type RefreshScheduler interface {
	TriggerNow() error
	Reschedule()
}

// RefreshHandler serves manual-trigger, reschedule, and event-feed endpoints.
type RefreshHandler struct {
	scheduler RefreshScheduler
	settings  domain.SettingsStore
	bus       domain.SignalBus
	logger    *slog.Logger
}

// NewRefreshHandler creates a RefreshHandler. bus may be nil, in which case
// the events endpoint reports an empty feed.
func NewRefreshHandler(scheduler RefreshScheduler, settings domain.SettingsStore, bus domain.SignalBus, logger *slog.Logger) *RefreshHandler {
	return &RefreshHandler{
		scheduler: scheduler,
		settings:  settings,
		bus:       bus,
		logger:    logHandler(logger, "refresh"),
	}
}

// TriggerRefresh requests an immediate batch run. A run already in flight
// yields 409.
// POST /api/refresh/trigger
func (h *RefreshHandler) TriggerRefresh(w http.ResponseWriter, r *http.Request) {
	if err := h.scheduler.TriggerNow(); err != nil {
		if errors.Is(err, domain.ErrRefreshInProgress) {
			writeError(w, http.StatusConflict, "refresh already in progress")
			return
		}
		h.logger.ErrorContext(r.Context(), "trigger failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to trigger refresh")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

type rescheduleRequest struct {
	CheckFrequencyMinutes float64 `json:"check_frequency_minutes"`
}

// Reschedule updates the check frequency and re-arms the scheduler timer.
// POST /api/refresh/reschedule
func (h *RefreshHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	var req rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CheckFrequencyMinutes <= 0 {
		writeError(w, http.StatusBadRequest, "check_frequency_minutes must be positive")
		return
	}

	cfg, err := h.settings.Get(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "load settings failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}

	cfg.CheckFrequencyMinutes = req.CheckFrequencyMinutes
	cfg.Clamp()
	if err := h.settings.Put(r.Context(), cfg); err != nil {
		h.logger.ErrorContext(r.Context(), "save settings failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}

	h.scheduler.Reschedule()
	writeJSON(w, http.StatusOK, cfg)
}

// ListEvents reads the durable refresh event feed.
// GET /api/refresh/events?last_id=0&count=100
func (h *RefreshHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	lastID := r.URL.Query().Get("last_id")
	if lastID == "" {
		lastID = "0"
	}
	count := queryInt(r, "count", 100)
	if count > 1000 {
		count = 1000
	}

	if h.bus == nil {
		writeJSON(w, http.StatusOK, map[string]any{"events": []refresh.Event{}, "last_id": lastID})
		return
	}

	msgs, err := h.bus.StreamRead(r.Context(), refresh.StreamRefreshEvents, lastID, count)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "read events failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to read events")
		return
	}

	events := make([]refresh.Event, 0, len(msgs))
	for _, m := range msgs {
		var ev refresh.Event
		if err := json.Unmarshal(m.Payload, &ev); err != nil {
			continue
		}
		events = append(events, ev)
		lastID = m.ID
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events":  events,
		"last_id": lastID,
	})
}
