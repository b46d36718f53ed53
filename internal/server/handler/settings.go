package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/listingwatch/listingwatch/internal/domain"
)

// SettingsHandler serves the operator-tunable settings endpoints.
type SettingsHandler struct {
	settings  domain.SettingsStore
	scheduler RefreshScheduler
	logger    *slog.Logger
}

// NewSettingsHandler creates a SettingsHandler. scheduler may be nil when the
// process runs without the engine (serve mode).
func NewSettingsHandler(settings domain.SettingsStore, scheduler RefreshScheduler, logger *slog.Logger) *SettingsHandler {
	return &SettingsHandler{
		settings:  settings,
		scheduler: scheduler,
		logger:    logHandler(logger, "settings"),
	}
}

// GetSettings returns the current settings. The inference API key is never
// echoed back; only its presence is reported.
// GET /api/settings
func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.settings.Get(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "load settings failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	writeJSON(w, http.StatusOK, settingsResponse(cfg))
}

type updateSettingsRequest struct {
	CheckFrequencyMinutes *float64 `json:"check_frequency_minutes"`
	EndedGracePeriodDays  *int     `json:"ended_grace_period_days"`
	APIKey                *string  `json:"api_key"`
}

// UpdateSettings applies a partial settings update. Out-of-bounds values are
// clamped, not rejected. A frequency change re-arms the scheduler.
// PUT /api/settings
func (h *SettingsHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req updateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cfg, err := h.settings.Get(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "load settings failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}

	frequencyChanged := false
	if req.CheckFrequencyMinutes != nil {
		cfg.CheckFrequencyMinutes = *req.CheckFrequencyMinutes
		frequencyChanged = true
	}
	if req.EndedGracePeriodDays != nil {
		cfg.EndedGracePeriodDays = *req.EndedGracePeriodDays
	}
	if req.APIKey != nil {
		cfg.APIKey = *req.APIKey
	}
	cfg.Clamp()

	if err := h.settings.Put(r.Context(), cfg); err != nil {
		h.logger.ErrorContext(r.Context(), "save settings failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}

	if frequencyChanged && h.scheduler != nil {
		h.scheduler.Reschedule()
	}

	writeJSON(w, http.StatusOK, settingsResponse(cfg))
}

// settingsResponse redacts the API key down to a presence flag.
func settingsResponse(cfg domain.Settings) map[string]any {
	return map[string]any{
		"check_frequency_minutes": cfg.CheckFrequencyMinutes,
		"ended_grace_period_days": cfg.EndedGracePeriodDays,
		"api_key_set":             cfg.APIKey != "",
	}
}
