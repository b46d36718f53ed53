package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/listingwatch/listingwatch/internal/domain"
	"github.com/listingwatch/listingwatch/internal/refresh"
)

// ListingHandler serves tracked-listing CRUD endpoints.
type ListingHandler struct {
	listings domain.ListingStore
	cache    domain.ListingCache
	logger   *slog.Logger
	now      func() time.Time
}

// NewListingHandler creates a ListingHandler. cache may be nil.
func NewListingHandler(listings domain.ListingStore, cache domain.ListingCache, logger *slog.Logger) *ListingHandler {
	return &ListingHandler{
		listings: listings,
		cache:    cache,
		logger:   logHandler(logger, "listings"),
		now:      time.Now,
	}
}

// ListListings returns all tracked listings.
// GET /api/listings
func (h *ListingHandler) ListListings(w http.ResponseWriter, r *http.Request) {
	listings, err := h.listings.List(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list listings failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list listings")
		return
	}
	if listings == nil {
		listings = []domain.Listing{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"listings": listings,
		"total":    len(listings),
	})
}

// GetListing returns a single listing. The cache is consulted first; price
// histories are served consolidated so legacy multi-entry days never reach
// the UI.
// GET /api/listings/{id}
func (h *ListingHandler) GetListing(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing listing id")
		return
	}

	if h.cache != nil {
		if l, err := h.cache.Get(r.Context(), id); err == nil {
			l.PriceHistory = refresh.Consolidate(l.PriceHistory)
			writeJSON(w, http.StatusOK, l)
			return
		}
	}

	l, err := h.listings.GetByID(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "listing not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "get listing failed",
			slog.String("listing_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get listing")
		return
	}

	if h.cache != nil {
		if err := h.cache.Set(r.Context(), l); err != nil {
			h.logger.DebugContext(r.Context(), "cache set failed",
				slog.String("listing_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	l.PriceHistory = refresh.Consolidate(l.PriceHistory)
	writeJSON(w, http.StatusOK, l)
}

type createListingRequest struct {
	SourceURL string `json:"source_url"`
	Title     string `json:"title"`
}

// CreateListing starts tracking a new listing. The listing is created
// never-refreshed, so the next batch run picks it up first.
// POST /api/listings
func (h *ListingHandler) CreateListing(w http.ResponseWriter, r *http.Request) {
	var req createListingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	u, err := url.Parse(req.SourceURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		writeError(w, http.StatusBadRequest, "source_url must be an absolute URL")
		return
	}

	now := h.now().UTC()
	l := domain.Listing{
		ID:                uuid.New().String(),
		SourceURL:         req.SourceURL,
		Title:             req.Title,
		Status:            domain.ListingStatusActive,
		LastRefreshStatus: domain.RefreshResultNone,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := h.listings.Create(r.Context(), l); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			writeError(w, http.StatusConflict, "listing already tracked")
			return
		}
		h.logger.ErrorContext(r.Context(), "create listing failed",
			slog.String("source_url", req.SourceURL),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create listing")
		return
	}

	writeJSON(w, http.StatusCreated, l)
}

// DeleteListing stops tracking a listing.
// DELETE /api/listings/{id}
func (h *ListingHandler) DeleteListing(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing listing id")
		return
	}

	if err := h.listings.Delete(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "listing not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "delete listing failed",
			slog.String("listing_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to delete listing")
		return
	}

	if h.cache != nil {
		_ = h.cache.Invalidate(r.Context(), id)
	}

	w.WriteHeader(http.StatusNoContent)
}
