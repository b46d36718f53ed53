package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/listingwatch/listingwatch/internal/domain"
)

// Outcome is the result of refreshing a single listing. The refresher never
// lets a failure escape past this boundary: every error becomes an Outcome.
type Outcome struct {
	// Listing is the updated listing on success, or the original listing
	// with its refresh-status fields updated on error.
	Listing domain.Listing
	Success bool
	Err     string
	// RateLimited propagates the inference provider's quota signal so the
	// orchestrator can abort the batch.
	RateLimited bool
}

// Refresher runs one verification pass over a single listing: fetch the
// page, infer price and availability, merge into the record. Single pass,
// no internal retries.
type Refresher struct {
	fetcher  domain.PageFetcher
	inferrer domain.ListingInferrer
	logger   *slog.Logger
	now      func() time.Time
}

// NewRefresher creates a Refresher using the given collaborators.
func NewRefresher(fetcher domain.PageFetcher, inferrer domain.ListingInferrer, logger *slog.Logger) *Refresher {
	return &Refresher{
		fetcher:  fetcher,
		inferrer: inferrer,
		logger:   logger.With(slog.String("component", "refresher")),
		now:      time.Now,
	}
}

// Refresh performs the fetch → infer → merge pass for one listing.
func (r *Refresher) Refresh(ctx context.Context, l domain.Listing) Outcome {
	now := r.now().UTC()

	snap, err := r.fetcher.Fetch(ctx, l.SourceURL)
	if err != nil {
		if domain.IsBlockedFetch(err) {
			return r.fail(l, now, "marketplace blocked the request — open the listing in a browser and sign in, then try again")
		}
		return r.fail(l, now, fmt.Sprintf("network error: %v", err))
	}

	if snap.Expired {
		// The listing is gone from the marketplace. That is a terminal
		// success: mark it ended, leave price history alone, skip inference.
		r.setStatus(&l, domain.ListingStatusEnded, now)
		r.markSuccess(&l, now)
		r.logger.InfoContext(ctx, "listing expired",
			slog.String("listing_id", l.ID),
			slog.Int("status", snap.StatusCode),
		)
		return Outcome{Listing: l, Success: true}
	}

	if !snap.OK() {
		if snap.StatusCode == http.StatusUnauthorized || snap.StatusCode == http.StatusForbidden {
			return r.fail(l, now, fmt.Sprintf("HTTP %d — login required for this marketplace", snap.StatusCode))
		}
		return r.fail(l, now, fmt.Sprintf("HTTP %d", snap.StatusCode))
	}

	inferred, err := r.inferrer.Infer(ctx, l.SourceURL, snap.TextContent, snap.PageTitle)
	if err != nil {
		if errors.Is(err, domain.ErrRateLimited) {
			// Not swallowed: the orchestrator stops the batch on this.
			return Outcome{Listing: l, Err: "inference rate limited", RateLimited: true}
		}
		if errors.Is(err, domain.ErrInvalidInference) {
			return r.fail(l, now, fmt.Sprintf("invalid inference response: %v", err))
		}
		return r.fail(l, now, fmt.Sprintf("inference error: %v", err))
	}

	// A non-positive inferred price means the model could not read one; keep
	// recording the last known price so the daily history stays continuous.
	priceToRecord := inferred.Price
	if priceToRecord <= 0 {
		priceToRecord = l.CurrentPrice
	}
	currency := l.Currency
	if inferred.Price > 0 && inferred.Currency != "" {
		currency = inferred.Currency
	}

	l.PriceHistory = UpdateDaily(l.PriceHistory, priceToRecord, currency, now)
	if inferred.Price > 0 {
		l.CurrentPrice = inferred.Price
		l.Currency = currency
	}

	status := domain.ListingStatusActive
	if inferred.IsSold {
		status = domain.ListingStatusSold
	} else if !inferred.IsAvailable {
		status = domain.ListingStatusEnded
	}
	r.setStatus(&l, status, now)
	r.markSuccess(&l, now)

	return Outcome{Listing: l, Success: true}
}

// setStatus applies a status transition, updating StatusChangedAt only when
// the status actually changed.
func (r *Refresher) setStatus(l *domain.Listing, status domain.ListingStatus, now time.Time) {
	if l.Status == status {
		return
	}
	l.Status = status
	l.StatusChangedAt = &now
}

func (r *Refresher) markSuccess(l *domain.Listing, now time.Time) {
	l.LastSeenAt = &now
	l.LastRefreshStatus = domain.RefreshResultSuccess
	l.LastRefreshError = ""
}

// fail records a per-item error on the listing. Price history and status are
// untouched; only the refresh bookkeeping fields change, so the failure is
// visible in the UI and the item is retried on the next run.
func (r *Refresher) fail(l domain.Listing, now time.Time, reason string) Outcome {
	l.LastSeenAt = &now
	l.LastRefreshStatus = domain.RefreshResultError
	l.LastRefreshError = reason
	return Outcome{Listing: l, Err: reason}
}
