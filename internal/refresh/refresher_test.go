package refresh

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listingwatch/listingwatch/internal/domain"
)

type stubFetcher struct {
	snap domain.PageSnapshot
	err  error
}

func (f *stubFetcher) Fetch(ctx context.Context, url string) (domain.PageSnapshot, error) {
	return f.snap, f.err
}

type stubInferrer struct {
	out domain.InferredListing
	err error
}

func (i *stubInferrer) Infer(ctx context.Context, url, pageText, pageTitle string) (domain.InferredListing, error) {
	return i.out, i.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestRefresher(f domain.PageFetcher, inf domain.ListingInferrer, now time.Time) *Refresher {
	r := NewRefresher(f, inf, testLogger())
	r.now = func() time.Time { return now }
	return r
}

func activeListing() domain.Listing {
	return domain.Listing{
		ID:           "l1",
		SourceURL:    "https://market.example/item/1",
		Title:        "Road bike",
		CurrentPrice: 450,
		Currency:     "EUR",
		Status:       domain.ListingStatusActive,
	}
}

func TestRefreshSuccess(t *testing.T) {
	now := date("2026-08-28T12:00:00Z")
	r := newTestRefresher(
		&stubFetcher{snap: domain.PageSnapshot{StatusCode: 200, TextContent: "Road bike 430 EUR", PageTitle: "Road bike"}},
		&stubInferrer{out: domain.InferredListing{Price: 430, Currency: "EUR", IsAvailable: true}},
		now,
	)

	out := r.Refresh(context.Background(), activeListing())
	require.True(t, out.Success)
	assert.Empty(t, out.Err)

	l := out.Listing
	assert.Equal(t, 430.0, l.CurrentPrice)
	assert.Equal(t, domain.ListingStatusActive, l.Status)
	assert.Nil(t, l.StatusChangedAt) // no transition
	require.NotNil(t, l.LastSeenAt)
	assert.Equal(t, now, *l.LastSeenAt)
	assert.Equal(t, domain.RefreshResultSuccess, l.LastRefreshStatus)
	require.Len(t, l.PriceHistory, 1)
	assert.Equal(t, 430.0, l.PriceHistory[0].Price)
}

func TestRefreshSoldTransition(t *testing.T) {
	now := date("2026-08-28T12:00:00Z")
	r := newTestRefresher(
		&stubFetcher{snap: domain.PageSnapshot{StatusCode: 200}},
		&stubInferrer{out: domain.InferredListing{Price: 430, Currency: "EUR", IsSold: true}},
		now,
	)

	out := r.Refresh(context.Background(), activeListing())
	require.True(t, out.Success)
	assert.Equal(t, domain.ListingStatusSold, out.Listing.Status)
	require.NotNil(t, out.Listing.StatusChangedAt)
	assert.Equal(t, now, *out.Listing.StatusChangedAt)
}

func TestRefreshExpiredPage(t *testing.T) {
	now := date("2026-08-28T12:00:00Z")
	r := newTestRefresher(
		&stubFetcher{snap: domain.PageSnapshot{Expired: true, StatusCode: 404}},
		&stubInferrer{},
		now,
	)

	out := r.Refresh(context.Background(), activeListing())
	require.True(t, out.Success)
	assert.Equal(t, domain.ListingStatusEnded, out.Listing.Status)
	// Expired pages skip inference; no new price is recorded.
	assert.Empty(t, out.Listing.PriceHistory)
	assert.Equal(t, domain.RefreshResultSuccess, out.Listing.LastRefreshStatus)
}

func TestRefreshFetchErrors(t *testing.T) {
	now := date("2026-08-28T12:00:00Z")

	tests := []struct {
		name       string
		fetcher    *stubFetcher
		wantSubstr string
	}{
		{
			name:       "transport error",
			fetcher:    &stubFetcher{err: &domain.FetchError{URL: "u", Err: errors.New("connection refused")}},
			wantSubstr: "network error",
		},
		{
			name:       "blocked request gets actionable message",
			fetcher:    &stubFetcher{err: &domain.FetchError{URL: "u", Blocked: true, Err: errors.New("interstitial")}},
			wantSubstr: "sign in",
		},
		{
			name:       "server error status",
			fetcher:    &stubFetcher{snap: domain.PageSnapshot{StatusCode: 503}},
			wantSubstr: "HTTP 503",
		},
		{
			name:       "forbidden suggests login",
			fetcher:    &stubFetcher{snap: domain.PageSnapshot{StatusCode: 403}},
			wantSubstr: "login required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRefresher(tt.fetcher, &stubInferrer{}, now)
			out := r.Refresh(context.Background(), activeListing())

			assert.False(t, out.Success)
			assert.False(t, out.RateLimited)
			assert.Contains(t, out.Err, tt.wantSubstr)

			l := out.Listing
			assert.Equal(t, domain.RefreshResultError, l.LastRefreshStatus)
			assert.Contains(t, l.LastRefreshError, tt.wantSubstr)
			// Errors never touch status or history.
			assert.Equal(t, domain.ListingStatusActive, l.Status)
			assert.Empty(t, l.PriceHistory)
			require.NotNil(t, l.LastSeenAt)
			assert.Equal(t, now, *l.LastSeenAt)
		})
	}
}

func TestRefreshInferenceRateLimited(t *testing.T) {
	now := date("2026-08-28T12:00:00Z")
	r := newTestRefresher(
		&stubFetcher{snap: domain.PageSnapshot{StatusCode: 200}},
		&stubInferrer{err: domain.ErrRateLimited},
		now,
	)

	out := r.Refresh(context.Background(), activeListing())
	assert.False(t, out.Success)
	assert.True(t, out.RateLimited)
	// The listing is handed back untouched so the run can retry it later.
	assert.Equal(t, domain.RefreshResult(""), out.Listing.LastRefreshStatus)
	assert.Nil(t, out.Listing.LastSeenAt)
}

func TestRefreshInvalidInference(t *testing.T) {
	now := date("2026-08-28T12:00:00Z")
	r := newTestRefresher(
		&stubFetcher{snap: domain.PageSnapshot{StatusCode: 200}},
		&stubInferrer{err: domain.ErrInvalidInference},
		now,
	)

	out := r.Refresh(context.Background(), activeListing())
	assert.False(t, out.Success)
	assert.False(t, out.RateLimited)
	assert.Contains(t, out.Err, "invalid inference")
}

func TestRefreshKeepsLastPriceWhenUnreadable(t *testing.T) {
	now := date("2026-08-28T12:00:00Z")
	r := newTestRefresher(
		&stubFetcher{snap: domain.PageSnapshot{StatusCode: 200}},
		&stubInferrer{out: domain.InferredListing{Price: 0, IsAvailable: true}},
		now,
	)

	out := r.Refresh(context.Background(), activeListing())
	require.True(t, out.Success)
	assert.Equal(t, 450.0, out.Listing.CurrentPrice)
	require.Len(t, out.Listing.PriceHistory, 1)
	assert.Equal(t, 450.0, out.Listing.PriceHistory[0].Price)
	assert.Equal(t, "EUR", out.Listing.PriceHistory[0].Currency)
}
