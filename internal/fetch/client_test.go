package fetch

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listingwatch/listingwatch/internal/domain"
)

func newTestClient() *Client {
	return NewClient(nil, slog.New(slog.DiscardHandler), Options{})
}

func TestFetchReducesPageToText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>Road bike - Marketplace</title>
			<script>var x = 1;</script><style>.a{}</style></head>
			<body><h1>Road   bike</h1><p>Price: 450 EUR</p>
			<script>tracker()</script></body></html>`))
	}))
	defer srv.Close()

	snap, err := newTestClient().Fetch(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.True(t, snap.OK())
	assert.Equal(t, http.StatusOK, snap.StatusCode)
	assert.Equal(t, "Road bike - Marketplace", snap.PageTitle)
	assert.Contains(t, snap.TextContent, "Road bike")
	assert.Contains(t, snap.TextContent, "Price: 450 EUR")
	assert.NotContains(t, snap.TextContent, "var x")
	assert.NotContains(t, snap.TextContent, "tracker")
}

func TestFetchGoneStatusesMeanExpired(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusGone} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		snap, err := newTestClient().Fetch(context.Background(), srv.URL)
		srv.Close()

		require.NoError(t, err)
		assert.True(t, snap.Expired)
		assert.Equal(t, status, snap.StatusCode)
		assert.False(t, snap.OK())
	}
}

func TestFetchErrorStatusInSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	snap, err := newTestClient().Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.False(t, snap.OK())
	assert.Equal(t, http.StatusServiceUnavailable, snap.StatusCode)
}

func TestFetchTooManyRequestsIsBlocked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestClient().Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, domain.IsBlockedFetch(err))
}

func TestFetchDetectsInterstitial(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><head><title>Access Denied</title></head><body>Complete the captcha to continue.</body></html>`))
	}))
	defer srv.Close()

	_, err := newTestClient().Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, domain.IsBlockedFetch(err))
}

func TestFetchTransportError(t *testing.T) {
	// Closed server: connection refused.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestClient().Fetch(context.Background(), url)
	require.Error(t, err)

	var fe *domain.FetchError
	require.ErrorAs(t, err, &fe)
	assert.False(t, fe.Blocked)
}

func TestFetchInvalidURL(t *testing.T) {
	_, err := newTestClient().Fetch(context.Background(), "not a url")
	require.Error(t, err)
	var fe *domain.FetchError
	assert.ErrorAs(t, err, &fe)
}
