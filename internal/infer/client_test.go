package infer

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listingwatch/listingwatch/internal/domain"
)

func chatServer(t *testing.T, status int, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.NotEmpty(t, req["messages"])

		w.WriteHeader(status)
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": content}},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func newTestClient(baseURL string) *Client {
	return NewClient(Options{BaseURL: baseURL + "/v1", APIKey: "test-key", Model: "test-model"}, slog.New(slog.DiscardHandler))
}

func TestInferSuccess(t *testing.T) {
	srv := chatServer(t, http.StatusOK, `{"price": 450.5, "currency": "eur", "is_available": true, "is_sold": false}`)
	defer srv.Close()

	got, err := newTestClient(srv.URL).Infer(context.Background(), "https://m/1", "page text", "title")
	require.NoError(t, err)
	assert.Equal(t, domain.InferredListing{Price: 450.5, Currency: "EUR", IsAvailable: true}, got)
}

func TestInferStripsMarkdownFence(t *testing.T) {
	srv := chatServer(t, http.StatusOK, "```json\n{\"price\": 100, \"currency\": \"EUR\", \"is_available\": false, \"is_sold\": true}\n```")
	defer srv.Close()

	got, err := newTestClient(srv.URL).Infer(context.Background(), "u", "t", "ti")
	require.NoError(t, err)
	assert.True(t, got.IsSold)
	assert.Equal(t, 100.0, got.Price)
}

func TestInferRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"message": "rate limit", "type": "rate_limit_exceeded"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Infer(context.Background(), "u", "t", "ti")
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestInferQuotaExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error": {"message": "quota exceeded", "type": "insufficient_quota"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Infer(context.Background(), "u", "t", "ti")
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestInferInvalidResponses(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"prose instead of JSON", "The price is 450 EUR and the item is available."},
		{"missing fields", `{"price": 450}`},
		{"negative price", `{"price": -1, "currency": "EUR", "is_available": true, "is_sold": false}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := chatServer(t, http.StatusOK, tt.content)
			defer srv.Close()

			_, err := newTestClient(srv.URL).Infer(context.Background(), "u", "t", "ti")
			assert.ErrorIs(t, err, domain.ErrInvalidInference)
		})
	}
}

func TestInferProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": {"message": "bad model", "type": "invalid_request_error"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Infer(context.Background(), "u", "t", "ti")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrRateLimited)
	assert.NotErrorIs(t, err, domain.ErrInvalidInference)
}
