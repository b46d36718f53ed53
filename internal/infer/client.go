// Package infer reads a listing's price and availability out of page text
// using an OpenAI-compatible chat completions endpoint.
package infer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/listingwatch/listingwatch/internal/domain"
)

const systemPrompt = `You extract structured data from marketplace listing pages.
Given the page title and text of a listing, respond with ONLY a JSON object:
{"price": <number, the current asking price, 0 if not shown>,
"currency": "<ISO 4217 code, empty string if unknown>",
"is_available": <true if the item can still be bought>,
"is_sold": <true if the page says the item was sold>}
No prose, no markdown.`

// Options configures a Client.
type Options struct {
	// BaseURL is the API root, e.g. "https://api.openai.com/v1".
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client implements domain.ListingInferrer against any OpenAI-compatible
// chat completions API.
type Client struct {
	opts       Options
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates an inference client.
func NewClient(opts Options, logger *slog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Model == "" {
		opts.Model = "gpt-4o-mini"
	}
	return &Client{
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.Timeout},
		logger:     logger.With(slog.String("component", "infer")),
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

type inferredPayload struct {
	Price       *float64 `json:"price"`
	Currency    string   `json:"currency"`
	IsAvailable *bool    `json:"is_available"`
	IsSold      *bool    `json:"is_sold"`
}

// Infer sends the page text to the model and validates the structured reply.
func (c *Client) Infer(ctx context.Context, url, pageText, pageTitle string) (domain.InferredListing, error) {
	user := fmt.Sprintf("URL: %s\nTitle: %s\n\nPage text:\n%s", url, pageTitle, pageText)

	reqBody, err := json.Marshal(chatRequest{
		Model: c.opts.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return domain.InferredListing{}, fmt.Errorf("infer: encode request: %w", err)
	}

	endpoint := strings.TrimRight(c.opts.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return domain.InferredListing{}, fmt.Errorf("infer: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.InferredListing{}, fmt.Errorf("infer: request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.InferredListing{}, fmt.Errorf("infer: read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return domain.InferredListing{}, fmt.Errorf("infer: HTTP 429: %w", domain.ErrRateLimited)
	}

	var chat chatResponse
	if err := json.Unmarshal(body, &chat); err != nil {
		return domain.InferredListing{}, fmt.Errorf("infer: decode response (HTTP %d): %w", resp.StatusCode, err)
	}
	if chat.Error != nil {
		if chat.Error.Type == "insufficient_quota" {
			return domain.InferredListing{}, fmt.Errorf("infer: %s: %w", chat.Error.Message, domain.ErrRateLimited)
		}
		return domain.InferredListing{}, fmt.Errorf("infer: provider error (%s): %s", chat.Error.Type, chat.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.InferredListing{}, fmt.Errorf("infer: HTTP %d", resp.StatusCode)
	}
	if len(chat.Choices) == 0 {
		return domain.InferredListing{}, fmt.Errorf("infer: empty choices: %w", domain.ErrInvalidInference)
	}

	return parseContent(chat.Choices[0].Message.Content)
}

// parseContent validates the model's reply. Models occasionally wrap JSON in
// a markdown fence despite instructions, so fences are stripped first.
func parseContent(content string) (domain.InferredListing, error) {
	content = stripFence(strings.TrimSpace(content))

	var p inferredPayload
	if err := json.Unmarshal([]byte(content), &p); err != nil {
		return domain.InferredListing{}, fmt.Errorf("infer: parse %q: %w", truncate(content, 80), domain.ErrInvalidInference)
	}
	if p.Price == nil || p.IsAvailable == nil || p.IsSold == nil {
		return domain.InferredListing{}, fmt.Errorf("infer: missing fields in %q: %w", truncate(content, 80), domain.ErrInvalidInference)
	}
	if *p.Price < 0 {
		return domain.InferredListing{}, fmt.Errorf("infer: negative price: %w", domain.ErrInvalidInference)
	}

	return domain.InferredListing{
		Price:       *p.Price,
		Currency:    strings.ToUpper(strings.TrimSpace(p.Currency)),
		IsAvailable: *p.IsAvailable,
		IsSold:      *p.IsSold,
	}, nil
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
