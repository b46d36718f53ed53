// Package fetch retrieves marketplace listing pages and reduces them to the
// plain text the inference layer consumes.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/listingwatch/listingwatch/internal/domain"
)

const (
	// defaultMaxBodyBytes caps how much of a listing page is read. Pages
	// larger than this are truncated, not rejected.
	defaultMaxBodyBytes = 2 << 20

	// defaultMaxTextRunes caps the extracted text handed to inference.
	defaultMaxTextRunes = 12000

	// throttlePollInterval is how often a throttled fetch re-checks the
	// per-host budget.
	throttlePollInterval = 500 * time.Millisecond
)

// blockedMarkers are substrings whose presence in an otherwise-OK response
// indicates an anti-bot interstitial rather than the listing page.
var blockedMarkers = []string{
	"captcha",
	"are you a robot",
	"access denied",
	"unusual traffic",
}

// Options configures a Client.
type Options struct {
	// Timeout bounds a single page fetch end to end.
	Timeout time.Duration
	// UserAgent is sent on every request. A browser-like default is used
	// when empty; marketplaces reject obvious bot agents.
	UserAgent string
	// HostRequestsPerMinute throttles fetches per marketplace host via the
	// shared rate limiter. Zero disables throttling.
	HostRequestsPerMinute int
	MaxBodyBytes          int64
}

// Client fetches listing pages over HTTP. It implements domain.PageFetcher.
type Client struct {
	httpClient *http.Client
	limiter    domain.RateLimiter
	logger     *slog.Logger
	opts       Options
}

// NewClient creates a page fetch client. limiter may be nil to disable
// per-host throttling.
func NewClient(limiter domain.RateLimiter, logger *slog.Logger, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0"
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	return &Client{
		httpClient: &http.Client{Timeout: opts.Timeout},
		limiter:    limiter,
		logger:     logger.With(slog.String("component", "fetch")),
		opts:       opts,
	}
}

// Fetch retrieves the page at rawURL and reduces it to a PageSnapshot.
// Transport failures and blocked requests come back as *domain.FetchError;
// HTTP error statuses are reported inside the snapshot.
func (c *Client) Fetch(ctx context.Context, rawURL string) (domain.PageSnapshot, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return domain.PageSnapshot{}, &domain.FetchError{URL: rawURL, Err: fmt.Errorf("invalid url: %w", err)}
	}

	if err := c.throttle(ctx, u.Host); err != nil {
		return domain.PageSnapshot{}, &domain.FetchError{URL: rawURL, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return domain.PageSnapshot{}, &domain.FetchError{URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.7")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.PageSnapshot{}, &domain.FetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		c.logger.DebugContext(ctx, "listing page gone",
			slog.String("url", rawURL),
			slog.Int("status", resp.StatusCode),
		)
		return domain.PageSnapshot{Expired: true, StatusCode: resp.StatusCode}, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.opts.MaxBodyBytes))
	if err != nil {
		return domain.PageSnapshot{}, &domain.FetchError{URL: rawURL, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return domain.PageSnapshot{}, &domain.FetchError{URL: rawURL, Blocked: true, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}

	title, text := extractText(body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 && looksBlocked(title, text) {
		return domain.PageSnapshot{}, &domain.FetchError{URL: rawURL, Blocked: true, Err: fmt.Errorf("anti-bot interstitial")}
	}

	return domain.PageSnapshot{
		StatusCode:  resp.StatusCode,
		PageTitle:   title,
		TextContent: truncateRunes(text, defaultMaxTextRunes),
	}, nil
}

// throttle blocks until the per-host fetch budget admits a request or ctx is
// cancelled.
func (c *Client) throttle(ctx context.Context, host string) error {
	if c.limiter == nil || c.opts.HostRequestsPerMinute <= 0 {
		return nil
	}
	key := "fetch:" + host
	for {
		ok, err := c.limiter.Allow(ctx, key, c.opts.HostRequestsPerMinute, time.Minute)
		if err != nil {
			// A broken limiter must not stop refreshes.
			c.logger.WarnContext(ctx, "rate limiter unavailable",
				slog.String("host", host),
				slog.String("error", err.Error()),
			)
			return nil
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(throttlePollInterval):
		}
	}
}

func looksBlocked(title, text string) bool {
	probe := strings.ToLower(title)
	// Interstitials are near-empty pages; only probe short bodies so a
	// legitimate listing mentioning "captcha" is not misflagged.
	if len(text) < 2000 {
		probe += " " + strings.ToLower(text)
	}
	for _, m := range blockedMarkers {
		if strings.Contains(probe, m) {
			return true
		}
	}
	return false
}

// skipElements are HTML subtrees that carry no listing content.
var skipElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"svg":      true,
	"iframe":   true,
	"head":     false, // traversed for <title>, text skipped below
}

// extractText tokenizes HTML and returns the document title and the visible
// text with whitespace collapsed.
func extractText(body []byte) (title, text string) {
	tz := html.NewTokenizer(strings.NewReader(string(body)))

	var sb strings.Builder
	var inTitle bool
	skipDepth := 0

	for {
		tt := tz.Next()
		switch tt {
		case html.ErrorToken:
			return title, collapseWhitespace(sb.String())

		case html.StartTagToken:
			name, _ := tz.TagName()
			tag := string(name)
			if tag == "title" {
				inTitle = true
			}
			if skip, known := skipElements[tag]; known && skip {
				skipDepth++
			}

		case html.EndTagToken:
			name, _ := tz.TagName()
			tag := string(name)
			if tag == "title" {
				inTitle = false
			}
			if skip, known := skipElements[tag]; known && skip && skipDepth > 0 {
				skipDepth--
			}

		case html.TextToken:
			t := string(tz.Text())
			if inTitle {
				title = strings.TrimSpace(t)
				continue
			}
			if skipDepth == 0 {
				sb.WriteString(t)
				sb.WriteByte(' ')
			}
		}
	}
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
