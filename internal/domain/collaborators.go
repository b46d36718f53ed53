package domain

import "context"

// PageSnapshot is the result of fetching a listing page.
type PageSnapshot struct {
	// Expired is set when the marketplace reports the listing as gone
	// (404/410). This is a terminal success for the refresher, not an error.
	Expired     bool
	StatusCode  int
	TextContent string
	PageTitle   string
}

// OK reports whether the fetch produced a readable page.
func (s PageSnapshot) OK() bool {
	return !s.Expired && s.StatusCode >= 200 && s.StatusCode < 300
}

// PageFetcher retrieves a listing page and reduces it to text. Transport
// failures are returned as *FetchError; HTTP error statuses come back in the
// snapshot. Implementations must guarantee bounded latency.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (PageSnapshot, error)
}

// InferredListing is the validated output of the inference collaborator.
type InferredListing struct {
	Price       float64
	Currency    string
	IsAvailable bool
	IsSold      bool
}

// ListingInferrer turns page text into a price/availability reading. It
// returns ErrRateLimited (wrapped) when the provider's quota is exhausted
// and ErrInvalidInference (wrapped) when the response cannot be validated.
type ListingInferrer interface {
	Infer(ctx context.Context, url, pageText, pageTitle string) (InferredListing, error)
}
