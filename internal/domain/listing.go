package domain

import "time"

// ListingStatus represents the lifecycle state of a tracked listing.
type ListingStatus string

const (
	ListingStatusActive ListingStatus = "active"
	ListingStatusEnded  ListingStatus = "ended"
	ListingStatusSold   ListingStatus = "sold"
)

// Closed reports whether the status is a terminal marketplace state
// (ended or sold) as opposed to an active listing.
func (s ListingStatus) Closed() bool {
	return s == ListingStatusEnded || s == ListingStatusSold
}

// RefreshResult is the outcome of the most recent refresh attempt on a
// listing.
type RefreshResult string

const (
	RefreshResultNone    RefreshResult = "none"
	RefreshResultSuccess RefreshResult = "success"
	RefreshResultError   RefreshResult = "error"
)

// PricePoint is a single daily price observation. Histories hold at most one
// point per UTC calendar day, ordered by Date ascending.
type PricePoint struct {
	Date     time.Time `json:"date"`
	Price    float64   `json:"price"`
	Currency string    `json:"currency"`
}

// Listing is one tracked marketplace item.
type Listing struct {
	ID           string
	SourceURL    string
	Title        string
	CurrentPrice float64
	Currency     string
	PriceHistory []PricePoint
	Status       ListingStatus
	// StatusChangedAt records the last status transition. Nil for records
	// created before status-change tracking existed.
	StatusChangedAt *time.Time
	// LastSeenAt is the completion time of the last refresh attempt,
	// successful or not. Nil for never-refreshed listings.
	LastSeenAt        *time.Time
	LastRefreshStatus RefreshResult
	// LastRefreshError holds the failure reason; empty unless
	// LastRefreshStatus is RefreshResultError.
	LastRefreshError string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NeverRefreshed reports whether the listing has not completed any refresh
// attempt yet.
func (l Listing) NeverRefreshed() bool {
	return l.LastSeenAt == nil || l.LastRefreshStatus == "" || l.LastRefreshStatus == RefreshResultNone
}
