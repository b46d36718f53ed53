package domain

import (
	"context"
	"time"
)

// ListingStore persists tracked listings.
type ListingStore interface {
	Create(ctx context.Context, l Listing) error
	Update(ctx context.Context, l Listing) error
	GetByID(ctx context.Context, id string) (Listing, error)
	// List returns all tracked listings ordered by creation time.
	List(ctx context.Context) ([]Listing, error)
	// ListClosedBefore returns ended/sold listings whose status change (or
	// last sighting, for legacy rows) happened strictly before the cutoff.
	ListClosedBefore(ctx context.Context, before time.Time) ([]Listing, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int64, error)
}

// RefreshStateStore persists the singleton RefreshState record.
type RefreshStateStore interface {
	Get(ctx context.Context) (RefreshState, error)
	Put(ctx context.Context, state RefreshState) error
}

// SettingsStore persists the singleton Settings record.
type SettingsStore interface {
	Get(ctx context.Context) (Settings, error)
	Put(ctx context.Context, s Settings) error
}
