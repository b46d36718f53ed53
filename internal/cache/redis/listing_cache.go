package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/listingwatch/listingwatch/internal/domain"
	"github.com/redis/go-redis/v9"
)

const listingTTL = 5 * time.Minute

// ListingCache implements domain.ListingCache using JSON-serialized listings
// under per-ID keys with a short TTL. It sits in front of the Postgres store
// for read-heavy API traffic; the orchestrator invalidates entries as it
// updates rows.
type ListingCache struct {
	rdb *redis.Client
}

// NewListingCache creates a ListingCache backed by the given Client.
func NewListingCache(c *Client) *ListingCache {
	return &ListingCache{rdb: c.Underlying()}
}

func listingCacheKey(id string) string { return "listing:" + id }

// Set stores a listing with a 5-minute TTL.
func (lc *ListingCache) Set(ctx context.Context, l domain.Listing) error {
	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("redis: marshal listing %s: %w", l.ID, err)
	}
	if err := lc.rdb.Set(ctx, listingCacheKey(l.ID), data, listingTTL).Err(); err != nil {
		return fmt.Errorf("redis: set listing %s: %w", l.ID, err)
	}
	return nil
}

// Get retrieves a listing by ID. It returns domain.ErrNotFound when the key
// does not exist or has expired.
func (lc *ListingCache) Get(ctx context.Context, id string) (domain.Listing, error) {
	data, err := lc.rdb.Get(ctx, listingCacheKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Listing{}, domain.ErrNotFound
		}
		return domain.Listing{}, fmt.Errorf("redis: get listing %s: %w", id, err)
	}

	var l domain.Listing
	if err := json.Unmarshal(data, &l); err != nil {
		return domain.Listing{}, fmt.Errorf("redis: unmarshal listing %s: %w", id, err)
	}
	return l, nil
}

// Invalidate drops the cached entry for a listing. Invalidating a missing
// entry is not an error.
func (lc *ListingCache) Invalidate(ctx context.Context, id string) error {
	if err := lc.rdb.Del(ctx, listingCacheKey(id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate listing %s: %w", id, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.ListingCache = (*ListingCache)(nil)
