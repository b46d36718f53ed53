package domain

import (
	"context"
	"time"
)

// ListingCache provides fast listing lookups in front of the store.
type ListingCache interface {
	Set(ctx context.Context, l Listing) error
	Get(ctx context.Context, id string) (Listing, error)
	Invalidate(ctx context.Context, id string) error
}

// RateLimiter provides distributed rate limiting. The engine uses it to
// throttle outbound marketplace fetches and inbound API requests.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking; the orchestrator holds a lock
// for the duration of a batch run so only one instance refreshes at a time.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub for live UI notifications and durable streams
// for the refresh-event feed.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
