package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads objects to cold storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver moves listings that have aged out of the grace period into cold
// storage. The archive is written before any row is removed from the
// primary store; removal is a separate, explicit step.
type Archiver interface {
	// ArchiveClosedListings archives ended/sold listings whose status change
	// predates the cutoff and returns the number of archived records.
	ArchiveClosedListings(ctx context.Context, before time.Time) (int64, error)
}
