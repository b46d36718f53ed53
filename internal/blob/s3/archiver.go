package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/listingwatch/listingwatch/internal/domain"
)

// ClosedListingSource provides read access to closed listings for archival.
// The Postgres ListingStore satisfies it; the archiver needs nothing else
// from the store.
type ClosedListingSource interface {
	ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Listing, error)
}

// ArchiveImpl implements domain.Archiver by querying listings that have aged
// out of the grace period, serializing them to JSONL, and uploading the
// result to S3.
//
// Deletion of the archived rows from the primary store is intentionally NOT
// performed here. That is a separate, explicit step to be executed after the
// archive has been verified.
type ArchiveImpl struct {
	writer   domain.BlobWriter
	listings ClosedListingSource
	logger   *slog.Logger
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, listings ClosedListingSource, logger *slog.Logger) *ArchiveImpl {
	return &ArchiveImpl{
		writer:   writer,
		listings: listings,
		logger:   logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveClosedListings queries ended/sold listings whose status change
// predates the cutoff, serializes them (price history included) to JSONL,
// and uploads the file at archive/listings/YYYY-MM.jsonl. It returns the
// number of archived records.
func (a *ArchiveImpl) ArchiveClosedListings(ctx context.Context, before time.Time) (int64, error) {
	listings, err := a.listings.ListClosedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive listings query: %w", err)
	}
	if len(listings) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(listings)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive listings marshal: %w", err)
	}

	path := archivePath("listings", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive listings upload: %w", err)
	}

	count := int64(len(listings))
	a.logger.InfoContext(ctx, "archived closed listings",
		slog.String("path", path),
		slog.Int64("count", count),
		slog.Time("before", before),
	)
	return count, nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/listings/2026-08.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON, one
// compact line per record.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
