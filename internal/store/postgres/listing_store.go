package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/listingwatch/listingwatch/internal/domain"
)

// ListingStore implements domain.ListingStore using PostgreSQL. Price
// histories are stored as JSONB alongside the row.
type ListingStore struct {
	pool *pgxpool.Pool
}

// NewListingStore creates a ListingStore backed by the given connection pool.
func NewListingStore(pool *pgxpool.Pool) *ListingStore {
	return &ListingStore{pool: pool}
}

const listingColumns = `
	id, source_url, title, current_price, currency, price_history,
	status, status_changed_at, last_seen_at,
	last_refresh_status, last_refresh_error, created_at, updated_at`

// Create inserts a new listing. A duplicate ID or source URL returns
// domain.ErrAlreadyExists.
func (s *ListingStore) Create(ctx context.Context, l domain.Listing) error {
	history, err := marshalHistory(l.PriceHistory)
	if err != nil {
		return fmt.Errorf("postgres: encode history for %s: %w", l.ID, err)
	}

	const query = `
		INSERT INTO listings (
			id, source_url, title, current_price, currency, price_history,
			status, status_changed_at, last_seen_at,
			last_refresh_status, last_refresh_error, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err = s.pool.Exec(ctx, query,
		l.ID, l.SourceURL, l.Title, l.CurrentPrice, l.Currency, history,
		string(l.Status), l.StatusChangedAt, l.LastSeenAt,
		string(l.LastRefreshStatus), l.LastRefreshError, l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("postgres: create listing %s: %w", l.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create listing %s: %w", l.ID, err)
	}
	return nil
}

// Update replaces the stored listing. Updating a missing listing returns
// domain.ErrNotFound.
func (s *ListingStore) Update(ctx context.Context, l domain.Listing) error {
	history, err := marshalHistory(l.PriceHistory)
	if err != nil {
		return fmt.Errorf("postgres: encode history for %s: %w", l.ID, err)
	}

	const query = `
		UPDATE listings SET
			source_url          = $2,
			title               = $3,
			current_price       = $4,
			currency            = $5,
			price_history       = $6,
			status              = $7,
			status_changed_at   = $8,
			last_seen_at        = $9,
			last_refresh_status = $10,
			last_refresh_error  = $11,
			updated_at          = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		l.ID, l.SourceURL, l.Title, l.CurrentPrice, l.Currency, history,
		string(l.Status), l.StatusChangedAt, l.LastSeenAt,
		string(l.LastRefreshStatus), l.LastRefreshError,
	)
	if err != nil {
		return fmt.Errorf("postgres: update listing %s: %w", l.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update listing %s: %w", l.ID, domain.ErrNotFound)
	}
	return nil
}

// GetByID returns a single listing by its ID.
func (s *ListingStore) GetByID(ctx context.Context, id string) (domain.Listing, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, id)

	l, err := scanListing(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Listing{}, fmt.Errorf("postgres: listing %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Listing{}, fmt.Errorf("postgres: get listing %s: %w", id, err)
	}
	return l, nil
}

// List returns all tracked listings ordered by creation time.
func (s *ListingStore) List(ctx context.Context) ([]domain.Listing, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+listingColumns+` FROM listings ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list listings: %w", err)
	}
	defer rows.Close()

	return collectListings(rows)
}

// ListClosedBefore returns ended/sold listings whose status change (or last
// sighting, for legacy rows) happened strictly before the cutoff. Rows with
// neither timestamp are never returned.
func (s *ListingStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Listing, error) {
	const query = `
		SELECT ` + listingColumns + `
		FROM listings
		WHERE status IN ('ended', 'sold')
		  AND COALESCE(status_changed_at, last_seen_at) < $1
		ORDER BY created_at, id`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed listings: %w", err)
	}
	defer rows.Close()

	return collectListings(rows)
}

// Delete removes a listing. Deleting a missing listing returns
// domain.ErrNotFound.
func (s *ListingStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM listings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete listing %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: delete listing %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Count returns the number of tracked listings.
func (s *ListingStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM listings`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count listings: %w", err)
	}
	return n, nil
}

func marshalHistory(history []domain.PricePoint) ([]byte, error) {
	if history == nil {
		history = []domain.PricePoint{}
	}
	return json.Marshal(history)
}

func scanListing(row pgx.Row) (domain.Listing, error) {
	var (
		l       domain.Listing
		history []byte
		status  string
		result  string
	)
	err := row.Scan(
		&l.ID, &l.SourceURL, &l.Title, &l.CurrentPrice, &l.Currency, &history,
		&status, &l.StatusChangedAt, &l.LastSeenAt,
		&result, &l.LastRefreshError, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return domain.Listing{}, err
	}
	l.Status = domain.ListingStatus(status)
	l.LastRefreshStatus = domain.RefreshResult(result)
	if len(history) > 0 {
		if err := json.Unmarshal(history, &l.PriceHistory); err != nil {
			return domain.Listing{}, fmt.Errorf("decode history: %w", err)
		}
	}
	return l, nil
}

func collectListings(rows pgx.Rows) ([]domain.Listing, error) {
	var out []domain.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan listing: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate listings: %w", err)
	}
	return out, nil
}
