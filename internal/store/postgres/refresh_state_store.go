package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/listingwatch/listingwatch/internal/domain"
)

// RefreshStateStore persists the singleton refresh-state record as a JSONB
// document in a single-row table.
type RefreshStateStore struct {
	pool *pgxpool.Pool
}

// NewRefreshStateStore creates a RefreshStateStore backed by the given pool.
func NewRefreshStateStore(pool *pgxpool.Pool) *RefreshStateStore {
	return &RefreshStateStore{pool: pool}
}

// Get returns the current refresh state. A missing row yields the zero
// state, not an error: the engine bootstraps it on first write.
func (s *RefreshStateStore) Get(ctx context.Context) (domain.RefreshState, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT state FROM refresh_state WHERE id = TRUE`).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RefreshState{}, nil
	}
	if err != nil {
		return domain.RefreshState{}, fmt.Errorf("postgres: get refresh state: %w", err)
	}

	var st domain.RefreshState
	if err := json.Unmarshal(raw, &st); err != nil {
		return domain.RefreshState{}, fmt.Errorf("postgres: decode refresh state: %w", err)
	}
	return st, nil
}

// Put replaces the refresh state.
func (s *RefreshStateStore) Put(ctx context.Context, st domain.RefreshState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("postgres: encode refresh state: %w", err)
	}

	const query = `
		INSERT INTO refresh_state (id, state, updated_at)
		VALUES (TRUE, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET
			state      = EXCLUDED.state,
			updated_at = NOW()`

	if _, err := s.pool.Exec(ctx, query, raw); err != nil {
		return fmt.Errorf("postgres: put refresh state: %w", err)
	}
	return nil
}
