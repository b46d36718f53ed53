package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/listingwatch/listingwatch/internal/domain"
)

// SettingsStore persists the singleton settings record.
type SettingsStore struct {
	pool *pgxpool.Pool
}

// NewSettingsStore creates a SettingsStore backed by the given pool.
func NewSettingsStore(pool *pgxpool.Pool) *SettingsStore {
	return &SettingsStore{pool: pool}
}

// Get returns the stored settings, clamped to their documented bounds. A
// missing row yields the defaults.
func (s *SettingsStore) Get(ctx context.Context) (domain.Settings, error) {
	var out domain.Settings
	err := s.pool.QueryRow(ctx, `
		SELECT check_frequency_minutes, ended_grace_period_days, api_key
		FROM settings WHERE id = TRUE`,
	).Scan(&out.CheckFrequencyMinutes, &out.EndedGracePeriodDays, &out.APIKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DefaultSettings(), nil
	}
	if err != nil {
		return domain.Settings{}, fmt.Errorf("postgres: get settings: %w", err)
	}

	out.Clamp()
	return out, nil
}

// Put replaces the stored settings after clamping them to bounds.
func (s *SettingsStore) Put(ctx context.Context, in domain.Settings) error {
	in.Clamp()

	const query = `
		INSERT INTO settings (id, check_frequency_minutes, ended_grace_period_days, api_key, updated_at)
		VALUES (TRUE, $1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE SET
			check_frequency_minutes = EXCLUDED.check_frequency_minutes,
			ended_grace_period_days = EXCLUDED.ended_grace_period_days,
			api_key                 = EXCLUDED.api_key,
			updated_at              = NOW()`

	if _, err := s.pool.Exec(ctx, query, in.CheckFrequencyMinutes, in.EndedGracePeriodDays, in.APIKey); err != nil {
		return fmt.Errorf("postgres: put settings: %w", err)
	}
	return nil
}
