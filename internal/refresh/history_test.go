package refresh

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listingwatch/listingwatch/internal/domain"
)

func date(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestUpdateDaily(t *testing.T) {
	tests := []struct {
		name    string
		history []domain.PricePoint
		price   float64
		now     time.Time
		want    []float64 // expected prices in order
	}{
		{
			name:  "empty history gets single entry",
			price: 100,
			now:   date("2026-08-28T10:00:00Z"),
			want:  []float64{100},
		},
		{
			name: "same day replaces last entry",
			history: []domain.PricePoint{
				{Date: date("2026-08-27T09:00:00Z"), Price: 120, Currency: "EUR"},
				{Date: date("2026-08-28T09:00:00Z"), Price: 110, Currency: "EUR"},
			},
			price: 105,
			now:   date("2026-08-28T18:00:00Z"),
			want:  []float64{120, 105},
		},
		{
			name: "new day appends",
			history: []domain.PricePoint{
				{Date: date("2026-08-27T09:00:00Z"), Price: 120, Currency: "EUR"},
			},
			price: 110,
			now:   date("2026-08-28T09:00:00Z"),
			want:  []float64{120, 110},
		},
		{
			name: "day boundary is UTC",
			history: []domain.PricePoint{
				{Date: date("2026-08-27T23:30:00Z"), Price: 120, Currency: "EUR"},
			},
			price: 110,
			// 00:30 UTC next day, even though it is the same local evening
			// in UTC-2.
			now:  date("2026-08-28T00:30:00Z"),
			want: []float64{120, 110},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := UpdateDaily(tt.history, tt.price, "EUR", tt.now)
			require.Len(t, got, len(tt.want))
			for i, p := range tt.want {
				assert.Equal(t, p, got[i].Price)
			}
		})
	}
}

func TestUpdateDailyDoesNotMutateInput(t *testing.T) {
	history := []domain.PricePoint{
		{Date: date("2026-08-28T09:00:00Z"), Price: 110, Currency: "EUR"},
	}
	_ = UpdateDaily(history, 95, "EUR", date("2026-08-28T18:00:00Z"))
	assert.Equal(t, 110.0, history[0].Price)
}

func TestConsolidate(t *testing.T) {
	t.Run("empty returns nil", func(t *testing.T) {
		assert.Nil(t, Consolidate(nil))
		assert.Nil(t, Consolidate([]domain.PricePoint{}))
	})

	t.Run("keeps latest entry per day", func(t *testing.T) {
		got := Consolidate([]domain.PricePoint{
			{Date: date("2026-08-27T09:00:00Z"), Price: 120},
			{Date: date("2026-08-27T15:00:00Z"), Price: 115},
			{Date: date("2026-08-27T12:00:00Z"), Price: 118},
			{Date: date("2026-08-28T09:00:00Z"), Price: 110},
		})
		require.Len(t, got, 2)
		assert.Equal(t, 115.0, got[0].Price)
		assert.Equal(t, 110.0, got[1].Price)
	})

	t.Run("sorts out-of-order days ascending", func(t *testing.T) {
		got := Consolidate([]domain.PricePoint{
			{Date: date("2026-08-28T09:00:00Z"), Price: 110},
			{Date: date("2026-08-26T09:00:00Z"), Price: 130},
			{Date: date("2026-08-27T09:00:00Z"), Price: 120},
		})
		require.Len(t, got, 3)
		assert.Equal(t, 130.0, got[0].Price)
		assert.Equal(t, 120.0, got[1].Price)
		assert.Equal(t, 110.0, got[2].Price)
	})

	t.Run("idempotent", func(t *testing.T) {
		once := Consolidate([]domain.PricePoint{
			{Date: date("2026-08-27T09:00:00Z"), Price: 120},
			{Date: date("2026-08-27T15:00:00Z"), Price: 115},
		})
		twice := Consolidate(once)
		assert.Equal(t, once, twice)
	})
}
