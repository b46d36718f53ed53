// Package refresh implements the listing refresh engine: the daily price
// history consolidator, the grace-period filter, the priority sorter, the
// per-listing refresher, the batch orchestrator, and the scheduler that
// drives recurring runs.
package refresh

import (
	"slices"
	"time"

	"github.com/listingwatch/listingwatch/internal/domain"
)

// dayKey reduces a timestamp to its UTC calendar day.
func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// UpdateDaily merges a new price observation into a history, keeping at most
// one entry per UTC calendar day. If the last entry is from today it is
// replaced (newest price and timestamp win); otherwise a new entry is
// appended. The input slice is never mutated.
func UpdateDaily(history []domain.PricePoint, price float64, currency string, now time.Time) []domain.PricePoint {
	entry := domain.PricePoint{Date: now, Price: price, Currency: currency}

	if len(history) == 0 {
		return []domain.PricePoint{entry}
	}

	out := make([]domain.PricePoint, len(history))
	copy(out, history)

	if dayKey(out[len(out)-1].Date) == dayKey(now) {
		out[len(out)-1] = entry
		return out
	}
	return append(out, entry)
}

// Consolidate repairs a legacy history that may contain multiple entries for
// the same calendar day, keeping the chronologically latest entry per day.
// The result is ordered by date ascending and the input is never mutated.
// Consolidating an already-consolidated history returns an equal history.
func Consolidate(history []domain.PricePoint) []domain.PricePoint {
	if len(history) == 0 {
		return nil
	}

	byDay := make(map[string]domain.PricePoint, len(history))
	for _, p := range history {
		key := dayKey(p.Date)
		if kept, ok := byDay[key]; !ok || !p.Date.Before(kept.Date) {
			byDay[key] = p
		}
	}

	out := make([]domain.PricePoint, 0, len(byDay))
	for _, p := range byDay {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b domain.PricePoint) int {
		return a.Date.Compare(b.Date)
	})
	return out
}
