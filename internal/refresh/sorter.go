package refresh

import (
	"slices"
	"time"

	"github.com/listingwatch/listingwatch/internal/domain"
)

// priorityTier buckets a listing for refresh ordering. Lower is refreshed
// first: unseen items before anything else, then items whose last refresh
// succeeded, then items already known to be failing — so a systemic failure
// cannot starve healthy items.
func priorityTier(l domain.Listing) int {
	switch {
	case l.NeverRefreshed():
		return 0
	case l.LastRefreshStatus == domain.RefreshResultSuccess:
		return 1
	default:
		return 2
	}
}

// lastSeen returns the listing's LastSeenAt, treating nil as the epoch so
// unseen items compare as oldest.
func lastSeen(l domain.Listing) time.Time {
	if l.LastSeenAt == nil {
		return time.Time{}
	}
	return *l.LastSeenAt
}

// SortByPriority returns a new slice ordered for refreshing: by tier, then
// by ascending LastSeenAt (oldest first). The input is never mutated.
func SortByPriority(listings []domain.Listing) []domain.Listing {
	out := make([]domain.Listing, len(listings))
	copy(out, listings)

	slices.SortStableFunc(out, func(a, b domain.Listing) int {
		if ta, tb := priorityTier(a), priorityTier(b); ta != tb {
			return ta - tb
		}
		return lastSeen(a).Compare(lastSeen(b))
	})
	return out
}
