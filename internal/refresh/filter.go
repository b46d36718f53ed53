package refresh

import (
	"time"

	"github.com/listingwatch/listingwatch/internal/domain"
)

// IsEligible decides whether a listing should still be refreshed. Active
// listings always are. Ended/sold listings are refreshed only while inside
// the grace period: now - reference < graceDays, strictly — a listing whose
// reference timestamp is exactly graceDays old is excluded. The reference is
// StatusChangedAt, falling back to LastSeenAt for records created before
// status-change tracking existed. A closed listing with neither timestamp
// has never been observed and stays eligible until a refresh stamps it.
func IsEligible(l domain.Listing, graceDays int, now time.Time) bool {
	if !l.Status.Closed() {
		return true
	}

	ref := l.StatusChangedAt
	if ref == nil {
		ref = l.LastSeenAt
	}
	if ref == nil {
		return true
	}

	grace := time.Duration(graceDays) * 24 * time.Hour
	return now.Sub(*ref) < grace
}

// FilterForRefresh applies IsEligible to the whole set, preserving order.
func FilterForRefresh(listings []domain.Listing, graceDays int, now time.Time) []domain.Listing {
	out := make([]domain.Listing, 0, len(listings))
	for _, l := range listings {
		if IsEligible(l, graceDays, now) {
			out = append(out, l)
		}
	}
	return out
}
