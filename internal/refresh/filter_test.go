package refresh

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/listingwatch/listingwatch/internal/domain"
)

func TestIsEligible(t *testing.T) {
	now := date("2026-08-28T12:00:00Z")
	twoDaysAgo := now.Add(-2 * 24 * time.Hour)
	exactlyThreeDays := now.Add(-3 * 24 * time.Hour)
	fourDaysAgo := now.Add(-4 * 24 * time.Hour)

	tests := []struct {
		name    string
		listing domain.Listing
		want    bool
	}{
		{
			name:    "active listing always eligible",
			listing: domain.Listing{Status: domain.ListingStatusActive, StatusChangedAt: &fourDaysAgo},
			want:    true,
		},
		{
			name:    "ended inside grace period",
			listing: domain.Listing{Status: domain.ListingStatusEnded, StatusChangedAt: &twoDaysAgo},
			want:    true,
		},
		{
			name:    "ended exactly at boundary is excluded",
			listing: domain.Listing{Status: domain.ListingStatusEnded, StatusChangedAt: &exactlyThreeDays},
			want:    false,
		},
		{
			name:    "sold past grace period",
			listing: domain.Listing{Status: domain.ListingStatusSold, StatusChangedAt: &fourDaysAgo},
			want:    false,
		},
		{
			name: "legacy row falls back to last seen",
			listing: domain.Listing{
				Status:     domain.ListingStatusEnded,
				LastSeenAt: &fourDaysAgo,
			},
			want: false,
		},
		{
			name:    "closed with no timestamps stays eligible",
			listing: domain.Listing{Status: domain.ListingStatusEnded},
			want:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsEligible(tt.listing, 3, now))
		})
	}
}

func TestFilterForRefreshPreservesOrder(t *testing.T) {
	now := date("2026-08-28T12:00:00Z")
	old := now.Add(-10 * 24 * time.Hour)

	in := []domain.Listing{
		{ID: "a", Status: domain.ListingStatusActive},
		{ID: "b", Status: domain.ListingStatusSold, StatusChangedAt: &old},
		{ID: "c", Status: domain.ListingStatusActive},
	}
	got := FilterForRefresh(in, 3, now)
	assert.Equal(t, []string{"a", "c"}, []string{got[0].ID, got[1].ID})
}
