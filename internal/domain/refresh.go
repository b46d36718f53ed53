package domain

import "time"

// ItemState tracks one entry of an in-progress batch run.
type ItemState string

const (
	ItemStatePending    ItemState = "pending"
	ItemStateRefreshing ItemState = "refreshing"
	ItemStateSuccess    ItemState = "success"
	ItemStateError      ItemState = "error"
)

// MaxRecentlyRefreshed bounds the RecentlyRefreshed ring in RefreshState.
const MaxRecentlyRefreshed = 50

// PendingItem is a single entry of the current run's work list.
type PendingItem struct {
	ID    string    `json:"id"`
	Title string    `json:"title"`
	URL   string    `json:"url"`
	State ItemState `json:"state"`
}

// RecentItem is a completed refresh, kept for UI display.
type RecentItem struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	State     ItemState `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

// RefreshState is the singleton run-state record. The orchestrator is the
// only writer; the scheduler and the API read it.
type RefreshState struct {
	IsRefreshing bool `json:"is_refreshing"`
	// CurrentIndex and TotalCount describe progress through the sorted work
	// list of the in-progress run: 0 <= CurrentIndex <= TotalCount.
	CurrentIndex int `json:"current_index"`
	TotalCount   int `json:"total_count"`
	// PendingItems mirrors the sorted work list while a run is in progress
	// and is cleared on completion.
	PendingItems []PendingItem `json:"pending_items,omitempty"`
	// RecentlyRefreshed holds the most recent completions, newest first,
	// capped at MaxRecentlyRefreshed.
	RecentlyRefreshed []RecentItem `json:"recently_refreshed,omitempty"`
	LastRefreshTime   *time.Time   `json:"last_refresh_time,omitempty"`
	NextRefreshTime   *time.Time   `json:"next_refresh_time,omitempty"`
	// LastRefreshCount is the number of successfully refreshed items in the
	// last completed run.
	LastRefreshCount int `json:"last_refresh_count"`
}

// PushRecent prepends an item to RecentlyRefreshed, dropping the oldest
// entries beyond MaxRecentlyRefreshed.
func (s *RefreshState) PushRecent(item RecentItem) {
	s.RecentlyRefreshed = append([]RecentItem{item}, s.RecentlyRefreshed...)
	if len(s.RecentlyRefreshed) > MaxRecentlyRefreshed {
		s.RecentlyRefreshed = s.RecentlyRefreshed[:MaxRecentlyRefreshed]
	}
}
