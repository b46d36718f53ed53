package refresh

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listingwatch/listingwatch/internal/domain"
)

type memListings struct {
	items   []domain.Listing
	updated []domain.Listing
}

func (s *memListings) Create(ctx context.Context, l domain.Listing) error { return nil }
func (s *memListings) Update(ctx context.Context, l domain.Listing) error {
	s.updated = append(s.updated, l)
	return nil
}
func (s *memListings) GetByID(ctx context.Context, id string) (domain.Listing, error) {
	for _, l := range s.items {
		if l.ID == id {
			return l, nil
		}
	}
	return domain.Listing{}, domain.ErrNotFound
}
func (s *memListings) List(ctx context.Context) ([]domain.Listing, error) { return s.items, nil }
func (s *memListings) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Listing, error) {
	return nil, nil
}
func (s *memListings) Delete(ctx context.Context, id string) error { return nil }
func (s *memListings) Count(ctx context.Context) (int64, error)    { return int64(len(s.items)), nil }

type memStates struct {
	st   domain.RefreshState
	puts []domain.RefreshState
}

func (s *memStates) Get(ctx context.Context) (domain.RefreshState, error) { return s.st, nil }
func (s *memStates) Put(ctx context.Context, st domain.RefreshState) error {
	s.st = st
	s.puts = append(s.puts, st)
	return nil
}

type memSettings struct{ s domain.Settings }

func (m *memSettings) Get(ctx context.Context) (domain.Settings, error) { return m.s, nil }
func (m *memSettings) Put(ctx context.Context, s domain.Settings) error {
	m.s = s
	return nil
}

type memLocks struct {
	held     bool
	acquired int
}

func (m *memLocks) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if m.held {
		return nil, domain.ErrLockHeld
	}
	m.held = true
	m.acquired++
	return func() { m.held = false }, nil
}

type recordedNote struct{ event, title, message string }

type memNotifier struct{ notes []recordedNote }

func (m *memNotifier) Notify(ctx context.Context, event, title, message string) error {
	m.notes = append(m.notes, recordedNote{event, title, message})
	return nil
}

// scriptedInferrer returns a result keyed by listing URL.
type scriptedInferrer struct {
	results map[string]domain.InferredListing
	errs    map[string]error
}

func (i *scriptedInferrer) Infer(ctx context.Context, url, pageText, pageTitle string) (domain.InferredListing, error) {
	if err, ok := i.errs[url]; ok {
		return domain.InferredListing{}, err
	}
	return i.results[url], nil
}

type orchestratorFixture struct {
	orch     *Orchestrator
	listings *memListings
	states   *memStates
	locks    *memLocks
	notifier *memNotifier
}

func newOrchestratorFixture(items []domain.Listing, inferrer domain.ListingInferrer) *orchestratorFixture {
	f := &orchestratorFixture{
		listings: &memListings{items: items},
		states:   &memStates{},
		locks:    &memLocks{},
		notifier: &memNotifier{},
	}
	refresher := NewRefresher(
		&stubFetcher{snap: domain.PageSnapshot{StatusCode: 200, TextContent: "page"}},
		inferrer,
		testLogger(),
	)
	f.orch = NewOrchestrator(
		f.listings,
		f.states,
		&memSettings{s: domain.DefaultSettings()},
		nil, // cache
		f.locks,
		nil, // bus
		refresher,
		f.notifier,
		testLogger(),
		OrchestratorOpts{},
	)
	return f
}

func TestRunBatchHappyPath(t *testing.T) {
	items := []domain.Listing{
		{ID: "a", SourceURL: "https://m/a", Title: "A", CurrentPrice: 100, Currency: "EUR", Status: domain.ListingStatusActive},
		{ID: "b", SourceURL: "https://m/b", Title: "B", CurrentPrice: 200, Currency: "EUR", Status: domain.ListingStatusActive},
	}
	f := newOrchestratorFixture(items, &scriptedInferrer{
		results: map[string]domain.InferredListing{
			"https://m/a": {Price: 90, Currency: "EUR", IsAvailable: true},
			"https://m/b": {Price: 210, Currency: "EUR", IsAvailable: true},
		},
	})

	summary, err := f.orch.RunBatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 0, summary.Failed)
	assert.False(t, summary.RateLimited)

	require.Len(t, f.listings.updated, 2)
	assert.Equal(t, 90.0, f.listings.updated[0].CurrentPrice)

	st := f.states.st
	assert.False(t, st.IsRefreshing)
	assert.Nil(t, st.PendingItems)
	assert.Equal(t, 2, st.LastRefreshCount)
	require.NotNil(t, st.LastRefreshTime)
	require.Len(t, st.RecentlyRefreshed, 2)
	// Newest first.
	assert.Equal(t, "b", st.RecentlyRefreshed[0].ID)
	assert.Equal(t, "a", st.RecentlyRefreshed[1].ID)

	// The run flag must have been visible while items were in flight.
	var sawRefreshing bool
	for _, s := range f.states.puts {
		if s.IsRefreshing {
			sawRefreshing = true
		}
	}
	assert.True(t, sawRefreshing)
	assert.False(t, f.locks.held)

	// Price drop on "a" plus the completion summary.
	events := make([]string, 0, len(f.notifier.notes))
	for _, n := range f.notifier.notes {
		events = append(events, n.event)
	}
	assert.Contains(t, events, "price_drop")
	assert.Contains(t, events, "refresh_completed")
}

func TestRunBatchRateLimitAborts(t *testing.T) {
	items := []domain.Listing{
		{ID: "a", SourceURL: "https://m/a", Status: domain.ListingStatusActive},
		{ID: "b", SourceURL: "https://m/b", Status: domain.ListingStatusActive},
		{ID: "c", SourceURL: "https://m/c", Status: domain.ListingStatusActive},
	}
	f := newOrchestratorFixture(items, &scriptedInferrer{
		results: map[string]domain.InferredListing{
			"https://m/a": {Price: 10, Currency: "EUR", IsAvailable: true},
		},
		errs: map[string]error{"https://m/b": domain.ErrRateLimited},
	})

	summary, err := f.orch.RunBatch(context.Background())
	require.NoError(t, err)

	assert.True(t, summary.RateLimited)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 0, summary.Failed)

	// Only the first item was persisted; the rate-limited one and everything
	// after it are untouched.
	require.Len(t, f.listings.updated, 1)
	assert.Equal(t, "a", f.listings.updated[0].ID)

	st := f.states.st
	assert.False(t, st.IsRefreshing)
	assert.Equal(t, 1, st.LastRefreshCount)

	events := make([]string, 0, len(f.notifier.notes))
	for _, n := range f.notifier.notes {
		events = append(events, n.event)
	}
	assert.Contains(t, events, "rate_limited")
	assert.NotContains(t, events, "refresh_completed")
}

func TestRunBatchPerItemErrorContinues(t *testing.T) {
	items := []domain.Listing{
		{ID: "a", SourceURL: "https://m/a", Status: domain.ListingStatusActive},
		{ID: "b", SourceURL: "https://m/b", Status: domain.ListingStatusActive},
	}
	f := newOrchestratorFixture(items, &scriptedInferrer{
		results: map[string]domain.InferredListing{
			"https://m/b": {Price: 20, Currency: "EUR", IsAvailable: true},
		},
		errs: map[string]error{"https://m/a": domain.ErrInvalidInference},
	})

	summary, err := f.orch.RunBatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.False(t, summary.RateLimited)
	// Both items were persisted: the failure with its error message, the
	// success with its update.
	require.Len(t, f.listings.updated, 2)
	assert.Equal(t, domain.RefreshResultError, f.listings.updated[0].LastRefreshStatus)
	assert.Equal(t, domain.RefreshResultSuccess, f.listings.updated[1].LastRefreshStatus)
}

func TestRunBatchLockHeld(t *testing.T) {
	f := newOrchestratorFixture(nil, &scriptedInferrer{})
	f.locks.held = true

	_, err := f.orch.RunBatch(context.Background())
	assert.ErrorIs(t, err, domain.ErrRefreshInProgress)
}

func TestRunBatchSkipsAgedOutListings(t *testing.T) {
	old := time.Now().UTC().Add(-10 * 24 * time.Hour)
	items := []domain.Listing{
		{ID: "a", SourceURL: "https://m/a", Status: domain.ListingStatusActive},
		{ID: "gone", SourceURL: "https://m/gone", Status: domain.ListingStatusSold, StatusChangedAt: &old},
	}
	f := newOrchestratorFixture(items, &scriptedInferrer{
		results: map[string]domain.InferredListing{
			"https://m/a": {Price: 10, Currency: "EUR", IsAvailable: true},
		},
	})

	summary, err := f.orch.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Total)
	require.Len(t, f.listings.updated, 1)
	assert.Equal(t, "a", f.listings.updated[0].ID)
}
