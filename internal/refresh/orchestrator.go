package refresh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/listingwatch/listingwatch/internal/domain"
)

const (
	// refreshLockKey guards the batch run across instances.
	refreshLockKey = "listingwatch:refresh:lock"

	// ChannelRefreshStatus carries RefreshState snapshots for live UI updates.
	ChannelRefreshStatus = "refresh_status"
	// ChannelListingUpdated carries individual listing updates.
	ChannelListingUpdated = "listing_updated"
	// StreamRefreshEvents is the durable event feed consumed by the API.
	StreamRefreshEvents = "refresh:events"
)

// EventNotifier receives operator-facing notifications. *notify.Notifier
// satisfies it; tests use a stub.
type EventNotifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// RunSummary describes one completed (or aborted) batch run.
type RunSummary struct {
	Total       int           `json:"total"`
	Succeeded   int           `json:"succeeded"`
	Failed      int           `json:"failed"`
	RateLimited bool          `json:"rate_limited"`
	Duration    time.Duration `json:"duration"`
}

// Event is one entry of the refresh event feed.
type Event struct {
	Type      string    `json:"type"`
	ListingID string    `json:"listing_id,omitempty"`
	Title     string    `json:"title,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Orchestrator runs batch refreshes: it selects and orders the work list,
// refreshes items one at a time, persists every state transition, and
// publishes progress so the UI can follow along. Items are processed
// sequentially; a rate-limit signal from the inference provider aborts the
// batch and leaves the remaining items untouched.
type Orchestrator struct {
	listings  domain.ListingStore
	states    domain.RefreshStateStore
	settings  domain.SettingsStore
	cache     domain.ListingCache
	locks     domain.LockManager
	bus       domain.SignalBus
	refresher *Refresher
	notifier  EventNotifier
	logger    *slog.Logger

	lockTTL   time.Duration
	itemDelay time.Duration
	now       func() time.Time
}

// OrchestratorOpts carries the non-collaborator knobs for an Orchestrator.
type OrchestratorOpts struct {
	// LockTTL bounds how long a crashed run can keep others out.
	LockTTL time.Duration
	// ItemDelay is the pause between consecutive item refreshes.
	ItemDelay time.Duration
}

// NewOrchestrator wires an Orchestrator. The notifier may be nil.
func NewOrchestrator(
	listings domain.ListingStore,
	states domain.RefreshStateStore,
	settings domain.SettingsStore,
	cache domain.ListingCache,
	locks domain.LockManager,
	bus domain.SignalBus,
	refresher *Refresher,
	notifier EventNotifier,
	logger *slog.Logger,
	opts OrchestratorOpts,
) *Orchestrator {
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Minute
	}
	return &Orchestrator{
		listings:  listings,
		states:    states,
		settings:  settings,
		cache:     cache,
		locks:     locks,
		bus:       bus,
		refresher: refresher,
		notifier:  notifier,
		logger:    logger.With(slog.String("component", "orchestrator")),
		lockTTL:   opts.LockTTL,
		itemDelay: opts.ItemDelay,
		now:       time.Now,
	}
}

// RunBatch executes one full refresh pass. It returns
// domain.ErrRefreshInProgress when another run already holds the lock.
func (o *Orchestrator) RunBatch(ctx context.Context) (RunSummary, error) {
	unlock, err := o.locks.Acquire(ctx, refreshLockKey, o.lockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return RunSummary{}, domain.ErrRefreshInProgress
		}
		return RunSummary{}, fmt.Errorf("acquire refresh lock: %w", err)
	}
	defer unlock()

	started := o.now().UTC()

	cfg, err := o.settings.Get(ctx)
	if err != nil {
		return RunSummary{}, fmt.Errorf("load settings: %w", err)
	}

	st, err := o.states.Get(ctx)
	if err != nil {
		return RunSummary{}, fmt.Errorf("load refresh state: %w", err)
	}
	if st.IsRefreshing {
		// We hold the lock, so a lingering IsRefreshing flag means a previous
		// run died mid-batch. Repair it and continue.
		o.logger.WarnContext(ctx, "repairing stale refresh state")
	}

	all, err := o.listings.List(ctx)
	if err != nil {
		return RunSummary{}, fmt.Errorf("list listings: %w", err)
	}

	work := SortByPriority(FilterForRefresh(all, cfg.EndedGracePeriodDays, started))

	st.IsRefreshing = true
	st.CurrentIndex = 0
	st.TotalCount = len(work)
	st.PendingItems = make([]domain.PendingItem, len(work))
	for i, l := range work {
		st.PendingItems[i] = domain.PendingItem{
			ID:    l.ID,
			Title: l.Title,
			URL:   l.SourceURL,
			State: domain.ItemStatePending,
		}
	}
	if err := o.saveState(ctx, &st); err != nil {
		return RunSummary{}, err
	}

	o.logger.InfoContext(ctx, "batch run started",
		slog.Int("tracked", len(all)),
		slog.Int("eligible", len(work)),
	)

	summary := RunSummary{Total: len(work)}
	for i, l := range work {
		if ctx.Err() != nil {
			break
		}

		st.PendingItems[i].State = domain.ItemStateRefreshing
		st.CurrentIndex = i
		if err := o.saveState(ctx, &st); err != nil {
			o.logger.WarnContext(ctx, "persist progress failed", slog.String("error", err.Error()))
		}

		outcome := o.refresher.Refresh(ctx, l)
		if outcome.RateLimited {
			summary.RateLimited = true
			st.PendingItems[i].State = domain.ItemStatePending
			o.logger.WarnContext(ctx, "inference rate limited, aborting batch",
				slog.Int("completed", i),
				slog.Int("remaining", len(work)-i),
			)
			o.notify(ctx, "rate_limited", "Refresh paused",
				fmt.Sprintf("Inference provider rate limited after %d of %d listings; retrying later.", i, len(work)))
			break
		}

		o.finishItem(ctx, &st, i, l, outcome)
		if outcome.Success {
			summary.Succeeded++
		} else {
			summary.Failed++
		}

		if o.itemDelay > 0 && i < len(work)-1 {
			if !sleepCtx(ctx, o.itemDelay) {
				break
			}
		}
	}

	now := o.now().UTC()
	st.IsRefreshing = false
	st.PendingItems = nil
	st.CurrentIndex = 0
	st.TotalCount = 0
	st.LastRefreshTime = &now
	st.LastRefreshCount = summary.Succeeded
	if err := o.saveState(ctx, &st); err != nil {
		return summary, err
	}

	summary.Duration = now.Sub(started)
	o.logger.InfoContext(ctx, "batch run finished",
		slog.Int("total", summary.Total),
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("failed", summary.Failed),
		slog.Bool("rate_limited", summary.RateLimited),
		slog.Duration("duration", summary.Duration),
	)

	if !summary.RateLimited && summary.Total > 0 {
		o.notify(ctx, "refresh_completed", "Refresh completed",
			fmt.Sprintf("%d of %d listings refreshed (%d failed).", summary.Succeeded, summary.Total, summary.Failed))
	}
	return summary, nil
}

// finishItem persists and announces the result of one item refresh.
func (o *Orchestrator) finishItem(ctx context.Context, st *domain.RefreshState, i int, before domain.Listing, outcome Outcome) {
	updated := outcome.Listing
	updated.UpdatedAt = o.now().UTC()

	if err := o.listings.Update(ctx, updated); err != nil {
		o.logger.ErrorContext(ctx, "persist listing failed",
			slog.String("listing_id", updated.ID),
			slog.String("error", err.Error()),
		)
	} else if o.cache != nil {
		if err := o.cache.Invalidate(ctx, updated.ID); err != nil {
			o.logger.WarnContext(ctx, "cache invalidate failed",
				slog.String("listing_id", updated.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	itemState := domain.ItemStateSuccess
	eventType := "listing_refreshed"
	detail := ""
	if !outcome.Success {
		itemState = domain.ItemStateError
		eventType = "listing_error"
		detail = outcome.Err
	}

	st.PendingItems[i].State = itemState
	st.CurrentIndex = i + 1
	st.PushRecent(domain.RecentItem{
		ID:        updated.ID,
		Title:     updated.Title,
		URL:       updated.SourceURL,
		State:     itemState,
		Timestamp: o.now().UTC(),
	})
	if err := o.saveState(ctx, st); err != nil {
		o.logger.WarnContext(ctx, "persist progress failed", slog.String("error", err.Error()))
	}

	o.publishListing(ctx, updated)
	o.appendEvent(ctx, Event{
		Type:      eventType,
		ListingID: updated.ID,
		Title:     updated.Title,
		Detail:    detail,
		Timestamp: o.now().UTC(),
	})

	if !outcome.Success {
		o.notify(ctx, "error", "Refresh error",
			fmt.Sprintf("%s: %s", updated.Title, outcome.Err))
		return
	}

	if !before.Status.Closed() && updated.Status.Closed() {
		o.notify(ctx, "listing_ended", "Listing ended",
			fmt.Sprintf("%s is no longer available (%s).", updated.Title, updated.Status))
	}
	if before.CurrentPrice > 0 && updated.CurrentPrice > 0 && updated.CurrentPrice < before.CurrentPrice {
		o.notify(ctx, "price_drop", "Price drop",
			fmt.Sprintf("%s dropped from %.2f to %.2f %s.", updated.Title, before.CurrentPrice, updated.CurrentPrice, updated.Currency))
	}
}

// saveState persists the run state and broadcasts a snapshot.
func (o *Orchestrator) saveState(ctx context.Context, st *domain.RefreshState) error {
	if err := o.states.Put(ctx, *st); err != nil {
		return fmt.Errorf("persist refresh state: %w", err)
	}
	if o.bus != nil {
		if payload, err := json.Marshal(st); err == nil {
			if err := o.bus.Publish(ctx, ChannelRefreshStatus, payload); err != nil {
				o.logger.DebugContext(ctx, "publish status failed", slog.String("error", err.Error()))
			}
		}
	}
	return nil
}

func (o *Orchestrator) publishListing(ctx context.Context, l domain.Listing) {
	if o.bus == nil {
		return
	}
	payload, err := json.Marshal(l)
	if err != nil {
		return
	}
	if err := o.bus.Publish(ctx, ChannelListingUpdated, payload); err != nil {
		o.logger.DebugContext(ctx, "publish listing failed", slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) appendEvent(ctx context.Context, ev Event) {
	if o.bus == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := o.bus.StreamAppend(ctx, StreamRefreshEvents, payload); err != nil {
		o.logger.DebugContext(ctx, "append event failed", slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) notify(ctx context.Context, event, title, message string) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.Notify(ctx, event, title, message); err != nil {
		o.logger.WarnContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// sleepCtx sleeps for d unless the context is cancelled first. It reports
// whether the full duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
