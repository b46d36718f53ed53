package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/listingwatch/listingwatch/internal/domain"
	"github.com/listingwatch/listingwatch/internal/fetch"
	"github.com/listingwatch/listingwatch/internal/infer"
	"github.com/listingwatch/listingwatch/internal/refresh"
	"github.com/listingwatch/listingwatch/internal/server"
	"github.com/listingwatch/listingwatch/internal/server/handler"
	"github.com/listingwatch/listingwatch/internal/server/ws"
)

// EngineMode runs the scheduler-driven refresh loop alongside the HTTP API.
func (a *App) EngineMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting engine mode")

	g, ctx := errgroup.WithContext(ctx)

	orch := a.buildOrchestrator(ctx, deps)
	sched := refresh.NewScheduler(orch, deps.Settings, deps.States, a.logger).
		WithRetryDelay(a.cfg.Refresh.RetryDelay.Duration)

	g.Go(func() error {
		return sched.Run(ctx)
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, sched)
	}

	return g.Wait()
}

// ServeMode runs the HTTP API without the recurring scheduler. Manual
// triggers still work: they run a single batch in the background.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)

	orch := a.buildOrchestrator(ctx, deps)
	trigger := &manualTrigger{ctx: ctx, orch: orch, logger: a.logger}

	a.startHTTPServer(ctx, g, deps, trigger)

	return g.Wait()
}

// OnceMode runs a single refresh batch and exits. Intended for cron-style
// deployments and smoke testing.
func (a *App) OnceMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting once mode")

	orch := a.buildOrchestrator(ctx, deps)
	summary, err := orch.RunBatch(ctx)
	if err != nil {
		return fmt.Errorf("once mode: %w", err)
	}

	a.logger.InfoContext(ctx, "batch complete",
		slog.Int("total", summary.Total),
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("failed", summary.Failed),
		slog.Bool("rate_limited", summary.RateLimited),
		slog.Duration("duration", summary.Duration),
	)
	return nil
}

// FullMode runs the engine plus the daily archival job that moves listings
// aged past the grace period into S3.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	orch := a.buildOrchestrator(ctx, deps)
	sched := refresh.NewScheduler(orch, deps.Settings, deps.States, a.logger).
		WithRetryDelay(a.cfg.Refresh.RetryDelay.Duration)

	g.Go(func() error {
		return sched.Run(ctx)
	})

	if deps.Archiver != nil {
		g.Go(func() error {
			return a.runArchiveLoop(ctx, deps)
		})
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, sched)
	}

	return g.Wait()
}

// buildOrchestrator assembles the fetch -> infer -> merge pipeline and the
// batch orchestrator around it.
func (a *App) buildOrchestrator(ctx context.Context, deps *Dependencies) *refresh.Orchestrator {
	fetcher := fetch.NewClient(deps.RateLimiter, a.logger, fetch.Options{
		Timeout:               a.cfg.Fetch.Timeout.Duration,
		UserAgent:             a.cfg.Fetch.UserAgent,
		HostRequestsPerMinute: a.cfg.Fetch.HostRequestsPerMinute,
	})

	inferrer := infer.NewClient(infer.Options{
		BaseURL: a.cfg.Inference.BaseURL,
		APIKey:  a.inferenceAPIKey(ctx, deps),
		Model:   a.cfg.Inference.Model,
		Timeout: a.cfg.Inference.Timeout.Duration,
	}, a.logger)

	refresher := refresh.NewRefresher(fetcher, inferrer, a.logger)

	return refresh.NewOrchestrator(
		deps.Listings,
		deps.States,
		deps.Settings,
		deps.ListingCache,
		deps.LockManager,
		deps.SignalBus,
		refresher,
		deps.Notifier,
		a.logger,
		refresh.OrchestratorOpts{
			LockTTL:   a.cfg.Refresh.LockTTL.Duration,
			ItemDelay: a.cfg.Refresh.ItemDelay.Duration,
		},
	)
}

// inferenceAPIKey prefers the key stored in settings over the configured one,
// so operators can rotate the credential through the API without a redeploy.
// A restart picks the new key up.
func (a *App) inferenceAPIKey(ctx context.Context, deps *Dependencies) string {
	s, err := deps.Settings.Get(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "load settings for inference key failed, using configured key",
			slog.String("error", err.Error()),
		)
		return a.cfg.Inference.APIKey
	}
	if s.APIKey != "" {
		return s.APIKey
	}
	return a.cfg.Inference.APIKey
}

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to the
// given errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, sched handler.RefreshScheduler) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(a.logger),
		Status:   handler.NewStatusHandler(a.cfg.Mode, deps.States, deps.Listings, a.logger),
		Listings: handler.NewListingHandler(deps.Listings, deps.ListingCache, a.logger),
		Refresh:  handler.NewRefreshHandler(sched, deps.Settings, deps.SignalBus, a.logger),
		Settings: handler.NewSettingsHandler(deps.Settings, sched, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:               a.cfg.Server.Port,
		CORSOrigins:        a.cfg.Server.CORSOrigins,
		APIKey:             a.cfg.Server.APIKey,
		RateLimitPerMinute: a.cfg.Server.RateLimitPerMinute,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// archiveInterval is how often the archival job scans for aged-out listings.
const archiveInterval = 24 * time.Hour

// runArchiveLoop periodically archives closed listings older than the grace
// period plus the configured retention window. The first pass runs at
// startup.
func (a *App) runArchiveLoop(ctx context.Context, deps *Dependencies) error {
	runOnce := func() {
		s, err := deps.Settings.Get(ctx)
		if err != nil {
			a.logger.WarnContext(ctx, "archive: load settings failed",
				slog.String("error", err.Error()),
			)
			return
		}
		ageDays := s.EndedGracePeriodDays + a.cfg.Refresh.ArchiveRetentionDays
		cutoff := time.Now().UTC().AddDate(0, 0, -ageDays)

		count, err := deps.Archiver.ArchiveClosedListings(ctx, cutoff)
		if err != nil {
			a.logger.ErrorContext(ctx, "archive: run failed",
				slog.String("error", err.Error()),
			)
			return
		}
		if count > 0 {
			a.logger.InfoContext(ctx, "archive: run complete",
				slog.Int64("archived", count),
				slog.Time("cutoff", cutoff),
			)
		}
	}

	runOnce()
	ticker := time.NewTicker(archiveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			runOnce()
		}
	}
}

// manualTrigger satisfies handler.RefreshScheduler for serve mode, where no
// scheduler loop is running. TriggerNow starts one batch in the background;
// Reschedule is a no-op because there is no timer to re-arm.
type manualTrigger struct {
	ctx     context.Context
	orch    *refresh.Orchestrator
	logger  *slog.Logger
	running atomic.Bool
}

func (m *manualTrigger) TriggerNow() error {
	if !m.running.CompareAndSwap(false, true) {
		return domain.ErrRefreshInProgress
	}
	go func() {
		defer m.running.Store(false)
		if _, err := m.orch.RunBatch(m.ctx); err != nil {
			m.logger.ErrorContext(m.ctx, "manual batch failed",
				slog.String("error", err.Error()),
			)
		}
	}()
	return nil
}

func (m *manualTrigger) Reschedule() {}
