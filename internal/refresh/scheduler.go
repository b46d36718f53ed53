package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/listingwatch/listingwatch/internal/domain"
)

// minInterval is the floor applied to the configured frequency so a bad
// settings row cannot spin the loop.
const minInterval = time.Second

// defaultRetryDelay is how long the scheduler waits before retrying after a
// rate-limited run, instead of the full configured interval.
const defaultRetryDelay = time.Minute

// BatchRunner executes one refresh batch. Implemented by *Orchestrator.
type BatchRunner interface {
	RunBatch(ctx context.Context) (RunSummary, error)
}

// Scheduler drives recurring batch runs on a timer and accepts manual
// triggers. All runs execute on the scheduler's own goroutine, so at most one
// batch is in flight per process; the orchestrator's distributed lock extends
// that guarantee across instances.
type Scheduler struct {
	runner   BatchRunner
	settings domain.SettingsStore
	states   domain.RefreshStateStore
	logger   *slog.Logger

	retryDelay time.Duration
	now        func() time.Time

	running    atomic.Bool
	trigger    chan struct{}
	reschedule chan struct{}
}

// NewScheduler creates a Scheduler. Call Run to start the loop.
func NewScheduler(runner BatchRunner, settings domain.SettingsStore, states domain.RefreshStateStore, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runner:     runner,
		settings:   settings,
		states:     states,
		logger:     logger.With(slog.String("component", "scheduler")),
		retryDelay: defaultRetryDelay,
		now:        time.Now,
		trigger:    make(chan struct{}, 1),
		reschedule: make(chan struct{}, 1),
	}
}

// WithRetryDelay overrides the wait applied after a rate-limited run.
// Non-positive values are ignored.
func (s *Scheduler) WithRetryDelay(d time.Duration) *Scheduler {
	if d > 0 {
		s.retryDelay = d
	}
	return s
}

// Run blocks until ctx is cancelled, firing a batch every configured
// interval. The interval is re-read from settings after every run, so
// settings changes take effect without a restart.
func (s *Scheduler) Run(ctx context.Context) error {
	interval := s.interval(ctx)
	s.publishNext(ctx, interval)
	s.logger.InfoContext(ctx, "scheduler started", slog.Duration("interval", interval))

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-s.reschedule:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			interval = s.interval(ctx)
			timer.Reset(interval)
			s.publishNext(ctx, interval)
			s.logger.InfoContext(ctx, "rescheduled", slog.Duration("interval", interval))
			continue

		case <-timer.C:
		case <-s.trigger:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		next := s.runOnce(ctx)
		timer.Reset(next)
		s.publishNext(ctx, next)
	}
}

// TriggerNow requests an immediate batch run. It returns
// domain.ErrRefreshInProgress if a run is already executing.
func (s *Scheduler) TriggerNow() error {
	if s.running.Load() {
		return domain.ErrRefreshInProgress
	}
	select {
	case s.trigger <- struct{}{}:
		return nil
	default:
		return domain.ErrRefreshInProgress
	}
}

// Reschedule makes the loop re-read the configured frequency and re-arm its
// timer. Call it after updating settings.
func (s *Scheduler) Reschedule() {
	select {
	case s.reschedule <- struct{}{}:
	default:
	}
}

// runOnce executes a batch and returns the delay until the next one.
func (s *Scheduler) runOnce(ctx context.Context) time.Duration {
	s.running.Store(true)
	summary, err := s.runner.RunBatch(ctx)
	s.running.Store(false)

	switch {
	case err != nil:
		s.logger.ErrorContext(ctx, "batch run failed", slog.String("error", err.Error()))
	case summary.RateLimited:
		s.logger.WarnContext(ctx, "batch rate limited, shortening retry",
			slog.Duration("retry_in", s.retryDelay),
		)
		return s.retryDelay
	}
	return s.interval(ctx)
}

// interval reads the configured frequency, clamping to sane bounds.
func (s *Scheduler) interval(ctx context.Context) time.Duration {
	cfg, err := s.settings.Get(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "load settings failed, using default interval",
			slog.String("error", err.Error()),
		)
		cfg = domain.DefaultSettings()
	}
	cfg.Clamp()

	d := cfg.CheckFrequency()
	if d < minInterval {
		d = minInterval
	}
	return d
}

// publishNext records the next scheduled run time in the state row so the
// API can display it.
func (s *Scheduler) publishNext(ctx context.Context, in time.Duration) {
	st, err := s.states.Get(ctx)
	if err != nil {
		s.logger.DebugContext(ctx, "load refresh state failed",
			slog.String("error", fmt.Sprintf("%v", err)),
		)
		return
	}
	next := s.now().UTC().Add(in)
	st.NextRefreshTime = &next
	if err := s.states.Put(ctx, st); err != nil {
		s.logger.DebugContext(ctx, "persist next run time failed",
			slog.String("error", err.Error()),
		)
	}
}
