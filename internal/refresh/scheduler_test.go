package refresh

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listingwatch/listingwatch/internal/domain"
)

type fakeRunner struct {
	summary RunSummary
	err     error
	calls   int
}

func (r *fakeRunner) RunBatch(ctx context.Context) (RunSummary, error) {
	r.calls++
	return r.summary, r.err
}

type failingSettings struct{}

func (failingSettings) Get(ctx context.Context) (domain.Settings, error) {
	return domain.Settings{}, errors.New("store down")
}
func (failingSettings) Put(ctx context.Context, s domain.Settings) error {
	return errors.New("store down")
}

func newTestScheduler(runner BatchRunner, settings domain.SettingsStore) (*Scheduler, *memStates) {
	states := &memStates{}
	return NewScheduler(runner, settings, states, testLogger()), states
}

func TestSchedulerInterval(t *testing.T) {
	tests := []struct {
		name     string
		settings domain.SettingsStore
		want     time.Duration
	}{
		{
			name:     "zero frequency uses default",
			settings: &memSettings{},
			want:     time.Hour,
		},
		{
			name:     "below minimum clamps to ten seconds",
			settings: &memSettings{s: domain.Settings{CheckFrequencyMinutes: 0.0001}},
			want:     10 * time.Second,
		},
		{
			name:     "configured frequency respected",
			settings: &memSettings{s: domain.Settings{CheckFrequencyMinutes: 5}},
			want:     5 * time.Minute,
		},
		{
			name:     "settings store failure falls back to default",
			settings: failingSettings{},
			want:     time.Hour,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestScheduler(&fakeRunner{}, tt.settings)
			assert.Equal(t, tt.want, s.interval(context.Background()))
		})
	}
}

func TestSchedulerRunOnceRetryDelay(t *testing.T) {
	t.Run("rate limited run shortens next delay", func(t *testing.T) {
		runner := &fakeRunner{summary: RunSummary{RateLimited: true}}
		s, _ := newTestScheduler(runner, &memSettings{})
		s.retryDelay = 90 * time.Second

		assert.Equal(t, 90*time.Second, s.runOnce(context.Background()))
		assert.Equal(t, 1, runner.calls)
	})

	t.Run("normal run uses configured interval", func(t *testing.T) {
		runner := &fakeRunner{summary: RunSummary{Total: 3, Succeeded: 3}}
		s, _ := newTestScheduler(runner, &memSettings{s: domain.Settings{CheckFrequencyMinutes: 5}})

		assert.Equal(t, 5*time.Minute, s.runOnce(context.Background()))
	})

	t.Run("failed run still waits the full interval", func(t *testing.T) {
		runner := &fakeRunner{err: errors.New("db down")}
		s, _ := newTestScheduler(runner, &memSettings{s: domain.Settings{CheckFrequencyMinutes: 5}})

		assert.Equal(t, 5*time.Minute, s.runOnce(context.Background()))
	})
}

func TestSchedulerTriggerNow(t *testing.T) {
	s, _ := newTestScheduler(&fakeRunner{}, &memSettings{})

	require.NoError(t, s.TriggerNow())
	// A second trigger before the loop drains the first is rejected.
	assert.ErrorIs(t, s.TriggerNow(), domain.ErrRefreshInProgress)
}

func TestSchedulerTriggerNowWhileRunning(t *testing.T) {
	s, _ := newTestScheduler(&fakeRunner{}, &memSettings{})
	s.running.Store(true)

	assert.ErrorIs(t, s.TriggerNow(), domain.ErrRefreshInProgress)
}

func TestSchedulerPublishNext(t *testing.T) {
	s, states := newTestScheduler(&fakeRunner{}, &memSettings{})
	now := date("2026-08-28T12:00:00Z")
	s.now = func() time.Time { return now }

	s.publishNext(context.Background(), 30*time.Minute)

	require.NotNil(t, states.st.NextRefreshTime)
	assert.Equal(t, now.Add(30*time.Minute), *states.st.NextRefreshTime)
}

func TestSchedulerRunStopsOnCancel(t *testing.T) {
	s, _ := newTestScheduler(&fakeRunner{}, &memSettings{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop on cancel")
	}
}
