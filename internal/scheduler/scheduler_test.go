package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"immostats/internal/metrics"
	"immostats/internal/models"
)

// blockingRunner holds every run until release is closed
type blockingRunner struct {
	calls   int32
	started chan struct{}
	release chan struct{}
	summary *models.IngestionSummary
	err     error
	panic   bool
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{
		started: make(chan struct{}, 16),
		release: make(chan struct{}),
		summary: &models.IngestionSummary{Fetched: 3, Saved: 3},
	}
}

func (r *blockingRunner) Run(ctx context.Context) (*models.IngestionSummary, error) {
	atomic.AddInt32(&r.calls, 1)
	r.started <- struct{}{}
	<-r.release
	if r.panic {
		panic("store exploded")
	}
	return r.summary, r.err
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func waitIdle(t *testing.T, s *Scheduler) Status {
	t.Helper()
	var status Status
	require.Eventually(t, func() bool {
		status = s.GetStatus()
		return status.Phase == PhaseIdle
	}, time.Second, 5*time.Millisecond)
	return status
}

func TestNextRun(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)

	tests := []struct {
		name     string
		now      time.Time
		interval int
		expected time.Time
	}{
		{
			name:     "Just after midnight",
			now:      time.Date(2024, 3, 10, 0, 0, 1, 0, time.UTC),
			interval: 6,
			expected: time.Date(2024, 3, 10, 6, 0, 0, 0, time.UTC),
		},
		{
			name:     "Exactly on a slot moves to the next one",
			now:      time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC),
			interval: 6,
			expected: time.Date(2024, 3, 10, 18, 0, 0, 0, time.UTC),
		},
		{
			name:     "Rolls over to the next day",
			now:      time.Date(2024, 12, 31, 19, 45, 0, 0, time.UTC),
			interval: 6,
			expected: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "Hourly cadence",
			now:      time.Date(2024, 3, 10, 9, 30, 0, 0, time.UTC),
			interval: 1,
			expected: time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC),
		},
		{
			name:     "Invalid interval falls back to six hours",
			now:      time.Date(2024, 3, 10, 7, 0, 0, 0, time.UTC),
			interval: 5,
			expected: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC),
		},
		{
			name:     "Keeps the location",
			now:      time.Date(2024, 6, 1, 13, 10, 0, 0, paris),
			interval: 6,
			expected: time.Date(2024, 6, 1, 18, 0, 0, 0, paris),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := NextRun(tt.now, tt.interval)
			assert.True(t, tt.expected.Equal(next), "expected %s, got %s", tt.expected, next)
			assert.True(t, next.After(tt.now))
		})
	}
}

func TestTriggerRun_SingleFlight(t *testing.T) {
	runner := newBlockingRunner()
	s := NewScheduler(runner, Options{IntervalHours: 6}, nil, quietLogger())

	const callers = 20
	var (
		wg       sync.WaitGroup
		accepted int32
		rejected int32
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.TriggerRun()
			switch {
			case err == nil:
				atomic.AddInt32(&accepted, 1)
			case errors.Is(err, ErrAlreadyRunning):
				atomic.AddInt32(&rejected, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&accepted))
	assert.Equal(t, int32(callers-1), atomic.LoadInt32(&rejected))

	<-runner.started
	status := s.GetStatus()
	assert.Equal(t, PhaseRunning, status.Phase)
	assert.Equal(t, "manual", status.Trigger)

	close(runner.release)
	s.Stop()
	assert.Equal(t, int32(1), atomic.LoadInt32(&runner.calls))
}

func TestTriggerRun_RecordsResult(t *testing.T) {
	runner := newBlockingRunner()
	close(runner.release)
	s := NewScheduler(runner, Options{}, nil, quietLogger())
	fixed := time.Date(2024, 3, 10, 7, 15, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	status := s.GetStatus()
	assert.Equal(t, PhaseIdle, status.Phase)
	assert.Nil(t, status.LastRun)
	assert.Nil(t, status.LastResult)

	require.NoError(t, s.TriggerRun())
	status = waitIdle(t, s)

	require.NotNil(t, status.LastRun)
	assert.Equal(t, fixed, *status.LastRun)
	require.NotNil(t, status.LastResult)
	assert.Equal(t, 3, status.LastResult.Saved)
	assert.Empty(t, status.LastError)
	assert.Equal(t, time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC), status.NextScheduledRun)

	// Idle again, so the next trigger is accepted
	require.NoError(t, s.TriggerRun())
	waitIdle(t, s)
	s.Stop()
	assert.Equal(t, int32(2), atomic.LoadInt32(&runner.calls))
}

func runningGauge(t *testing.T, reg *prometheus.Registry) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() == "immostats_scheduler_running" {
			return family.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("scheduler gauge not registered")
	return 0
}

func TestTriggerRun_GaugeFollowsPhase(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.NewMetrics(reg)
	require.NoError(t, err)

	quick := newBlockingRunner()
	close(quick.release)
	s := NewScheduler(quick, Options{}, m, quietLogger())

	for i := 0; i < 50; i++ {
		require.NoError(t, s.TriggerRun())
		waitIdle(t, s)
		assert.Equal(t, 0.0, runningGauge(t, reg), "run %d", i)
	}
	s.Stop()

	slow := newBlockingRunner()
	s = NewScheduler(slow, Options{}, m, quietLogger())
	require.NoError(t, s.TriggerRun())
	<-slow.started
	assert.Equal(t, 1.0, runningGauge(t, reg))

	close(slow.release)
	waitIdle(t, s)
	assert.Equal(t, 0.0, runningGauge(t, reg))
	s.Stop()
}

func TestTriggerRun_RecoversFromPanic(t *testing.T) {
	runner := newBlockingRunner()
	runner.panic = true
	close(runner.release)
	s := NewScheduler(runner, Options{}, nil, quietLogger())

	require.NoError(t, s.TriggerRun())
	status := waitIdle(t, s)

	assert.Contains(t, status.LastError, "panicked")
	assert.NotNil(t, status.LastRun)

	runner.panic = false
	require.NoError(t, s.TriggerRun())
	status = waitIdle(t, s)
	assert.Empty(t, status.LastError)
	s.Stop()
}

func TestTriggerRun_KeepsPartialSummaryOnError(t *testing.T) {
	runner := newBlockingRunner()
	runner.err = errors.New("ingestion interrupted")
	close(runner.release)
	s := NewScheduler(runner, Options{}, nil, quietLogger())

	require.NoError(t, s.TriggerRun())
	status := waitIdle(t, s)

	assert.Equal(t, "ingestion interrupted", status.LastError)
	require.NotNil(t, status.LastResult)
	assert.Equal(t, 3, status.LastResult.Fetched)
	s.Stop()
}

func TestStart_RunsOnStartupAndStopWaits(t *testing.T) {
	runner := newBlockingRunner()
	s := NewScheduler(runner, Options{IntervalHours: 6, RunOnStartup: true}, nil, quietLogger())

	s.Start()
	<-runner.started
	assert.Equal(t, "startup", s.GetStatus().Trigger)
	assert.ErrorIs(t, s.TriggerRun(), ErrAlreadyRunning)

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a run was in progress")
	case <-time.After(30 * time.Millisecond):
	}

	close(runner.release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after the run finished")
	}
	assert.Equal(t, PhaseIdle, s.GetStatus().Phase)
}

func TestTrigger_String(t *testing.T) {
	assert.Equal(t, "schedule", TriggerSchedule.String())
	assert.Equal(t, "manual", TriggerManual.String())
	assert.Equal(t, "startup", TriggerStartup.String())
	assert.Equal(t, "unknown", Trigger(42).String())
}
