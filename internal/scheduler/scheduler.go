package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"immostats/internal/metrics"
	"immostats/internal/models"
)

// ErrAlreadyRunning is returned when a trigger arrives while a run is in progress
var ErrAlreadyRunning = errors.New("ingestion run already in progress")

// Phase of the scheduler state machine
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseRunning Phase = "running"
)

// Trigger records what started a run
type Trigger int

const (
	TriggerSchedule Trigger = iota
	TriggerManual
	TriggerStartup
)

// String returns the string representation of a Trigger
func (t Trigger) String() string {
	switch t {
	case TriggerSchedule:
		return "schedule"
	case TriggerManual:
		return "manual"
	case TriggerStartup:
		return "startup"
	default:
		return "unknown"
	}
}

// Runner is one ingestion cycle
type Runner interface {
	Run(ctx context.Context) (*models.IngestionSummary, error)
}

// Status is the externally observable scheduler state
type Status struct {
	Phase            Phase                    `json:"phase"`
	Trigger          string                   `json:"trigger,omitempty"`
	LastRun          *time.Time               `json:"last_run"`
	LastResult       *models.IngestionSummary `json:"last_result"`
	LastError        string                   `json:"last_error,omitempty"`
	NextScheduledRun time.Time                `json:"next_scheduled_run"`
}

// Options configures the scheduler
type Options struct {
	IntervalHours int
	RunOnStartup  bool
}

// Scheduler fires ingestion runs on a fixed cadence aligned to midnight and
// on demand. At most one run is in progress at any time.
type Scheduler struct {
	runner        Runner
	logger        *logrus.Logger
	metrics       *metrics.Metrics
	intervalHours int
	runOnStartup  bool
	stopChan      chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
	runs          sync.WaitGroup
	now           func() time.Time

	mu         sync.Mutex
	phase      Phase
	active     Trigger
	lastRun    *time.Time
	lastResult *models.IngestionSummary
	lastError  string
}

// NewScheduler creates a new scheduler
func NewScheduler(runner Runner, opts Options, m *metrics.Metrics, logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
		logger.SetLevel(logrus.InfoLevel)
	}
	if opts.IntervalHours <= 0 || 24%opts.IntervalHours != 0 {
		opts.IntervalHours = 6
	}

	return &Scheduler{
		runner:        runner,
		logger:        logger,
		metrics:       m,
		intervalHours: opts.IntervalHours,
		runOnStartup:  opts.RunOnStartup,
		stopChan:      make(chan struct{}),
		now:           time.Now,
		phase:         PhaseIdle,
	}
}

// Start begins the scheduled runs
func (s *Scheduler) Start() {
	if s.runOnStartup {
		if err := s.trigger(TriggerStartup); err != nil {
			s.logger.WithError(err).Warn("Startup ingestion run not started")
		}
	}

	s.wg.Add(1)
	go s.runScheduler()
}

// Stop ends the timer loop and waits for an in-flight run to finish
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
	s.runs.Wait()
}

// TriggerRun starts a manual run in the background. It returns immediately,
// or ErrAlreadyRunning when a run is in progress.
func (s *Scheduler) TriggerRun() error {
	return s.trigger(TriggerManual)
}

// GetStatus returns a snapshot of the scheduler state
func (s *Scheduler) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		Phase:            s.phase,
		LastRun:          s.lastRun,
		LastResult:       s.lastResult,
		LastError:        s.lastError,
		NextScheduledRun: NextRun(s.now(), s.intervalHours),
	}
	if s.phase == PhaseRunning {
		status.Trigger = s.active.String()
	}
	return status
}

// NextRun returns the first slot strictly after now. Slots are every
// intervalHours hours starting at local midnight.
func NextRun(now time.Time, intervalHours int) time.Time {
	if intervalHours <= 0 || 24%intervalHours != 0 {
		intervalHours = 6
	}
	hour := (now.Hour()/intervalHours + 1) * intervalHours
	return time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
}

// runScheduler waits for each slot and fires a run
func (s *Scheduler) runScheduler() {
	defer s.wg.Done()

	next := NextRun(s.now(), s.intervalHours)
	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()

	s.logger.WithField("next_run", next).Info("Scheduler started")

	for {
		select {
		case <-s.stopChan:
			s.logger.Info("Scheduler stopped")
			return
		case <-timer.C:
			if err := s.trigger(TriggerSchedule); errors.Is(err, ErrAlreadyRunning) {
				s.logger.Warn("Skipping scheduled ingestion run, previous run still in progress")
			}
			next = NextRun(s.now(), s.intervalHours)
			timer.Reset(time.Until(next))
		}
	}
}

// trigger performs the idle to running transition under the lock, so
// concurrent triggers cannot both start a run
func (s *Scheduler) trigger(trigger Trigger) error {
	s.mu.Lock()
	if s.phase == PhaseRunning {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.phase = PhaseRunning
	s.active = trigger
	s.runs.Add(1)
	s.metrics.SetSchedulerRunning(true)
	s.mu.Unlock()

	go s.execute(trigger)
	return nil
}

func (s *Scheduler) execute(trigger Trigger) {
	defer s.runs.Done()

	startedAt := s.now().UTC()
	logger := s.logger.WithField("trigger", trigger.String())
	logger.Info("Starting ingestion run")

	summary, err := s.safeRun()

	s.mu.Lock()
	s.phase = PhaseIdle
	s.lastRun = &startedAt
	if summary != nil {
		s.lastResult = summary
	}
	s.lastError = ""
	if err != nil {
		s.lastError = err.Error()
	}
	s.metrics.SetSchedulerRunning(false)
	s.mu.Unlock()

	if err != nil {
		logger.WithError(err).Error("Ingestion run failed")
		return
	}
	logger.WithFields(logrus.Fields{
		"fetched": summary.Fetched,
		"saved":   summary.Saved,
		"failed":  summary.Failed,
	}).Info("Ingestion run finished")
}

// safeRun converts a panic inside the runner into an error
func (s *Scheduler) safeRun() (summary *models.IngestionSummary, err error) {
	defer func() {
		if r := recover(); r != nil {
			summary = nil
			err = fmt.Errorf("ingestion run panicked: %v", r)
		}
	}()

	summary, err = s.runner.Run(context.Background())
	if err == nil && summary == nil {
		err = errors.New("ingestion run returned no summary")
	}
	return summary, err
}
