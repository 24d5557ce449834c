// Package scheduler runs the tracker sync on a cron schedule and on demand,
// never more than one sync at a time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrAlreadyRunning is returned by TriggerSync while a sync is in progress.
var ErrAlreadyRunning = errors.New("sync already running")

// ErrStopped is returned by TriggerSync after Stop.
var ErrStopped = errors.New("scheduler is stopped")

// SyncFunc performs one sync run. ctx is cancelled when the scheduler stops.
type SyncFunc func(ctx context.Context) error

// Status is a snapshot of the scheduler for the API and the CLI.
type Status struct {
	Running     bool      `json:"running"`
	Syncing     bool      `json:"syncing"`
	Schedule    string    `json:"schedule,omitempty"`
	NextRun     time.Time `json:"next_run,omitzero"`
	LastRun     time.Time `json:"last_run,omitzero"`
	LastSuccess time.Time `json:"last_success,omitzero"`
	LastError   string    `json:"last_error,omitempty"`
}

// Scheduler manages the periodic sync.
type Scheduler struct {
	cron     *cron.Cron
	syncFunc SyncFunc
	logger   *slog.Logger
	now      func() time.Time

	mu          sync.RWMutex
	entry       cron.EntryID
	schedule    string
	syncing     bool
	lastRun     time.Time
	lastSuccess time.Time
	lastErr     error

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	stopped bool
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// New creates a scheduler that calls syncFunc.
func New(syncFunc SyncFunc) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:     cron.New(cron.WithParser(parser)),
		syncFunc: syncFunc,
		logger:   slog.Default(),
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// WithLogger sets the logger for the scheduler.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger
	return s
}

// SetSchedule replaces the cron schedule. An empty expression removes it,
// leaving only manual triggers.
func (s *Scheduler) SetSchedule(expr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entry != 0 {
		s.cron.Remove(s.entry)
		s.entry = 0
		s.schedule = ""
	}
	if expr == "" {
		return nil
	}

	id, err := s.cron.AddFunc(expr, func() {
		if err := s.begin(); err != nil {
			s.logger.Info("skipping scheduled sync", "reason", err)
			return
		}
		s.runSync("schedule")
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	s.entry = id
	s.schedule = expr
	s.logger.Info("scheduled sync", "schedule", expr, "next_run", s.cron.Entry(id).Next)
	return nil
}

// Start begins executing scheduled jobs.
func (s *Scheduler) Start() {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started", "schedule", s.schedule)
}

// IsRunning returns true if the scheduler has been started and not yet stopped.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started && !s.stopped
}

// Stop cancels a running sync and returns a context that is done once it
// has returned.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("scheduler stopping")

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	cronCtx := s.cron.Stop()
	s.cancel()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-cronCtx.Done()
		s.wg.Wait()
		cancel()
	}()
	return ctx
}

// begin claims the single sync slot.
func (s *Scheduler) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if s.syncing {
		return ErrAlreadyRunning
	}
	s.syncing = true
	s.wg.Add(1)
	return nil
}

// runSync executes the sync. The caller must have claimed the slot with
// begin.
func (s *Scheduler) runSync(trigger string) {
	defer s.wg.Done()

	s.logger.Info("starting sync", "trigger", trigger)
	start := s.now()
	err := s.syncFunc(s.ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncing = false
	s.lastRun = start
	s.lastErr = err
	if err != nil {
		s.logger.Error("sync failed", "trigger", trigger, "duration", time.Since(start), "error", err)
		return
	}
	s.lastSuccess = start
	s.logger.Info("sync completed", "trigger", trigger, "duration", time.Since(start))
}

// TriggerSync starts a sync in the background outside the schedule.
func (s *Scheduler) TriggerSync() error {
	if err := s.begin(); err != nil {
		return err
	}
	go s.runSync("manual")
	return nil
}

// Status returns the current state of the scheduler.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		Running:     s.started && !s.stopped,
		Syncing:     s.syncing,
		Schedule:    s.schedule,
		LastRun:     s.lastRun,
		LastSuccess: s.lastSuccess,
	}
	if s.entry != 0 {
		st.NextRun = s.cron.Entry(s.entry).Next
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// ValidateCronExpr validates a cron expression without scheduling anything.
func ValidateCronExpr(expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}
