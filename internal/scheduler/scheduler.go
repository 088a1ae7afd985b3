// Package scheduler runs compliance scans periodically on a cron schedule.
// Each run is independent: a failed run is logged and the next one still
// fires on time.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/anstrom/complyscan/internal/logging"
)

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

// Status describes the scheduled job.
type Status struct {
	Schedule  string
	Running   bool
	LastRun   time.Time
	LastError error
	NextRun   time.Time
	Runs      int
}

// Scheduler manages a single cron-scheduled job.
type Scheduler struct {
	cron     *cron.Cron
	schedule cron.Schedule
	expr     string
	job      Job
	logger   *logging.Logger

	mu        sync.RWMutex
	started   bool
	executing bool
	lastRun   time.Time
	lastErr   error
	runs      int
	entryID   cron.EntryID
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewScheduler creates a scheduler for job. cronExpr uses the standard
// 5-field format or a descriptor such as @daily.
func NewScheduler(cronExpr string, job Job, logger *logging.Logger) (*Scheduler, error) {
	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	if logger == nil {
		logger = logging.Default()
	}

	return &Scheduler{
		cron:     cron.New(),
		schedule: schedule,
		expr:     cronExpr,
		job:      job,
		logger:   logger.WithComponent("scheduler"),
	}, nil
}

// Start begins the scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("scheduler is already running")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.entryID = s.cron.Schedule(s.schedule, cron.FuncJob(s.execute))
	s.cron.Start()
	s.started = true

	s.logger.Info("Scheduler started", "schedule", s.expr, "next_run", s.schedule.Next(time.Now()))
	return nil
}

// Stop stops the scheduler, cancels a run in progress and waits for it to
// return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.started = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}

// Run starts the scheduler and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

// Status returns the current job state.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		Schedule:  s.expr,
		Running:   s.executing,
		LastRun:   s.lastRun,
		LastError: s.lastErr,
		Runs:      s.runs,
	}
	if s.started {
		st.NextRun = s.cron.Entry(s.entryID).Next
	} else {
		st.NextRun = s.schedule.Next(time.Now())
	}
	return st
}

// execute runs the job unless the previous run is still going.
func (s *Scheduler) execute() {
	ctx, shouldContinue := s.prepareJobExecution()
	if !shouldContinue {
		return
	}

	started := time.Now()
	err := s.job(ctx)
	s.cleanupJobExecution(err)

	if err != nil {
		s.logger.Error("Scheduled run failed", "error", err, "duration", time.Since(started))
		return
	}
	s.logger.Info("Scheduled run completed", "duration", time.Since(started))
}

// prepareJobExecution marks the job running. It returns false when the
// job is already running or the scheduler has been stopped.
func (s *Scheduler) prepareJobExecution() (context.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil, false
	}
	if s.executing {
		s.logger.Warn("Previous run is still in progress, skipping")
		return nil, false
	}

	s.executing = true
	s.lastRun = time.Now()
	return s.ctx, true
}

func (s *Scheduler) cleanupJobExecution(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.executing = false
	s.lastErr = err
	s.runs++
}
