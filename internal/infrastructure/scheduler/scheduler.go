// Package scheduler runs the worker's background jobs: the daily tracking
// run and the periodic role-sync sweep. It is deliberately small — two jobs,
// a timer loop, and enough status for the health endpoints.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrNilJob is returned when registering a nil job.
	ErrNilJob = errors.New("scheduler: job cannot be nil")

	// ErrNilSchedule is returned when registering a job without a schedule.
	ErrNilSchedule = errors.New("scheduler: schedule cannot be nil")

	// ErrDuplicateJob is returned when a job name is already registered.
	ErrDuplicateJob = errors.New("scheduler: job already registered")

	// ErrJobNotFound is returned when a job name is unknown.
	ErrJobNotFound = errors.New("scheduler: job not found")

	// ErrAlreadyRunning is returned by Start on a running scheduler.
	ErrAlreadyRunning = errors.New("scheduler: already running")

	// ErrNotRunning is returned by Stop on a stopped scheduler.
	ErrNotRunning = errors.New("scheduler: not running")
)

// Job is a unit of scheduled work. The context passed to Run is cancelled
// when the scheduler shuts down.
type Job interface {
	Name() string
	Description() string
	Run(ctx context.Context) error
}

// Schedule decides when a job fires.
type Schedule interface {
	// Next returns the first fire time strictly after t.
	Next(t time.Time) time.Time

	String() string
}

// JobResult records one completed execution.
type JobResult struct {
	JobName     string
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Err         error
}

// JobStatus is a point-in-time view of a registered job.
type JobStatus struct {
	Name        string
	Description string
	Schedule    string
	NextRun     time.Time
	RunCount    int64
	FailCount   int64
	LastResult  *JobResult
}

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	// Logger for job lifecycle lines. Defaults to slog.Default.
	Logger *slog.Logger

	// Timezone in which schedules are evaluated. The tracking job fires at
	// a wall-clock hour in the report timezone, so this matters across DST.
	// Defaults to UTC.
	Timezone *time.Location
}

// Scheduler fires registered jobs according to their schedules. Jobs run in
// their own goroutines; a slow tracking run never delays the role sweep.
type Scheduler struct {
	logger *slog.Logger
	tz     *time.Location

	mu      sync.Mutex
	entries map[string]*entry
	running bool
	cancel  context.CancelFunc
	wake    chan struct{}
	wg      sync.WaitGroup
}

type entry struct {
	job       Job
	schedule  Schedule
	nextRun   time.Time
	runCount  int64
	failCount int64
	last      *JobResult
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timezone == nil {
		cfg.Timezone = time.UTC
	}
	return &Scheduler{
		logger:  cfg.Logger,
		tz:      cfg.Timezone,
		entries: make(map[string]*entry),
		wake:    make(chan struct{}, 1),
	}
}

// Register adds a job. Registering while running is allowed; the loop picks
// the new job up on its next wake.
func (s *Scheduler) Register(job Job, schedule Schedule) error {
	if job == nil {
		return ErrNilJob
	}
	if schedule == nil {
		return ErrNilSchedule
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, ok := s.entries[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, name)
	}

	e := &entry{
		job:      job,
		schedule: schedule,
		nextRun:  schedule.Next(time.Now().In(s.tz)),
	}
	s.entries[name] = e

	s.logger.Info("job registered",
		"job", name,
		"schedule", schedule.String(),
		"next_run", e.nextRun.Format(time.RFC3339),
	)
	s.poke()
	return nil
}

// Start launches the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel

	s.wg.Add(1)
	go s.loop(loopCtx)

	s.logger.Info("scheduler started", "jobs", len(s.entries), "timezone", s.tz.String())
	return nil
}

// Stop cancels the loop and waits for in-flight jobs to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
	return nil
}

// RunNow fires a job immediately, outside its schedule. Used by manual
// triggers. The result is recorded the same way as a scheduled run.
func (s *Scheduler) RunNow(ctx context.Context, name string) (JobResult, error) {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return JobResult{}, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}

	res := s.execute(ctx, e)
	return res, res.Err
}

// Status reports every registered job.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.entries))
	for name, e := range s.entries {
		out = append(out, JobStatus{
			Name:        name,
			Description: e.job.Description(),
			Schedule:    e.schedule.String(),
			NextRun:     e.nextRun,
			RunCount:    e.runCount,
			FailCount:   e.failCount,
			LastResult:  e.last,
		})
	}
	return out
}

// loop sleeps until the earliest due job, fires everything due, and
// repeats. Registrations poke the wake channel so a fresh job shortens the
// current sleep.
func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	for {
		wait := s.untilNextDue()
		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
			continue
		case <-timer.C:
		}

		for _, e := range s.collectDue() {
			e := e
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.execute(ctx, e)
			}()
		}
	}
}

// untilNextDue returns the sleep before the earliest job fires, capped so a
// DST shift or clock step cannot leave the loop asleep for hours.
func (s *Scheduler) untilNextDue() time.Duration {
	const maxSleep = time.Minute

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().In(s.tz)
	wait := maxSleep
	for _, e := range s.entries {
		if e.nextRun.IsZero() {
			continue
		}
		if d := e.nextRun.Sub(now); d < wait {
			wait = d
		}
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

// collectDue advances nextRun for every due entry and returns them.
func (s *Scheduler) collectDue() []*entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().In(s.tz)
	var due []*entry
	for _, e := range s.entries {
		if e.nextRun.IsZero() || e.nextRun.After(now) {
			continue
		}
		e.nextRun = e.schedule.Next(now)
		due = append(due, e)
	}
	return due
}

// execute runs one job and records the outcome on its entry.
func (s *Scheduler) execute(ctx context.Context, e *entry) JobResult {
	name := e.job.Name()
	started := time.Now()

	s.logger.Info("job started", "job", name)
	err := e.job.Run(ctx)
	completed := time.Now()

	res := JobResult{
		JobName:     name,
		StartedAt:   started,
		CompletedAt: completed,
		Duration:    completed.Sub(started),
		Err:         err,
	}

	s.mu.Lock()
	e.runCount++
	if err != nil {
		e.failCount++
	}
	e.last = &res
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("job failed",
			"job", name,
			"duration", res.Duration.String(),
			"error", err,
		)
	} else {
		s.logger.Info("job completed",
			"job", name,
			"duration", res.Duration.String(),
		)
	}
	return res
}

func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
