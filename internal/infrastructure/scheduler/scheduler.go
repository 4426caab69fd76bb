// Package scheduler runs periodic analytics jobs such as growth
// recomputation and risk cache refresh.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// JOB & SCHEDULE
// ══════════════════════════════════════════════════════════════════════════════

// Job is a unit of periodic work.
type Job interface {
	// Name returns a unique job name.
	Name() string

	// Run executes the job. It must honour ctx cancellation.
	Run(ctx context.Context) error

	// Description is shown in job listings.
	Description() string
}

// Schedule computes the next activation time after t.
type Schedule interface {
	Next(t time.Time) time.Time
	String() string
}

// JobResult is the outcome of a single job execution.
type JobResult struct {
	JobName     string        `json:"job_name"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
	Success     bool          `json:"success"`
	Error       string        `json:"error,omitempty"`
	Manual      bool          `json:"manual,omitempty"`
	Skipped     bool          `json:"skipped,omitempty"`
}

type scheduledJob struct {
	job      Job
	schedule Schedule
	enabled  bool
	running  bool
	lastRun  time.Time
	nextRun  time.Time
	runs     int64
	failures int64
	skips    int64
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER
// ══════════════════════════════════════════════════════════════════════════════

// Config configures the scheduler.
type Config struct {
	Logger *slog.Logger

	// Timezone for schedule evaluation.
	Timezone *time.Location

	// TickInterval is how often due jobs are checked (default 1s).
	TickInterval time.Duration

	// JobTimeout bounds a single job run; zero means no limit.
	JobTimeout time.Duration

	// MaxHistorySize bounds the in-memory run history (default 200).
	MaxHistorySize int
}

// Scheduler runs registered jobs on their schedules. A job never overlaps
// with itself: a tick that finds the previous run still active is skipped.
type Scheduler struct {
	mu      sync.RWMutex
	jobs    map[string]*scheduledJob
	history []JobResult
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time

	running   bool
	startedAt time.Time
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	onComplete func(JobResult)
}

// New creates a scheduler.
func New(cfg Config) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timezone == nil {
		cfg.Timezone = time.UTC
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.MaxHistorySize <= 0 {
		cfg.MaxHistorySize = 200
	}
	return &Scheduler{
		jobs:   make(map[string]*scheduledJob),
		cfg:    cfg,
		logger: cfg.Logger.With("component", "scheduler"),
		now:    time.Now,
	}
}

// Register adds a job. The first run is one schedule period from now.
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
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, name)
	}
	next := schedule.Next(s.now().In(s.cfg.Timezone))
	s.jobs[name] = &scheduledJob{job: job, schedule: schedule, enabled: true, nextRun: next}

	s.logger.Info("job registered", "job", name, "schedule", schedule.String(), "next_run", next)
	return nil
}

// SetEnabled turns a job on or off.
func (s *Scheduler) SetEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sj, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	sj.enabled = enabled
	if enabled {
		sj.nextRun = sj.schedule.Next(s.now().In(s.cfg.Timezone))
	}
	s.logger.Info("job toggled", "job", name, "enabled", enabled)
	return nil
}

// OnJobComplete sets a callback invoked after every run.
func (s *Scheduler) OnJobComplete(fn func(JobResult)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onComplete = fn
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start launches the scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrSchedulerAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.startedAt = s.now()

	s.wg.Add(1)
	go s.loop(loopCtx)

	s.logger.Info("scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop cancels the loop and waits for running jobs to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped", "uptime", time.Since(s.startedAt).String())
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dispatchDue(ctx)
		}
	}
}

// dispatchDue starts every enabled job whose next run has passed.
func (s *Scheduler) dispatchDue(ctx context.Context) {
	now := s.now().In(s.cfg.Timezone)

	s.mu.Lock()
	defer s.mu.Unlock()

	for name, sj := range s.jobs {
		if !sj.enabled || sj.nextRun.IsZero() || now.Before(sj.nextRun) {
			continue
		}
		sj.nextRun = sj.schedule.Next(now)
		if sj.running {
			sj.skips++
			s.logger.Warn("job still running, tick skipped", "job", name, "next_run", sj.nextRun)
			continue
		}
		sj.running = true
		s.wg.Add(1)
		go func(sj *scheduledJob) {
			defer s.wg.Done()
			s.execute(ctx, sj, false)
		}(sj)
	}
}

// execute runs a job and records the outcome. sj.running must already be set.
func (s *Scheduler) execute(ctx context.Context, sj *scheduledJob, manual bool) JobResult {
	name := sj.job.Name()
	if s.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.JobTimeout)
		defer cancel()
	}

	started := s.now()
	s.logger.Info("job started", "job", name, "manual", manual)

	err := s.safeRun(ctx, sj.job)

	finished := s.now()
	result := JobResult{
		JobName:     name,
		StartedAt:   started,
		CompletedAt: finished,
		Duration:    finished.Sub(started),
		Success:     err == nil,
		Manual:      manual,
	}
	if err != nil {
		result.Error = err.Error()
		s.logger.Error("job failed", "job", name, "duration", result.Duration.String(), "error", err)
	} else {
		s.logger.Info("job completed", "job", name, "duration", result.Duration.String())
	}

	s.mu.Lock()
	sj.running = false
	sj.lastRun = started
	sj.runs++
	if err != nil {
		sj.failures++
	}
	s.history = append(s.history, result)
	if over := len(s.history) - s.cfg.MaxHistorySize; over > 0 {
		s.history = s.history[over:]
	}
	hook := s.onComplete
	s.mu.Unlock()

	if hook != nil {
		hook(result)
	}
	return result
}

func (s *Scheduler) safeRun(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrJobPanic, r)
		}
	}()
	return job.Run(ctx)
}

// RunNow executes a job immediately, outside its schedule. It fails with
// ErrJobRunning if the job is already active.
func (s *Scheduler) RunNow(ctx context.Context, name string) (JobResult, error) {
	s.mu.Lock()
	sj, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return JobResult{}, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	if sj.running {
		s.mu.Unlock()
		return JobResult{JobName: name, Skipped: true}, fmt.Errorf("%w: %s", ErrJobRunning, name)
	}
	sj.running = true
	s.mu.Unlock()

	result := s.execute(ctx, sj, true)
	if !result.Success {
		return result, errors.New(result.Error)
	}
	return result, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// STATUS
// ══════════════════════════════════════════════════════════════════════════════

// JobInfo describes a registered job.
type JobInfo struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Schedule    string    `json:"schedule"`
	Enabled     bool      `json:"enabled"`
	Running     bool      `json:"running"`
	LastRun     time.Time `json:"last_run"`
	NextRun     time.Time `json:"next_run"`
	Runs        int64     `json:"runs"`
	Failures    int64     `json:"failures"`
	Skips       int64     `json:"skips"`
}

// ListJobs returns registered jobs ordered by name.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for name, sj := range s.jobs {
		infos = append(infos, JobInfo{
			Name:        name,
			Description: sj.job.Description(),
			Schedule:    sj.schedule.String(),
			Enabled:     sj.enabled,
			Running:     sj.running,
			LastRun:     sj.lastRun,
			NextRun:     sj.nextRun,
			Runs:        sj.runs,
			Failures:    sj.failures,
			Skips:       sj.skips,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// History returns up to limit most recent results, oldest first.
func (s *Scheduler) History(limit int) []JobResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	out := make([]JobResult, limit)
	copy(out, s.history[len(s.history)-limit:])
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	ErrNilJob                  = errors.New("job cannot be nil")
	ErrNilSchedule             = errors.New("schedule cannot be nil")
	ErrJobAlreadyExists        = errors.New("job already exists")
	ErrJobNotFound             = errors.New("job not found")
	ErrJobRunning              = errors.New("job is already running")
	ErrJobPanic                = errors.New("job panicked")
	ErrSchedulerAlreadyRunning = errors.New("scheduler is already running")
	ErrSchedulerNotRunning     = errors.New("scheduler is not running")
)
