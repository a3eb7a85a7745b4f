// Package scheduler runs the periodic jobs (discovery, revalidation, news)
// on a shared gocron scheduler.
//
// Jobs are independent. A job that fails is logged and runs again at its
// next tick. Every job is a singleton: a tick that arrives while the same
// job is still running is skipped, so reconciliation runs never race on
// the store.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"github.com/torikushiii/HonkaiStarRailAPI/internal/logging"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/oracle"
)

// Task is one job execution. ctx is cancelled when the scheduler stops.
type Task func(ctx context.Context) error

// Observer is told about every finished run. *metrics.Metrics satisfies it.
type Observer interface {
	JobRun(job string, err error, d time.Duration)
}

// JobInfo describes a registered job for external inspection.
type JobInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Schedule  string    `json:"schedule"`
	Running   bool      `json:"running"`
	Runs      int       `json:"runs"`
	Failures  int       `json:"failures"`
	LastError string    `json:"lastError,omitempty"`
	LastRun   time.Time `json:"lastRun"` // zero if never run
	NextRun   time.Time `json:"nextRun"` // zero if not scheduled
}

// Config configures a Scheduler.
type Config struct {
	Locker   gocron.Locker // optional; gates each tick across replicas
	Observer Observer      // optional
	Logger   *slog.Logger
}

type jobState struct {
	job      gocron.Job
	every    time.Duration
	running  bool
	runs     int
	failures int
	lastErr  string
}

// Scheduler owns the job table.
type Scheduler struct {
	mu        sync.Mutex
	scheduler gocron.Scheduler
	jobs      map[string]*jobState
	obs       Observer
	ctx       context.Context
	cancel    context.CancelFunc
	logger    *slog.Logger
}

// New creates a stopped Scheduler.
func New(cfg Config) (*Scheduler, error) {
	var opts []gocron.SchedulerOption
	if cfg.Locker != nil {
		opts = append(opts, gocron.WithDistributedLocker(cfg.Locker))
	}
	s, err := gocron.NewScheduler(opts...)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		scheduler: s,
		jobs:      make(map[string]*jobState),
		obs:       cfg.Observer,
		ctx:       ctx,
		cancel:    cancel,
		logger:    logging.Default(cfg.Logger).With("component", "scheduler"),
	}, nil
}

// AddJob registers task to run every interval under a unique name. With
// immediate set the first run starts as soon as the scheduler starts.
func (s *Scheduler) AddJob(name string, every time.Duration, task Task, immediate bool) error {
	if every <= 0 {
		return fmt.Errorf("job %s: interval must be positive, got %s", name, every)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("scheduled job already exists: %s", name)
	}

	opts := []gocron.JobOption{
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithEventListeners(
			gocron.AfterJobRunsWithPanic(func(_ uuid.UUID, jobName string, recoverData any) {
				s.logger.Error("job panicked", "job", jobName, "panic", recoverData)
			}),
			gocron.AfterLockError(func(_ uuid.UUID, jobName string, err error) {
				s.logger.Debug("job tick skipped, lock held elsewhere", "job", jobName, "error", err)
			}),
		),
	}
	if immediate {
		opts = append(opts, gocron.WithStartAt(gocron.WithStartImmediately()))
	}

	j, err := s.scheduler.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(func() { s.run(name, task) }),
		opts...,
	)
	if err != nil {
		return fmt.Errorf("create scheduled job %s: %w", name, err)
	}

	s.jobs[name] = &jobState{job: j, every: every}
	s.logger.Info("scheduled job added", "name", name, "every", every, "immediate", immediate)
	return nil
}

// run wraps one execution with bookkeeping and logging. Errors never
// propagate to gocron; the next tick runs regardless.
func (s *Scheduler) run(name string, task Task) {
	s.mu.Lock()
	st := s.jobs[name]
	if st != nil {
		st.running = true
	}
	s.mu.Unlock()

	start := time.Now()
	err := task(s.ctx)
	d := time.Since(start)

	s.mu.Lock()
	if st != nil {
		st.running = false
		st.runs++
		st.lastErr = ""
		if err != nil {
			st.failures++
			st.lastErr = err.Error()
		}
	}
	s.mu.Unlock()

	if s.obs != nil {
		s.obs.JobRun(name, err, d)
	}
	switch {
	case err == nil:
		s.logger.Debug("job finished", "job", name, "duration", d)
	case errors.Is(err, context.Canceled) && s.ctx.Err() != nil:
		s.logger.Info("job interrupted by shutdown", "job", name, "duration", d)
	case errors.Is(err, oracle.ErrInvalidCredentials):
		s.logger.Error("job stopped: oracle credentials rejected, update the hoyolab cookie", "job", name, "error", err, "alert", true)
	default:
		s.logger.Error("job failed", "job", name, "error", err, "duration", d)
	}
}

// RunNow triggers an extra run of a job outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	st, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job: %s", name)
	}
	return st.job.RunNow()
}

// HasJob returns true if a job with the given name exists.
func (s *Scheduler) HasJob(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[name]
	return ok
}

// ListJobs returns info about all registered jobs, sorted by name.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for name, st := range s.jobs {
		info := JobInfo{
			ID:        st.job.ID().String(),
			Name:      name,
			Schedule:  "every " + st.every.String(),
			Running:   st.running,
			Runs:      st.runs,
			Failures:  st.failures,
			LastError: st.lastErr,
		}
		if lr, err := st.job.LastRun(); err == nil {
			info.LastRun = lr
		}
		if nr, err := st.job.NextRun(); err == nil {
			info.NextRun = nr
		}
		infos = append(infos, info)
	}
	slices.SortFunc(infos, func(a, b JobInfo) int { return strings.Compare(a.Name, b.Name) })
	return infos
}

// Start begins executing all registered jobs.
func (s *Scheduler) Start() {
	s.scheduler.Start()
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() error {
	s.cancel()
	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("shutdown scheduler: %w", err)
	}
	s.logger.Info("scheduler stopped")
	return nil
}
