package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/torikushiii/HonkaiStarRailAPI/internal/logging"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/oracle"
)

func newTestScheduler(t *testing.T, obs Observer) *Scheduler {
	t.Helper()
	s, err := New(Config{Observer: obs, Logger: logging.Discard()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

type recordingObserver struct {
	mu   sync.Mutex
	runs map[string][]error
}

func (o *recordingObserver) JobRun(job string, err error, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.runs == nil {
		o.runs = map[string][]error{}
	}
	o.runs[job] = append(o.runs[job], err)
}

func (o *recordingObserver) count(job string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.runs[job])
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAddJobRejectsDuplicates(t *testing.T) {
	s := newTestScheduler(t, nil)
	noop := func(context.Context) error { return nil }

	if err := s.AddJob("discovery", time.Minute, noop, false); err != nil {
		t.Fatal(err)
	}
	if err := s.AddJob("discovery", time.Minute, noop, false); err == nil {
		t.Fatal("expected duplicate name error")
	}
	if err := s.AddJob("bad", 0, noop, false); err == nil {
		t.Fatal("expected error for non-positive interval")
	}
	if !s.HasJob("discovery") || s.HasJob("bad") {
		t.Error("HasJob mismatch")
	}
}

// countingLocker grants or refuses every lock and counts the attempts.
type countingLocker struct {
	refuse   bool
	attempts atomic.Int32
	unlocks  atomic.Int32
}

func (l *countingLocker) Lock(_ context.Context, _ string) (gocron.Lock, error) {
	l.attempts.Add(1)
	if l.refuse {
		return nil, errors.New("lock held by another replica")
	}
	return countingLock{l}, nil
}

type countingLock struct{ l *countingLocker }

func (c countingLock) Unlock(context.Context) error {
	c.l.unlocks.Add(1)
	return nil
}

func TestLockerRefusalSkipsJob(t *testing.T) {
	locker := &countingLocker{refuse: true}
	s, err := New(Config{Locker: locker, Logger: logging.Discard()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Stop() })

	var calls atomic.Int32
	if err := s.AddJob("discovery", 10*time.Millisecond, func(context.Context) error {
		calls.Add(1)
		return nil
	}, true); err != nil {
		t.Fatal(err)
	}
	s.Start()

	waitFor(t, func() bool { return locker.attempts.Load() >= 3 })
	if got := calls.Load(); got != 0 {
		t.Errorf("job ran %d times without the lock", got)
	}
	if jobs := s.ListJobs(); jobs[0].Runs != 0 {
		t.Errorf("job info: %+v", jobs[0])
	}
}

func TestLockerGrantRunsJob(t *testing.T) {
	locker := &countingLocker{}
	s, err := New(Config{Locker: locker, Logger: logging.Discard()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Stop() })

	var calls atomic.Int32
	if err := s.AddJob("discovery", time.Hour, func(context.Context) error {
		calls.Add(1)
		return nil
	}, true); err != nil {
		t.Fatal(err)
	}
	s.Start()

	waitFor(t, func() bool { return calls.Load() == 1 })
	if locker.attempts.Load() == 0 {
		t.Error("locker was never consulted")
	}
	waitFor(t, func() bool { return locker.unlocks.Load() >= 1 })
}

func TestFailingJobKeepsRunning(t *testing.T) {
	obs := &recordingObserver{}
	s := newTestScheduler(t, obs)

	var calls atomic.Int32
	err := s.AddJob("flaky", 20*time.Millisecond, func(context.Context) error {
		calls.Add(1)
		return errors.New("source exploded")
	}, true)
	if err != nil {
		t.Fatal(err)
	}
	s.Start()

	waitFor(t, func() bool { return calls.Load() >= 3 })
	waitFor(t, func() bool { return obs.count("flaky") >= 3 })

	jobs := s.ListJobs()
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}
	if jobs[0].Failures < 3 || jobs[0].LastError != "source exploded" {
		t.Errorf("job info: %+v", jobs[0])
	}
}

func TestSingletonSkipsOverlappingTicks(t *testing.T) {
	s := newTestScheduler(t, nil)

	var running, maxRunning, calls atomic.Int32
	release := make(chan struct{})
	err := s.AddJob("slow", 10*time.Millisecond, func(ctx context.Context) error {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			m := maxRunning.Load()
			if n <= m || maxRunning.CompareAndSwap(m, n) {
				break
			}
		}
		if calls.Add(1) == 1 {
			select {
			case <-release:
			case <-ctx.Done():
			}
		}
		return nil
	}, true)
	if err != nil {
		t.Fatal(err)
	}
	s.Start()

	waitFor(t, func() bool { return calls.Load() == 1 })
	// Several ticks elapse while the first run is blocked.
	time.Sleep(60 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Errorf("overlapping ticks started %d runs", got)
	}
	jobs := s.ListJobs()
	if !jobs[0].Running {
		t.Error("job should report running")
	}
	close(release)

	waitFor(t, func() bool { return calls.Load() >= 2 })
	if got := maxRunning.Load(); got != 1 {
		t.Errorf("max concurrent runs = %d, want 1", got)
	}
}

func TestJobsAreIndependent(t *testing.T) {
	s := newTestScheduler(t, nil)

	var fast atomic.Int32
	block := make(chan struct{})
	defer close(block)

	if err := s.AddJob("stuck", 10*time.Millisecond, func(ctx context.Context) error {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil
	}, true); err != nil {
		t.Fatal(err)
	}
	if err := s.AddJob("fast", 10*time.Millisecond, func(context.Context) error {
		fast.Add(1)
		return nil
	}, true); err != nil {
		t.Fatal(err)
	}
	s.Start()

	waitFor(t, func() bool { return fast.Load() >= 3 })
}

func TestStopCancelsRunningJob(t *testing.T) {
	s, err := New(Config{Logger: logging.Discard()})
	if err != nil {
		t.Fatal(err)
	}
	started := make(chan struct{})
	var sawCancel atomic.Bool
	if err := s.AddJob("pacing", time.Hour, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		sawCancel.Store(true)
		return ctx.Err()
	}, true); err != nil {
		t.Fatal(err)
	}
	s.Start()
	<-started

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !sawCancel.Load() {
		t.Error("running job should observe cancellation before Stop returns")
	}
}

func TestRunNow(t *testing.T) {
	s := newTestScheduler(t, nil)
	var calls atomic.Int32
	if err := s.AddJob("manual", time.Hour, func(context.Context) error {
		calls.Add(1)
		return nil
	}, false); err != nil {
		t.Fatal(err)
	}
	s.Start()

	if err := s.RunNow("manual"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return calls.Load() == 1 })

	if err := s.RunNow("missing"); err == nil {
		t.Error("expected error for unknown job")
	}
}

func TestCredentialFailureIsReported(t *testing.T) {
	obs := &recordingObserver{}
	s := newTestScheduler(t, obs)
	if err := s.AddJob("discovery", time.Hour, func(context.Context) error {
		return fmt.Errorf("validate X: %w", oracle.ErrInvalidCredentials)
	}, true); err != nil {
		t.Fatal(err)
	}
	s.Start()
	waitFor(t, func() bool { return obs.count("discovery") == 1 })

	obs.mu.Lock()
	got := obs.runs["discovery"][0]
	obs.mu.Unlock()
	if !errors.Is(got, oracle.ErrInvalidCredentials) {
		t.Errorf("observer got %v", got)
	}
}
