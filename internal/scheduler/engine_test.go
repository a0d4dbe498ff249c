package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harunnryd/tally/internal/config"
	tallyErrors "github.com/harunnryd/tally/internal/errors"
	"github.com/harunnryd/tally/internal/logger"
)

func newTestScheduler(t *testing.T, cfg config.SchedulerConfig) *Scheduler {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "scheduler.json"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	sched, err := NewScheduler(store, cfg)
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}
	return sched
}

func TestScheduler_NewScheduler(t *testing.T) {
	sched := newTestScheduler(t, config.SchedulerConfig{})
	if sched.tickInterval != time.Minute {
		t.Errorf("expected default tick interval, got %s", sched.tickInterval)
	}
	if sched.leaseDuration != 30*time.Minute {
		t.Errorf("expected default lease duration, got %s", sched.leaseDuration)
	}

	store, _ := NewStore(filepath.Join(t.TempDir(), "s.json"))
	if _, err := NewScheduler(store, config.SchedulerConfig{TickInterval: "soon"}); err == nil {
		t.Error("expected error for invalid tick interval")
	}
}

func TestScheduler_ComponentLifecycle(t *testing.T) {
	sched := newTestScheduler(t, config.SchedulerConfig{})
	ctx := context.Background()

	if err := sched.Start(ctx); err == nil {
		t.Fatal("Start before Init should fail")
	}
	if err := sched.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("second Start should be a no-op: %v", err)
	}
	if !sched.IsRunning() {
		t.Error("Scheduler should be running after Start")
	}
	if err := sched.Health(ctx); err != nil {
		t.Errorf("Health check failed: %v", err)
	}

	if err := sched.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if sched.IsRunning() {
		t.Error("Scheduler should not be running after Stop")
	}
	if err := sched.Health(ctx); err == nil {
		t.Error("Health should fail when stopped")
	}
	if err := sched.Stop(ctx); err != nil {
		t.Errorf("second Stop should be a no-op: %v", err)
	}
}

func TestScheduler_RegisterValidates(t *testing.T) {
	sched := newTestScheduler(t, config.SchedulerConfig{})
	if err := sched.Register("sweep", "@every 1h", "", nil); !errors.Is(err, tallyErrors.ErrInvalidInput) {
		t.Fatalf("expected invalid input for nil job, got %v", err)
	}
	job := JobFunc(func(context.Context) error { return nil })
	if err := sched.Register("sweep", "whenever", "", job); !errors.Is(err, tallyErrors.ErrInvalidInput) {
		t.Fatalf("expected invalid input for bad schedule, got %v", err)
	}
}

func TestScheduler_RunNow(t *testing.T) {
	sched := newTestScheduler(t, config.SchedulerConfig{})

	var traceID string
	job := JobFunc(func(ctx context.Context) error {
		traceID = logger.GetTraceID(ctx)
		return nil
	})
	if err := sched.Register("detection-sweep", "0 9 * * 1-5", "Detection sweep", job); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if err := sched.RunNow(context.Background(), "detection-sweep"); err != nil {
		t.Fatalf("RunNow failed: %v", err)
	}

	tasks, _ := sched.Tasks()
	if len(tasks) != 1 || tasks[0].LastRun == nil {
		t.Fatalf("expected recorded run, got %+v", tasks)
	}
	if tasks[0].LastRun.RunID != traceID {
		t.Errorf("job trace id %q should equal run id %q", traceID, tasks[0].LastRun.RunID)
	}
	if tasks[0].Lease != nil {
		t.Error("lease should be released after run")
	}

	if err := sched.RunNow(context.Background(), "missing"); !errors.Is(err, tallyErrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestScheduler_RunNowRecordsFailure(t *testing.T) {
	sched := newTestScheduler(t, config.SchedulerConfig{})
	boom := errors.New("records unavailable")
	if err := sched.Register("sweep", "@every 1h", "", JobFunc(func(context.Context) error { return boom })); err != nil {
		t.Fatal(err)
	}

	if err := sched.RunNow(context.Background(), "sweep"); !errors.Is(err, boom) {
		t.Fatalf("expected job error, got %v", err)
	}
	tasks, _ := sched.Tasks()
	if tasks[0].LastRun.Status != StatusFailed {
		t.Fatalf("expected failed run, got %+v", tasks[0].LastRun)
	}
}

func TestScheduler_TickFiresDueTasksOnce(t *testing.T) {
	sched := newTestScheduler(t, config.SchedulerConfig{})
	start := time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC)
	sched.store.now = func() time.Time { return start }
	sched.now = sched.store.now

	var runs int32
	if err := sched.Register("sweep", "@every 1h", "", JobFunc(func(context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	})); err != nil {
		t.Fatal(err)
	}

	// A persisted task with no registered job is ignored.
	if _, err := sched.store.EnsureTask("orphan", "@every 1m", ""); err != nil {
		t.Fatal(err)
	}

	sched.onTick(context.Background())
	if got := atomic.LoadInt32(&runs); got != 0 {
		t.Fatalf("task fired early: %d", got)
	}

	later := start.Add(90 * time.Minute)
	sched.store.now = func() time.Time { return later }
	sched.now = sched.store.now

	sched.onTick(context.Background())
	sched.onTick(context.Background())
	if got := atomic.LoadInt32(&runs); got != 1 {
		t.Fatalf("expected one run, got %d", got)
	}
}

func TestScheduler_GracefulShutdownWaitsForRun(t *testing.T) {
	sched := newTestScheduler(t, config.SchedulerConfig{ShutdownTimeout: "2s"})
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	if err := sched.Register("sweep", "@every 1h", "", JobFunc(func(context.Context) error {
		close(started)
		<-release
		return nil
	})); err != nil {
		t.Fatal(err)
	}
	if err := sched.Init(ctx); err != nil {
		t.Fatal(err)
	}
	if err := sched.Start(ctx); err != nil {
		t.Fatal(err)
	}

	go func() { _ = sched.RunNow(ctx, "sweep") }()
	<-started

	stopped := make(chan error, 1)
	go func() { stopped <- sched.Stop(ctx) }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a run was in flight")
	case <-time.After(200 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("Stop failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after run finished")
	}
}

func TestScheduler_RunNowRefusedAfterStop(t *testing.T) {
	sched := newTestScheduler(t, config.SchedulerConfig{})
	ctx := context.Background()

	var runs int32
	if err := sched.Register("sweep", "@every 1h", "", JobFunc(func(context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	})); err != nil {
		t.Fatal(err)
	}
	if err := sched.Init(ctx); err != nil {
		t.Fatal(err)
	}
	if err := sched.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := sched.Stop(ctx); err != nil {
		t.Fatal(err)
	}

	if err := sched.RunNow(ctx, "sweep"); err == nil {
		t.Fatal("expected RunNow to fail after Stop")
	}
	if got := atomic.LoadInt32(&runs); got != 0 {
		t.Fatalf("job ran after Stop: %d runs", got)
	}
}
