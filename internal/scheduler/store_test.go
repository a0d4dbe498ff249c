package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	tallyErrors "github.com/harunnryd/tally/internal/errors"
)

func newTestStore(t *testing.T, now time.Time) *Store {
	t.Helper()
	st, err := NewStore(filepath.Join(t.TempDir(), "scheduler.json"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	st.now = func() time.Time { return now }
	return st
}

func TestEnsureTask(t *testing.T) {
	now := time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC) // Monday
	st := newTestStore(t, now)

	task, err := st.EnsureTask("detection-sweep", "0 9 * * 1-5", "Detect anomalies")
	if err != nil {
		t.Fatalf("EnsureTask failed: %v", err)
	}
	want := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	if !task.NextRun.Equal(want) {
		t.Fatalf("next run = %v, want %v", task.NextRun, want)
	}

	st.now = func() time.Time { return now.Add(48 * time.Hour) }
	again, err := st.EnsureTask("detection-sweep", "0 9 * * 1-5", "Detect anomalies")
	if err != nil {
		t.Fatalf("EnsureTask failed: %v", err)
	}
	if !again.NextRun.Equal(want) {
		t.Fatalf("unchanged schedule should keep next run, got %v", again.NextRun)
	}

	changed, err := st.EnsureTask("detection-sweep", "@every 1h", "Detect anomalies")
	if err != nil {
		t.Fatalf("EnsureTask failed: %v", err)
	}
	if !changed.NextRun.Equal(now.Add(49 * time.Hour)) {
		t.Fatalf("changed schedule should recompute next run, got %v", changed.NextRun)
	}
}

func TestEnsureTaskRejectsInvalidSchedule(t *testing.T) {
	st := newTestStore(t, time.Now())
	_, err := st.EnsureTask("bad", "not a cron", "")
	if !errors.Is(err, tallyErrors.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestShouldFire(t *testing.T) {
	now := time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC)
	st := newTestStore(t, now)
	if _, err := st.EnsureTask("sweep", "@every 1h", ""); err != nil {
		t.Fatal(err)
	}

	fire, next, err := st.ShouldFire("sweep")
	if err != nil || fire {
		t.Fatalf("task should not fire yet (fire=%v err=%v)", fire, err)
	}
	if !next.Equal(now.Add(time.Hour)) {
		t.Fatalf("next = %v", next)
	}

	st.now = func() time.Time { return now.Add(3 * time.Hour) }
	fire, fireTime, err := st.ShouldFire("sweep")
	if err != nil || !fire {
		t.Fatalf("task should fire (fire=%v err=%v)", fire, err)
	}
	if !fireTime.Equal(now.Add(time.Hour)) {
		t.Fatalf("fire time = %v", fireTime)
	}

	// Missed slots collapse into a single firing.
	fire, _, err = st.ShouldFire("sweep")
	if err != nil || fire {
		t.Fatalf("task should not fire twice (fire=%v err=%v)", fire, err)
	}

	if _, _, err := st.ShouldFire("missing"); !errors.Is(err, tallyErrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestLeaseLogic(t *testing.T) {
	now := time.Now()
	st := newTestStore(t, now)
	if _, err := st.EnsureTask("sweep", "@every 10s", "Detection sweep"); err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}

	if err := st.AcquireLease("sweep", "run-1", now.Add(time.Minute)); err != nil {
		t.Fatalf("AcquireLease failed: %v", err)
	}
	if err := st.AcquireLease("sweep", "run-2", now.Add(time.Minute)); !errors.Is(err, tallyErrors.ErrConflict) {
		t.Fatalf("expected conflict on second lease, got %v", err)
	}

	lease, err := st.GetLease("sweep")
	if err != nil || lease == nil || lease.RunID != "run-1" {
		t.Fatalf("unexpected lease %+v (%v)", lease, err)
	}

	if err := st.MarkTaskDone("sweep", "run-2", nil); !errors.Is(err, tallyErrors.ErrConflict) {
		t.Fatalf("expected lease mismatch, got %v", err)
	}
	if err := st.MarkTaskDone("sweep", "run-1", nil); err != nil {
		t.Fatalf("MarkTaskDone failed: %v", err)
	}

	lease, _ = st.GetLease("sweep")
	if lease != nil {
		t.Fatalf("lease should be released, got %+v", lease)
	}

	tasks, _ := st.LoadTasks()
	if tasks[0].LastRun == nil || tasks[0].LastRun.Status != StatusDone || tasks[0].LastRun.RunID != "run-1" {
		t.Fatalf("unexpected last run %+v", tasks[0].LastRun)
	}

	if err := st.AcquireLease("sweep", "run-3", now.Add(time.Minute)); err != nil {
		t.Fatalf("AcquireLease after release failed: %v", err)
	}
	if err := st.MarkTaskDone("sweep", "run-3", errors.New("smtp down")); err != nil {
		t.Fatal(err)
	}
	tasks, _ = st.LoadTasks()
	if tasks[0].LastRun.Status != StatusFailed || tasks[0].LastRun.Error != "smtp down" {
		t.Fatalf("unexpected failed run %+v", tasks[0].LastRun)
	}
}

func TestReleaseExpiredLeases(t *testing.T) {
	now := time.Now()
	st := newTestStore(t, now)
	if _, err := st.EnsureTask("sweep", "@every 1h", ""); err != nil {
		t.Fatal(err)
	}
	if err := st.AcquireLease("sweep", "stale", now.Add(-time.Minute)); err != nil {
		t.Fatal(err)
	}

	released, err := st.ReleaseExpiredLeases()
	if err != nil || released != 1 {
		t.Fatalf("released=%d err=%v", released, err)
	}
	tasks, _ := st.LoadTasks()
	if tasks[0].Lease != nil || tasks[0].LastRun.Status != StatusFailed {
		t.Fatalf("unexpected task after recovery %+v", tasks[0])
	}
}

func TestStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "scheduler.json")
	st, err := NewStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if _, err := st.EnsureTask("sweep", "@every 1h", "Detection sweep"); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	tasks, _ := reopened.LoadTasks()
	if len(tasks) != 1 || tasks[0].Description != "Detection sweep" {
		t.Fatalf("unexpected tasks %+v", tasks)
	}
}
