package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/natefinch/atomic"
	"github.com/oklog/ulid/v2"
	"github.com/robfig/cron/v3"

	tallyErrors "github.com/harunnryd/tally/internal/errors"
	"github.com/harunnryd/tally/internal/store"
)

type LeaseStatus string

const (
	StatusIdle   LeaseStatus = "IDLE"
	StatusLeased LeaseStatus = "LEASED"
	StatusDone   LeaseStatus = "DONE"
	StatusFailed LeaseStatus = "FAILED"
)

type Lease struct {
	RunID     string      `json:"run_id"`
	Status    LeaseStatus `json:"status"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// Run is the outcome of the most recent execution of a task.
type Run struct {
	RunID      string      `json:"run_id"`
	Status     LeaseStatus `json:"status"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	Error      string      `json:"error,omitempty"`
}

type Task struct {
	ID          string    `json:"id"`
	Schedule    string    `json:"schedule"` // standard cron spec or "@every 1h"
	Description string    `json:"description"`
	NextRun     time.Time `json:"next_run"`
	Lease       *Lease    `json:"lease,omitempty"`
	LastRun     *Run      `json:"last_run,omitempty"`
}

type TaskList struct {
	Tasks map[string]*Task `json:"tasks"`
}

// Store persists task schedules, leases and last runs as one JSON document.
type Store struct {
	path string
	data TaskList
	mu   sync.RWMutex
	now  func() time.Time
}

func NewStore(path string) (*Store, error) {
	s := &Store{
		path: path,
		data: TaskList{Tasks: make(map[string]*Task)},
		now:  time.Now,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Init(ctx context.Context) error {
	if err := store.EnsureParentDir(s.path); err != nil {
		return fmt.Errorf("create scheduler state dir: %w", err)
	}
	return s.load()
}

func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	content, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(content) == 0 {
		return nil
	}
	data := TaskList{Tasks: make(map[string]*Task)}
	if err := json.Unmarshal(content, &data); err != nil {
		return fmt.Errorf("decode scheduler state: %w", err)
	}
	if data.Tasks == nil {
		data.Tasks = make(map[string]*Task)
	}
	s.data = data
	return nil
}

// save writes the document; the caller holds the write lock.
func (s *Store) save() error {
	b, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	return atomic.WriteFile(s.path, bytes.NewReader(b))
}

// EnsureTask registers a task or updates its schedule. The next run is
// recomputed only when the task is new or its schedule changed.
func (s *Store) EnsureTask(id, schedule, description string) (Task, error) {
	sched, err := cron.ParseStandard(schedule)
	if err != nil {
		return Task{}, tallyErrors.InvalidInput(fmt.Sprintf("invalid cron schedule %q: %v", schedule, err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.data.Tasks[id]
	if !ok {
		t = &Task{ID: id}
		s.data.Tasks[id] = t
	}
	t.Description = description
	if !ok || t.Schedule != schedule || t.NextRun.IsZero() {
		t.Schedule = schedule
		t.NextRun = sched.Next(s.now())
	}
	if err := s.save(); err != nil {
		return Task{}, err
	}
	return copyTask(t), nil
}

func (s *Store) LoadTasks() ([]Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]Task, 0, len(s.data.Tasks))
	for _, t := range s.data.Tasks {
		tasks = append(tasks, copyTask(t))
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks, nil
}

// ShouldFire reports whether the task is due. A due task has its next run
// advanced so that it fires once per schedule slot.
func (s *Store) ShouldFire(taskID string) (bool, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.data.Tasks[taskID]
	if !ok {
		return false, time.Time{}, tallyErrors.NotFound(fmt.Sprintf("task %s", taskID))
	}

	now := s.now()
	if t.NextRun.After(now) {
		return false, t.NextRun, nil
	}

	sched, err := cron.ParseStandard(t.Schedule)
	if err != nil {
		return false, time.Time{}, fmt.Errorf("invalid cron schedule: %w", err)
	}

	fireTime := t.NextRun
	t.NextRun = sched.Next(now)
	return true, fireTime, s.save()
}

func (s *Store) AcquireLease(taskID, runID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.data.Tasks[taskID]
	if !ok {
		return tallyErrors.NotFound(fmt.Sprintf("task %s", taskID))
	}

	if t.Lease != nil && t.Lease.Status == StatusLeased && s.now().Before(t.Lease.ExpiresAt) {
		return fmt.Errorf("task %s already leased: %w", taskID, tallyErrors.ErrConflict)
	}

	t.Lease = &Lease{
		RunID:     runID,
		Status:    StatusLeased,
		ExpiresAt: expiresAt,
	}
	t.LastRun = &Run{RunID: runID, Status: StatusLeased, StartedAt: s.now()}
	return s.save()
}

// MarkTaskDone releases the lease held by runID and records the outcome.
func (s *Store) MarkTaskDone(taskID, runID string, runErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.data.Tasks[taskID]
	if !ok {
		return tallyErrors.NotFound(fmt.Sprintf("task %s", taskID))
	}

	if t.Lease == nil || t.Lease.RunID != runID {
		return fmt.Errorf("lease mismatch for task %s: %w", taskID, tallyErrors.ErrConflict)
	}

	t.Lease = nil
	run := Run{RunID: runID, Status: StatusDone, FinishedAt: s.now()}
	if t.LastRun != nil && t.LastRun.RunID == runID {
		run.StartedAt = t.LastRun.StartedAt
	}
	if runErr != nil {
		run.Status = StatusFailed
		run.Error = runErr.Error()
	}
	t.LastRun = &run
	return s.save()
}

func (s *Store) GetLease(taskID string) (*Lease, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.data.Tasks[taskID]
	if !ok {
		return nil, tallyErrors.NotFound(fmt.Sprintf("task %s", taskID))
	}
	if t.Lease == nil {
		return nil, nil
	}
	l := *t.Lease
	return &l, nil
}

// ReleaseExpiredLeases clears leases left behind by a crashed run.
func (s *Store) ReleaseExpiredLeases() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	released := 0
	now := s.now()
	for _, t := range s.data.Tasks {
		if t.Lease != nil && now.After(t.Lease.ExpiresAt) {
			if t.LastRun != nil && t.LastRun.RunID == t.Lease.RunID {
				t.LastRun.Status = StatusFailed
				t.LastRun.Error = "lease expired"
			}
			t.Lease = nil
			released++
		}
	}
	if released == 0 {
		return 0, nil
	}
	return released, s.save()
}

func copyTask(t *Task) Task {
	out := *t
	if t.Lease != nil {
		l := *t.Lease
		out.Lease = &l
	}
	if t.LastRun != nil {
		r := *t.LastRun
		out.LastRun = &r
	}
	return out
}

func generateRunID() string {
	return ulid.Make().String()
}
