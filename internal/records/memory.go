package records

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/harunnryd/tally/internal/timesheet"
)

// Memory is an in-process Store.
type Memory struct {
	mu      sync.RWMutex
	records map[string]timesheet.TimeRecord
}

func NewMemory(records ...timesheet.TimeRecord) *Memory {
	m := &Memory{records: make(map[string]timesheet.TimeRecord)}
	for _, r := range records {
		if r.Status == "" {
			r.Status = timesheet.StatusPending
		}
		m.records[recordKey(r.EmployeeID, r.Date)] = r
	}
	return m
}

func (m *Memory) List(ctx context.Context, filter Filter) ([]timesheet.TimeRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []timesheet.TimeRecord
	for _, r := range m.records {
		if filter.match(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].EmployeeID < out[j].EmployeeID
	})
	return out, nil
}

func (m *Memory) UpdateStatus(ctx context.Context, employeeID string, date time.Time, status timesheet.Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := recordKey(employeeID, date)
	r, ok := m.records[k]
	if !ok {
		return false, nil
	}
	r.Status = status
	m.records[k] = r
	return true, nil
}

func (m *Memory) Put(ctx context.Context, records ...timesheet.TimeRecord) error {
	for _, r := range records {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		if r.Status == "" {
			r.Status = timesheet.StatusPending
		}
		m.records[recordKey(r.EmployeeID, r.Date)] = r
	}
	return nil
}

func (m *Memory) Close() error {
	return nil
}
