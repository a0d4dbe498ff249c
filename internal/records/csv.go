package records

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/natefinch/atomic"
	"github.com/shopspring/decimal"

	tallyErrors "github.com/harunnryd/tally/internal/errors"
	"github.com/harunnryd/tally/internal/store"
	"github.com/harunnryd/tally/internal/timesheet"
)

var csvHeader = []string{
	"employee_id", "employee_name", "employee_email",
	"date", "hours_worked", "project", "status", "notes",
}

// CSV keeps records in a single CSV file with a header row. The file is
// re-read on every call so external edits are picked up; writes replace it atomically.
type CSV struct {
	path string
	mu   sync.RWMutex
}

func NewCSV(path string) (*CSV, error) {
	if strings.TrimSpace(path) == "" {
		return nil, tallyErrors.InvalidInput("records csv_path is required")
	}
	s := &CSV{path: path}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := store.EnsureParentDir(path); err != nil {
			return nil, err
		}
		if err := s.write(nil); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	return s, nil
}

func (s *CSV) List(ctx context.Context, filter Filter) ([]timesheet.TimeRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	all, err := s.read()
	if err != nil {
		return nil, err
	}
	out := make([]timesheet.TimeRecord, 0, len(all))
	for _, r := range all {
		if filter.match(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *CSV) UpdateStatus(ctx context.Context, employeeID string, date time.Time, status timesheet.Status) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.read()
	if err != nil {
		return false, err
	}
	want := recordKey(employeeID, date)
	found := false
	for i := range all {
		if recordKey(all[i].EmployeeID, all[i].Date) == want {
			all[i].Status = status
			found = true
		}
	}
	if !found {
		return false, nil
	}
	return true, s.write(all)
}

func (s *CSV) Put(ctx context.Context, records ...timesheet.TimeRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, r := range records {
		if err := r.Validate(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.read()
	if err != nil {
		return err
	}
	index := make(map[string]int, len(all))
	for i, r := range all {
		index[recordKey(r.EmployeeID, r.Date)] = i
	}
	for _, r := range records {
		if i, ok := index[recordKey(r.EmployeeID, r.Date)]; ok {
			all[i] = r
			continue
		}
		index[recordKey(r.EmployeeID, r.Date)] = len(all)
		all = append(all, r)
	}
	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].Date.Equal(all[j].Date) {
			return all[i].Date.Before(all[j].Date)
		}
		return all[i].EmployeeID < all[j].EmployeeID
	})
	return s.write(all)
}

func (s *CSV) Close() error {
	return nil
}

func (s *CSV) read() ([]timesheet.TimeRecord, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, tallyErrors.Wrap(tallyErrors.MapError(err), "open records")
	}
	defer f.Close()
	return decodeCSV(f)
}

func (s *CSV) write(records []timesheet.TimeRecord) error {
	var buf bytes.Buffer
	if err := encodeCSV(&buf, records); err != nil {
		return err
	}
	if err := atomic.WriteFile(s.path, &buf); err != nil {
		return fmt.Errorf("write records: %w", err)
	}
	return nil
}

func decodeCSV(r io.Reader) ([]timesheet.TimeRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, tallyErrors.InvalidInput(fmt.Sprintf("read csv header: %v", err))
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"employee_id", "employee_email", "date", "hours_worked"} {
		if _, ok := cols[required]; !ok {
			return nil, tallyErrors.InvalidInput(fmt.Sprintf("csv missing column %q", required))
		}
	}

	field := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var out []timesheet.TimeRecord
	line := 1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, tallyErrors.InvalidInput(fmt.Sprintf("csv line %d: %v", line, err))
		}

		date, err := timesheet.ParseDate(field(row, "date"))
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		hours, err := decimal.NewFromString(field(row, "hours_worked"))
		if err != nil {
			return nil, tallyErrors.InvalidInput(fmt.Sprintf("csv line %d: hours_worked: %v", line, err))
		}
		status, err := timesheet.ParseStatus(field(row, "status"))
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}

		rec := timesheet.TimeRecord{
			EmployeeID:      field(row, "employee_id"),
			EmployeeName:    field(row, "employee_name"),
			EmployeeContact: strings.ToLower(field(row, "employee_email")),
			Date:            date,
			HoursWorked:     hours,
			Project:         field(row, "project"),
			Status:          status,
			Notes:           field(row, "notes"),
		}
		if err := rec.Validate(); err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func encodeCSV(w io.Writer, records []timesheet.TimeRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range records {
		status := r.Status
		if status == "" {
			status = timesheet.StatusPending
		}
		if err := cw.Write([]string{
			r.EmployeeID, r.EmployeeName, r.EmployeeContact,
			r.DateKey(), r.HoursWorked.String(), r.Project, string(status), r.Notes,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
