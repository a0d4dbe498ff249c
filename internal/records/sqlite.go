package records

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	tallyErrors "github.com/harunnryd/tally/internal/errors"
	"github.com/harunnryd/tally/internal/store"
	"github.com/harunnryd/tally/internal/timesheet"
)

// SQLite stores records in a time_records table keyed by (employee_id, date).
// Hours are kept as TEXT so decimal values round-trip exactly.
type SQLite struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLite opens (and migrates) the database at path. Use ":memory:" in tests.
func NewSQLite(path string) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, tallyErrors.InvalidInput("records sqlite_path is required")
	}
	if path != ":memory:" {
		if err := store.EnsureParentDir(path); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS time_records (
		employee_id TEXT NOT NULL,
		employee_name TEXT NOT NULL DEFAULT '',
		employee_email TEXT NOT NULL,
		date TEXT NOT NULL,
		hours_worked TEXT NOT NULL,
		project TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		notes TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL,
		PRIMARY KEY (employee_id, date)
	);

	CREATE INDEX IF NOT EXISTS idx_time_records_status_date
		ON time_records(status, date);
	CREATE INDEX IF NOT EXISTS idx_time_records_email
		ON time_records(employee_email);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLite) List(ctx context.Context, filter Filter) ([]timesheet.TimeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT employee_id, employee_name, employee_email, date, hours_worked, project, status, notes
		FROM time_records WHERE 1=1`
	var args []any
	if filter.EmployeeID != "" {
		query += " AND employee_id = ?"
		args = append(args, filter.EmployeeID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if !filter.From.IsZero() {
		query += " AND date >= ?"
		args = append(args, filter.From.Format(time.DateOnly))
	}
	if !filter.To.IsZero() {
		query += " AND date <= ?"
		args = append(args, filter.To.Format(time.DateOnly))
	}
	query += " ORDER BY date, employee_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, tallyErrors.Wrap(tallyErrors.MapError(err), "list records")
	}
	defer rows.Close()

	var out []timesheet.TimeRecord
	for rows.Next() {
		var (
			r           timesheet.TimeRecord
			date, hours string
			status      string
		)
		if err := rows.Scan(&r.EmployeeID, &r.EmployeeName, &r.EmployeeContact, &date, &hours, &r.Project, &status, &r.Notes); err != nil {
			return nil, err
		}
		if r.Date, err = timesheet.ParseDate(date); err != nil {
			return nil, err
		}
		if r.HoursWorked, err = decimal.NewFromString(hours); err != nil {
			return nil, tallyErrors.Internal(fmt.Sprintf("corrupt hours %q for %s", hours, r.EmployeeID))
		}
		r.Status = timesheet.Status(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLite) UpdateStatus(ctx context.Context, employeeID string, date time.Time, status timesheet.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE time_records SET status = ?, updated_at = ? WHERE employee_id = ? AND date = ?",
		string(status), time.Now().UTC().Format(time.RFC3339), employeeID, date.Format(time.DateOnly),
	)
	if err != nil {
		return false, tallyErrors.Wrap(tallyErrors.MapError(err), "update record status")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLite) Put(ctx context.Context, records ...timesheet.TimeRecord) error {
	for _, r := range records {
		if err := r.Validate(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO time_records (employee_id, employee_name, employee_email, date, hours_worked, project, status, notes, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(employee_id, date) DO UPDATE SET
			employee_name = excluded.employee_name,
			employee_email = excluded.employee_email,
			hours_worked = excluded.hours_worked,
			project = excluded.project,
			status = excluded.status,
			notes = excluded.notes,
			updated_at = excluded.updated_at
	`
	now := time.Now().UTC().Format(time.RFC3339)
	for _, r := range records {
		status := r.Status
		if status == "" {
			status = timesheet.StatusPending
		}
		if _, err := tx.ExecContext(ctx, query,
			r.EmployeeID, r.EmployeeName, strings.ToLower(r.EmployeeContact), r.DateKey(),
			r.HoursWorked.String(), r.Project, string(status), r.Notes, now,
		); err != nil {
			return tallyErrors.Wrap(tallyErrors.MapError(err), "put record")
		}
	}
	return tx.Commit()
}
