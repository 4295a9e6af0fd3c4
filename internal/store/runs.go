package store

import (
	"context"
	"database/sql"
	"time"
)

// Run is one pipeline invocation over a year range.
type Run struct {
	ID        string    `json:"id"`
	FromYear  int       `json:"fromYear"`
	ToYear    int       `json:"toYear"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// StepProgress is one recorded pipeline step within a run.
type StepProgress struct {
	RunID      string     `json:"runId"`
	Year       int        `json:"year"`
	Step       string     `json:"step"`
	Status     string     `json:"status"`
	Rows       int        `json:"rows"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// Warning is a persisted non-fatal data-quality or harmonization notice.
type Warning struct {
	RunID     string    `json:"runId"`
	Year      int       `json:"year"`
	Step      string    `json:"step"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

func (d *DB) createRunTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			from_year INTEGER,
			to_year INTEGER,
			status TEXT,
			created_at DATETIME,
			updated_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS run_steps (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT,
			year INTEGER,
			step TEXT,
			status TEXT,
			rows INTEGER,
			started_at DATETIME,
			finished_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS run_warnings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT,
			year INTEGER,
			step TEXT,
			message TEXT,
			created_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS run_errors (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT,
			year INTEGER,
			step TEXT,
			message TEXT,
			created_at DATETIME
		)`,
	}
	for _, s := range stmts {
		if _, err := d.conn.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// SaveRun records a new run in pending state.
func (d *DB) SaveRun(id string, fromYear, toYear int) error {
	now := time.Now().UTC()
	_, err := d.conn.Exec(
		`INSERT INTO runs (id, from_year, to_year, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, fromYear, toYear, "pending", now, now)
	return err
}

// UpdateRunStatus moves a run to a new status.
func (d *DB) UpdateRunStatus(id, status string) error {
	_, err := d.conn.Exec(`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id)
	return err
}

// SaveStepProgress records a step transition for a run year.
func (d *DB) SaveStepProgress(runID string, year int, step, status string, rows int, started time.Time, finished *time.Time) error {
	var fin interface{}
	if finished != nil {
		fin = *finished
	}
	_, err := d.conn.Exec(
		`INSERT INTO run_steps (run_id, year, step, status, rows, started_at, finished_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, year, step, status, rows, started, fin)
	return err
}

// SaveWarning persists a non-fatal warning. Warnings are the audit trail
// for pass-through geo codes, fallback-year substitutions and empty inputs.
func (d *DB) SaveWarning(runID string, year int, step, message string) error {
	_, err := d.conn.Exec(
		`INSERT INTO run_warnings (run_id, year, step, message, created_at) VALUES (?, ?, ?, ?, ?)`,
		runID, year, step, message, time.Now().UTC())
	if err != nil {
		d.log.Error().Err(err).Msg("persist warning")
	}
	return err
}

// SaveRunError persists a fatal per-year step failure.
func (d *DB) SaveRunError(runID string, year int, step, message string) error {
	_, err := d.conn.Exec(
		`INSERT INTO run_errors (run_id, year, step, message, created_at) VALUES (?, ?, ?, ?, ?)`,
		runID, year, step, message, time.Now().UTC())
	return err
}

// ListRuns returns all runs, newest first.
func (d *DB) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := d.conn.QueryContext(ctx,
		`SELECT id, from_year, to_year, status, created_at, updated_at FROM runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.FromYear, &r.ToYear, &r.Status, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRun fetches one run by id.
func (d *DB) GetRun(ctx context.Context, id string) (Run, error) {
	var r Run
	err := d.conn.QueryRowContext(ctx,
		`SELECT id, from_year, to_year, status, created_at, updated_at FROM runs WHERE id = ?`, id).
		Scan(&r.ID, &r.FromYear, &r.ToYear, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

// ListSteps returns the recorded step transitions of a run.
func (d *DB) ListSteps(ctx context.Context, runID string) ([]StepProgress, error) {
	rows, err := d.conn.QueryContext(ctx,
		`SELECT run_id, year, step, status, rows, started_at, finished_at FROM run_steps WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StepProgress
	for rows.Next() {
		var s StepProgress
		var fin sql.NullTime
		if err := rows.Scan(&s.RunID, &s.Year, &s.Step, &s.Status, &s.Rows, &s.StartedAt, &fin); err != nil {
			return nil, err
		}
		if fin.Valid {
			s.FinishedAt = &fin.Time
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListWarnings returns the persisted warnings of a run.
func (d *DB) ListWarnings(ctx context.Context, runID string) ([]Warning, error) {
	rows, err := d.conn.QueryContext(ctx,
		`SELECT run_id, year, step, message, created_at FROM run_warnings WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Warning
	for rows.Next() {
		var w Warning
		if err := rows.Scan(&w.RunID, &w.Year, &w.Step, &w.Message, &w.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
