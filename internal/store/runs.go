package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Toepfer-Lab/mmon-gcm/internal/sweep"
)

// RunRecord is a persisted sweep run.
type RunRecord struct {
	ID          int64              `json:"id"`
	RunID       string             `json:"run_id"`
	Cores       string             `json:"cores"`
	Status      string             `json:"status"`
	TotalTasks  int                `json:"total_tasks"`
	Plan        json.RawMessage    `json:"plan,omitempty"`
	StartedAt   time.Time          `json:"started_at"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
	ExitCode    *int               `json:"exit_code,omitempty"`
	Error       string             `json:"error,omitempty"`
	Invocations []InvocationRecord `json:"invocations,omitempty"`
}

// InvocationRecord is one persisted solver invocation.
type InvocationRecord struct {
	TaskIndex         int           `json:"task_index"`
	Reference         bool          `json:"reference"`
	LightColour       string        `json:"light_colour"`
	ATPaseConstrained string        `json:"atpase_constrained"`
	StarchKnockout    string        `json:"starch_knockout"`
	OutputPath        string        `json:"output_path"`
	Status            string        `json:"status"`
	ExitCode          int           `json:"exit_code"`
	CommandLine       string        `json:"command_line,omitempty"`
	Output            string        `json:"output,omitempty"`
	StartedAt         time.Time     `json:"started_at"`
	Duration          time.Duration `json:"duration"`
	Error             string        `json:"error,omitempty"`
}

var _ sweep.Persister = (*Store)(nil)

// SaveRunStart records a new run and its plan.
func (s *Store) SaveRunStart(runID, cores string, plan *sweep.Plan, startedAt time.Time) error {
	var planJSON []byte
	total := 0
	if plan != nil {
		tasks := plan.Tasks()
		total = len(tasks)
		var err error
		if planJSON, err = json.Marshal(tasks); err != nil {
			return fmt.Errorf("encoding plan for run %s: %w", runID, err)
		}
	}

	query := `
		INSERT INTO sweep_runs (run_id, cores, status, total_tasks, plan_json, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	err := retryOnBusy(func() error {
		_, err := s.db.Exec(query,
			runID,
			cores,
			string(sweep.StatusRunning),
			total,
			nullStr(string(planJSON)),
			formatTime(startedAt),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", runID, err)
	}
	return nil
}

// SaveTaskResult records the outcome of one invocation, replacing any
// earlier row for the same task.
func (s *Store) SaveTaskResult(runID string, r sweep.TaskResult) error {
	c := r.Task.Combination
	query := `
		INSERT OR REPLACE INTO sweep_invocations (
			run_id, task_index, reference, light_colour, atpase_constrained, starch_knockout,
			output_path, status, exit_code, command_line, output, started_at, duration_ms, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	err := retryOnBusy(func() error {
		_, err := s.db.Exec(query,
			runID,
			r.Task.Index,
			r.Task.Reference,
			c.Light.Token(),
			c.ATPase.Token(),
			c.Starch.Token(),
			r.Task.OutputPath,
			string(r.Status),
			r.ExitCode,
			nullStr(r.CommandLine),
			nullStr(r.Output),
			formatTime(r.StartedAt),
			r.Duration.Milliseconds(),
			nullStr(r.Error),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("inserting invocation %d of run %s: %w", r.Task.Index, runID, err)
	}
	return nil
}

// SaveRunComplete records the final status of a run.
func (s *Store) SaveRunComplete(runID string, status sweep.Status, completedAt time.Time, exitCode int, errMsg string) error {
	query := `
		UPDATE sweep_runs
		SET status = ?, completed_at = ?, exit_code = ?, error = ?
		WHERE run_id = ?
	`
	var n int64
	err := retryOnBusy(func() error {
		res, err := s.db.Exec(query, string(status), formatTime(completedAt), exitCode, nullStr(errMsg), runID)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("updating run %s: %w", runID, err)
	}
	if n == 0 {
		return fmt.Errorf("updating run %s: %w", runID, ErrNotFound)
	}
	return nil
}

const runColumns = `id, run_id, cores, status, total_tasks, plan_json, started_at, completed_at, exit_code, error`

// GetRun returns a run with its invocations in plan order.
func (s *Store) GetRun(runID string) (*RunRecord, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM sweep_runs WHERE run_id = ?`, runID)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying run %s: %w", runID, err)
	}

	inv, err := s.listInvocations(runID)
	if err != nil {
		return nil, err
	}
	rec.Invocations = inv
	return rec, nil
}

// LatestRun returns the most recently started run with its invocations.
func (s *Store) LatestRun() (*RunRecord, error) {
	var runID string
	err := s.db.QueryRow(`SELECT run_id FROM sweep_runs ORDER BY id DESC LIMIT 1`).Scan(&runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest run: %w", err)
	}
	return s.GetRun(runID)
}

// ListRuns returns up to limit runs, newest first, without invocations.
// A limit of 0 or less returns every run.
func (s *Store) ListRuns(limit int) ([]RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM sweep_runs ORDER BY id DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *Store) listInvocations(runID string) ([]InvocationRecord, error) {
	rows, err := s.db.Query(`
		SELECT task_index, reference, light_colour, atpase_constrained, starch_knockout,
		       output_path, status, exit_code, command_line, output, started_at, duration_ms, error
		FROM sweep_invocations
		WHERE run_id = ?
		ORDER BY task_index
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing invocations for %s: %w", runID, err)
	}
	defer rows.Close()

	var out []InvocationRecord
	for rows.Next() {
		var inv InvocationRecord
		var cmdLine, output, startedAt, errMsg sql.NullString
		var durationMs int64
		if err := rows.Scan(
			&inv.TaskIndex, &inv.Reference, &inv.LightColour, &inv.ATPaseConstrained, &inv.StarchKnockout,
			&inv.OutputPath, &inv.Status, &inv.ExitCode, &cmdLine, &output, &startedAt, &durationMs, &errMsg,
		); err != nil {
			return nil, fmt.Errorf("scanning invocation: %w", err)
		}
		inv.CommandLine = cmdLine.String
		inv.Output = output.String
		inv.Error = errMsg.String
		inv.Duration = time.Duration(durationMs) * time.Millisecond
		if inv.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, fmt.Errorf("parsing started_at for task %d: %w", inv.TaskIndex, err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(sc scanner) (*RunRecord, error) {
	var rec RunRecord
	var planJSON, startedAt, completedAt, errMsg sql.NullString
	var exitCode sql.NullInt64
	if err := sc.Scan(
		&rec.ID, &rec.RunID, &rec.Cores, &rec.Status, &rec.TotalTasks,
		&planJSON, &startedAt, &completedAt, &exitCode, &errMsg,
	); err != nil {
		return nil, err
	}

	if planJSON.Valid && planJSON.String != "" {
		rec.Plan = json.RawMessage(planJSON.String)
	}
	rec.Error = errMsg.String
	if exitCode.Valid {
		code := int(exitCode.Int64)
		rec.ExitCode = &code
	}

	var err error
	if rec.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, fmt.Errorf("parsing started_at for run %s: %w", rec.RunID, err)
	}
	if completedAt.Valid {
		t, err := parseTime(completedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing completed_at for run %s: %w", rec.RunID, err)
		}
		rec.CompletedAt = &t
	}
	return &rec, nil
}
