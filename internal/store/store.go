// Package store implements the optional §6.5 persisted-run layout: when a
// host opts into it, a run's metadata, event stream, and step history are
// written to SQLite instead of the flat-file layout
// (run-<id>/{metadata.json, events.jsonl, steps.jsonl, raw/<key>.json}) the
// specification sketches, relational tables serving the same purpose. The
// runtime must function without persistence (§6.5); nothing in
// internal/orchestrator depends on this package directly.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/taskrun/plannerd/internal/events"
	"github.com/taskrun/plannerd/pkg/models"
)

// Store persists run metadata, the event stream, and step history to a
// SQLite database. A Store is also a Sink, so a host wires it into the same
// events.NewMultiSink an orchestrator run uses.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) and migrates the SQLite database at path, then
// returns a ready-to-use Store. path may be ":memory:" for tests.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store: path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY churn

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			user_id TEXT,
			task_prefix TEXT,
			success INTEGER,
			error_code TEXT,
			error TEXT,
			final_summary TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			completed_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS run_events (
			run_id TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			type TEXT NOT NULL,
			step_id INTEGER,
			occurred_at DATETIME NOT NULL,
			payload TEXT NOT NULL,
			PRIMARY KEY (run_id, sequence)
		)`,
		`CREATE TABLE IF NOT EXISTS run_steps (
			run_id TEXT NOT NULL,
			step_id INTEGER NOT NULL,
			type TEXT NOT NULL,
			reasoning TEXT,
			success INTEGER,
			error_code TEXT,
			observation TEXT,
			started_at DATETIME,
			ended_at DATETIME,
			PRIMARY KEY (run_id, step_id)
		)`,
		`CREATE TABLE IF NOT EXISTS run_raw_outputs (
			run_id TEXT NOT NULL,
			output_key TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (run_id, output_key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_run_events_run ON run_events(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_run_steps_run ON run_steps(run_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Emit implements events.Sink, appending every event to run_events and
// eagerly recording the run row (insert-or-ignore on task.started, update on
// task.completed) so a host can observe an in-flight run without waiting for
// PersistResult.
func (s *Store) Emit(ctx context.Context, e models.RunEvent) {
	payload, err := json.Marshal(e)
	if err != nil {
		return
	}
	_, _ = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO run_events (run_id, sequence, type, step_id, occurred_at, payload) VALUES (?,?,?,?,?,?)`,
		e.RunID, e.Sequence, string(e.Type), e.StepID, e.Time, string(payload),
	)

	switch e.Type {
	case models.RunEventTaskStarted:
		if e.TaskStarted != nil {
			_, _ = s.db.ExecContext(ctx,
				`INSERT OR IGNORE INTO runs (run_id, tenant_id, user_id, task_prefix, created_at) VALUES (?,?,?,?,?)`,
				e.RunID, "", e.TaskStarted.UserID, e.TaskStarted.TaskPrefix, e.Time,
			)
		}
	case models.RunEventTaskCompleted:
		if e.TaskCompleted != nil {
			successVal := 0
			if e.TaskCompleted.Success {
				successVal = 1
			}
			_, _ = s.db.ExecContext(ctx,
				`UPDATE runs SET success = ?, error_code = ?, completed_at = ? WHERE run_id = ?`,
				successVal, e.TaskCompleted.ErrorCode, e.Time, e.RunID,
			)
		}
	}
}

var _ events.Sink = (*Store)(nil)

// PersistResult writes a completed run's steps and raw outputs, and backfills
// the runs row's tenant/summary/error fields that Emit alone can't supply
// (MCPTaskResult carries them, individual events don't). Call this once,
// after Orchestrator.Execute returns.
func (s *Store) PersistResult(ctx context.Context, runID, tenantID string, result *models.MCPTaskResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	successVal := 0
	if result.Success {
		successVal = 1
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE runs SET tenant_id = ?, success = ?, error_code = ?, error = ?, final_summary = ? WHERE run_id = ?`,
		tenantID, successVal, result.ErrorCode, result.Error, result.FinalSummary, runID,
	); err != nil {
		return fmt.Errorf("store: update run: %w", err)
	}

	for _, step := range result.Steps {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO run_steps (run_id, step_id, type, reasoning, success, error_code, observation, started_at, ended_at)
			 VALUES (?,?,?,?,?,?,?,?,?)`,
			runID, step.StepID, string(step.Type), step.Reasoning, boolToInt(step.Result.Success),
			step.Result.ErrorCode, step.Result.Observation, step.StartedAt, step.EndedAt,
		); err != nil {
			return fmt.Errorf("store: insert step %d: %w", step.StepID, err)
		}
	}

	for key, value := range result.RawOutputs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO run_raw_outputs (run_id, output_key, value) VALUES (?,?,?)`,
			runID, key, string(value),
		); err != nil {
			return fmt.Errorf("store: insert raw output %q: %w", key, err)
		}
	}

	return tx.Commit()
}

// RunSummary is the row-level view of a persisted run, used by read paths
// (a future `plannerd inspect` subcommand, or tests) that don't need the
// full MCPTaskResult.
type RunSummary struct {
	RunID        string
	TenantID     string
	UserID       string
	TaskPrefix   string
	Success      bool
	ErrorCode    string
	FinalSummary string
	CreatedAt    time.Time
}

// GetRun loads one run's summary row. Returns sql.ErrNoRows if runID is unknown.
func (s *Store) GetRun(ctx context.Context, runID string) (*RunSummary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, tenant_id, user_id, task_prefix, success, error_code, final_summary, created_at
		 FROM runs WHERE run_id = ?`, runID)

	var r RunSummary
	var success sql.NullInt64
	var errorCode, finalSummary sql.NullString
	if err := row.Scan(&r.RunID, &r.TenantID, &r.UserID, &r.TaskPrefix, &success, &errorCode, &finalSummary, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.Success = success.Int64 == 1
	r.ErrorCode = errorCode.String
	r.FinalSummary = finalSummary.String
	return &r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
