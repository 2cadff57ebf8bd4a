// Package history is the SQLite audit trail of task runs. Every executed
// step and every finalized result is recorded; nothing in the execution
// loop ever reads the trail back, so a broken store can slow a run down
// but never change its outcome.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/harrison/steward/internal/filelock"
	"github.com/harrison/steward/internal/models"
)

//go:embed schema.sql
var schemaSQL string

// DBFileName is the database file created inside the store directory.
const DBFileName = "steward.db"

// Store owns one on-disk audit database. The store directory is guarded
// by an advisory lock so two steward processes never share a database.
type Store struct {
	db   *sql.DB
	path string
	lock *filelock.FileLock
}

// ResultRecord is one persisted task outcome.
type ResultRecord struct {
	TaskID           string
	Success          bool
	StepCount        int
	Errors           []string
	Artifacts        map[string]string
	Confidence       *float64
	EscalationReason string
	StartedAt        time.Time
	CompletedAt      time.Time
}

// StepRecord is one persisted step.
type StepRecord struct {
	TaskID            string
	StepNumber        int
	Description       string
	ToolName          string
	Operation         string
	Success           bool
	Output            string
	ErrorMessage      string
	ValidationSuccess bool
	ValidationIssues  []string
	Attempt           int
	Duration          time.Duration
	Cost              models.Usage
}

// Open creates or opens the audit store in the given directory. The
// directory is created when missing and locked for the store's lifetime.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	lock := filelock.New(filepath.Join(dir, DBFileName+".lock"))
	acquired, err := lock.TryLock()
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, fmt.Errorf("history store in %s is in use by another process", dir)
	}

	store, err := open(filepath.Join(dir, DBFileName))
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	store.lock = lock
	return store, nil
}

// OpenInMemory opens a throwaway in-memory store.
func OpenInMemory() (*Store, error) {
	return open(":memory:")
}

func open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// busy_timeout first so the remaining pragmas wait on locks instead
	// of failing outright.
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=-64000",
	}
	for _, pragma := range pragmas {
		if err := execWithRetry(db, pragma, 5, 10*time.Millisecond); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// execWithRetry retries a statement with exponential backoff on
// "database is locked"; every other error fails immediately.
func execWithRetry(db *sql.DB, stmt string, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := db.Exec(stmt)
		if err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		lastErr = err
		time.Sleep(baseDelay * time.Duration(1<<attempt))
	}
	return lastErr
}

// Close closes the database and releases the directory lock.
func (s *Store) Close() error {
	var dbErr error
	if s.db != nil {
		dbErr = s.db.Close()
	}
	if s.lock != nil {
		if err := s.lock.Unlock(); err != nil && dbErr == nil {
			dbErr = err
		}
	}
	return dbErr
}

// RecordStep persists one executed step.
func (s *Store) RecordStep(ctx context.Context, taskID string, step models.Step) error {
	issues, err := json.Marshal(step.Validation.Issues)
	if err != nil {
		return fmt.Errorf("marshal validation issues: %w", err)
	}

	query := `INSERT INTO task_steps
		(task_id, step_number, description, tool_name, operation, success, output,
		 error_message, validation_success, validation_issues, attempt, duration_ms,
		 input_tokens, output_tokens, cost_usd)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		taskID,
		step.Number,
		step.Action.Description,
		step.Action.ToolName,
		step.Action.Operation,
		step.Result.Success,
		step.Result.Output,
		step.Result.Error,
		step.Validation.Success,
		string(issues),
		step.Result.Attempt,
		step.Result.Duration.Milliseconds(),
		step.Cost.InputTokens,
		step.Cost.OutputTokens,
		step.Cost.CostUSD,
	)
	if err != nil {
		return fmt.Errorf("insert step: %w", err)
	}
	return nil
}

// RecordResult persists one finalized task outcome.
func (s *Store) RecordResult(ctx context.Context, result *models.TaskResult) error {
	errs, err := json.Marshal(result.Errors)
	if err != nil {
		return fmt.Errorf("marshal errors: %w", err)
	}
	artifacts, err := json.Marshal(result.Artifacts)
	if err != nil {
		return fmt.Errorf("marshal artifacts: %w", err)
	}

	query := `INSERT INTO task_results
		(task_id, success, step_count, errors, artifacts, confidence,
		 escalation_reason, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var confidence any
	if result.Confidence != nil {
		confidence = *result.Confidence
	}

	_, err = s.db.ExecContext(ctx, query,
		result.TaskID,
		result.Success,
		len(result.Steps),
		string(errs),
		string(artifacts),
		confidence,
		result.Metadata.EscalationReason,
		result.Metadata.StartedAt,
		result.Metadata.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// ListSteps returns a task's steps in execution order.
func (s *Store) ListSteps(ctx context.Context, taskID string) ([]StepRecord, error) {
	query := `SELECT task_id, step_number, description, tool_name, operation,
		success, output, error_message, validation_success, validation_issues,
		attempt, duration_ms, input_tokens, output_tokens, cost_usd
		FROM task_steps WHERE task_id = ? ORDER BY step_number ASC`

	rows, err := s.db.QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	var steps []StepRecord
	for rows.Next() {
		var rec StepRecord
		var issuesJSON string
		var durationMS int64
		if err := rows.Scan(
			&rec.TaskID, &rec.StepNumber, &rec.Description, &rec.ToolName,
			&rec.Operation, &rec.Success, &rec.Output, &rec.ErrorMessage,
			&rec.ValidationSuccess, &issuesJSON, &rec.Attempt, &durationMS,
			&rec.Cost.InputTokens, &rec.Cost.OutputTokens, &rec.Cost.CostUSD,
		); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		if err := json.Unmarshal([]byte(issuesJSON), &rec.ValidationIssues); err != nil {
			return nil, fmt.Errorf("unmarshal validation issues: %w", err)
		}
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		steps = append(steps, rec)
	}
	return steps, rows.Err()
}

// ListResults returns a task's recorded outcomes, oldest first.
func (s *Store) ListResults(ctx context.Context, taskID string) ([]ResultRecord, error) {
	query := `SELECT task_id, success, step_count, errors, artifacts, confidence,
		escalation_reason, started_at, completed_at
		FROM task_results WHERE task_id = ? ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var results []ResultRecord
	for rows.Next() {
		var rec ResultRecord
		var errsJSON, artifactsJSON string
		var confidence sql.NullFloat64
		if err := rows.Scan(
			&rec.TaskID, &rec.Success, &rec.StepCount, &errsJSON, &artifactsJSON,
			&confidence, &rec.EscalationReason, &rec.StartedAt, &rec.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if err := json.Unmarshal([]byte(errsJSON), &rec.Errors); err != nil {
			return nil, fmt.Errorf("unmarshal errors: %w", err)
		}
		if err := json.Unmarshal([]byte(artifactsJSON), &rec.Artifacts); err != nil {
			return nil, fmt.Errorf("unmarshal artifacts: %w", err)
		}
		if confidence.Valid {
			v := confidence.Float64
			rec.Confidence = &v
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}
