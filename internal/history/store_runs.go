package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrRunNotFound is returned when a run id has no row.
var ErrRunNotFound = errors.New("run not found")

// StartRun inserts a running row for the given run id.
func (s *Store) StartRun(ctx context.Context, runID string, stages []string, projectID int) (*Run, error) {
	if strings.TrimSpace(runID) == "" {
		return nil, errors.New("run id is required")
	}
	now := time.Now().UTC()
	_, err := s.execWithRetry(ctx,
		`INSERT INTO runs (id, stages, project_id, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		runID, joinStages(stages), projectID, string(StatusRunning), formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return &Run{
		ID:        runID,
		Stages:    append([]string(nil), stages...),
		ProjectID: projectID,
		Status:    StatusRunning,
		StartedAt: now,
	}, nil
}

// FinishRun closes a run with its terminal status.
func (s *Store) FinishRun(ctx context.Context, runID string, status Status, errMessage string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("finish run: status %q is not terminal", status)
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE runs SET status = ?, error_message = ?, finished_at = ? WHERE id = ?`,
		string(status), nullString(errMessage), formatTime(time.Now()), runID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// RecordStage appends a stage outcome to a run and returns the row id.
func (s *Store) RecordStage(ctx context.Context, result StageResult) (int64, error) {
	if strings.TrimSpace(result.RunID) == "" || strings.TrimSpace(result.Stage) == "" {
		return 0, errors.New("stage result requires run id and stage")
	}
	res, err := s.execWithRetry(ctx,
		`INSERT INTO stage_results (run_id, stage, status, succeeded, skipped, failed, detail, error_message, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.RunID, result.Stage, string(result.Status),
		result.Succeeded, result.Skipped, result.Failed,
		nullString(result.Detail), nullString(result.Error),
		formatTime(result.StartedAt), formatTime(result.FinishedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("insert stage result: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("stage result id: %w", err)
	}
	return id, nil
}

// GetRun loads a run by id.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), "SELECT "+runColumns+" FROM runs WHERE id = ?", runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first. A non-positive limit returns all runs.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := "SELECT " + runColumns + " FROM runs ORDER BY started_at DESC, id DESC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// StageResults returns the recorded stages of a run in execution order.
func (s *Store) StageResults(ctx context.Context, runID string) ([]StageResult, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		"SELECT "+stageColumns+" FROM stage_results WHERE run_id = ? ORDER BY id", runID)
	if err != nil {
		return nil, fmt.Errorf("list stage results: %w", err)
	}
	defer rows.Close()

	var results []StageResult
	for rows.Next() {
		result, err := scanStage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stage result: %w", err)
		}
		results = append(results, *result)
	}
	return results, rows.Err()
}

// MarkAbandoned closes runs left in the running state by a process that exited
// without finishing them. It returns the number of runs updated.
func (s *Store) MarkAbandoned(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE runs SET status = ?, error_message = ?, finished_at = ? WHERE status = ?`,
		string(StatusFailed), "run abandoned before completion", formatTime(time.Now()), string(StatusRunning),
	)
	if err != nil {
		return 0, fmt.Errorf("mark abandoned runs: %w", err)
	}
	return res.RowsAffected()
}

// Clear removes every run and stage result. It returns the number of runs removed.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	if _, err := s.execWithRetry(ctx, "DELETE FROM stage_results"); err != nil {
		return 0, fmt.Errorf("clear stage results: %w", err)
	}
	res, err := s.execWithRetry(ctx, "DELETE FROM runs")
	if err != nil {
		return 0, fmt.Errorf("clear history: %w", err)
	}
	return res.RowsAffected()
}
