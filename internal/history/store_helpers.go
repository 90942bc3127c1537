package history

import (
	"database/sql"
	"strings"
	"time"
)

const (
	runColumns   = "id, stages, project_id, status, error_message, started_at, finished_at"
	stageColumns = "id, run_id, stage, status, succeeded, skipped, failed, detail, error_message, started_at, finished_at"
)

// timeLayout keeps a fixed-width fraction so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(scanner rowScanner) (*Run, error) {
	var (
		id          string
		stages      string
		projectID   int64
		status      string
		errMessage  sql.NullString
		startedRaw  string
		finishedRaw sql.NullString
	)
	if err := scanner.Scan(&id, &stages, &projectID, &status, &errMessage, &startedRaw, &finishedRaw); err != nil {
		return nil, err
	}
	return &Run{
		ID:         id,
		Stages:     splitStages(stages),
		ProjectID:  int(projectID),
		Status:     Status(status),
		Error:      errMessage.String,
		StartedAt:  parseTime(startedRaw),
		FinishedAt: parseTime(finishedRaw.String),
	}, nil
}

func scanStage(scanner rowScanner) (*StageResult, error) {
	var (
		id          int64
		runID       string
		stage       string
		status      string
		succeeded   int64
		skipped     int64
		failed      int64
		detail      sql.NullString
		errMessage  sql.NullString
		startedRaw  string
		finishedRaw string
	)
	if err := scanner.Scan(&id, &runID, &stage, &status, &succeeded, &skipped, &failed, &detail, &errMessage, &startedRaw, &finishedRaw); err != nil {
		return nil, err
	}
	return &StageResult{
		ID:         id,
		RunID:      runID,
		Stage:      stage,
		Status:     Status(status),
		Succeeded:  int(succeeded),
		Skipped:    int(skipped),
		Failed:     int(failed),
		Detail:     detail.String,
		Error:      errMessage.String,
		StartedAt:  parseTime(startedRaw),
		FinishedAt: parseTime(finishedRaw),
	}, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

func joinStages(stages []string) string {
	return strings.Join(stages, ",")
}

func splitStages(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

func nullString(value string) sql.NullString {
	if strings.TrimSpace(value) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
