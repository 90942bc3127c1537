package history

import "time"

// Status describes the outcome of a run or a stage.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	// StatusBlocked marks failures that need operator action (bad config,
	// missing inputs) before a retry can succeed.
	StatusBlocked Status = "blocked"
	StatusSkipped Status = "skipped"
)

// IsTerminal reports whether the status closes a run.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusBlocked, StatusSkipped:
		return true
	default:
		return false
	}
}

// Run is a single invocation of the pipeline runner.
type Run struct {
	ID         string    `json:"id"`
	Stages     []string  `json:"stages"`
	ProjectID  int       `json:"project_id"`
	Status     Status    `json:"status"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Duration returns the elapsed time of a finished run, or zero while it is running.
func (r Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// StageResult records what one stage did within a run.
type StageResult struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	Stage      string    `json:"stage"`
	Status     Status    `json:"status"`
	Succeeded  int       `json:"succeeded"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	Detail     string    `json:"detail,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}
