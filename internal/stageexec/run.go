package stageexec

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"labelloop/internal/history"
	"labelloop/internal/logging"
	"labelloop/internal/services"
	"labelloop/internal/stage"
)

// Options controls stage execution and history persistence.
type Options struct {
	Logger    *slog.Logger
	Store     *history.Store
	Handler   stage.Handler
	StageName string
	State     *stage.State
}

// Run executes one stage against the shared run state and records the
// outcome. The store is optional; without it nothing is persisted.
func Run(ctx context.Context, opts Options) error {
	if opts.Handler == nil {
		return fmt.Errorf("stage handler unavailable: %s", opts.StageName)
	}
	if opts.State == nil {
		return fmt.Errorf("run state is required")
	}

	stageCtx := services.WithStage(ctx, opts.StageName)
	stageLogger := logging.WithContext(stageCtx, opts.Logger)
	if aware, ok := opts.Handler.(stage.LoggerAware); ok {
		aware.SetLogger(stageLogger)
	}

	started := time.Now().UTC()
	opts.State.Outcome = stage.Outcome{}
	stageLogger.Info(
		"stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("stage_label", Label(opts.StageName)),
	)

	if err := opts.Handler.Prepare(stageCtx, opts.State); err != nil {
		return handleFailure(stageCtx, stageLogger, opts, started, err)
	}
	if err := opts.Handler.Execute(stageCtx, opts.State); err != nil {
		return handleFailure(stageCtx, stageLogger, opts, started, err)
	}

	outcome := opts.State.Outcome
	record(stageCtx, stageLogger, opts, history.StageResult{
		Status:    history.StatusSucceeded,
		Succeeded: outcome.Succeeded,
		Skipped:   outcome.Skipped,
		Failed:    outcome.Failed,
		Detail:    outcome.Detail,
		StartedAt: started,
	})

	stageLogger.Info(
		"stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Int("succeeded", outcome.Succeeded),
		logging.Int("skipped", outcome.Skipped),
		logging.Int("failed", outcome.Failed),
		logging.String("detail", outcome.Detail),
		logging.Duration("elapsed", time.Since(started)),
	)
	return nil
}

func handleFailure(ctx context.Context, logger *slog.Logger, opts Options, started time.Time, stageErr error) error {
	status := services.FailureStatus(stageErr)
	message := strings.TrimSpace(stageErr.Error())

	logger.Error(
		"stage failed",
		logging.String(logging.FieldEventType, "stage_failure"),
		logging.String("resolved_status", string(status)),
		logging.String(logging.FieldErrorHint, hintFor(status)),
		logging.Error(stageErr),
	)

	outcome := opts.State.Outcome
	record(ctx, logger, opts, history.StageResult{
		Status:    status,
		Succeeded: outcome.Succeeded,
		Skipped:   outcome.Skipped,
		Failed:    outcome.Failed,
		Detail:    outcome.Detail,
		Error:     message,
		StartedAt: started,
	})
	return stageErr
}

func record(ctx context.Context, logger *slog.Logger, opts Options, result history.StageResult) {
	if opts.Store == nil || opts.State.RunID == "" {
		return
	}
	result.RunID = opts.State.RunID
	result.Stage = opts.StageName
	result.FinishedAt = time.Now().UTC()
	// The stage context may already be canceled; history is still written.
	if _, err := opts.Store.RecordStage(context.WithoutCancel(ctx), result); err != nil {
		logger.Error("failed to persist stage result", logging.Error(err))
	}
}

func hintFor(status history.Status) string {
	if status == history.StatusBlocked {
		return "fix the configuration or inputs, then rerun the stage"
	}
	return "check logs for details; the stage can be rerun"
}

// Label renders a stage name for display ("predict" -> "Predict").
func Label(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	return cases.Title(language.English).String(strings.ReplaceAll(name, "_", " "))
}
