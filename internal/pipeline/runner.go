package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"labelloop/internal/config"
	"labelloop/internal/history"
	"labelloop/internal/logging"
	"labelloop/internal/services"
	"labelloop/internal/services/labelstudio"
	"labelloop/internal/services/yolo"
	"labelloop/internal/stage"
	"labelloop/internal/stageexec"
)

const lockFileName = "pipeline.lock"

// ErrBusy is returned when another pipeline run holds the state lock.
var ErrBusy = errors.New("another labelloop run is in progress")

// Options carries per-invocation overrides for every stage.
type Options struct {
	Upload  UploadOptions
	Export  ExportOptions
	Train   TrainOptions
	Predict PredictOptions
	Import  ImportOptions
}

// Runner executes stages in order against one shared state.
type Runner struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *history.Store
	handlers map[string]stage.Handler
}

// NewRunner builds a runner with explicit handlers. The store is optional.
func NewRunner(cfg *config.Config, logger *slog.Logger, store *history.Store, handlers map[string]stage.Handler) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{cfg: cfg, logger: logger, store: store, handlers: handlers}
}

// NewDefaultRunner wires the standard handlers to the given clients.
func NewDefaultRunner(cfg *config.Config, logger *slog.Logger, store *history.Store, ls *labelstudio.Client, detector *yolo.Client, opts Options) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	handlers := map[string]stage.Handler{
		stage.Upload:  NewUploader(cfg, ls, opts.Upload, logger),
		stage.Export:  NewExporter(cfg, ls, opts.Export, logger),
		stage.Train:   NewTrainer(cfg, detector, opts.Train, logger),
		stage.Predict: NewPredictor(cfg, detector, opts.Predict, logger),
		stage.Import:  NewImporter(cfg, ls, opts.Import, logger),
	}
	return NewRunner(cfg, logger, store, handlers)
}

// Run executes the named stages in order, stopping at the first failure.
// Every selected handler must pass its health check before anything runs.
// The returned state carries whatever the completed stages produced.
func (r *Runner) Run(ctx context.Context, stages []string, state *stage.State) (*stage.State, error) {
	if state == nil {
		state = &stage.State{}
	}
	if len(stages) == 0 {
		return state, services.Wrap(services.ErrValidation, "pipeline", "stages", "no stages selected", nil)
	}

	unlock, err := r.lock()
	if err != nil {
		return state, err
	}
	defer unlock()

	if r.store != nil {
		if abandoned, err := r.store.MarkAbandoned(ctx); err != nil {
			logging.WarnWithContext(r.logger, "failed to close abandoned runs", "history_abandoned_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "stale runs stay marked as running"),
			)
		} else if abandoned > 0 {
			r.logger.Info("closed abandoned runs", logging.Int64("count", abandoned))
		}
	}

	for _, name := range stages {
		handler, ok := r.handlers[name]
		if !ok {
			return state, services.Wrap(services.ErrValidation, "pipeline", "stages", "no handler for stage "+name, nil)
		}
		if err := handler.HealthCheck(ctx).Err(name); err != nil {
			return state, err
		}
	}

	if state.RunID == "" {
		state.RunID = uuid.NewString()
	}
	if state.ProjectID <= 0 {
		state.ProjectID = r.cfg.LabelStudio.ProjectID
	}
	runCtx := services.WithRunID(ctx, state.RunID)
	runCtx = services.WithProjectID(runCtx, state.ProjectID)
	runLogger := logging.WithContext(runCtx, r.logger)

	if r.store != nil {
		if _, err := r.store.StartRun(runCtx, state.RunID, stages, state.ProjectID); err != nil {
			return state, fmt.Errorf("record run start: %w", err)
		}
	}
	runLogger.Info("run started",
		logging.String(logging.FieldEventType, "run_start"),
		logging.String("stages", strings.Join(stages, ",")),
	)

	var runErr error
	for _, name := range stages {
		runErr = stageexec.Run(runCtx, stageexec.Options{
			Logger:    runLogger,
			Store:     r.store,
			Handler:   r.handlers[name],
			StageName: name,
			State:     state,
		})
		if runErr != nil {
			break
		}
	}

	status := history.StatusSucceeded
	var message string
	if runErr != nil {
		status = services.FailureStatus(runErr)
		message = runErr.Error()
	}
	if r.store != nil {
		if err := r.store.FinishRun(context.WithoutCancel(runCtx), state.RunID, status, message); err != nil {
			logging.WarnWithContext(runLogger, "failed to record run finish", "history_finish_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "history shows the run as running"),
			)
		}
	}
	if runErr != nil {
		logging.ErrorWithContext(runLogger, "run failed", "run_failed",
			logging.String("status", string(status)),
			logging.Error(runErr),
			logging.String(logging.FieldErrorHint, "fix the failing stage and rerun it with --stages"),
		)
		return state, runErr
	}
	runLogger.Info("run finished",
		logging.String(logging.FieldEventType, "run_complete"),
		logging.String("status", string(status)),
	)
	return state, nil
}

// lock takes the exclusive state lock so two runs never write the same
// dataset or prediction directories.
func (r *Runner) lock() (func(), error) {
	dir := strings.TrimSpace(r.cfg.Paths.StateDir)
	if dir == "" {
		return func() {}, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	lock := flock.New(filepath.Join(dir, lockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire pipeline lock: %w", err)
	}
	if !ok {
		return nil, ErrBusy
	}
	return func() { _ = lock.Unlock() }, nil
}
