package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"labelloop/internal/config"
	"labelloop/internal/logging"
	"labelloop/internal/services/yolo"
	"labelloop/internal/stage"
)

// TrainOptions override configuration for a single training run.
type TrainOptions struct {
	Data      string
	BaseModel string
	Output    string
	Epochs    int
	ImageSize int
}

// Trainer fine-tunes the detector on the exported dataset.
type Trainer struct {
	cfg    *config.Config
	yolo   *yolo.Client
	opts   TrainOptions
	logger *slog.Logger
}

// NewTrainer constructs the train stage.
func NewTrainer(cfg *config.Config, client *yolo.Client, opts TrainOptions, logger *slog.Logger) *Trainer {
	t := &Trainer{cfg: cfg, yolo: client, opts: opts}
	t.SetLogger(logger)
	return t
}

// SetLogger swaps the stage logger.
func (t *Trainer) SetLogger(logger *slog.Logger) {
	t.logger = logging.NewComponentLogger(logger, "trainer")
}

func (t *Trainer) data(state *stage.State) string {
	return firstNonEmpty(t.opts.Data, state.DataYAML, DatasetManifest(t.cfg.Paths.ExportDir))
}

// Prepare checks that a dataset manifest exists.
func (t *Trainer) Prepare(_ context.Context, state *stage.State) error {
	return stage.RequireFile(stage.Train, "dataset manifest", t.data(state), stage.Export)
}

// Execute runs yolo training and records the new model path.
func (t *Trainer) Execute(ctx context.Context, state *stage.State) error {
	req := yolo.TrainRequest{
		Data:          t.data(state),
		BaseModel:     firstNonEmpty(t.opts.BaseModel, t.cfg.Paths.BaseModelPath),
		FallbackModel: t.cfg.YOLO.FallbackModel,
		Output:        firstNonEmpty(t.opts.Output, t.cfg.Paths.UpdatedModelPath),
		RunsDir:       t.cfg.Paths.RunsDir,
		Name:          "train",
		Epochs:        firstPositive(t.opts.Epochs, t.cfg.YOLO.Epochs),
		ImageSize:     firstPositive(t.opts.ImageSize, t.cfg.YOLO.ImageSize),
		Device:        t.cfg.YOLO.Device,
	}
	t.logger.Info("training started",
		logging.String(logging.FieldEventType, "train_start"),
		logging.String("data", req.Data),
		logging.String("base_model", req.BaseModel),
		logging.Int("epochs", req.Epochs),
		logging.Int("image_size", req.ImageSize),
	)

	result, err := t.yolo.Train(ctx, req, progressLogger(t.logger, "training"))
	if err != nil {
		return err
	}
	if result.UsedFallback {
		logging.WarnWithContext(t.logger, "base model missing, trained from stock weights", "train_fallback",
			logging.String("base_model", req.BaseModel),
			logging.String("fallback", result.BaseModel),
			logging.String(logging.FieldImpact, "the new model does not build on earlier training"),
			logging.String(logging.FieldErrorHint, "set paths.base_model_path to reuse earlier weights"),
		)
	}

	state.ModelPath = result.Model
	state.Train = &result
	state.Outcome = stage.Outcome{
		Succeeded: 1,
		Detail:    fmt.Sprintf("model written to %s", result.Model),
	}
	return nil
}

// HealthCheck reports whether the yolo binary is available.
func (t *Trainer) HealthCheck(context.Context) stage.Health {
	return binaryHealth(yoloBinary(t.cfg), "trainer")
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func firstPositive(values ...int) int {
	for _, value := range values {
		if value > 0 {
			return value
		}
	}
	return 0
}
