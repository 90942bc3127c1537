package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"labelloop/internal/config"
	"labelloop/internal/logging"
	"labelloop/internal/services/yolo"
	"labelloop/internal/stage"
)

// PredictOptions override configuration for a single prediction run.
type PredictOptions struct {
	Model      string
	ImageDir   string
	OutputDir  string
	Confidence float64
}

// Predictor runs the detector over the image directory.
type Predictor struct {
	cfg    *config.Config
	yolo   *yolo.Client
	opts   PredictOptions
	logger *slog.Logger
}

// NewPredictor constructs the predict stage.
func NewPredictor(cfg *config.Config, client *yolo.Client, opts PredictOptions, logger *slog.Logger) *Predictor {
	p := &Predictor{cfg: cfg, yolo: client, opts: opts}
	p.SetLogger(logger)
	return p
}

// SetLogger swaps the stage logger.
func (p *Predictor) SetLogger(logger *slog.Logger) {
	p.logger = logging.NewComponentLogger(logger, "predictor")
}

func (p *Predictor) model(state *stage.State) string {
	return firstNonEmpty(p.opts.Model, state.ModelPath, p.cfg.Paths.UpdatedModelPath)
}

func (p *Predictor) imageDir() string {
	return firstNonEmpty(p.opts.ImageDir, p.cfg.Paths.ImageDir)
}

// Prepare checks the model and the image directory.
func (p *Predictor) Prepare(_ context.Context, state *stage.State) error {
	if err := stage.RequireFile(stage.Predict, "model", p.model(state), stage.Train); err != nil {
		return err
	}
	return stage.RequireDir(stage.Predict, "image directory", p.imageDir(), "")
}

// Execute writes YOLO label files with confidences for every image.
func (p *Predictor) Execute(ctx context.Context, state *stage.State) error {
	conf := p.opts.Confidence
	if conf <= 0 {
		conf = p.cfg.YOLO.ModelScoreThreshold
	}
	req := yolo.PredictRequest{
		Model:      p.model(state),
		Source:     p.imageDir(),
		OutputDir:  firstNonEmpty(p.opts.OutputDir, p.cfg.Paths.PredictionsDir),
		Name:       "predict",
		Confidence: conf,
		ImageSize:  p.cfg.YOLO.ImageSize,
		Device:     p.cfg.YOLO.Device,
	}
	p.logger.Info("prediction started",
		logging.String(logging.FieldEventType, "predict_start"),
		logging.String("model", req.Model),
		logging.String("source", req.Source),
		logging.Float64("confidence", conf),
	)

	result, err := p.yolo.Predict(ctx, req, progressLogger(p.logger, "prediction"))
	if err != nil {
		return err
	}
	state.LabelsDir = result.LabelsDir
	state.Predict = &result
	state.Outcome = stage.Outcome{
		Succeeded: result.LabelFiles,
		Detail:    fmt.Sprintf("%d label file(s) in %s", result.LabelFiles, result.LabelsDir),
	}
	return nil
}

// HealthCheck reports whether the yolo binary is available.
func (p *Predictor) HealthCheck(context.Context) stage.Health {
	return binaryHealth(yoloBinary(p.cfg), "predictor")
}
