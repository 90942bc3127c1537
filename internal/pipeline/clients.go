package pipeline

import (
	"log/slog"
	"time"

	"labelloop/internal/config"
	"labelloop/internal/deps"
	"labelloop/internal/logging"
	"labelloop/internal/services/labelstudio"
	"labelloop/internal/services/yolo"
)

// NewLabelStudioClient builds the API client for the configured server.
func NewLabelStudioClient(cfg *config.Config, opts ...labelstudio.Option) *labelstudio.Client {
	return labelstudio.NewClient(labelstudio.Config{
		URL:            cfg.LabelStudio.URL,
		APIKey:         cfg.LabelStudio.APIKey,
		TimeoutSeconds: cfg.LabelStudio.RequestTimeout,
	}, opts...)
}

// NewYOLOClient builds the detector client for the configured binary.
func NewYOLOClient(cfg *config.Config, opts ...yolo.Option) (*yolo.Client, error) {
	return yolo.New(yoloBinary(cfg), cfg.YOLO.TrainTimeout, cfg.YOLO.PredictTimeout, opts...)
}

func yoloBinary(cfg *config.Config) string {
	return deps.ResolveSibling(cfg.LabelStudioBinary(), cfg.YOLOBinary())
}

func seconds(value int) time.Duration {
	return time.Duration(value) * time.Second
}

// progressLogger returns a callback that logs sampled tool progress.
func progressLogger(logger *slog.Logger, what string) func(yolo.Progress) {
	sampler := logging.NewProgressSampler(10)
	return func(p yolo.Progress) {
		if !sampler.ShouldLog(p.Percent, p.Phase) {
			return
		}
		logger.Info(what+" progress",
			logging.String(logging.FieldEventType, "progress"),
			logging.String("phase", p.Phase),
			logging.Int("current", p.Current),
			logging.Int("total", p.Total),
			logging.Float64("percent", p.Percent),
		)
	}
}
