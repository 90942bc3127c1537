package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"labelloop/internal/config"
	"labelloop/internal/dataset"
	"labelloop/internal/logging"
	"labelloop/internal/services"
	"labelloop/internal/services/labelstudio"
	"labelloop/internal/stage"
)

// DatasetDirName is the dataset folder created inside the export directory.
const DatasetDirName = "yolo_dataset"

// ExportOptions override configuration for a single export.
type ExportOptions struct {
	ExportDir  string
	TrainSplit float64
}

// Exporter snapshots the project's annotations and converts them into a
// YOLO dataset.
type Exporter struct {
	cfg    *config.Config
	client *labelstudio.Client
	opts   ExportOptions
	logger *slog.Logger
}

// NewExporter constructs the export stage.
func NewExporter(cfg *config.Config, client *labelstudio.Client, opts ExportOptions, logger *slog.Logger) *Exporter {
	e := &Exporter{cfg: cfg, client: client, opts: opts}
	e.SetLogger(logger)
	return e
}

// SetLogger swaps the stage logger.
func (e *Exporter) SetLogger(logger *slog.Logger) {
	e.logger = logging.NewComponentLogger(logger, "exporter")
}

func (e *Exporter) exportDir() string {
	if dir := strings.TrimSpace(e.opts.ExportDir); dir != "" {
		return dir
	}
	return e.cfg.Paths.ExportDir
}

// DatasetManifest returns where the export stage writes data.yaml.
func DatasetManifest(exportDir string) string {
	return filepath.Join(exportDir, DatasetDirName, "data.yaml")
}

// Prepare validates credentials and creates the export directory.
func (e *Exporter) Prepare(_ context.Context, state *stage.State) error {
	if err := requireProject(e.cfg, stage.Export, state); err != nil {
		return err
	}
	if err := os.MkdirAll(e.exportDir(), 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, stage.Export, "prepare", "create export directory", err)
	}
	return nil
}

// Execute creates an export snapshot, waits for it, saves the raw JSON, and
// builds the dataset next to it.
func (e *Exporter) Execute(ctx context.Context, state *stage.State) error {
	title := "labelloop export"
	if state.RunID != "" {
		title += " " + state.RunID
	}
	created, err := e.client.CreateExport(ctx, state.ProjectID, title)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, stage.Export, "create export", "", err)
	}
	e.logger.Info("export snapshot requested",
		logging.String(logging.FieldEventType, "export_created"),
		logging.Int("export_id", created.ID),
	)

	if _, err := e.client.WaitExport(ctx, state.ProjectID, created.ID,
		seconds(e.cfg.LabelStudio.ExportPollInterval), seconds(e.cfg.LabelStudio.ExportTimeout)); err != nil {
		return err
	}
	data, err := e.client.DownloadExport(ctx, state.ProjectID, created.ID)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, stage.Export, "download export", "", err)
	}

	dir := e.exportDir()
	rawPath := filepath.Join(dir, fmt.Sprintf("project_%d_%d.json", state.ProjectID, created.ID))
	if err := os.WriteFile(rawPath, data, 0o644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	tasks, err := labelstudio.ParseExport(data)
	if err != nil {
		return services.Wrap(services.ErrValidation, stage.Export, "parse export", "", err)
	}

	annotated := 0
	for _, task := range tasks {
		if len(task.Annotations) > 0 {
			annotated++
		}
	}
	if annotated == 0 {
		logging.WarnWithContext(e.logger, "export contains no annotations", "export_empty",
			logging.Int("tasks", len(tasks)),
			logging.String(logging.FieldImpact, "the dataset has no labels to train on"),
			logging.String(logging.FieldErrorHint, "annotate some tasks in Label Studio first"),
		)
	}

	split := e.opts.TrainSplit
	if split <= 0 {
		split = e.cfg.YOLO.TrainSplit
	}
	summary, err := dataset.Build(tasks, dataset.Options{
		OutputDir:  filepath.Join(dir, DatasetDirName),
		ImageDir:   e.cfg.Paths.ImageDir,
		TrainSplit: split,
		Labels:     e.cfg.Labels.Names,
	})
	if err != nil {
		return services.Wrap(services.ErrValidation, stage.Export, "build dataset", "", err)
	}
	for _, label := range summary.Unlisted {
		logging.WarnWithContext(e.logger, "label not in configured names", "export_unlisted_label",
			logging.String("label", label),
			logging.String(logging.FieldImpact, "class ids of unlisted labels follow the configured ones"),
			logging.String(logging.FieldErrorHint, "add the label to [labels].names"),
		)
	}
	if len(summary.MissingImages) > 0 {
		logging.WarnWithContext(e.logger, "exported tasks reference missing images", "export_missing_images",
			logging.Int("count", len(summary.MissingImages)),
			logging.String(logging.FieldImpact, "yolo skips labels without an image"),
			logging.String(logging.FieldErrorHint, "check paths.image_dir"),
		)
	}

	state.DataYAML = summary.DataYAML
	state.Export = &stage.ExportResult{
		ProjectID: state.ProjectID,
		ExportID:  created.ID,
		RawPath:   rawPath,
		Tasks:     len(tasks),
		Annotated: annotated,
		Dataset:   summary,
	}
	state.Outcome = stage.Outcome{
		Succeeded: summary.Train + summary.Val,
		Skipped:   summary.Empty,
		Detail:    fmt.Sprintf("%d train / %d val, %d classes", summary.Train, summary.Val, len(summary.Classes)),
	}
	return nil
}

// HealthCheck reports whether the Label Studio credentials are configured.
func (e *Exporter) HealthCheck(context.Context) stage.Health {
	return apiHealth(e.cfg, "exporter")
}
