package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"labelloop/internal/config"
	"labelloop/internal/imageset"
	"labelloop/internal/logging"
	"labelloop/internal/reconcile"
	"labelloop/internal/services"
	"labelloop/internal/services/labelstudio"
	"labelloop/internal/stage"
)

// UploadOptions override configuration for a single upload.
type UploadOptions struct {
	ImageDir string
	Force    bool
	DryRun   bool
}

// Uploader creates one task per local image not yet present in the project.
type Uploader struct {
	cfg    *config.Config
	client *labelstudio.Client
	opts   UploadOptions
	logger *slog.Logger
}

// NewUploader constructs the upload stage.
func NewUploader(cfg *config.Config, client *labelstudio.Client, opts UploadOptions, logger *slog.Logger) *Uploader {
	u := &Uploader{cfg: cfg, client: client, opts: opts}
	u.SetLogger(logger)
	return u
}

// SetLogger swaps the stage logger.
func (u *Uploader) SetLogger(logger *slog.Logger) {
	u.logger = logging.NewComponentLogger(logger, "uploader")
}

func (u *Uploader) imageDir() string {
	if dir := strings.TrimSpace(u.opts.ImageDir); dir != "" {
		return dir
	}
	return u.cfg.Paths.ImageDir
}

func (u *Uploader) force() bool {
	return u.opts.Force || u.cfg.Reconcile.DuplicatePolicy == config.DuplicatePolicyForce
}

// Prepare validates credentials, the project, and the image directory.
func (u *Uploader) Prepare(_ context.Context, state *stage.State) error {
	if err := requireProject(u.cfg, stage.Upload, state); err != nil {
		return err
	}
	return stage.RequireDir(stage.Upload, "image directory", u.imageDir(), "")
}

// Execute scans, reconciles against the project's tasks, and uploads the rest
// in batches. A failed listing aborts before anything is uploaded.
func (u *Uploader) Execute(ctx context.Context, state *stage.State) error {
	dir := u.imageDir()
	assets, err := imageset.Scan(dir)
	if err != nil {
		return services.Wrap(services.ErrValidation, stage.Upload, "scan", "", err)
	}

	remote, err := reconcile.Collect(ctx, u.client, state.ProjectID)
	if err != nil {
		return err
	}
	plan := reconcile.Reconcile(assets, remote, u.force())

	report := &stage.UploadReport{
		ProjectID:  state.ProjectID,
		ImageDir:   dir,
		Scanned:    len(assets),
		Remote:     len(remote),
		Force:      u.force(),
		DryRun:     u.opts.DryRun,
		Uploaded:   []string{},
		Skipped:    filenames(plan.Skipped),
		Duplicates: filenames(plan.Duplicates),
	}
	state.Upload = report

	u.logger.Info("upload plan",
		logging.String(logging.FieldEventType, "upload_plan"),
		logging.Int("scanned", len(assets)),
		logging.Int("remote", len(remote)),
		logging.Int("to_upload", len(plan.ToUpload)),
		logging.Int("skipped", len(plan.Skipped)),
		logging.Bool("force", report.Force),
		logging.Bool("dry_run", report.DryRun),
	)
	for _, dup := range plan.Duplicates {
		logging.WarnWithContext(u.logger, "duplicate local filename ignored", "upload_duplicate",
			logging.String("path", dup.Path),
			logging.String(logging.FieldImpact, "only the first file with this name is uploaded"),
			logging.String(logging.FieldErrorHint, "rename the file to upload it separately"),
		)
	}

	if report.DryRun {
		report.Uploaded = filenames(plan.ToUpload)
		state.Outcome = stage.Outcome{
			Succeeded: len(plan.ToUpload),
			Skipped:   len(plan.Skipped) + len(plan.Duplicates),
			Detail:    fmt.Sprintf("dry run: would upload %d image(s)", len(plan.ToUpload)),
		}
		return nil
	}

	batchSize := u.cfg.LabelStudio.UploadBatchSize
	if batchSize <= 0 {
		batchSize = len(plan.ToUpload)
	}
	for start := 0; start < len(plan.ToUpload); start += batchSize {
		end := min(start+batchSize, len(plan.ToUpload))
		batch := plan.ToUpload[start:end]
		tasks := make([]map[string]any, 0, len(batch))
		for _, asset := range batch {
			tasks = append(tasks, map[string]any{"image": u.cfg.ImageReference(asset.Filename)})
		}
		if _, err := u.client.ImportTasks(ctx, state.ProjectID, tasks); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			for _, asset := range batch {
				report.Failures = append(report.Failures, stage.ItemFailure{Item: asset.Filename, Error: err.Error()})
			}
			logging.WarnWithContext(u.logger, "upload batch failed", "upload_batch_failed",
				logging.Int("batch_start", start),
				logging.Int("batch_size", len(batch)),
				logging.Error(err),
				logging.String(logging.FieldImpact, "images in this batch have no task yet"),
				logging.String(logging.FieldErrorHint, "rerun upload; existing tasks are skipped"),
			)
			continue
		}
		report.Uploaded = append(report.Uploaded, filenames(batch)...)
		u.logger.Info("upload batch imported",
			logging.Int("batch_start", start),
			logging.Int("batch_size", len(batch)),
		)
	}

	state.Outcome = stage.Outcome{
		Succeeded: len(report.Uploaded),
		Skipped:   len(report.Skipped) + len(report.Duplicates),
		Failed:    len(report.Failures),
		Detail:    fmt.Sprintf("uploaded %d, skipped %d, failed %d", len(report.Uploaded), len(report.Skipped), len(report.Failures)),
	}
	if len(report.Failures) > 0 {
		return partialFailure(stage.Upload, "upload", len(report.Failures), len(plan.ToUpload))
	}
	return nil
}

// HealthCheck reports whether the Label Studio credentials are configured.
func (u *Uploader) HealthCheck(context.Context) stage.Health {
	return apiHealth(u.cfg, "uploader")
}

func filenames(assets []imageset.ImageAsset) []string {
	names := make([]string, 0, len(assets))
	for _, asset := range assets {
		names = append(names, asset.Filename)
	}
	return names
}

func requireProject(cfg *config.Config, stageName string, state *stage.State) error {
	if err := cfg.RequireAPIKey(); err != nil {
		return services.Wrap(services.ErrConfiguration, stageName, "credentials", "", err)
	}
	id, err := cfg.RequireProjectID(state.ProjectID)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, stageName, "project", "", err)
	}
	state.ProjectID = id
	return nil
}

func partialFailure(stageName, what string, failed, total int) error {
	return services.Wrap(services.ErrExternalTool, stageName, what, fmt.Sprintf("%d of %d item(s) failed", failed, total), nil)
}

func apiHealth(cfg *config.Config, name string) stage.Health {
	if strings.TrimSpace(cfg.LabelStudio.URL) == "" {
		return stage.Unhealthy(name, "label_studio.url is not configured")
	}
	if err := cfg.RequireAPIKey(); err != nil {
		return stage.Unhealthy(name, "label_studio.api_key is not configured")
	}
	return stage.Healthy(name)
}

func binaryHealth(binary, name string) stage.Health {
	if strings.TrimSpace(binary) == "" {
		return stage.Unhealthy(name, "binary not configured")
	}
	if _, err := exec.LookPath(binary); err != nil {
		return stage.Unhealthy(name, fmt.Sprintf("binary %q not found", binary))
	}
	return stage.Healthy(name)
}
