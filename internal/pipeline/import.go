package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"labelloop/internal/config"
	"labelloop/internal/convert"
	"labelloop/internal/imageset"
	"labelloop/internal/logging"
	"labelloop/internal/reconcile"
	"labelloop/internal/services"
	"labelloop/internal/services/labelstudio"
	"labelloop/internal/stage"
)

// ImportOptions override configuration for a single import.
type ImportOptions struct {
	// LabelsDir holds YOLO txt files named after their images.
	LabelsDir string
	// DetectionsFile is a JSON detections document. It takes precedence over
	// LabelsDir.
	DetectionsFile string
	// ClassesPath is a data.yaml or classes.txt mapping class ids to labels.
	ClassesPath   string
	UnlabeledOnly bool
	ModelVersion  string
	// TaskIDs limits the import to these tasks when set.
	TaskIDs []int
}

// Importer converts detections into Label Studio predictions so annotators
// start from the model's boxes.
type Importer struct {
	cfg    *config.Config
	client *labelstudio.Client
	opts   ImportOptions
	logger *slog.Logger

	classes     convert.ClassMap
	classSource string
	convertOpts convert.Options
}

// NewImporter constructs the import stage.
func NewImporter(cfg *config.Config, client *labelstudio.Client, opts ImportOptions, logger *slog.Logger) *Importer {
	im := &Importer{cfg: cfg, client: client, opts: opts}
	im.SetLogger(logger)
	return im
}

// SetLogger swaps the stage logger.
func (im *Importer) SetLogger(logger *slog.Logger) {
	im.logger = logging.NewComponentLogger(logger, "importer")
}

func (im *Importer) labelsDir(state *stage.State) string {
	return firstNonEmpty(im.opts.LabelsDir, state.LabelsDir, filepath.Join(im.cfg.Paths.PredictionsDir, "predict", "labels"))
}

// Prepare validates credentials, the detection source, and the class map.
func (im *Importer) Prepare(_ context.Context, state *stage.State) error {
	if err := requireProject(im.cfg, stage.Import, state); err != nil {
		return err
	}
	if im.opts.DetectionsFile != "" {
		if err := stage.RequireFile(stage.Import, "detections file", im.opts.DetectionsFile, ""); err != nil {
			return err
		}
	} else if err := stage.RequireDir(stage.Import, "labels directory", im.labelsDir(state), stage.Predict); err != nil {
		return err
	}

	classes, source, err := im.loadClasses(state)
	if err != nil {
		return services.Wrap(services.ErrValidation, stage.Import, "class map", source, err)
	}
	im.classes = classes
	im.classSource = source

	convention, err := convert.ParseConvention(im.cfg.Convert.CoordinateConvention)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, stage.Import, "options", "", err)
	}
	policy, err := convert.ParsePolicy(im.cfg.Convert.UnknownClassPolicy)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, stage.Import, "options", "", err)
	}
	im.convertOpts = convert.Options{Convention: convention, Policy: policy, Clamp: im.cfg.Convert.Clamp}
	return nil
}

// loadClasses prefers an explicit class file, then the manifest the model was
// trained on, then the configured label names.
func (im *Importer) loadClasses(state *stage.State) (convert.ClassMap, string, error) {
	if path := im.opts.ClassesPath; path != "" {
		classes, err := convert.LoadClassMap(path)
		return classes, path, err
	}
	for _, candidate := range []string{state.DataYAML, DatasetManifest(im.cfg.Paths.ExportDir)} {
		if candidate == "" {
			continue
		}
		if _, err := os.Stat(candidate); err == nil {
			classes, err := convert.LoadClassMap(candidate)
			return classes, candidate, err
		}
	}
	if len(im.cfg.Labels.Names) == 0 {
		return nil, "labels.names", errors.New("no class map available")
	}
	return convert.ClassMapFromNames(im.cfg.Labels.Names), "labels.names", nil
}

// importItem is one image with detections waiting for conversion.
type importItem struct {
	image     string
	path      string
	labelFile string
	width     int
	height    int
	dets      []convert.Detection
	task      labelstudio.Task
}

type convertedItem struct {
	result  convert.Result
	width   int
	height  int
	dropped []stage.ItemFailure
	err     error
}

// Execute matches detections to tasks, converts them in parallel, and posts
// one prediction per image in input order.
func (im *Importer) Execute(ctx context.Context, state *stage.State) error {
	tasks, err := im.client.ListTasks(ctx, state.ProjectID)
	if err != nil {
		return &reconcile.RemoteLookupError{ProjectID: state.ProjectID, Err: err}
	}
	byFilename := make(map[string]labelstudio.Task, len(tasks))
	for _, task := range tasks {
		name := reconcile.FilenameFromRef(task.ImageRef())
		if name == "" {
			continue
		}
		if _, exists := byFilename[name]; !exists {
			byFilename[name] = task
		}
	}

	report := &stage.ImportReport{
		ProjectID:    state.ProjectID,
		ModelVersion: firstNonEmpty(im.opts.ModelVersion, im.cfg.YOLO.ModelVersion),
		Imported:     []string{},
	}
	state.Import = report

	items, err := im.collectItems(state, report)
	if err != nil {
		return err
	}
	report.Images = len(items) + len(report.Failures)

	selected := make(map[int]struct{}, len(im.opts.TaskIDs))
	for _, id := range im.opts.TaskIDs {
		selected[id] = struct{}{}
	}

	work := make([]importItem, 0, len(items))
	for _, item := range items {
		task, ok := byFilename[item.image]
		_, chosen := selected[task.ID]
		switch {
		case !ok:
			report.Skipped = append(report.Skipped, stage.ItemFailure{Item: item.image, Error: "no task for image"})
		case len(selected) > 0 && !chosen:
			report.Skipped = append(report.Skipped, stage.ItemFailure{Item: item.image, Error: "task not selected"})
		case im.opts.UnlabeledOnly && task.Labeled():
			report.Skipped = append(report.Skipped, stage.ItemFailure{Item: item.image, Error: "task already labeled"})
		default:
			item.task = task
			work = append(work, item)
		}
	}

	im.logger.Info("import plan",
		logging.String(logging.FieldEventType, "import_plan"),
		logging.String("source", report.Source),
		logging.String("classes", im.classSource),
		logging.String("class_names", strings.Join(im.classes.Names(), ",")),
		logging.Int("images", report.Images),
		logging.Int("matched", len(work)),
		logging.Int("skipped", len(report.Skipped)),
		logging.String("policy", string(im.convertOpts.Policy)),
	)

	converted, err := im.convertAll(ctx, work)
	if err != nil {
		im.setOutcome(state, report)
		return err
	}

	meta := convert.PredictionMeta{
		ModelVersion: report.ModelVersion,
		FromName:     im.cfg.LabelStudio.FromName,
		ToName:       im.cfg.LabelStudio.ToName,
	}
	for i, item := range work {
		out := converted[i]
		report.Dropped = append(report.Dropped, out.dropped...)
		if out.err != nil {
			report.Failures = append(report.Failures, stage.ItemFailure{Item: item.image, Error: out.err.Error()})
			continue
		}
		if len(out.result.Regions) == 0 {
			report.Skipped = append(report.Skipped, stage.ItemFailure{Item: item.image, Error: "no regions left after conversion"})
			continue
		}
		prediction := convert.BuildPrediction(item.task.ID, out.result.Regions, out.width, out.height, meta)
		if _, err := im.client.CreatePrediction(ctx, prediction); err != nil {
			if ctx.Err() != nil {
				im.setOutcome(state, report)
				return ctx.Err()
			}
			report.Failures = append(report.Failures, stage.ItemFailure{Item: item.image, Error: err.Error()})
			continue
		}
		report.Imported = append(report.Imported, item.image)
		report.Regions += len(out.result.Regions)
		report.Clamped += out.result.Clamped
	}

	for _, dropped := range report.Dropped {
		logging.WarnWithContext(im.logger, "detection dropped", "import_detection_dropped",
			logging.String("item", dropped.Item),
			logging.String("reason", dropped.Error),
			logging.String(logging.FieldImpact, "the image is imported without this box"),
			logging.String(logging.FieldErrorHint, "check the class map and coordinate convention"),
		)
	}

	im.setOutcome(state, report)
	if len(report.Failures) > 0 {
		return partialFailure(stage.Import, "import", len(report.Failures), report.Images)
	}
	return nil
}

func (im *Importer) setOutcome(state *stage.State, report *stage.ImportReport) {
	state.Outcome = stage.Outcome{
		Succeeded: len(report.Imported),
		Skipped:   len(report.Skipped),
		Failed:    len(report.Failures),
		Detail: fmt.Sprintf("imported %d image(s) with %d region(s), skipped %d, failed %d",
			len(report.Imported), report.Regions, len(report.Skipped), len(report.Failures)),
	}
}

// collectItems reads the detection source. Label files without a matching
// image are recorded as failures and left out of the returned items.
func (im *Importer) collectItems(state *stage.State, report *stage.ImportReport) ([]importItem, error) {
	if path := im.opts.DetectionsFile; path != "" {
		report.Source = path
		return im.itemsFromJSON(path)
	}
	dir := im.labelsDir(state)
	report.Source = dir
	return im.itemsFromLabels(dir, report)
}

func (im *Importer) itemsFromJSON(path string) ([]importItem, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, services.Wrap(services.ErrNotFound, stage.Import, "read detections", "", err)
	}
	defer file.Close()

	records, err := convert.ParseDetectionsJSON(file, im.convertOpts.Convention)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, stage.Import, "parse detections", path, err)
	}
	items := make([]importItem, 0, len(records))
	for _, record := range records {
		image := filepath.Base(record.Image)
		items = append(items, importItem{
			image:  image,
			path:   filepath.Join(im.cfg.Paths.ImageDir, image),
			width:  record.Width,
			height: record.Height,
			dets:   record.Detections,
		})
	}
	return items, nil
}

func (im *Importer) itemsFromLabels(dir string, report *stage.ImportReport) ([]importItem, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, services.Wrap(services.ErrNotFound, stage.Import, "read labels", dir, err)
	}
	assets, err := imageset.Scan(im.cfg.Paths.ImageDir)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, stage.Import, "scan images", "", err)
	}
	byStem := make(map[string]imageset.ImageAsset, len(assets))
	for _, asset := range assets {
		stem := strings.TrimSuffix(asset.Filename, filepath.Ext(asset.Filename))
		if _, exists := byStem[stem]; !exists {
			byStem[stem] = asset
		}
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".txt" {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	items := make([]importItem, 0, len(names))
	for _, name := range names {
		stem := strings.TrimSuffix(name, ".txt")
		asset, ok := byStem[stem]
		if !ok {
			report.Failures = append(report.Failures, stage.ItemFailure{Item: name, Error: "no image for label file in " + im.cfg.Paths.ImageDir})
			continue
		}
		items = append(items, importItem{
			image:     asset.Filename,
			path:      asset.Path,
			labelFile: filepath.Join(dir, name),
		})
	}
	return items, nil
}

// convertAll converts every item on a bounded worker group. Items share no
// state; each writes only its own slot. Under abort-batch the first
// conversion error cancels the rest and is returned.
func (im *Importer) convertAll(ctx context.Context, work []importItem) ([]convertedItem, error) {
	results := make([]convertedItem, len(work))
	workers := im.cfg.Convert.Workers
	if workers <= 0 {
		workers = 1
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(workers)
	for i := range work {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			out := im.convertItem(work[i])
			if out.err != nil && im.convertOpts.Policy == convert.PolicyAbortBatch {
				return services.Wrap(services.ErrValidation, stage.Import, "convert", work[i].image, out.err)
			}
			results[i] = out
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (im *Importer) convertItem(item importItem) convertedItem {
	out := convertedItem{width: item.width, height: item.height}
	if out.width <= 0 || out.height <= 0 {
		width, height, err := imageset.Dimensions(item.path)
		if err != nil {
			out.err = fmt.Errorf("read image size: %w", err)
			return out
		}
		out.width, out.height = width, height
	}

	dets := item.dets
	if item.labelFile != "" {
		file, err := os.Open(item.labelFile)
		if err != nil {
			out.err = err
			return out
		}
		parsed, parseErr := convert.ParseLabelFile(file)
		file.Close()
		if parseErr != nil {
			if im.convertOpts.Policy == convert.PolicyAbortBatch {
				out.err = parseErr
				return out
			}
			var lineErr *convert.LineError
			for _, err := range unwrapAll(parseErr) {
				label := filepath.Base(item.labelFile)
				if errors.As(err, &lineErr) {
					label = fmt.Sprintf("%s:%d", label, lineErr.Line)
				}
				out.dropped = append(out.dropped, stage.ItemFailure{Item: label, Error: err.Error()})
			}
		}
		dets = parsed
	}

	result, err := convert.Convert(dets, out.width, out.height, im.classes, im.convertOpts)
	if err != nil {
		out.err = err
		return out
	}
	for _, failure := range result.Failures {
		out.dropped = append(out.dropped, stage.ItemFailure{
			Item:  fmt.Sprintf("%s#%d", item.image, failure.Index),
			Error: failure.Err.Error(),
		})
	}
	out.result = result
	return out
}

func unwrapAll(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}

// HealthCheck reports whether the Label Studio credentials are configured.
func (im *Importer) HealthCheck(context.Context) stage.Health {
	return apiHealth(im.cfg, "importer")
}
