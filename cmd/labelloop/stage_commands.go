package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"labelloop/internal/dataset"
	"labelloop/internal/pipeline"
	"labelloop/internal/services/yolo"
	"labelloop/internal/stage"
	"labelloop/internal/stageexec"
)

const failureListLimit = 20

// runOutput is the --json shape shared by every stage command.
type runOutput struct {
	RunID     string              `json:"run_id"`
	ProjectID int                 `json:"project_id,omitempty"`
	Upload    *stage.UploadReport `json:"upload,omitempty"`
	Export    *stage.ExportResult `json:"export,omitempty"`
	Train     *yolo.TrainResult   `json:"train,omitempty"`
	Predict   *yolo.PredictResult `json:"predict,omitempty"`
	Import    *stage.ImportReport `json:"import,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// stageRun carries the flags every stage command shares.
type stageRun struct {
	projectID int
	asJSON    bool
}

func (r *stageRun) bind(cmd *cobra.Command, withProject bool) {
	if withProject {
		cmd.Flags().IntVar(&r.projectID, "project-id", 0, "Project id (defaults to label_studio.project_id)")
	}
	cmd.Flags().BoolVar(&r.asJSON, "json", false, "Output as JSON")
}

// execute runs stages and prints whatever reports they produced, including
// the reports of a run that failed part way.
func (r *stageRun) execute(cmd *cobra.Command, ctx *commandContext, stages []string, opts pipeline.Options) error {
	state := &stage.State{ProjectID: r.projectID}
	state, err := ctx.runStages(cmd.Context(), stages, opts, state)
	if state == nil {
		return err
	}
	if r.asJSON {
		output := runOutput{
			RunID:     state.RunID,
			ProjectID: state.ProjectID,
			Upload:    state.Upload,
			Export:    state.Export,
			Train:     state.Train,
			Predict:   state.Predict,
			Import:    state.Import,
		}
		if err != nil {
			output.Error = err.Error()
		}
		if encodeErr := writeJSON(cmd, output); encodeErr != nil {
			return encodeErr
		}
		return err
	}
	printRunReports(cmd.OutOrStdout(), state)
	return err
}

func printRunReports(out io.Writer, state *stage.State) {
	if state.Upload != nil {
		printUploadReport(out, state.Upload)
	}
	if state.Export != nil {
		printExportResult(out, state.Export)
	}
	if state.Train != nil {
		printTrainResult(out, state.Train)
	}
	if state.Predict != nil {
		printPredictResult(out, state.Predict)
	}
	if state.Import != nil {
		printImportReport(out, state.Import)
	}
	if state.RunID != "" {
		fmt.Fprintf(out, "Run %s\n", state.RunID)
	}
}

func newUploadCommand(ctx *commandContext) *cobra.Command {
	var run stageRun
	var opts pipeline.UploadOptions

	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Create tasks for local images missing from the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run.execute(cmd, ctx, []string{stage.Upload}, pipeline.Options{Upload: opts})
		},
	}
	run.bind(cmd, true)
	cmd.Flags().StringVar(&opts.ImageDir, "image-dir", "", "Image directory (defaults to paths.image_dir)")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "Upload every image even if a task already references it")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Report what would be uploaded without creating tasks")
	return cmd
}

func newExportCommand(ctx *commandContext) *cobra.Command {
	var run stageRun
	var opts pipeline.ExportOptions

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export annotations and build a YOLO dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run.execute(cmd, ctx, []string{stage.Export}, pipeline.Options{Export: opts})
		},
	}
	run.bind(cmd, true)
	cmd.Flags().StringVar(&opts.ExportDir, "export-dir", "", "Dataset directory (defaults to paths.export_dir)")
	cmd.Flags().Float64Var(&opts.TrainSplit, "train-split", 0, "Fraction of images used for training (defaults to yolo.train_split)")
	return cmd
}

func newTrainCommand(ctx *commandContext) *cobra.Command {
	var run stageRun
	var opts pipeline.TrainOptions

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Fine-tune the detector on the exported dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run.execute(cmd, ctx, []string{stage.Train}, pipeline.Options{Train: opts})
		},
	}
	run.bind(cmd, false)
	cmd.Flags().StringVar(&opts.Data, "data", "", "Dataset manifest (defaults to the exported data.yaml)")
	cmd.Flags().StringVar(&opts.BaseModel, "base-model", "", "Starting weights (defaults to paths.base_model_path)")
	cmd.Flags().StringVar(&opts.Output, "output", "", "Where to copy the trained weights (defaults to paths.updated_model_path)")
	cmd.Flags().IntVar(&opts.Epochs, "epochs", 0, "Training epochs (defaults to yolo.epochs)")
	cmd.Flags().IntVar(&opts.ImageSize, "imgsz", 0, "Training image size (defaults to yolo.image_size)")
	return cmd
}

func newPredictCommand(ctx *commandContext) *cobra.Command {
	var run stageRun
	var opts pipeline.PredictOptions

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Run the detector over the image directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run.execute(cmd, ctx, []string{stage.Predict}, pipeline.Options{Predict: opts})
		},
	}
	run.bind(cmd, false)
	cmd.Flags().StringVar(&opts.Model, "model", "", "Weights to predict with (defaults to paths.updated_model_path)")
	cmd.Flags().StringVar(&opts.ImageDir, "image-dir", "", "Image directory (defaults to paths.image_dir)")
	cmd.Flags().StringVar(&opts.OutputDir, "output-dir", "", "Prediction output directory (defaults to paths.predictions_dir)")
	cmd.Flags().Float64Var(&opts.Confidence, "conf", 0, "Minimum confidence (defaults to yolo.model_score_threshold)")
	return cmd
}

func newImportCommand(ctx *commandContext) *cobra.Command {
	var run stageRun
	var opts pipeline.ImportOptions

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Attach detections to tasks as predictions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run.execute(cmd, ctx, []string{stage.Import}, pipeline.Options{Import: opts})
		},
	}
	run.bind(cmd, true)
	cmd.Flags().StringVar(&opts.LabelsDir, "labels-dir", "", "Directory of YOLO label files (defaults to the last prediction output)")
	cmd.Flags().StringVar(&opts.DetectionsFile, "detections-file", "", "JSON detections document")
	cmd.Flags().StringVar(&opts.ClassesPath, "classes", "", "data.yaml or classes.txt mapping class ids to labels")
	cmd.Flags().BoolVar(&opts.UnlabeledOnly, "unlabeled-only", false, "Skip tasks that already have annotations")
	cmd.Flags().StringVar(&opts.ModelVersion, "model-version", "", "Model version recorded on each prediction (defaults to yolo.model_version)")
	cmd.Flags().IntSliceVar(&opts.TaskIDs, "task-ids", nil, "Only attach predictions to these task ids (comma-separated)")
	cmd.MarkFlagsMutuallyExclusive("labels-dir", "detections-file")
	return cmd
}

func newLoopCommand(ctx *commandContext) *cobra.Command {
	var run stageRun
	var rawStages string
	var opts pipeline.Options

	cmd := &cobra.Command{
		Use:   "loop",
		Short: "Run upload, export, train, predict, and import in order",
		RunE: func(cmd *cobra.Command, args []string) error {
			stages, err := stage.ParseStages(rawStages)
			if err != nil {
				return err
			}
			return run.execute(cmd, ctx, stages, opts)
		},
	}
	run.bind(cmd, true)
	cmd.Flags().StringVar(&rawStages, "stages", "", "Comma-separated subset of stages to run (default all)")
	cmd.Flags().BoolVar(&opts.Upload.Force, "force", false, "Upload every image even if a task already references it")
	cmd.Flags().IntVar(&opts.Train.Epochs, "epochs", 0, "Training epochs (defaults to yolo.epochs)")
	cmd.Flags().Float64Var(&opts.Predict.Confidence, "conf", 0, "Minimum confidence (defaults to yolo.model_score_threshold)")
	cmd.Flags().BoolVar(&opts.Import.UnlabeledOnly, "unlabeled-only", false, "Only attach predictions to unlabeled tasks")
	return cmd
}

func printUploadReport(out io.Writer, report *stage.UploadReport) {
	title := stageexec.Label(stage.Upload)
	if report.DryRun {
		title += " (dry run)"
	}
	fmt.Fprintln(out, title)
	printTable(out, []string{"Project", "Scanned", "Remote", "Uploaded", "Skipped", "Duplicates", "Failed"}, [][]string{{
		itoa(report.ProjectID),
		itoa(report.Scanned),
		itoa(report.Remote),
		itoa(len(report.Uploaded)),
		itoa(len(report.Skipped)),
		itoa(len(report.Duplicates)),
		itoa(len(report.Failures)),
	}}, []columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight})
	if report.DryRun && len(report.Uploaded) > 0 {
		fmt.Fprintf(out, "Would upload: %s\n", joinOrDash(report.Uploaded))
	}
	if len(report.Duplicates) > 0 {
		fmt.Fprintf(out, "Duplicate tasks: %s\n", joinOrDash(report.Duplicates))
	}
	printFailures(out, "Failures", report.Failures, failureListLimit)
}

func printExportResult(out io.Writer, result *stage.ExportResult) {
	fmt.Fprintln(out, stageexec.Label(stage.Export))
	printTable(out, []string{"Project", "Export", "Tasks", "Annotated", "Train", "Val", "Boxes"}, [][]string{{
		itoa(result.ProjectID),
		itoa(result.ExportID),
		itoa(result.Tasks),
		itoa(result.Annotated),
		itoa(result.Dataset.Train),
		itoa(result.Dataset.Val),
		itoa(result.Dataset.Boxes),
	}}, []columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight})
	printDatasetNotes(out, result.Dataset)
	fmt.Fprintf(out, "Dataset: %s\n", result.Dataset.DataYAML)
}

func printDatasetNotes(out io.Writer, summary dataset.Summary) {
	fmt.Fprintf(out, "Classes: %s\n", joinOrDash(summary.Classes))
	if len(summary.Unlisted) > 0 {
		fmt.Fprintf(out, "Labels not in labels.names: %s\n", joinOrDash(summary.Unlisted))
	}
	if n := len(summary.MissingImages); n > 0 {
		fmt.Fprintf(out, "Images missing locally: %d\n", n)
	}
}

func printTrainResult(out io.Writer, result *yolo.TrainResult) {
	fmt.Fprintln(out, stageexec.Label(stage.Train))
	base := result.BaseModel
	if result.UsedFallback {
		base += " (stock weights)"
	}
	printTable(out, []string{"Base Model", "Best Weights", "Model"}, [][]string{{
		base,
		result.BestWeights,
		result.Model,
	}}, nil)
}

func printPredictResult(out io.Writer, result *yolo.PredictResult) {
	fmt.Fprintln(out, stageexec.Label(stage.Predict))
	printTable(out, []string{"Output", "Labels", "Label Files"}, [][]string{{
		result.Dir,
		result.LabelsDir,
		itoa(result.LabelFiles),
	}}, []columnAlignment{alignLeft, alignLeft, alignRight})
}

func printImportReport(out io.Writer, report *stage.ImportReport) {
	fmt.Fprintln(out, stageexec.Label(stage.Import))
	printTable(out, []string{"Project", "Model Version", "Images", "Imported", "Regions", "Clamped", "Skipped", "Failed"}, [][]string{{
		itoa(report.ProjectID),
		report.ModelVersion,
		itoa(report.Images),
		itoa(len(report.Imported)),
		itoa(report.Regions),
		itoa(report.Clamped),
		itoa(len(report.Skipped)),
		itoa(len(report.Failures)),
	}}, []columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight})
	fmt.Fprintf(out, "Source: %s\n", report.Source)
	if n := len(report.Dropped); n > 0 {
		fmt.Fprintf(out, "Dropped detections: %s\n", itoa(n))
	}
	printFailures(out, "Failures", report.Failures, failureListLimit)
}
