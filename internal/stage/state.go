package stage

import (
	"labelloop/internal/dataset"
	"labelloop/internal/services/yolo"
)

// State is shared by the stages of one run. Each stage reads what earlier
// stages produced and fills in its own report.
type State struct {
	RunID     string
	ProjectID int

	// Inputs that flow between stages. A stage that runs alone falls back
	// to configuration for anything still empty.
	DataYAML  string
	ModelPath string
	LabelsDir string

	Upload  *UploadReport
	Export  *ExportResult
	Train   *yolo.TrainResult
	Predict *yolo.PredictResult
	Import  *ImportReport

	// Outcome is set by Execute and recorded in run history.
	Outcome Outcome
}

// Outcome summarizes a stage for run history.
type Outcome struct {
	Succeeded int
	Skipped   int
	Failed    int
	Detail    string
}

// ItemFailure names one item a stage could not process.
type ItemFailure struct {
	Item  string `json:"item"`
	Error string `json:"error"`
}

// UploadReport describes an upload. Every scanned image ends up in exactly
// one of Uploaded, Skipped, Duplicates, or Failures.
type UploadReport struct {
	ProjectID  int           `json:"project_id"`
	ImageDir   string        `json:"image_dir"`
	Scanned    int           `json:"scanned"`
	Remote     int           `json:"remote"`
	Force      bool          `json:"force"`
	DryRun     bool          `json:"dry_run"`
	Uploaded   []string      `json:"uploaded"`
	Skipped    []string      `json:"skipped"`
	Duplicates []string      `json:"duplicates,omitempty"`
	Failures   []ItemFailure `json:"failures,omitempty"`
}

// ExportResult describes a finished export.
type ExportResult struct {
	ProjectID int             `json:"project_id"`
	ExportID  int             `json:"export_id"`
	RawPath   string          `json:"raw_path"`
	Tasks     int             `json:"tasks"`
	Annotated int             `json:"annotated"`
	Dataset   dataset.Summary `json:"dataset"`
}

// ImportReport describes a prediction import.
type ImportReport struct {
	ProjectID    int      `json:"project_id"`
	ModelVersion string   `json:"model_version"`
	Source       string   `json:"source"`
	Images       int      `json:"images"`
	Imported     []string `json:"imported"`
	Regions      int      `json:"regions"`
	Clamped      int      `json:"clamped"`
	// Skipped holds images that were deliberately left alone (no task, or
	// the task is already labeled with unlabeled-only set).
	Skipped []ItemFailure `json:"skipped,omitempty"`
	// Dropped holds detections left out of an otherwise imported image.
	Dropped  []ItemFailure `json:"dropped,omitempty"`
	Failures []ItemFailure `json:"failures,omitempty"`
}
