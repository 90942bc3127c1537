package labelstudio

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// User describes the account that owns the API token.
type User struct {
	ID        int    `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// DisplayName prefers the username and falls back to the email address.
func (u User) DisplayName() string {
	if name := strings.TrimSpace(u.Username); name != "" {
		return name
	}
	return strings.TrimSpace(u.Email)
}

// Project is a Label Studio labeling project.
type Project struct {
	ID                      int    `json:"id"`
	Title                   string `json:"title"`
	Description             string `json:"description,omitempty"`
	LabelConfig             string `json:"label_config,omitempty"`
	CreatedAt               string `json:"created_at,omitempty"`
	TaskNumber              int    `json:"task_number"`
	NumTasksWithAnnotations int    `json:"num_tasks_with_annotations"`
	TotalAnnotationsNumber  int    `json:"total_annotations_number"`
	TotalPredictionsNumber  int    `json:"total_predictions_number"`
}

// ProjectRequest is the body for project creation.
type ProjectRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	LabelConfig string `json:"label_config,omitempty"`
}

// Task is a single labeling item. Data holds the task payload; for image
// projects the "image" key carries the image reference.
type Task struct {
	ID                   int               `json:"id"`
	Data                 map[string]any    `json:"data"`
	Annotations          []Annotation      `json:"annotations,omitempty"`
	Predictions          []json.RawMessage `json:"predictions,omitempty"`
	IsLabeled            bool              `json:"is_labeled"`
	TotalAnnotations     int               `json:"total_annotations"`
	CancelledAnnotations int               `json:"cancelled_annotations"`
	TotalPredictions     int               `json:"total_predictions"`
}

// ImageRef returns the task's image reference, or "" when the task has none.
func (t Task) ImageRef() string {
	if t.Data == nil {
		return ""
	}
	ref, _ := t.Data["image"].(string)
	return strings.TrimSpace(ref)
}

// Labeled reports whether the task carries at least one completed annotation.
func (t Task) Labeled() bool {
	if t.IsLabeled || t.TotalAnnotations-t.CancelledAnnotations > 0 {
		return true
	}
	for _, annotation := range t.Annotations {
		if !annotation.WasCancelled {
			return true
		}
	}
	return false
}

// Annotation is a human-made set of regions attached to a task.
type Annotation struct {
	ID           int      `json:"id"`
	Result       []Result `json:"result"`
	WasCancelled bool     `json:"was_cancelled"`
}

// Result is one region in an annotation or prediction.
type Result struct {
	ID             string      `json:"id,omitempty"`
	FromName       string      `json:"from_name"`
	ToName         string      `json:"to_name"`
	Type           string      `json:"type"`
	OriginalWidth  int         `json:"original_width,omitempty"`
	OriginalHeight int         `json:"original_height,omitempty"`
	ImageRotation  float64     `json:"image_rotation"`
	Value          RegionValue `json:"value"`
	Score          *float64    `json:"score,omitempty"`
}

// ResultTypeRectangleLabels is the result type of labeled bounding boxes.
const ResultTypeRectangleLabels = "rectanglelabels"

// RegionValue holds a rectangle in percent of the image dimensions.
type RegionValue struct {
	X               float64  `json:"x"`
	Y               float64  `json:"y"`
	Width           float64  `json:"width"`
	Height          float64  `json:"height"`
	Rotation        float64  `json:"rotation"`
	RectangleLabels []string `json:"rectanglelabels,omitempty"`
}

// Label returns the first rectangle label, or "".
func (v RegionValue) Label() string {
	if len(v.RectangleLabels) == 0 {
		return ""
	}
	return v.RectangleLabels[0]
}

// Prediction is a machine-made set of regions Label Studio shows as a
// pre-annotation.
type Prediction struct {
	ID           int      `json:"id,omitempty"`
	Task         int      `json:"task"`
	ModelVersion string   `json:"model_version"`
	Score        float64  `json:"score"`
	Result       []Result `json:"result"`
}

// ImportResult summarizes a task import.
type ImportResult struct {
	TaskCount       int     `json:"task_count"`
	AnnotationCount int     `json:"annotation_count"`
	PredictionCount int     `json:"prediction_count"`
	Duration        float64 `json:"duration"`
}

// Export status values reported by the snapshot API.
const (
	ExportCreated    = "created"
	ExportInProgress = "in_progress"
	ExportCompleted  = "completed"
	ExportFailed     = "failed"
)

// Export is an export snapshot.
type Export struct {
	ID         int            `json:"id"`
	Title      string         `json:"title"`
	Status     string         `json:"status"`
	CreatedAt  string         `json:"created_at"`
	FinishedAt string         `json:"finished_at"`
	Counters   map[string]int `json:"counters,omitempty"`
}

// LocalStorage is a local-files import storage attached to a project.
type LocalStorage struct {
	ID            int    `json:"id"`
	Project       int    `json:"project"`
	Title         string `json:"title"`
	Description   string `json:"description,omitempty"`
	Path          string `json:"path"`
	RegexFilter   string `json:"regex_filter"`
	UseBlobURLs   bool   `json:"use_blob_urls"`
	Status        string `json:"status,omitempty"`
	LastSync      string `json:"last_sync,omitempty"`
	LastSyncCount int    `json:"last_sync_count,omitempty"`
	// TreatEveryObjectAsSource is nil when the server does not report it.
	TreatEveryObjectAsSource *bool `json:"treat_every_bucket_object_as_a_source_file,omitempty"`
}

// LocalStorageRequest is the body for local storage creation.
type LocalStorageRequest struct {
	Project     int    `json:"project"`
	Path        string `json:"path"`
	Title       string `json:"title"`
	RegexFilter string `json:"regex_filter,omitempty"`
	UseBlobURLs bool   `json:"use_blob_urls"`
}

// ParseExport decodes a JSON export document into tasks.
func ParseExport(data []byte) ([]Task, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	var tasks []Task
	if err := json.Unmarshal(trimmed, &tasks); err != nil {
		return nil, fmt.Errorf("decode export: %w", err)
	}
	return tasks, nil
}

// decodeTaskPage accepts both the bare-list and the {"tasks": [...]} shapes
// of the task listing endpoint across server versions.
func decodeTaskPage(data []byte) ([]Task, int, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, 0, nil
	}
	if trimmed[0] == '[' {
		var tasks []Task
		if err := json.Unmarshal(trimmed, &tasks); err != nil {
			return nil, 0, err
		}
		return tasks, -1, nil
	}
	var page struct {
		Tasks   []Task `json:"tasks"`
		Results []Task `json:"results"`
		Total   *int   `json:"total"`
		Count   *int   `json:"count"`
	}
	if err := json.Unmarshal(trimmed, &page); err != nil {
		return nil, 0, err
	}
	tasks := page.Tasks
	if tasks == nil {
		tasks = page.Results
	}
	total := -1
	switch {
	case page.Total != nil:
		total = *page.Total
	case page.Count != nil:
		total = *page.Count
	}
	return tasks, total, nil
}
