package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"reflect"
	"testing"

	"labelloop/internal/config"
	"labelloop/internal/logging"
	"labelloop/internal/services"
	"labelloop/internal/services/labelstudio"
	"labelloop/internal/stage"
	"labelloop/internal/testsupport"
)

func writeLabels(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, contents := range files {
		testsupport.WriteFile(t, filepath.Join(dir, name), contents)
	}
}

func runImporter(t *testing.T, im *Importer, state *stage.State) error {
	t.Helper()
	if err := im.Prepare(context.Background(), state); err != nil {
		t.Fatalf("Prepare returned error: %v", err)
	}
	return im.Execute(context.Background(), state)
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func predictedTasks(predictions []labelstudio.Prediction) []int {
	ids := make([]int, 0, len(predictions))
	for _, prediction := range predictions {
		ids = append(ids, prediction.Task)
	}
	return ids
}

func TestImporterPostsPredictionsFromLabelFiles(t *testing.T) {
	cfg, studio, client := newTestSetup(t, "a.jpg", "b.png")
	studio.addTask("/data/local-files/?d=images/a.jpg")
	studio.addTask("/data/local-files/?d=images/b.png")
	labels := filepath.Join(testsupport.BaseDir(cfg), "labels")
	writeLabels(t, labels, map[string]string{
		"a.txt": "0 0.5 0.5 0.2 0.2 0.9\n1 0.25 0.25 0.1 0.1 0.5\n",
		"b.txt": "1 0.5 0.5 0.4 0.4 0.7\n",
	})

	im := NewImporter(cfg, client, ImportOptions{LabelsDir: labels, ModelVersion: "v2"}, logging.NewNop())
	state := &stage.State{}
	if err := runImporter(t, im, state); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	predictions := studio.recordedPredictions()
	if got := predictedTasks(predictions); !reflect.DeepEqual(got, []int{1, 2}) {
		t.Fatalf("expected predictions for tasks 1 and 2 in order, got %v", got)
	}
	first := predictions[0]
	if first.ModelVersion != "v2" || len(first.Result) != 2 {
		t.Fatalf("unexpected prediction %+v", first)
	}
	region := first.Result[0]
	if region.FromName != "label" || region.ToName != "image" || region.OriginalWidth != 100 || region.OriginalHeight != 50 {
		t.Fatalf("unexpected region metadata %+v", region)
	}
	value := region.Value
	if !approx(value.X, 40) || !approx(value.Y, 40) || !approx(value.Width, 20) || !approx(value.Height, 20) {
		t.Fatalf("unexpected region geometry %+v", value)
	}
	if value.Label() != "Person" {
		t.Fatalf("expected Person, got %q", value.Label())
	}
	if !approx(first.Score, 0.7) {
		t.Fatalf("expected mean score 0.7, got %v", first.Score)
	}

	report := state.Import
	if !reflect.DeepEqual(report.Imported, []string{"a.jpg", "b.png"}) || report.Regions != 3 {
		t.Fatalf("unexpected report %+v", report)
	}
	if state.Outcome.Succeeded != 2 || state.Outcome.Failed != 0 {
		t.Fatalf("unexpected outcome %+v", state.Outcome)
	}
}

func TestImporterDropsBadDetectionsUnderSkipAndWarn(t *testing.T) {
	cfg, studio, client := newTestSetup(t, "a.jpg")
	studio.addTask("/data/local-files/?d=images/a.jpg")
	labels := filepath.Join(testsupport.BaseDir(cfg), "labels")
	writeLabels(t, labels, map[string]string{
		"a.txt": "0 0.5 0.5 0.2 0.2 0.9\nnot a line\n99 0.5 0.5 0.1 0.1 0.4\n",
	})

	im := NewImporter(cfg, client, ImportOptions{LabelsDir: labels}, logging.NewNop())
	state := &stage.State{}
	if err := runImporter(t, im, state); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	predictions := studio.recordedPredictions()
	if len(predictions) != 1 || len(predictions[0].Result) != 1 {
		t.Fatalf("expected one prediction with one region, got %+v", predictions)
	}
	if len(state.Import.Dropped) != 2 {
		t.Fatalf("expected malformed line and unknown class dropped, got %+v", state.Import.Dropped)
	}
	if state.Import.Dropped[0].Item != "a.txt:2" {
		t.Fatalf("expected line reference, got %q", state.Import.Dropped[0].Item)
	}
}

func TestImporterAbortBatchStopsOnUnknownClass(t *testing.T) {
	cfg, studio, client := newTestSetup(t, "a.jpg", "b.jpg")
	cfg.Convert.UnknownClassPolicy = config.UnknownClassAbortBatch
	studio.addTask("/data/local-files/?d=images/a.jpg")
	studio.addTask("/data/local-files/?d=images/b.jpg")
	labels := filepath.Join(testsupport.BaseDir(cfg), "labels")
	writeLabels(t, labels, map[string]string{
		"a.txt": "0 0.5 0.5 0.2 0.2 0.9\n",
		"b.txt": "42 0.5 0.5 0.2 0.2 0.9\n",
	})

	im := NewImporter(cfg, client, ImportOptions{LabelsDir: labels}, logging.NewNop())
	err := runImporter(t, im, &stage.State{})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if got := studio.recordedPredictions(); len(got) != 0 {
		t.Fatalf("expected nothing posted, got %d prediction(s)", len(got))
	}
}

func TestImporterUnlabeledOnlySkipsLabeledTasks(t *testing.T) {
	cfg, studio, client := newTestSetup(t, "a.jpg", "b.jpg")
	studio.addTask("/data/local-files/?d=images/a.jpg", boxAnnotation("Car"))
	studio.addTask("/data/local-files/?d=images/b.jpg")
	labels := filepath.Join(testsupport.BaseDir(cfg), "labels")
	writeLabels(t, labels, map[string]string{
		"a.txt": "0 0.5 0.5 0.2 0.2 0.9\n",
		"b.txt": "0 0.5 0.5 0.2 0.2 0.9\n",
	})

	im := NewImporter(cfg, client, ImportOptions{LabelsDir: labels, UnlabeledOnly: true}, logging.NewNop())
	state := &stage.State{}
	if err := runImporter(t, im, state); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if got := predictedTasks(studio.recordedPredictions()); !reflect.DeepEqual(got, []int{2}) {
		t.Fatalf("expected only task 2, got %v", got)
	}
	if len(state.Import.Skipped) != 1 || state.Import.Skipped[0].Item != "a.jpg" {
		t.Fatalf("expected a.jpg skipped, got %+v", state.Import.Skipped)
	}
}

func TestImporterTaskIDsLimitsPredictions(t *testing.T) {
	cfg, studio, client := newTestSetup(t, "a.jpg", "b.jpg", "c.jpg")
	for _, name := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		studio.addTask(cfg.ImageReference(name))
	}
	labels := filepath.Join(testsupport.BaseDir(cfg), "labels")
	writeLabels(t, labels, map[string]string{
		"a.txt": "0 0.5 0.5 0.2 0.2 0.9\n",
		"b.txt": "0 0.5 0.5 0.2 0.2 0.9\n",
		"c.txt": "0 0.5 0.5 0.2 0.2 0.9\n",
	})

	im := NewImporter(cfg, client, ImportOptions{LabelsDir: labels, TaskIDs: []int{1, 3}}, logging.NewNop())
	state := &stage.State{}
	if err := runImporter(t, im, state); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if got := predictedTasks(studio.recordedPredictions()); !reflect.DeepEqual(got, []int{1, 3}) {
		t.Fatalf("expected tasks 1 and 3, got %v", got)
	}
	if len(state.Import.Skipped) != 1 || state.Import.Skipped[0].Error != "task not selected" {
		t.Fatalf("expected b.jpg skipped as not selected, got %+v", state.Import.Skipped)
	}
}

func TestImporterMatchesEscapedImageReference(t *testing.T) {
	cfg, studio, client := newTestSetup(t, "a+b.jpg")
	studio.addTask(cfg.ImageReference("a+b.jpg"))
	labels := filepath.Join(testsupport.BaseDir(cfg), "labels")
	writeLabels(t, labels, map[string]string{"a+b.txt": "0 0.5 0.5 0.2 0.2 0.9\n"})

	im := NewImporter(cfg, client, ImportOptions{LabelsDir: labels}, logging.NewNop())
	state := &stage.State{}
	if err := runImporter(t, im, state); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if got := predictedTasks(studio.recordedPredictions()); !reflect.DeepEqual(got, []int{1}) {
		t.Fatalf("expected prediction for task 1, got %v", got)
	}
}

func TestImporterSkipsImagesWithoutTask(t *testing.T) {
	cfg, studio, client := newTestSetup(t, "a.jpg", "b.jpg")
	studio.addTask("/data/local-files/?d=images/a.jpg")
	labels := filepath.Join(testsupport.BaseDir(cfg), "labels")
	writeLabels(t, labels, map[string]string{
		"a.txt": "0 0.5 0.5 0.2 0.2 0.9\n",
		"b.txt": "0 0.5 0.5 0.2 0.2 0.9\n",
	})

	im := NewImporter(cfg, client, ImportOptions{LabelsDir: labels}, logging.NewNop())
	state := &stage.State{}
	if err := runImporter(t, im, state); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if len(studio.recordedPredictions()) != 1 {
		t.Fatal("expected one prediction")
	}
	if len(state.Import.Skipped) != 1 || state.Import.Skipped[0].Item != "b.jpg" {
		t.Fatalf("expected b.jpg skipped, got %+v", state.Import.Skipped)
	}
}

func TestImporterLabelFileWithoutImageIsFailure(t *testing.T) {
	cfg, studio, client := newTestSetup(t, "a.jpg")
	studio.addTask("/data/local-files/?d=images/a.jpg")
	labels := filepath.Join(testsupport.BaseDir(cfg), "labels")
	writeLabels(t, labels, map[string]string{
		"a.txt":      "0 0.5 0.5 0.2 0.2 0.9\n",
		"orphan.txt": "0 0.5 0.5 0.2 0.2 0.9\n",
	})

	im := NewImporter(cfg, client, ImportOptions{LabelsDir: labels}, logging.NewNop())
	state := &stage.State{}
	err := runImporter(t, im, state)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected partial failure, got %v", err)
	}
	if !reflect.DeepEqual(state.Import.Imported, []string{"a.jpg"}) {
		t.Fatalf("expected a.jpg still imported, got %v", state.Import.Imported)
	}
	if len(state.Import.Failures) != 1 || state.Import.Failures[0].Item != "orphan.txt" {
		t.Fatalf("unexpected failures %+v", state.Import.Failures)
	}
}

func TestImporterRecordsPredictionFailures(t *testing.T) {
	cfg, studio, client := newTestSetup(t, "a.jpg", "b.jpg")
	studio.addTask("/data/local-files/?d=images/a.jpg")
	studio.addTask("/data/local-files/?d=images/b.jpg")
	studio.failPrediction[1] = true
	labels := filepath.Join(testsupport.BaseDir(cfg), "labels")
	writeLabels(t, labels, map[string]string{
		"a.txt": "0 0.5 0.5 0.2 0.2 0.9\n",
		"b.txt": "0 0.5 0.5 0.2 0.2 0.9\n",
	})

	im := NewImporter(cfg, client, ImportOptions{LabelsDir: labels}, logging.NewNop())
	state := &stage.State{}
	err := runImporter(t, im, state)
	if err == nil {
		t.Fatal("expected partial failure")
	}
	if got := predictedTasks(studio.recordedPredictions()); !reflect.DeepEqual(got, []int{2}) {
		t.Fatalf("expected task 2 still predicted, got %v", got)
	}
	if state.Outcome.Succeeded != 1 || state.Outcome.Failed != 1 {
		t.Fatalf("unexpected outcome %+v", state.Outcome)
	}
}

func TestImporterReadsDetectionsJSON(t *testing.T) {
	cfg, studio, client := newTestSetup(t)
	studio.addTask("/data/upload/1/a.jpg")
	detections := filepath.Join(testsupport.BaseDir(cfg), "detections.json")
	testsupport.WriteFile(t, detections, `[{"image": "a.jpg", "width": 100, "height": 50, "convention": "corner",
		"detections": [{"class_id": 1, "confidence": 0.8, "box": [10, 5, 30, 25]}]}]`)

	im := NewImporter(cfg, client, ImportOptions{DetectionsFile: detections}, logging.NewNop())
	state := &stage.State{}
	if err := runImporter(t, im, state); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	predictions := studio.recordedPredictions()
	if len(predictions) != 1 {
		t.Fatalf("expected one prediction, got %d", len(predictions))
	}
	value := predictions[0].Result[0].Value
	if !approx(value.X, 10) || !approx(value.Y, 10) || !approx(value.Width, 20) || !approx(value.Height, 40) {
		t.Fatalf("unexpected corner conversion %+v", value)
	}
	if value.Label() != "Car" || state.Import.Source != detections {
		t.Fatalf("unexpected label %q or source %q", value.Label(), state.Import.Source)
	}
}

func TestImporterPrefersDatasetClassMap(t *testing.T) {
	cfg, studio, client := newTestSetup(t, "a.jpg")
	studio.addTask("/data/local-files/?d=images/a.jpg")
	testsupport.WriteFile(t, DatasetManifest(cfg.Paths.ExportDir), "names:\n  0: Widget\n")
	labels := filepath.Join(testsupport.BaseDir(cfg), "labels")
	writeLabels(t, labels, map[string]string{"a.txt": "0 0.5 0.5 0.2 0.2 0.9\n"})

	im := NewImporter(cfg, client, ImportOptions{LabelsDir: labels}, logging.NewNop())
	if err := runImporter(t, im, &stage.State{}); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if got := studio.recordedPredictions()[0].Result[0].Value.Label(); got != "Widget" {
		t.Fatalf("expected label from data.yaml, got %q", got)
	}
}

func TestImporterKeepsInputOrderAcrossWorkers(t *testing.T) {
	var names []string
	for i := 0; i < 24; i++ {
		names = append(names, fmt.Sprintf("img_%02d.jpg", i))
	}
	cfg, studio, client := newTestSetup(t, names...)
	cfg.Convert.Workers = 4
	labels := filepath.Join(testsupport.BaseDir(cfg), "labels")
	files := map[string]string{}
	var want []int
	for _, name := range names {
		task := studio.addTask("/data/local-files/?d=images/" + name)
		want = append(want, task.ID)
		files[name[:len(name)-len(".jpg")]+".txt"] = "0 0.5 0.5 0.2 0.2 0.9\n"
	}
	writeLabels(t, labels, files)

	im := NewImporter(cfg, client, ImportOptions{LabelsDir: labels}, logging.NewNop())
	if err := runImporter(t, im, &stage.State{}); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if got := predictedTasks(studio.recordedPredictions()); !reflect.DeepEqual(got, want) {
		t.Fatalf("predictions out of order: %v", got)
	}
}

func TestImporterPrepareWithoutLabelsIsBlocked(t *testing.T) {
	cfg, _, client := newTestSetup(t)
	im := NewImporter(cfg, client, ImportOptions{}, logging.NewNop())
	err := im.Prepare(context.Background(), &stage.State{})
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
}
