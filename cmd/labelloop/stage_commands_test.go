package main

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"labelloop/internal/pipeline"
	"labelloop/internal/services"
	"labelloop/internal/testsupport"
)

func writeImages(t *testing.T, env *cliTestEnv, names ...string) {
	t.Helper()
	for _, name := range names {
		testsupport.WriteImage(t, filepath.Join(env.cfg.Paths.ImageDir, name), 32, 16)
	}
}

func TestUploadDryRunJSON(t *testing.T) {
	env := setupCLITestEnv(t, 7)
	writeImages(t, env, "a.jpg", "b.jpg")
	env.studio.addTask("/data/local-files/?d=images/a.jpg")

	out, _, err := runCLI(t, []string{"upload", "--dry-run", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("upload --dry-run: %v", err)
	}
	var result runOutput
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if result.RunID == "" || result.Upload == nil {
		t.Fatalf("expected run id and upload report, got %+v", result)
	}
	if !result.Upload.DryRun || !reflect.DeepEqual(result.Upload.Uploaded, []string{"b.jpg"}) {
		t.Fatalf("unexpected upload plan %+v", result.Upload)
	}
	if !reflect.DeepEqual(result.Upload.Skipped, []string{"a.jpg"}) {
		t.Fatalf("expected a.jpg skipped, got %v", result.Upload.Skipped)
	}
	if env.studio.imports != 0 {
		t.Fatalf("dry run imported %d batch(es)", env.studio.imports)
	}
}

func TestUploadCreatesTasks(t *testing.T) {
	env := setupCLITestEnv(t, 7)
	writeImages(t, env, "a.jpg", "b.jpg", "c.png")

	out, _, err := runCLI(t, []string{"upload"}, env.configPath)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	requireContains(t, out, "Uploaded")
	if env.studio.imports != 2 {
		t.Fatalf("expected two batches of at most 2, got %d", env.studio.imports)
	}
	if len(env.studio.tasks) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(env.studio.tasks))
	}

	out, _, err = runCLI(t, []string{"upload", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("second upload: %v", err)
	}
	var result runOutput
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if len(result.Upload.Uploaded) != 0 || len(result.Upload.Skipped) != 3 {
		t.Fatalf("expected everything skipped on rerun, got %+v", result.Upload)
	}
}

func TestUploadWithoutProjectIsBlocked(t *testing.T) {
	env := setupCLITestEnv(t, 0)
	writeImages(t, env, "a.jpg")

	_, _, err := runCLI(t, []string{"upload"}, env.configPath)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestTrainUsesFakeDetector(t *testing.T) {
	env := setupCLITestEnv(t, 7)
	fake := useFakeYOLO(t, env)
	testsupport.WriteFile(t, pipeline.DatasetManifest(env.cfg.Paths.ExportDir), "names:\n  0: Person\n")

	out, _, err := runCLI(t, []string{"train", "--epochs", "2", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	var result runOutput
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if result.Train == nil || result.Train.Model != env.cfg.Paths.UpdatedModelPath {
		t.Fatalf("unexpected train result %+v", result.Train)
	}
	if len(fake.calls) != 1 || !containsArg(fake.calls[0], "epochs=2") {
		t.Fatalf("expected epochs override, got %v", fake.calls)
	}
}

func TestLoopRejectsUnknownStage(t *testing.T) {
	env := setupCLITestEnv(t, 7)
	_, _, err := runCLI(t, []string{"loop", "--stages", "upload,label"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "unknown stage") {
		t.Fatalf("expected unknown stage error, got %v", err)
	}
}

func containsArg(args []string, want string) bool {
	for _, arg := range args {
		if arg == want {
			return true
		}
	}
	return false
}
