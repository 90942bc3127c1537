package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"labelloop/internal/config"
	"labelloop/internal/services/labelstudio"
	"labelloop/internal/services/yolo"
	"labelloop/internal/testsupport"
)

const testProjectID = 7

// fakeStudio is an in-memory Label Studio serving one project.
type fakeStudio struct {
	t  *testing.T
	mu sync.Mutex

	tasks       []labelstudio.Task
	imports     [][]map[string]any
	predictions []labelstudio.Prediction
	exportPolls int

	failImport     bool
	failPrediction map[int]bool
	failTaskList   bool
}

func newFakeStudio(t *testing.T) (*fakeStudio, *httptest.Server) {
	t.Helper()
	studio := &fakeStudio{t: t, failPrediction: map[int]bool{}}
	server := httptest.NewServer(http.HandlerFunc(studio.serve))
	t.Cleanup(server.Close)
	return studio, server
}

func (f *fakeStudio) addTask(image string, annotations ...labelstudio.Annotation) labelstudio.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	task := labelstudio.Task{
		ID:          len(f.tasks) + 1,
		Data:        map[string]any{"image": image},
		Annotations: annotations,
	}
	f.tasks = append(f.tasks, task)
	return task
}

func (f *fakeStudio) recordedPredictions() []labelstudio.Prediction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]labelstudio.Prediction(nil), f.predictions...)
}

func (f *fakeStudio) importedImages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, batch := range f.imports {
		for _, task := range batch {
			ref, _ := task["image"].(string)
			out = append(out, ref)
		}
	}
	return out
}

func (f *fakeStudio) serve(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Token test-token" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	projectPrefix := fmt.Sprintf("/api/projects/%d", testProjectID)
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/tasks/":
		if f.failTaskList {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if page > 1 {
			f.writeJSON(w, map[string]any{"tasks": []labelstudio.Task{}, "total": len(f.tasks)})
			return
		}
		f.writeJSON(w, map[string]any{"tasks": f.tasks, "total": len(f.tasks)})
	case r.Method == http.MethodPost && r.URL.Path == projectPrefix+"/import":
		if f.failImport {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var batch []map[string]any
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			f.t.Errorf("decode import: %v", err)
		}
		f.imports = append(f.imports, batch)
		for _, payload := range batch {
			f.tasks = append(f.tasks, labelstudio.Task{ID: len(f.tasks) + 1, Data: payload})
		}
		f.writeJSON(w, labelstudio.ImportResult{TaskCount: len(batch)})
	case r.Method == http.MethodPost && r.URL.Path == "/api/predictions/":
		var prediction labelstudio.Prediction
		if err := json.NewDecoder(r.Body).Decode(&prediction); err != nil {
			f.t.Errorf("decode prediction: %v", err)
		}
		if f.failPrediction[prediction.Task] {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		prediction.ID = len(f.predictions) + 1
		f.predictions = append(f.predictions, prediction)
		f.writeJSON(w, prediction)
	case r.Method == http.MethodPost && r.URL.Path == projectPrefix+"/exports/":
		f.writeJSON(w, labelstudio.Export{ID: 3, Status: labelstudio.ExportCreated})
	case r.Method == http.MethodGet && r.URL.Path == projectPrefix+"/exports/3":
		f.exportPolls++
		status := labelstudio.ExportInProgress
		if f.exportPolls > 1 {
			status = labelstudio.ExportCompleted
		}
		f.writeJSON(w, labelstudio.Export{ID: 3, Status: status})
	case r.Method == http.MethodGet && r.URL.Path == projectPrefix+"/exports/3/download":
		f.writeJSON(w, f.tasks)
	default:
		f.t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeStudio) writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		f.t.Errorf("encode response: %v", err)
	}
}

func boxAnnotation(label string) labelstudio.Annotation {
	return labelstudio.Annotation{
		ID: 1,
		Result: []labelstudio.Result{{
			FromName: "label",
			ToName:   "image",
			Type:     labelstudio.ResultTypeRectangleLabels,
			Value:    labelstudio.RegionValue{X: 10, Y: 10, Width: 20, Height: 20, RectangleLabels: []string{label}},
		}},
	}
}

// newTestSetup returns a config pointed at a fresh fake server with an
// image directory holding the named images.
func newTestSetup(t *testing.T, images ...string) (*config.Config, *fakeStudio, *labelstudio.Client) {
	t.Helper()
	studio, server := newFakeStudio(t)
	cfg := testsupport.NewConfig(t,
		testsupport.WithLabelStudioURL(server.URL),
		testsupport.WithProjectID(testProjectID),
		testsupport.WithImageDir(),
	)
	for _, name := range images {
		testsupport.WriteImage(t, filepath.Join(cfg.Paths.ImageDir, name), 100, 50)
	}
	client := NewLabelStudioClient(cfg,
		labelstudio.WithRetryBackoff(0, 0),
		labelstudio.WithSleeper(func(time.Duration) {}),
	)
	return cfg, studio, client
}

// fakeYOLO mimics the files the yolo CLI leaves behind.
type fakeYOLO struct {
	mu     sync.Mutex
	calls  [][]string
	labels map[string]string
	err    error
}

func (f *fakeYOLO) Run(_ context.Context, _ string, args []string, onLine func(string)) error {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), args...))
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	dir := filepath.Join(argValue(args, "project"), argValue(args, "name"))
	switch args[1] {
	case "train":
		onLine("      1/2      1.2G      1.1      2.3      1.0         12        640")
		weights := filepath.Join(dir, "weights")
		if err := os.MkdirAll(weights, 0o755); err != nil {
			return err
		}
		return os.WriteFile(filepath.Join(weights, "best.pt"), []byte("weights"), 0o644)
	case "predict":
		labels := filepath.Join(dir, "labels")
		if err := os.MkdirAll(labels, 0o755); err != nil {
			return err
		}
		for name, contents := range f.labels {
			if err := os.WriteFile(filepath.Join(labels, name), []byte(contents), 0o644); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f *fakeYOLO) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, call := range f.calls {
		out = append(out, call[1])
	}
	return out
}

func argValue(args []string, key string) string {
	for _, arg := range args {
		if value, ok := strings.CutPrefix(arg, key+"="); ok {
			return value
		}
	}
	return ""
}

func newFakeYOLOClient(t *testing.T, cfg *config.Config, fake *fakeYOLO) *yolo.Client {
	t.Helper()
	client, err := NewYOLOClient(cfg, yolo.WithExecutor(fake))
	if err != nil {
		t.Fatalf("NewYOLOClient: %v", err)
	}
	return client
}
