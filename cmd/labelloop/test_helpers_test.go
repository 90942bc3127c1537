package main

import (
	"bytes"
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

	"labelloop/internal/config"
	"labelloop/internal/services/labelstudio"
	"labelloop/internal/testsupport"
)

const testToken = "test-token"

// fakeStudio is a minimal Label Studio API backed by in-memory state.
type fakeStudio struct {
	mu       sync.Mutex
	nextID   int
	projects map[int]labelstudio.Project
	tasks    []labelstudio.Task
	storages []labelstudio.LocalStorage
	imports  int
	deleted  []int
	patches  []map[string]any
	synced   []int
}

func newFakeStudio(t *testing.T) (*fakeStudio, *httptest.Server) {
	t.Helper()
	studio := &fakeStudio{nextID: 10, projects: map[int]labelstudio.Project{}}
	srv := httptest.NewServer(http.HandlerFunc(studio.serve))
	t.Cleanup(srv.Close)
	return studio, srv
}

func (f *fakeStudio) addProject(title string) labelstudio.Project {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	project := labelstudio.Project{ID: f.nextID, Title: title}
	f.projects[project.ID] = project
	return project
}

func (f *fakeStudio) addTask(image string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, labelstudio.Task{ID: len(f.tasks) + 1, Data: map[string]any{"image": image}})
}

func (f *fakeStudio) serve(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Token "+testToken {
		http.Error(w, `{"detail":"invalid token"}`, http.StatusUnauthorized)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path
	switch {
	case path == "/api/current-user/whoami":
		writeTestJSON(w, labelstudio.User{ID: 1, Username: "annotator", Email: "a@example.com"})
	case path == "/api/projects/" && r.Method == http.MethodGet:
		title := r.URL.Query().Get("title")
		results := []labelstudio.Project{}
		for id := 1; id <= f.nextID; id++ {
			project, ok := f.projects[id]
			if !ok || (title != "" && !strings.Contains(project.Title, title)) {
				continue
			}
			results = append(results, project)
		}
		writeTestJSON(w, map[string]any{"count": len(results), "next": nil, "results": results})
	case path == "/api/projects/" && r.Method == http.MethodPost:
		var req labelstudio.ProjectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.nextID++
		project := labelstudio.Project{ID: f.nextID, Title: req.Title, LabelConfig: req.LabelConfig}
		f.projects[project.ID] = project
		w.WriteHeader(http.StatusCreated)
		writeTestJSON(w, project)
	case strings.HasPrefix(path, "/api/projects/") && strings.HasSuffix(path, "/import"):
		var payload []map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for _, data := range payload {
			f.tasks = append(f.tasks, labelstudio.Task{ID: len(f.tasks) + 1, Data: data})
		}
		f.imports++
		writeTestJSON(w, labelstudio.ImportResult{TaskCount: len(payload)})
	case strings.HasPrefix(path, "/api/projects/"):
		id, err := strconv.Atoi(strings.Trim(strings.TrimPrefix(path, "/api/projects/"), "/"))
		project, ok := f.projects[id]
		if err != nil || !ok {
			http.Error(w, `{"detail":"not found"}`, http.StatusNotFound)
			return
		}
		if r.Method == http.MethodDelete {
			delete(f.projects, id)
			f.deleted = append(f.deleted, id)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeTestJSON(w, project)
	case path == "/api/tasks/":
		page := []labelstudio.Task{}
		if r.URL.Query().Get("page") == "1" {
			page = f.tasks
		}
		writeTestJSON(w, map[string]any{"tasks": page, "total": len(f.tasks)})
	case path == "/api/storages/localfiles/" && r.Method == http.MethodGet:
		storages := f.storages
		if storages == nil {
			storages = []labelstudio.LocalStorage{}
		}
		writeTestJSON(w, storages)
	case path == "/api/storages/localfiles/" && r.Method == http.MethodPost:
		var req labelstudio.LocalStorageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		treat := true
		storage := labelstudio.LocalStorage{
			ID:                       len(f.storages) + 1,
			Project:                  req.Project,
			Title:                    req.Title,
			Path:                     req.Path,
			RegexFilter:              req.RegexFilter,
			UseBlobURLs:              req.UseBlobURLs,
			TreatEveryObjectAsSource: &treat,
		}
		f.storages = append(f.storages, storage)
		w.WriteHeader(http.StatusCreated)
		writeTestJSON(w, storage)
	case strings.HasPrefix(path, "/api/storages/localfiles/"):
		rest := strings.TrimPrefix(path, "/api/storages/localfiles/")
		id, err := strconv.Atoi(strings.TrimSuffix(rest, "/sync"))
		if err != nil || id < 1 || id > len(f.storages) {
			http.Error(w, `{"detail":"not found"}`, http.StatusNotFound)
			return
		}
		storage := &f.storages[id-1]
		switch {
		case strings.HasSuffix(rest, "/sync"):
			f.synced = append(f.synced, id)
			storage.Status = "completed"
			storage.LastSyncCount = 2
		case r.Method == http.MethodPatch:
			var fields map[string]any
			if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			f.patches = append(f.patches, fields)
			if value, ok := fields[treatAsSourceField].(bool); ok {
				storage.TreatEveryObjectAsSource = &value
			}
		}
		writeTestJSON(w, storage)
	default:
		http.Error(w, `{"detail":"not found"}`, http.StatusNotFound)
	}
}

func writeTestJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	studio     *fakeStudio
}

// setupCLITestEnv writes a config pointing at a fresh fake server.
func setupCLITestEnv(t *testing.T, projectID int) *cliTestEnv {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("LABEL_STUDIO_API_KEY", "")
	t.Setenv("PROJECT_ID", "")
	studio, srv := newFakeStudio(t)
	cfg := testsupport.NewConfig(t,
		testsupport.WithLabelStudioURL(srv.URL),
		testsupport.WithAPIKey(testToken),
		testsupport.WithProjectID(projectID),
		testsupport.WithImageDir(),
	)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "labelloop.toml")
	writeTestConfig(t, configPath, cfg)
	return &cliTestEnv{cfg: cfg, configPath: configPath, studio: studio}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(`[label_studio]
url = %q
api_key = %q
project_id = %d
upload_batch_size = 2

[paths]
image_dir = %q
export_dir = %q
predictions_dir = %q
base_model_path = %q
updated_model_path = %q
runs_dir = %q
state_dir = %q

[yolo]
binary = %q
epochs = 3

[labels]
names = ["Person", "Car"]

[logging]
level = "error"
`,
		cfg.LabelStudio.URL,
		cfg.LabelStudio.APIKey,
		cfg.LabelStudio.ProjectID,
		cfg.Paths.ImageDir,
		cfg.Paths.ExportDir,
		cfg.Paths.PredictionsDir,
		cfg.Paths.BaseModelPath,
		cfg.Paths.UpdatedModelPath,
		cfg.Paths.RunsDir,
		cfg.Paths.StateDir,
		cfg.YOLO.Binary,
	)
	testsupport.WriteFile(t, path, content)
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	return runCLIWithInput(t, args, configPath, "")
}

func runCLIWithInput(t *testing.T, args []string, configPath, input string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(input))
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

// fakeYOLO stands in for the yolo process and writes the files a real run
// leaves behind.
type fakeYOLO struct {
	mu    sync.Mutex
	calls [][]string
}

func (f *fakeYOLO) Run(_ context.Context, _ string, args []string, _ func(string)) error {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), args...))
	f.mu.Unlock()
	var project, name string
	for _, arg := range args {
		if value, ok := strings.CutPrefix(arg, "project="); ok {
			project = value
		}
		if value, ok := strings.CutPrefix(arg, "name="); ok {
			name = value
		}
	}
	if len(args) > 1 && args[1] == "train" {
		weights := filepath.Join(project, name, "weights")
		if err := os.MkdirAll(weights, 0o755); err != nil {
			return err
		}
		return os.WriteFile(filepath.Join(weights, "best.pt"), []byte("weights"), 0o644)
	}
	return nil
}

// useFakeYOLO installs a fake executor and an executable stub so the yolo
// health check passes.
func useFakeYOLO(t *testing.T, env *cliTestEnv) *fakeYOLO {
	t.Helper()
	stub := filepath.Join(testsupport.BaseDir(env.cfg), "bin", "yolo")
	testsupport.WriteFile(t, stub, "#!/bin/sh\nexit 0\n")
	if err := os.Chmod(stub, 0o755); err != nil {
		t.Fatalf("chmod stub: %v", err)
	}
	env.cfg.YOLO.Binary = stub
	writeTestConfig(t, env.configPath, env.cfg)

	fake := &fakeYOLO{}
	previous := yoloExecutor
	yoloExecutor = fake
	t.Cleanup(func() { yoloExecutor = previous })
	return fake
}
