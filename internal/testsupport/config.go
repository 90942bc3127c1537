package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"labelloop/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.LabelStudio.URL = "http://127.0.0.1:0"
	cfgVal.LabelStudio.APIKey = "test-token"
	cfgVal.LabelStudio.ExportPollInterval = 1
	cfgVal.Paths.ImageDir = filepath.Join(base, "images")
	cfgVal.Paths.ExportDir = filepath.Join(base, "export")
	cfgVal.Paths.PredictionsDir = filepath.Join(base, "predictions")
	cfgVal.Paths.BaseModelPath = filepath.Join(base, "models", "base_model.pt")
	cfgVal.Paths.UpdatedModelPath = filepath.Join(base, "models", "updated_model.pt")
	cfgVal.Paths.RunsDir = filepath.Join(base, "runs")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Server.DataDir = filepath.Join(base, "label_studio_data")
	cfgVal.Server.DocumentRoot = base

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithAPIKey sets the Label Studio token on the test config.
func WithAPIKey(key string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.LabelStudio.APIKey = key
	}
}

// WithLabelStudioURL points the test config at a fake server.
func WithLabelStudioURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.LabelStudio.URL = url
	}
}

// WithProjectID sets the configured project.
func WithProjectID(id int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.LabelStudio.ProjectID = id
	}
}

// WithImageDir creates the image directory so scans succeed.
func WithImageDir() ConfigOption {
	return func(b *configBuilder) {
		if err := os.MkdirAll(b.cfg.Paths.ImageDir, 0o755); err != nil {
			b.t.Fatalf("mkdir image dir: %v", err)
		}
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, yolo and label-studio are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"yolo", "label-studio"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}
		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
