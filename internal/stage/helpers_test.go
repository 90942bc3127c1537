package stage

import (
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"labelloop/internal/services"
	"labelloop/internal/testsupport"
)

func TestParseStages(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"empty selects all", "", Order},
		{"reordered", "import, upload", []string{Upload, Import}},
		{"case and duplicates", "TRAIN,train,Predict", []string{Train, Predict}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStages(tt.raw)
			if err != nil {
				t.Fatalf("ParseStages(%q) returned error: %v", tt.raw, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("ParseStages(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseStagesRejectsUnknown(t *testing.T) {
	_, err := ParseStages("upload,deploy")
	if !errors.Is(err, services.ErrValidation) || !strings.Contains(err.Error(), "deploy") {
		t.Fatalf("expected validation error naming the stage, got %v", err)
	}
	if _, err := ParseStages(" , "); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for empty selection, got %v", err)
	}
}

func TestRequireFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "data.yaml")
	testsupport.WriteFile(t, file, "names: [a]\n")

	if err := RequireFile(Train, "dataset manifest", file, Export); err != nil {
		t.Fatalf("expected existing file to pass, got %v", err)
	}
	err := RequireFile(Train, "dataset manifest", filepath.Join(dir, "missing.yaml"), Export)
	if !errors.Is(err, services.ErrNotFound) || !strings.Contains(err.Error(), "run the export stage first") {
		t.Fatalf("expected not found with hint, got %v", err)
	}
	if err := RequireFile(Train, "dataset manifest", dir, ""); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected directory to be rejected, got %v", err)
	}
	if err := RequireFile(Train, "dataset manifest", "", ""); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestRequireDir(t *testing.T) {
	dir := t.TempDir()
	if err := RequireDir(Import, "labels directory", dir, Predict); err != nil {
		t.Fatalf("expected existing dir to pass, got %v", err)
	}
	file := filepath.Join(dir, "a.txt")
	testsupport.WriteFile(t, file, "")
	if err := RequireDir(Import, "labels directory", file, Predict); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected file to be rejected, got %v", err)
	}
	if err := RequireDir(Import, "labels directory", filepath.Join(dir, "none"), Predict); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestHealthErr(t *testing.T) {
	if err := Healthy("uploader").Err(Upload); err != nil {
		t.Fatalf("expected nil for a ready stage, got %v", err)
	}
	err := Unhealthy("trainer", `binary "yolo" not found`).Err(Train)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if !strings.Contains(err.Error(), `trainer not ready: binary "yolo" not found`) {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
