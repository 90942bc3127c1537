package imageset_test

import (
	"os"
	"path/filepath"
	"testing"

	"labelloop/internal/imageset"
	"labelloop/internal/testsupport"
)

func TestScanFiltersAndSorts(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"c.jpg", "A.PNG", "b.jpeg", "notes.txt", "d.webp", "e.Gif", "f.bmp", "g.tiff"} {
		testsupport.WriteFile(t, filepath.Join(dir, name), "x")
	}
	if err := os.Mkdir(filepath.Join(dir, "nested.jpg"), 0o755); err != nil {
		t.Fatal(err)
	}

	assets, err := imageset.Scan(dir)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	var names []string
	for _, a := range assets {
		names = append(names, a.Filename)
	}
	want := []string{"A.PNG", "b.jpeg", "c.jpg", "d.webp", "e.Gif", "f.bmp"}
	if len(names) != len(want) {
		t.Fatalf("unexpected assets: %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("unexpected order: got %v want %v", names, want)
		}
	}
	if assets[0].Extension != "png" || assets[0].Path != filepath.Join(dir, "A.PNG") {
		t.Fatalf("unexpected asset metadata: %+v", assets[0])
	}
}

func TestScanEmptyAndMissing(t *testing.T) {
	assets, err := imageset.Scan(t.TempDir())
	if err != nil {
		t.Fatalf("empty dir should not error: %v", err)
	}
	if len(assets) != 0 {
		t.Fatalf("expected no assets, got %d", len(assets))
	}

	if _, err := imageset.Scan(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestDimensions(t *testing.T) {
	dir := t.TempDir()
	png := filepath.Join(dir, "wide.png")
	jpg := filepath.Join(dir, "tall.jpg")
	testsupport.WriteImage(t, png, 64, 32)
	testsupport.WriteImage(t, jpg, 16, 48)

	w, h, err := imageset.Dimensions(png)
	if err != nil || w != 64 || h != 32 {
		t.Fatalf("png dimensions: %d x %d (%v)", w, h, err)
	}
	w, h, err = imageset.Dimensions(jpg)
	if err != nil || w != 16 || h != 48 {
		t.Fatalf("jpeg dimensions: %d x %d (%v)", w, h, err)
	}

	bogus := filepath.Join(dir, "bogus.jpg")
	testsupport.WriteFile(t, bogus, "not an image")
	if _, _, err := imageset.Dimensions(bogus); err == nil {
		t.Fatal("expected decode error")
	}
}
