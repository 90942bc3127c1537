// Package imageset inventories the local image directory that feeds uploads
// and predictions.
package imageset

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Extensions lists the accepted image suffixes, lower-case with the leading dot.
var Extensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".gif", ".webp"}

// ImageAsset is one image file discovered by a scan. Filename is the identity
// used when matching against remote tasks and is compared case-sensitively.
type ImageAsset struct {
	Filename  string
	Path      string
	Extension string
}

// IsImage reports whether name carries an accepted extension. The extension
// check ignores case.
func IsImage(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, allowed := range Extensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// Asset builds the ImageAsset for a single path.
func Asset(path string) ImageAsset {
	name := filepath.Base(path)
	return ImageAsset{
		Filename:  name,
		Path:      path,
		Extension: strings.ToLower(strings.TrimPrefix(filepath.Ext(name), ".")),
	}
}

// Scan lists the images directly inside dir, sorted by filename. A missing
// directory is an error; an empty one yields no assets.
func Scan(dir string) ([]ImageAsset, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("image directory %s does not exist", dir)
		}
		return nil, fmt.Errorf("stat image directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("image directory %s is not a directory", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read image directory: %w", err)
	}
	assets := make([]ImageAsset, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || (!entry.Type().IsRegular() && entry.Type()&os.ModeSymlink == 0) {
			continue
		}
		if !IsImage(entry.Name()) {
			continue
		}
		assets = append(assets, Asset(filepath.Join(dir, entry.Name())))
	}
	sort.Slice(assets, func(i, j int) bool {
		return assets[i].Filename < assets[j].Filename
	})
	return assets, nil
}

// Dimensions decodes only the image header and returns width and height in pixels.
func Dimensions(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return cfg.Width, cfg.Height, nil
}
