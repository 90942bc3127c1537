package dataset

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"labelloop/internal/fileutil"
	"labelloop/internal/reconcile"
	"labelloop/internal/services/labelstudio"
)

const (
	// DefaultSeed fixes the shuffle so repeated exports split identically.
	DefaultSeed = 42
	// DefaultTrainSplit is the share of tasks placed in the train split.
	DefaultTrainSplit = 0.8
)

// Options controls Build.
type Options struct {
	// OutputDir receives the dataset tree. It is created when missing.
	OutputDir string
	// ImageDir is where the source images live; tasks are matched by filename.
	ImageDir   string
	TrainSplit float64
	Seed       int64
	// Labels fixes the class order. Labels found in the export but missing
	// here are appended in first-seen order.
	Labels []string
}

// Summary reports what Build wrote.
type Summary struct {
	Dir      string   `json:"dir"`
	DataYAML string   `json:"data_yaml"`
	Train    int      `json:"train"`
	Val      int      `json:"val"`
	Empty    int      `json:"empty"`
	Boxes    int      `json:"boxes"`
	Classes  []string `json:"classes"`
	// Unlisted holds labels that were not part of Options.Labels.
	Unlisted []string `json:"unlisted,omitempty"`
	// MissingImages lists task images not found under ImageDir. Their label
	// files are still written.
	MissingImages []string `json:"missing_images,omitempty"`
	Linked        int      `json:"linked"`
	Copied        int      `json:"copied"`
}

type manifest struct {
	Path  string   `yaml:"path"`
	Train string   `yaml:"train"`
	Val   string   `yaml:"val"`
	NC    int      `yaml:"nc"`
	Names []string `yaml:"names"`
}

// Build writes the dataset for tasks and returns a summary. Only
// rectanglelabels results of the latest non-cancelled annotation per task
// are used. Tasks without boxes get no label file and count as empty.
func Build(tasks []labelstudio.Task, opts Options) (Summary, error) {
	if strings.TrimSpace(opts.OutputDir) == "" {
		return Summary{}, errors.New("dataset output directory is required")
	}
	if opts.TrainSplit <= 0 || opts.TrainSplit > 1 {
		opts.TrainSplit = DefaultTrainSplit
	}
	if opts.Seed == 0 {
		opts.Seed = DefaultSeed
	}

	outDir, err := filepath.Abs(opts.OutputDir)
	if err != nil {
		return Summary{}, fmt.Errorf("resolve dataset directory: %w", err)
	}
	layout := newLayout(outDir)
	if err := layout.create(); err != nil {
		return Summary{}, err
	}

	classes := newClassIndex(opts.Labels)
	ordered := shuffled(tasks, opts.Seed)
	splitIdx := int(float64(len(ordered)) * opts.TrainSplit)

	summary := Summary{Dir: outDir}
	for idx, task := range ordered {
		split := "train"
		if idx >= splitIdx {
			split = "val"
		}
		filename := reconcile.FilenameFromRef(task.ImageRef())
		if filename == "" || filename == "." || filename == "/" {
			summary.Empty++
			continue
		}

		if opts.ImageDir != "" {
			source := filepath.Join(opts.ImageDir, filename)
			if _, err := os.Stat(source); err == nil {
				linked, err := fileutil.LinkOrCopy(source, filepath.Join(layout.images(split), filename))
				if err != nil {
					return Summary{}, fmt.Errorf("place image %s: %w", filename, err)
				}
				if linked {
					summary.Linked++
				} else {
					summary.Copied++
				}
			} else {
				summary.MissingImages = append(summary.MissingImages, filename)
			}
		}

		lines := labelLines(task, classes)
		if len(lines) == 0 {
			summary.Empty++
			continue
		}
		labelPath := filepath.Join(layout.labels(split), strings.TrimSuffix(filename, filepath.Ext(filename))+".txt")
		if err := os.WriteFile(labelPath, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
			return Summary{}, fmt.Errorf("write labels for %s: %w", filename, err)
		}
		summary.Boxes += len(lines)
		if split == "train" {
			summary.Train++
		} else {
			summary.Val++
		}
	}

	summary.Classes = classes.names
	summary.Unlisted = classes.unlisted
	dataYAML, err := writeManifest(outDir, classes.names)
	if err != nil {
		return Summary{}, err
	}
	summary.DataYAML = dataYAML
	if err := writeClasses(outDir, classes.names); err != nil {
		return Summary{}, err
	}
	return summary, nil
}

type layout struct {
	root string
}

func newLayout(root string) layout {
	return layout{root: root}
}

func (l layout) images(split string) string {
	return filepath.Join(l.root, "images", split)
}

func (l layout) labels(split string) string {
	return filepath.Join(l.root, "labels", split)
}

// create makes the split directories and clears label files from a previous
// build so stale boxes do not leak into training.
func (l layout) create() error {
	for _, split := range []string{"train", "val"} {
		if err := os.RemoveAll(l.labels(split)); err != nil {
			return fmt.Errorf("clear %s: %w", l.labels(split), err)
		}
		if err := os.RemoveAll(l.images(split)); err != nil {
			return fmt.Errorf("clear %s: %w", l.images(split), err)
		}
		for _, dir := range []string{l.images(split), l.labels(split)} {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create %s: %w", dir, err)
			}
		}
	}
	return nil
}

// shuffled returns a seeded permutation of tasks without touching the input.
func shuffled(tasks []labelstudio.Task, seed int64) []labelstudio.Task {
	out := make([]labelstudio.Task, len(tasks))
	copy(out, tasks)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

type classIndex struct {
	ids      map[string]int
	names    []string
	unlisted []string
}

func newClassIndex(fixed []string) *classIndex {
	idx := &classIndex{ids: make(map[string]int, len(fixed))}
	for _, name := range fixed {
		if _, ok := idx.ids[name]; ok {
			continue
		}
		idx.ids[name] = len(idx.names)
		idx.names = append(idx.names, name)
	}
	return idx
}

func (c *classIndex) id(name string) int {
	if id, ok := c.ids[name]; ok {
		return id
	}
	id := len(c.names)
	c.ids[name] = id
	c.names = append(c.names, name)
	c.unlisted = append(c.unlisted, name)
	return id
}

func labelLines(task labelstudio.Task, classes *classIndex) []string {
	annotation, ok := latestAnnotation(task)
	if !ok {
		return nil
	}
	var lines []string
	for _, result := range annotation.Result {
		if result.Type != labelstudio.ResultTypeRectangleLabels {
			continue
		}
		label := result.Value.Label()
		if label == "" {
			continue
		}
		w := result.Value.Width / 100
		h := result.Value.Height / 100
		cx := result.Value.X/100 + w/2
		cy := result.Value.Y/100 + h/2
		lines = append(lines, fmt.Sprintf("%d %.6f %.6f %.6f %.6f", classes.id(label), cx, cy, w, h))
	}
	return lines
}

func latestAnnotation(task labelstudio.Task) (labelstudio.Annotation, bool) {
	for i := len(task.Annotations) - 1; i >= 0; i-- {
		if !task.Annotations[i].WasCancelled {
			return task.Annotations[i], true
		}
	}
	return labelstudio.Annotation{}, false
}

func writeManifest(dir string, names []string) (string, error) {
	if names == nil {
		names = []string{}
	}
	data, err := yaml.Marshal(manifest{
		Path:  dir,
		Train: "images/train",
		Val:   "images/val",
		NC:    len(names),
		Names: names,
	})
	if err != nil {
		return "", fmt.Errorf("encode data.yaml: %w", err)
	}
	path := filepath.Join(dir, "data.yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write data.yaml: %w", err)
	}
	return path, nil
}

func writeClasses(dir string, names []string) error {
	var b strings.Builder
	for id, name := range names {
		fmt.Fprintf(&b, "%d: %s\n", id, name)
	}
	if err := os.WriteFile(filepath.Join(dir, "classes.txt"), []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write classes.txt: %w", err)
	}
	return nil
}
