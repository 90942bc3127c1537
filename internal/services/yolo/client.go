package yolo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"labelloop/internal/fileutil"
	"labelloop/internal/services"
)

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// Client wraps `yolo` CLI invocations.
type Client struct {
	binary         string
	trainTimeout   time.Duration
	predictTimeout time.Duration
	exec           Executor
}

// New constructs a client. Non-positive timeouts disable the limit.
func New(binary string, trainTimeoutSeconds, predictTimeoutSeconds int, opts ...Option) (*Client, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("yolo binary required")
	}
	client := &Client{
		binary:         binary,
		trainTimeout:   time.Duration(trainTimeoutSeconds) * time.Second,
		predictTimeout: time.Duration(predictTimeoutSeconds) * time.Second,
		exec:           commandExecutor{},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// TrainRequest describes a fine-tuning run.
type TrainRequest struct {
	// Data is the dataset manifest (data.yaml).
	Data string
	// BaseModel is the starting weights. When the file does not exist the
	// FallbackModel name is handed to yolo instead, which downloads it.
	BaseModel     string
	FallbackModel string
	// Output receives a copy of the best weights.
	Output    string
	RunsDir   string
	Name      string
	Epochs    int
	ImageSize int
	Device    string
}

// TrainResult describes a finished training run.
type TrainResult struct {
	Model        string `json:"model"`
	BestWeights  string `json:"best_weights"`
	RunDir       string `json:"run_dir"`
	BaseModel    string `json:"base_model"`
	UsedFallback bool   `json:"used_fallback"`
}

// Train runs `yolo detect train` and copies weights/best.pt to req.Output.
func (c *Client) Train(ctx context.Context, req TrainRequest, progress func(Progress)) (TrainResult, error) {
	if strings.TrimSpace(req.Data) == "" {
		return TrainResult{}, services.Wrap(services.ErrValidation, "train", "inputs", "dataset manifest required", nil)
	}
	if _, err := os.Stat(req.Data); err != nil {
		return TrainResult{}, services.Wrap(services.ErrNotFound, "train", "inputs", fmt.Sprintf("dataset manifest %s not found; run export first", req.Data), err)
	}
	if strings.TrimSpace(req.Output) == "" {
		return TrainResult{}, services.Wrap(services.ErrValidation, "train", "inputs", "output model path required", nil)
	}
	if req.Name == "" {
		req.Name = "labelloop"
	}
	if req.RunsDir == "" {
		req.RunsDir = "runs/train"
	}
	runsDir, err := filepath.Abs(req.RunsDir)
	if err != nil {
		return TrainResult{}, fmt.Errorf("resolve runs directory: %w", err)
	}
	data, err := filepath.Abs(req.Data)
	if err != nil {
		return TrainResult{}, fmt.Errorf("resolve dataset manifest: %w", err)
	}

	result := TrainResult{BaseModel: req.BaseModel, RunDir: filepath.Join(runsDir, req.Name)}
	if _, err := os.Stat(req.BaseModel); err != nil || strings.TrimSpace(req.BaseModel) == "" {
		if req.FallbackModel == "" {
			return TrainResult{}, services.Wrap(services.ErrNotFound, "train", "inputs", fmt.Sprintf("base model %s not found and no fallback configured", req.BaseModel), err)
		}
		result.BaseModel = req.FallbackModel
		result.UsedFallback = true
	}

	args := []string{
		"detect", "train",
		"data=" + data,
		"model=" + result.BaseModel,
		"project=" + runsDir,
		"name=" + req.Name,
		"exist_ok=True",
	}
	if req.Epochs > 0 {
		args = append(args, "epochs="+strconv.Itoa(req.Epochs))
	}
	if req.ImageSize > 0 {
		args = append(args, "imgsz="+strconv.Itoa(req.ImageSize))
	}
	if req.Device != "" {
		args = append(args, "device="+req.Device)
	}

	if err := c.run(ctx, "train", c.trainTimeout, args, parseTrainProgress, progress); err != nil {
		return TrainResult{}, err
	}

	result.BestWeights = filepath.Join(result.RunDir, "weights", "best.pt")
	if _, err := os.Stat(result.BestWeights); err != nil {
		return TrainResult{}, services.Wrap(services.ErrExternalTool, "train", "collect weights", fmt.Sprintf("training finished but %s is missing", result.BestWeights), err)
	}
	if err := fileutil.CopyFileVerified(result.BestWeights, req.Output); err != nil {
		return TrainResult{}, services.Wrap(services.ErrExternalTool, "train", "collect weights", "copy best weights", err)
	}
	result.Model = req.Output
	return result, nil
}

// PredictRequest describes a batch prediction run.
type PredictRequest struct {
	Model      string
	Source     string
	OutputDir  string
	Name       string
	Confidence float64
	ImageSize  int
	Device     string
}

// PredictResult locates the label files a prediction run wrote.
type PredictResult struct {
	Dir        string `json:"dir"`
	LabelsDir  string `json:"labels_dir"`
	LabelFiles int    `json:"label_files"`
}

// Predict runs `yolo detect predict` with save_txt and save_conf so every
// image with detections gets a normalized label file including confidences.
// Labels from a previous run in the same directory are removed first.
func (c *Client) Predict(ctx context.Context, req PredictRequest, progress func(Progress)) (PredictResult, error) {
	if _, err := os.Stat(req.Model); err != nil || strings.TrimSpace(req.Model) == "" {
		return PredictResult{}, services.Wrap(services.ErrNotFound, "predict", "inputs", fmt.Sprintf("model %s not found; run train first", req.Model), err)
	}
	if _, err := os.Stat(req.Source); err != nil || strings.TrimSpace(req.Source) == "" {
		return PredictResult{}, services.Wrap(services.ErrNotFound, "predict", "inputs", fmt.Sprintf("image source %s not found", req.Source), err)
	}
	if strings.TrimSpace(req.OutputDir) == "" {
		return PredictResult{}, services.Wrap(services.ErrValidation, "predict", "inputs", "output directory required", nil)
	}
	if req.Name == "" {
		req.Name = "predict"
	}
	outDir, err := filepath.Abs(req.OutputDir)
	if err != nil {
		return PredictResult{}, fmt.Errorf("resolve output directory: %w", err)
	}
	result := PredictResult{Dir: filepath.Join(outDir, req.Name)}
	result.LabelsDir = filepath.Join(result.Dir, "labels")
	if err := os.RemoveAll(result.LabelsDir); err != nil {
		return PredictResult{}, fmt.Errorf("clear previous labels: %w", err)
	}

	model, err := filepath.Abs(req.Model)
	if err != nil {
		return PredictResult{}, fmt.Errorf("resolve model: %w", err)
	}
	source, err := filepath.Abs(req.Source)
	if err != nil {
		return PredictResult{}, fmt.Errorf("resolve source: %w", err)
	}
	args := []string{
		"detect", "predict",
		"model=" + model,
		"source=" + source,
		"project=" + outDir,
		"name=" + req.Name,
		"save=True",
		"save_txt=True",
		"save_conf=True",
		"exist_ok=True",
	}
	if req.Confidence > 0 {
		args = append(args, "conf="+strconv.FormatFloat(req.Confidence, 'f', -1, 64))
	}
	if req.ImageSize > 0 {
		args = append(args, "imgsz="+strconv.Itoa(req.ImageSize))
	}
	if req.Device != "" {
		args = append(args, "device="+req.Device)
	}

	if err := c.run(ctx, "predict", c.predictTimeout, args, parsePredictProgress, progress); err != nil {
		return PredictResult{}, err
	}

	entries, err := os.ReadDir(result.LabelsDir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// yolo only creates the labels directory once something is detected.
		if err := os.MkdirAll(result.LabelsDir, 0o755); err != nil {
			return PredictResult{}, fmt.Errorf("create labels directory: %w", err)
		}
	case err != nil:
		return PredictResult{}, fmt.Errorf("read labels directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".txt") {
			result.LabelFiles++
		}
	}
	return result, nil
}

// Version returns the reported Ultralytics version.
func (c *Client) Version(ctx context.Context) (string, error) {
	var version string
	err := c.exec.Run(ctx, c.binary, []string{"version"}, func(line string) {
		if version == "" {
			version = strings.TrimSpace(line)
		}
	})
	if err != nil {
		return "", services.Wrap(services.ErrExternalTool, "yolo", "version", "", err)
	}
	if version == "" {
		return "", services.Wrap(services.ErrExternalTool, "yolo", "version", "no version reported", nil)
	}
	return version, nil
}

func (c *Client) run(ctx context.Context, stage string, timeout time.Duration, args []string, parse func(string) (Progress, bool), progress func(Progress)) error {
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	err := c.exec.Run(runCtx, c.binary, args, func(line string) {
		if progress == nil {
			return
		}
		if update, ok := parse(line); ok {
			progress(update)
		}
	})
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, stage, "yolo "+args[1], fmt.Sprintf("exceeded %s", timeout), err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return services.Wrap(services.ErrExternalTool, stage, "yolo "+args[1], "", err)
}
