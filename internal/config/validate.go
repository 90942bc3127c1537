package config

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable. The Label Studio token is
// checked separately by RequireAPIKey so offline commands work without one.
func (c *Config) Validate() error {
	if err := c.validateLabelStudio(); err != nil {
		return err
	}
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateYOLO(); err != nil {
		return err
	}
	if err := c.validateLabels(); err != nil {
		return err
	}
	if err := c.validateReconcile(); err != nil {
		return err
	}
	if err := c.validateConvert(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateLabelStudio() error {
	parsed, err := url.Parse(c.LabelStudio.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("label_studio.url must be an absolute http(s) URL, got %q", c.LabelStudio.URL)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("label_studio.url must use http or https, got %q", parsed.Scheme)
	}
	if c.LabelStudio.ProjectID < 0 {
		return errors.New("label_studio.project_id must be positive")
	}
	if c.LabelStudio.RequestTimeout <= 0 {
		return errors.New("label_studio.request_timeout must be positive")
	}
	if c.LabelStudio.UploadBatchSize <= 0 {
		return errors.New("label_studio.upload_batch_size must be positive")
	}
	if c.LabelStudio.ExportPollInterval <= 0 {
		return errors.New("label_studio.export_poll_interval must be positive")
	}
	if c.LabelStudio.ExportTimeout < c.LabelStudio.ExportPollInterval {
		return errors.New("label_studio.export_timeout must be at least export_poll_interval")
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.ImageDir == "" {
		return errors.New("paths.image_dir must be set")
	}
	if c.Paths.StateDir == "" {
		return errors.New("paths.state_dir must be set")
	}
	return nil
}

func (c *Config) validateYOLO() error {
	if c.YOLO.Epochs <= 0 {
		return errors.New("yolo.epochs must be positive")
	}
	if c.YOLO.ImageSize <= 0 {
		return errors.New("yolo.image_size must be positive")
	}
	if !inUnitInterval(c.YOLO.ModelScoreThreshold) {
		return errors.New("yolo.model_score_threshold must be between 0 and 1")
	}
	if !(c.YOLO.TrainSplit > 0 && c.YOLO.TrainSplit < 1) {
		return errors.New("yolo.train_split must be between 0 and 1 (exclusive)")
	}
	if c.YOLO.TrainTimeout <= 0 {
		return errors.New("yolo.train_timeout must be positive")
	}
	if c.YOLO.PredictTimeout <= 0 {
		return errors.New("yolo.predict_timeout must be positive")
	}
	return nil
}

func (c *Config) validateLabels() error {
	if len(c.Labels.Names) == 0 {
		return errors.New("labels.names must contain at least one class")
	}
	seen := make(map[string]struct{}, len(c.Labels.Names))
	for _, name := range c.Labels.Names {
		if _, ok := seen[name]; ok {
			return fmt.Errorf("labels.names contains duplicate class %q", name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

func (c *Config) validateReconcile() error {
	switch c.Reconcile.DuplicatePolicy {
	case DuplicatePolicySkip, DuplicatePolicyForce:
		return nil
	default:
		return fmt.Errorf("reconcile.duplicate_policy must be %q or %q, got %q", DuplicatePolicySkip, DuplicatePolicyForce, c.Reconcile.DuplicatePolicy)
	}
}

func (c *Config) validateConvert() error {
	switch c.Convert.CoordinateConvention {
	case ConventionCenterSize, ConventionCorner:
	default:
		return fmt.Errorf("convert.coordinate_convention must be %q or %q, got %q", ConventionCenterSize, ConventionCorner, c.Convert.CoordinateConvention)
	}
	switch c.Convert.UnknownClassPolicy {
	case UnknownClassSkipAndWarn, UnknownClassAbortBatch:
	default:
		return fmt.Errorf("convert.unknown_class_policy must be %q or %q, got %q", UnknownClassSkipAndWarn, UnknownClassAbortBatch, c.Convert.UnknownClassPolicy)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("logging.level %q is not recognized", c.Logging.Level)
	}
}

func inUnitInterval(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
