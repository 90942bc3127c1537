package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizeLabelStudio(); err != nil {
		return err
	}
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeYOLO()
	c.normalizeLabels()
	c.normalizeReconcile()
	c.normalizeConvert()
	if err := c.normalizeServer(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizeLabelStudio() error {
	c.LabelStudio.URL = strings.TrimSpace(c.LabelStudio.URL)
	if c.LabelStudio.URL == "" {
		if value, ok := os.LookupEnv("LABEL_STUDIO_URL"); ok {
			c.LabelStudio.URL = strings.TrimSpace(value)
		}
	}
	if c.LabelStudio.URL == "" {
		c.LabelStudio.URL = defaultLabelStudioURL
	}
	c.LabelStudio.URL = strings.TrimRight(c.LabelStudio.URL, "/")

	c.LabelStudio.APIKey = strings.TrimSpace(c.LabelStudio.APIKey)
	if c.LabelStudio.APIKey == "" || c.LabelStudio.APIKey == placeholderAPIKey {
		if value, ok := os.LookupEnv("LABEL_STUDIO_API_KEY"); ok && strings.TrimSpace(value) != "" {
			c.LabelStudio.APIKey = strings.TrimSpace(value)
		}
	}

	if c.LabelStudio.ProjectID == 0 {
		if value, ok := os.LookupEnv("PROJECT_ID"); ok && strings.TrimSpace(value) != "" {
			id, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				return fmt.Errorf("PROJECT_ID: %w", err)
			}
			c.LabelStudio.ProjectID = id
		}
	}

	c.LabelStudio.ProjectTitle = strings.TrimSpace(c.LabelStudio.ProjectTitle)
	if c.LabelStudio.ProjectTitle == "" {
		c.LabelStudio.ProjectTitle = defaultProjectTitle
	}
	if strings.TrimSpace(c.LabelStudio.ImageURLPrefix) == "" {
		c.LabelStudio.ImageURLPrefix = defaultImageURLPrefix
	}
	c.LabelStudio.FromName = strings.TrimSpace(c.LabelStudio.FromName)
	if c.LabelStudio.FromName == "" {
		c.LabelStudio.FromName = defaultFromName
	}
	c.LabelStudio.ToName = strings.TrimSpace(c.LabelStudio.ToName)
	if c.LabelStudio.ToName == "" {
		c.LabelStudio.ToName = defaultToName
	}
	return nil
}

func (c *Config) normalizePaths() error {
	if strings.TrimSpace(c.Paths.ImageDir) == "" {
		if value, ok := os.LookupEnv("IMAGE_DIR"); ok && strings.TrimSpace(value) != "" {
			c.Paths.ImageDir = strings.TrimSpace(value)
		} else {
			c.Paths.ImageDir = defaultImageDir
		}
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}

	var err error
	if c.Paths.ImageDir, err = expandPath(c.Paths.ImageDir); err != nil {
		return fmt.Errorf("paths.image_dir: %w", err)
	}
	if c.Paths.ExportDir, err = expandPath(c.Paths.ExportDir); err != nil {
		return fmt.Errorf("paths.export_dir: %w", err)
	}
	if c.Paths.PredictionsDir, err = expandPath(c.Paths.PredictionsDir); err != nil {
		return fmt.Errorf("paths.predictions_dir: %w", err)
	}
	if c.Paths.BaseModelPath, err = expandPath(c.Paths.BaseModelPath); err != nil {
		return fmt.Errorf("paths.base_model_path: %w", err)
	}
	if c.Paths.UpdatedModelPath, err = expandPath(c.Paths.UpdatedModelPath); err != nil {
		return fmt.Errorf("paths.updated_model_path: %w", err)
	}
	if c.Paths.RunsDir, err = expandPath(c.Paths.RunsDir); err != nil {
		return fmt.Errorf("paths.runs_dir: %w", err)
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeYOLO() {
	c.YOLO.Binary = strings.TrimSpace(c.YOLO.Binary)
	if c.YOLO.Binary == "" {
		c.YOLO.Binary = defaultYOLOBinary
	}
	c.YOLO.Device = strings.TrimSpace(c.YOLO.Device)
	c.YOLO.FallbackModel = strings.TrimSpace(c.YOLO.FallbackModel)
	if c.YOLO.FallbackModel == "" {
		c.YOLO.FallbackModel = defaultFallbackModel
	}
	c.YOLO.ModelVersion = strings.TrimSpace(c.YOLO.ModelVersion)
	if c.YOLO.ModelVersion == "" {
		c.YOLO.ModelVersion = defaultModelVersion
	}
}

func (c *Config) normalizeLabels() {
	names := make([]string, 0, len(c.Labels.Names))
	for _, name := range c.Labels.Names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		names = append(names, name)
	}
	c.Labels.Names = names
}

func (c *Config) normalizeReconcile() {
	c.Reconcile.DuplicatePolicy = strings.ToLower(strings.TrimSpace(c.Reconcile.DuplicatePolicy))
	if c.Reconcile.DuplicatePolicy == "" {
		c.Reconcile.DuplicatePolicy = DuplicatePolicySkip
	}
}

func (c *Config) normalizeConvert() {
	convention := strings.ToLower(strings.TrimSpace(c.Convert.CoordinateConvention))
	switch convention {
	case "":
		convention = ConventionCenterSize
	case "center_size", "centersize", "xywhn":
		convention = ConventionCenterSize
	case "corners", "xyxy":
		convention = ConventionCorner
	}
	c.Convert.CoordinateConvention = convention

	policy := strings.ToLower(strings.TrimSpace(c.Convert.UnknownClassPolicy))
	switch policy {
	case "", "skip":
		policy = UnknownClassSkipAndWarn
	case "abort":
		policy = UnknownClassAbortBatch
	}
	c.Convert.UnknownClassPolicy = policy

	if c.Convert.Workers <= 0 {
		c.Convert.Workers = defaultConvertWorkers
	}
}

func (c *Config) normalizeServer() error {
	c.Server.Binary = strings.TrimSpace(c.Server.Binary)
	if c.Server.Binary == "" {
		c.Server.Binary = defaultServerBinary
	}
	c.Server.Username = strings.TrimSpace(c.Server.Username)
	if strings.TrimSpace(c.Server.DataDir) == "" {
		c.Server.DataDir = defaultServerDataDir
	}
	if strings.TrimSpace(c.Server.DocumentRoot) == "" {
		c.Server.DocumentRoot = defaultServerDocumentRoot
	}
	var err error
	if c.Server.DataDir, err = expandPath(c.Server.DataDir); err != nil {
		return fmt.Errorf("server.data_dir: %w", err)
	}
	if c.Server.DocumentRoot, err = expandPath(c.Server.DocumentRoot); err != nil {
		return fmt.Errorf("server.document_root: %w", err)
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
