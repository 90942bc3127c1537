package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// LabelStudio contains connection and project settings for the annotation server.
type LabelStudio struct {
	URL                string `toml:"url"`
	APIKey             string `toml:"api_key"`
	ProjectID          int    `toml:"project_id"`
	ProjectTitle       string `toml:"project_title"`
	RequestTimeout     int    `toml:"request_timeout"`
	ImageURLPrefix     string `toml:"image_url_prefix"`
	UploadBatchSize    int    `toml:"upload_batch_size"`
	FromName           string `toml:"from_name"`
	ToName             string `toml:"to_name"`
	ExportPollInterval int    `toml:"export_poll_interval"`
	ExportTimeout      int    `toml:"export_timeout"`
}

// Paths contains the dataset, model, and state directories.
type Paths struct {
	ImageDir         string `toml:"image_dir"`
	ExportDir        string `toml:"export_dir"`
	PredictionsDir   string `toml:"predictions_dir"`
	BaseModelPath    string `toml:"base_model_path"`
	UpdatedModelPath string `toml:"updated_model_path"`
	RunsDir          string `toml:"runs_dir"`
	StateDir         string `toml:"state_dir"`
}

// YOLO contains configuration for the Ultralytics command-line tool.
type YOLO struct {
	Binary              string  `toml:"binary"`
	Epochs              int     `toml:"epochs"`
	ImageSize           int     `toml:"image_size"`
	ModelScoreThreshold float64 `toml:"model_score_threshold"`
	Device              string  `toml:"device"`
	TrainSplit          float64 `toml:"train_split"`
	FallbackModel       string  `toml:"fallback_model"`
	ModelVersion        string  `toml:"model_version"`
	TrainTimeout        int     `toml:"train_timeout"`
	PredictTimeout      int     `toml:"predict_timeout"`
}

// Labels lists the class names offered in the labeling interface. The order
// fixes the class ids used in exported datasets.
type Labels struct {
	Names []string `toml:"names"`
}

// Reconcile controls duplicate handling during uploads.
type Reconcile struct {
	DuplicatePolicy string `toml:"duplicate_policy"`
}

// Convert controls how detections become annotation regions.
type Convert struct {
	CoordinateConvention string `toml:"coordinate_convention"`
	UnknownClassPolicy   string `toml:"unknown_class_policy"`
	Clamp                bool   `toml:"clamp"`
	Workers              int    `toml:"workers"`
}

// Server contains settings for launching a local Label Studio instance.
type Server struct {
	Binary            string `toml:"binary"`
	Username          string `toml:"username"`
	Password          string `toml:"password"`
	DataDir           string `toml:"data_dir"`
	DocumentRoot      string `toml:"document_root"`
	LocalFilesServing bool   `toml:"local_files_serving"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for labelloop.
//
// Configuration sections by subsystem:
//   - LabelStudio: server URL, token, target project, request tuning
//   - Paths: image, export, prediction, model, and state directories
//   - YOLO: training and prediction parameters for the yolo CLI
//   - Labels: ordered class names
//   - Reconcile: duplicate policy for uploads
//   - Convert: coordinate convention and unknown-class policy
//   - Server: local Label Studio launcher
//   - Logging: log format and level
type Config struct {
	LabelStudio LabelStudio `toml:"label_studio"`
	Paths       Paths       `toml:"paths"`
	YOLO        YOLO        `toml:"yolo"`
	Labels      Labels      `toml:"labels"`
	Reconcile   Reconcile   `toml:"reconcile"`
	Convert     Convert     `toml:"convert"`
	Server      Server      `toml:"server"`
	Logging     Logging     `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/labelloop/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := loadDotEnv(".env"); err != nil {
		return nil, "", false, err
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// loadDotEnv populates unset environment variables from a .env file. A missing
// file is not an error; existing variables are never overridden.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("labelloop.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories the pipeline writes into.
// The image directory is left alone: it is an input and must already exist.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.ExportDir, c.Paths.PredictionsDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// RequireAPIKey reports a descriptive error when no Label Studio token is configured.
func (c *Config) RequireAPIKey() error {
	key := strings.TrimSpace(c.LabelStudio.APIKey)
	if key != "" && key != placeholderAPIKey {
		return nil
	}
	defaultPath, err := DefaultConfigPath()
	if err != nil {
		defaultPath = "~/.config/labelloop/config.toml"
	}
	return fmt.Errorf("label_studio.api_key is required. Set LABEL_STUDIO_API_KEY or edit %s (copy the token from %s/user/account)", defaultPath, c.LabelStudio.URL)
}

// RequireProjectID resolves the effective project id, preferring the override when positive.
func (c *Config) RequireProjectID(override int) (int, error) {
	if override > 0 {
		return override, nil
	}
	if c.LabelStudio.ProjectID > 0 {
		return c.LabelStudio.ProjectID, nil
	}
	return 0, errors.New("label_studio.project_id is not set; create a project with 'labelloop project create' or pass --project-id")
}

// ImageReference returns the task image reference Label Studio stores for a
// local filename. The filename is escaped for the query or path form of the
// prefix so reading the reference back yields the same name.
func (c *Config) ImageReference(filename string) string {
	prefix := c.LabelStudio.ImageURLPrefix
	if strings.Contains(prefix, "?") {
		return prefix + url.QueryEscape(filename)
	}
	return prefix + url.PathEscape(filename)
}

// ProjectURL returns the browser URL of a project.
func (c *Config) ProjectURL(projectID int) string {
	return fmt.Sprintf("%s/projects/%d", c.LabelStudio.URL, projectID)
}

// HistoryDBPath returns the location of the run history database.
func (c *Config) HistoryDBPath() string {
	return filepath.Join(c.Paths.StateDir, "history.db")
}

// YOLOBinary returns the Ultralytics executable name.
func (c *Config) YOLOBinary() string {
	return c.YOLO.Binary
}

// LabelStudioBinary returns the Label Studio executable name.
func (c *Config) LabelStudioBinary() string {
	return c.Server.Binary
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// SetProjectID records the project id in the configuration file at path,
// creating the file when it does not exist yet. Comments in the file are not
// preserved.
func SetProjectID(path string, projectID int) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("config path required")
	}
	doc := map[string]any{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return fmt.Errorf("read config: %w", err)
	}

	section, _ := doc["label_studio"].(map[string]any)
	if section == nil {
		section = map[string]any{}
	}
	section["project_id"] = int64(projectID)
	doc["label_studio"] = section

	out, err := toml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
