// Package server launches a local Label Studio instance configured to serve
// the workspace images through local-files storage.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"labelloop/internal/config"
	"labelloop/internal/deps"
	"labelloop/internal/logging"
	"labelloop/internal/services"
)

const (
	envLocalFilesServing = "LABEL_STUDIO_LOCAL_FILES_SERVING_ENABLED"
	envDocumentRoot      = "LABEL_STUDIO_LOCAL_FILES_DOCUMENT_ROOT"

	lockFileName = "label-studio.lock"
	stopGrace    = 10 * time.Second
)

// ErrAlreadyRunning reports that another launcher holds the workspace lock.
var ErrAlreadyRunning = errors.New("label studio already launched from this workspace")

// Executor runs the server process in the foreground until it exits or ctx
// is canceled.
type Executor interface {
	Run(ctx context.Context, binary string, args, env []string, stdout, stderr io.Writer) error
}

// Option customizes a Launcher.
type Option func(*Launcher)

// WithExecutor swaps the process executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(l *Launcher) {
		if exec != nil {
			l.exec = exec
		}
	}
}

// WithOutput redirects the server's stdout and stderr.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(l *Launcher) {
		l.stdout = stdout
		l.stderr = stderr
	}
}

// Launcher starts `label-studio start` with local file serving enabled.
type Launcher struct {
	binary       string
	username     string
	password     string
	dataDir      string
	documentRoot string
	serveLocal   bool
	port         string
	lockPath     string

	exec   Executor
	stdout io.Writer
	stderr io.Writer
	logger *slog.Logger
}

// New builds a launcher from configuration.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Launcher, error) {
	if cfg == nil {
		return nil, errors.New("server launcher requires config")
	}
	if strings.TrimSpace(cfg.Paths.StateDir) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "server", "init", "paths.state_dir is required for the launch lock", nil)
	}
	l := &Launcher{
		binary:       deps.ResolveSibling(cfg.YOLOBinary(), cfg.LabelStudioBinary()),
		username:     cfg.Server.Username,
		password:     cfg.Server.Password,
		dataDir:      cfg.Server.DataDir,
		documentRoot: cfg.Server.DocumentRoot,
		serveLocal:   cfg.Server.LocalFilesServing,
		port:         portFromURL(cfg.LabelStudio.URL),
		lockPath:     filepath.Join(cfg.Paths.StateDir, lockFileName),
		exec:         commandExecutor{},
		stdout:       os.Stdout,
		stderr:       os.Stderr,
		logger:       logging.NewComponentLogger(logger, "server"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// LockPath returns the workspace lock file.
func (l *Launcher) LockPath() string {
	return l.lockPath
}

// Command returns the binary, arguments, and extra environment Start uses.
func (l *Launcher) Command() (string, []string, []string) {
	args := []string{"start"}
	if l.port != "" {
		args = append(args, "--port", l.port)
	}
	if l.username != "" {
		args = append(args, "--username", l.username)
	}
	if l.password != "" {
		args = append(args, "--password", l.password)
	}
	if l.dataDir != "" {
		args = append(args, "--data-dir", l.dataDir)
	}
	var env []string
	if l.serveLocal {
		env = append(env,
			envLocalFilesServing+"=true",
			envDocumentRoot+"="+l.documentRoot,
		)
	}
	return l.binary, args, env
}

// Start runs the server in the foreground. Canceling ctx stops it and is not
// reported as an error.
func (l *Launcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(l.lockPath), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	lock := flock.New(l.lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w (lock %s)", ErrAlreadyRunning, l.lockPath)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			l.logger.Warn("failed to release server lock", logging.Error(err))
		}
	}()

	if l.dataDir != "" {
		if err := os.MkdirAll(l.dataDir, 0o755); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
	}
	if l.serveLocal {
		if info, err := os.Stat(l.documentRoot); err != nil || !info.IsDir() {
			return services.Wrap(services.ErrConfiguration, "server", "document root", fmt.Sprintf("%s must be an existing directory", l.documentRoot), err)
		}
	}

	binary, args, env := l.Command()
	l.logger.Info("starting label studio",
		logging.String("binary", binary),
		logging.String("port", l.port),
		logging.String("data_dir", l.dataDir),
		logging.String("document_root", l.documentRoot),
		logging.String("lock", l.lockPath),
	)

	err = l.exec.Run(ctx, binary, args, env, l.stdout, l.stderr)
	if ctx.Err() != nil {
		l.logger.Info("label studio stopped")
		return nil
	}
	if err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return services.Wrap(services.ErrConfiguration, "server", "start", fmt.Sprintf("%s not found; install label-studio or activate its virtualenv", binary), err)
		}
		return services.Wrap(services.ErrExternalTool, "server", "start", "", err)
	}
	return nil
}

func portFromURL(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return parsed.Port()
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args, env []string, stdout, stderr io.Writer) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// Let the Django server shut down on its own before it is killed.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = stopGrace
	return cmd.Run()
}
