package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"labelloop/internal/config"
	"labelloop/internal/deps"
	"labelloop/internal/services/labelstudio"
)

const checkTimeout = 10 * time.Second

func newClient(cfg *config.Config) *labelstudio.Client {
	return labelstudio.NewClient(labelstudio.Config{
		URL:            cfg.LabelStudio.URL,
		APIKey:         cfg.LabelStudio.APIKey,
		TimeoutSeconds: int(checkTimeout / time.Second),
	}, labelstudio.WithRetryMaxAttempts(1))
}

// CheckLabelStudio verifies that the server is reachable and the token is
// accepted. It makes a single whoami request without retries.
func CheckLabelStudio(ctx context.Context, cfg *config.Config) Result {
	const name = "Label Studio"
	if strings.TrimSpace(cfg.LabelStudio.URL) == "" {
		return Result{Name: name, Detail: "missing url"}
	}
	if err := cfg.RequireAPIKey(); err != nil {
		return Result{Name: name, Detail: "missing api key"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	user, err := newClient(cfg).WhoAmI(checkCtx)
	if err != nil {
		return Result{Name: name, Detail: summarizeError(err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (signed in as %s)", cfg.LabelStudio.URL, user.DisplayName())}
}

// CheckProject verifies that the configured project exists and reports its
// task counts.
func CheckProject(ctx context.Context, cfg *config.Config) Result {
	const name = "Project"
	if cfg.LabelStudio.ProjectID <= 0 {
		return Result{Name: name, Detail: "not configured"}
	}
	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	project, err := newClient(cfg).GetProject(checkCtx, cfg.LabelStudio.ProjectID)
	if err != nil {
		if labelstudio.IsNotFound(err) {
			return Result{Name: name, Detail: fmt.Sprintf("project %d does not exist", cfg.LabelStudio.ProjectID)}
		}
		return Result{Name: name, Detail: summarizeError(err)}
	}
	return Result{
		Name:   name,
		Passed: true,
		Detail: fmt.Sprintf("#%d %q (%d tasks, %d annotated)", project.ID, project.Title, project.TaskNumber, project.NumTasksWithAnnotations),
	}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckSystemDeps evaluates the external commands for the given config.
// label-studio is optional: the pipeline only talks to it over HTTP, the
// binary is needed for "labelloop server start" alone.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	requirements := []deps.Requirement{
		{
			Name:        "YOLO",
			Command:     deps.ResolveSibling(cfg.LabelStudioBinary(), cfg.YOLOBinary()),
			Description: "Required for training and prediction",
		},
		{
			Name:        "Label Studio",
			Command:     deps.ResolveSibling(cfg.YOLOBinary(), cfg.LabelStudioBinary()),
			Description: "Used to launch a local annotation server",
			Optional:    true,
		},
	}
	return deps.CheckBinaries(requirements)
}

// summarizeError produces a human-readable summary for failed API checks.
func summarizeError(err error) string {
	if labelstudio.IsUnauthorized(err) {
		return "auth failed (invalid api key)"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "check timed out (server unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "check timed out (server unreachable)"
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return fmt.Sprintf("unreachable (%v)", opErr.Err)
	}
	return err.Error()
}
