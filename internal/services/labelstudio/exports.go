package labelstudio

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"labelloop/internal/services"
)

// CreateExport starts an export snapshot of all project tasks.
func (c *Client) CreateExport(ctx context.Context, projectID int, title string) (Export, error) {
	if projectID <= 0 {
		return Export{}, errors.New("project id must be positive")
	}
	body := map[string]any{}
	if title != "" {
		body["title"] = title
	}
	var export Export
	path := fmt.Sprintf("/api/projects/%d/exports/", projectID)
	if err := c.doJSON(ctx, http.MethodPost, path, nil, body, &export); err != nil {
		return Export{}, err
	}
	return export, nil
}

// GetExport returns the current state of an export snapshot.
func (c *Client) GetExport(ctx context.Context, projectID, exportID int) (Export, error) {
	var export Export
	path := fmt.Sprintf("/api/projects/%d/exports/%d", projectID, exportID)
	if err := c.getJSON(ctx, path, nil, &export); err != nil {
		return Export{}, err
	}
	return export, nil
}

// WaitExport polls an export snapshot until it completes. A failed snapshot
// and an exceeded timeout are both errors.
func (c *Client) WaitExport(ctx context.Context, projectID, exportID int, interval, timeout time.Duration) (Export, error) {
	if interval <= 0 {
		interval = time.Second
	}
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	for {
		export, err := c.GetExport(waitCtx, projectID, exportID)
		if err != nil {
			return Export{}, c.waitError(ctx, waitCtx, exportID, timeout, err)
		}
		switch export.Status {
		case ExportCompleted:
			return export, nil
		case ExportFailed:
			return export, services.Wrap(services.ErrExternalTool, "export", "snapshot", fmt.Sprintf("export %d failed on the server", exportID), nil)
		}
		if err := c.sleep(waitCtx, interval); err != nil {
			return Export{}, c.waitError(ctx, waitCtx, exportID, timeout, err)
		}
	}
}

func (c *Client) waitError(parent, waitCtx context.Context, exportID int, timeout time.Duration, err error) error {
	if parent.Err() == nil && errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, "export", "snapshot", fmt.Sprintf("export %d not completed after %s", exportID, timeout), err)
	}
	return err
}

// DownloadExport fetches a completed snapshot in Label Studio JSON format.
// Decode the result with ParseExport.
func (c *Client) DownloadExport(ctx context.Context, projectID, exportID int) ([]byte, error) {
	query := url.Values{}
	query.Set("exportType", "JSON")
	path := fmt.Sprintf("/api/projects/%d/exports/%d/download", projectID, exportID)
	return c.do(ctx, http.MethodGet, path, query, nil)
}
