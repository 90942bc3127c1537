package labelstudio

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"labelloop/internal/services"
)

// ListTasks returns every task of a project, following pagination until the
// server runs out of pages. When the server reports a total, listing
// continues until that many tasks are collected; a listing that ends short of
// the total is an error rather than a partial result.
func (c *Client) ListTasks(ctx context.Context, projectID int) ([]Task, error) {
	if projectID <= 0 {
		return nil, errors.New("project id must be positive")
	}
	var tasks []Task
	seen := make(map[int]struct{})
	total := -1
	for page := 1; ; page++ {
		query := url.Values{}
		query.Set("project", strconv.Itoa(projectID))
		query.Set("page", strconv.Itoa(page))
		query.Set("page_size", strconv.Itoa(c.pageSize))
		query.Set("fields", "all")

		body, err := c.do(ctx, http.MethodGet, "/api/tasks/", query, nil)
		if err != nil {
			// Older servers answer 404 for the page past the end.
			if page > 1 && IsNotFound(err) {
				if total >= 0 && len(tasks) < total {
					return nil, incompleteListing(projectID, len(tasks), total)
				}
				break
			}
			return nil, err
		}
		batch, pageTotal, err := decodeTaskPage(body)
		if err != nil {
			return nil, fmt.Errorf("label studio GET /api/tasks/: decode page %d: %w", page, err)
		}
		if pageTotal >= 0 {
			total = pageTotal
		}
		added := 0
		for _, task := range batch {
			if _, dup := seen[task.ID]; dup {
				continue
			}
			seen[task.ID] = struct{}{}
			tasks = append(tasks, task)
			added++
		}
		if total >= 0 {
			if len(tasks) >= total {
				break
			}
			// Servers may cap page_size below the requested size, so a short
			// page only ends the listing once the total is reached.
			if added == 0 {
				return nil, incompleteListing(projectID, len(tasks), total)
			}
			continue
		}
		// A server that ignores paging repeats the same page.
		if added == 0 || len(batch) < c.pageSize {
			break
		}
	}
	return tasks, nil
}

func incompleteListing(projectID, got, total int) error {
	msg := fmt.Sprintf("project %d: listing ended after %d of %d tasks", projectID, got, total)
	return services.Wrap(services.ErrTransient, "label studio", "list tasks", msg, nil)
}

// ImportTasks creates tasks from raw task payloads, for example
// {"image": "/data/local-files/?d=images/a.jpg"}.
func (c *Client) ImportTasks(ctx context.Context, projectID int, tasks []map[string]any) (ImportResult, error) {
	if projectID <= 0 {
		return ImportResult{}, errors.New("project id must be positive")
	}
	if len(tasks) == 0 {
		return ImportResult{}, nil
	}
	var result ImportResult
	path := fmt.Sprintf("/api/projects/%d/import", projectID)
	if err := c.doJSON(ctx, http.MethodPost, path, nil, tasks, &result); err != nil {
		return ImportResult{}, err
	}
	return result, nil
}

// CreatePrediction attaches a prediction to its task and returns the stored copy.
func (c *Client) CreatePrediction(ctx context.Context, prediction Prediction) (Prediction, error) {
	if prediction.Task <= 0 {
		return Prediction{}, errors.New("prediction task id must be positive")
	}
	var created Prediction
	if err := c.doJSON(ctx, http.MethodPost, "/api/predictions/", nil, prediction, &created); err != nil {
		return Prediction{}, err
	}
	return created, nil
}
