package labelstudio

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// WhoAmI returns the user owning the configured token. It doubles as the
// authentication check.
func (c *Client) WhoAmI(ctx context.Context) (User, error) {
	var user User
	if err := c.getJSON(ctx, "/api/current-user/whoami", nil, &user); err != nil {
		return User{}, err
	}
	return user, nil
}

// ListProjects returns all projects visible to the token. A non-empty title
// restricts the result to projects with exactly that title.
func (c *Client) ListProjects(ctx context.Context, title string) ([]Project, error) {
	title = strings.TrimSpace(title)
	var projects []Project
	for page := 1; ; page++ {
		query := url.Values{}
		query.Set("page", strconv.Itoa(page))
		query.Set("page_size", strconv.Itoa(c.pageSize))
		if title != "" {
			query.Set("title", title)
		}
		var resp struct {
			Count   int       `json:"count"`
			Next    *string   `json:"next"`
			Results []Project `json:"results"`
		}
		if err := c.getJSON(ctx, "/api/projects/", query, &resp); err != nil {
			return nil, err
		}
		for _, project := range resp.Results {
			// The server filter is a substring match.
			if title != "" && project.Title != title {
				continue
			}
			projects = append(projects, project)
		}
		if resp.Next == nil || *resp.Next == "" || len(resp.Results) == 0 {
			break
		}
	}
	return projects, nil
}

// GetProject fetches a single project.
func (c *Client) GetProject(ctx context.Context, projectID int) (Project, error) {
	if projectID <= 0 {
		return Project{}, errors.New("project id must be positive")
	}
	var project Project
	if err := c.getJSON(ctx, fmt.Sprintf("/api/projects/%d/", projectID), nil, &project); err != nil {
		return Project{}, err
	}
	return project, nil
}

// CreateProject creates a project and returns it with its assigned id.
func (c *Client) CreateProject(ctx context.Context, req ProjectRequest) (Project, error) {
	if strings.TrimSpace(req.Title) == "" {
		return Project{}, errors.New("project title is required")
	}
	var project Project
	if err := c.doJSON(ctx, http.MethodPost, "/api/projects/", nil, req, &project); err != nil {
		return Project{}, err
	}
	if project.ID <= 0 {
		return Project{}, fmt.Errorf("create project %q: response did not include an id", req.Title)
	}
	return project, nil
}

// DeleteProject removes a project with all of its tasks.
func (c *Client) DeleteProject(ctx context.Context, projectID int) error {
	if projectID <= 0 {
		return errors.New("project id must be positive")
	}
	_, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/projects/%d/", projectID), nil, nil)
	return err
}
