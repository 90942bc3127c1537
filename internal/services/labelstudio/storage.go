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

// ListLocalStorages returns the local-files import storages of a project.
func (c *Client) ListLocalStorages(ctx context.Context, projectID int) ([]LocalStorage, error) {
	if projectID <= 0 {
		return nil, errors.New("project id must be positive")
	}
	query := url.Values{}
	query.Set("project", strconv.Itoa(projectID))
	var storages []LocalStorage
	if err := c.getJSON(ctx, "/api/storages/localfiles/", query, &storages); err != nil {
		return nil, err
	}
	return storages, nil
}

// CreateLocalStorage attaches a server-side directory to a project.
func (c *Client) CreateLocalStorage(ctx context.Context, req LocalStorageRequest) (LocalStorage, error) {
	if req.Project <= 0 {
		return LocalStorage{}, errors.New("project id must be positive")
	}
	if strings.TrimSpace(req.Path) == "" {
		return LocalStorage{}, errors.New("storage path is required")
	}
	var storage LocalStorage
	if err := c.doJSON(ctx, http.MethodPost, "/api/storages/localfiles/", nil, req, &storage); err != nil {
		return LocalStorage{}, err
	}
	return storage, nil
}

// SyncLocalStorage scans the storage directory and creates tasks for new files.
func (c *Client) SyncLocalStorage(ctx context.Context, storageID int) (LocalStorage, error) {
	var storage LocalStorage
	path := fmt.Sprintf("/api/storages/localfiles/%d/sync", storageID)
	if err := c.doJSON(ctx, http.MethodPost, path, nil, map[string]any{}, &storage); err != nil {
		return LocalStorage{}, err
	}
	return storage, nil
}

// UpdateLocalStorage patches storage fields the SDKs do not expose, such as
// treat_every_bucket_object_as_a_source_file.
func (c *Client) UpdateLocalStorage(ctx context.Context, storageID int, fields map[string]any) (LocalStorage, error) {
	if len(fields) == 0 {
		return LocalStorage{}, errors.New("no storage fields to update")
	}
	var storage LocalStorage
	path := fmt.Sprintf("/api/storages/localfiles/%d", storageID)
	if err := c.doJSON(ctx, http.MethodPatch, path, nil, fields, &storage); err != nil {
		return LocalStorage{}, err
	}
	return storage, nil
}
