// Package labelstudio is a small REST client for the Label Studio API.
//
// It covers the subset the labeling loop needs: projects, tasks, predictions,
// export snapshots, and local-files import storages. Requests authenticate
// with the legacy "Token" scheme and are retried with exponential backoff on
// rate limiting, server errors, and network timeouts.
package labelstudio
