package preflight

import (
	"context"

	"labelloop/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// RunAll executes the readiness checks the pipeline needs: the Label Studio
// token, the image directory, and the writable output directories.
// Binary checks are reported separately by CheckSystemDeps.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	var results []Result

	results = append(results, CheckLabelStudio(ctx, cfg))
	results = append(results, CheckDirectoryAccess("Image directory", cfg.Paths.ImageDir))
	results = append(results, CheckDirectoryAccess("Export directory", cfg.Paths.ExportDir))
	results = append(results, CheckDirectoryAccess("Predictions directory", cfg.Paths.PredictionsDir))

	if cfg.LabelStudio.ProjectID > 0 {
		results = append(results, CheckProject(ctx, cfg))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, result := range results {
		if !result.Passed {
			failed = append(failed, result)
		}
	}
	return failed
}
