// Package services defines shared utilities consumed by the pipeline stages
// and the external integrations (Label Studio and the yolo CLI).
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, stage names, project IDs, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper that translate failures
//     into consistent history statuses (failed vs blocked).
//
// Use these helpers when wiring new stage logic so error handling and
// observability stay uniform across the pipeline.
package services
