// Package logging assembles structured slog loggers and formatting helpers used
// across labelloop.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so stage code tags log lines
// with run IDs, stage names, and project IDs. Commands log to stderr so
// machine-readable output on stdout stays clean; when a state directory is
// configured every record is also appended as JSON to logs/labelloop.log.
// A no-op logger is provided for tests and wiring code that cannot fail.
package logging
