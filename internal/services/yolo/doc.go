// Package yolo drives the Ultralytics `yolo` command-line tool for training
// and batch prediction.
//
// Commands run through an injectable Executor so stages can be tested without
// the tool installed. Output lines are parsed for epoch and per-image progress
// and forwarded to the caller; the tail of the output is kept for error
// messages when the tool exits non-zero.
package yolo
