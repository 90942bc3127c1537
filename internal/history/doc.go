// Package history persists pipeline runs and their per-stage outcomes in a
// SQLite database under the state directory.
//
// The store is append-mostly: a run row is created when the runner starts,
// one stage row is recorded as each stage finishes, and the run row is
// closed with its final status. Readers (the history command and status
// output) list runs newest first.
package history
