// Package preflight provides readiness checks for the tools, services, and
// directories labelloop depends on.
//
// These checks run in two contexts:
//   - The pipeline runner calls RunAll before the first stage so a loop does
//     not upload images only to fail an hour later on a missing yolo binary.
//   - The CLI "labelloop status" command renders the same results as a table
//     together with the configured project summary.
package preflight
