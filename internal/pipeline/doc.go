// Package pipeline wires the labeling loop together: upload images, export
// annotations as a YOLO dataset, train, predict, and import the predictions
// back for correction.
//
// Each step is a stage.Handler. The Runner executes any ordered subset of
// them against one shared stage.State, stamps a run id into the context,
// records every stage in the history store, and stops at the first failure.
// CLI commands that run a single step go through the same Runner so their
// outcomes show up in "labelloop history" as well.
package pipeline
