// Package workflow loads YAML workflow definitions and executes their steps
// as a dependency-ordered pipeline, recording each run in the workflow store.
package workflow
