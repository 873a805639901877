// Package matrix defines the environment-matrix orchestration model.
//
// It is intentionally split into:
//   - Immutable matrix definition (Graph): environments + depends structure
//     + stable MatrixHash
//   - Mutable execution state (ExecutionState): runtime statuses per
//     environment
//
// The matrix identity (MatrixHash) is computed from environment definition
// content and canonicalized edge structure, making it invariant to
// declaration order. Each environment's own command list always runs
// strictly sequentially; concurrency exists only across independent
// environments.
package matrix
