// Package env provides the runtime model for a single matrix environment.
//
// It is intentionally split into:
//   - Resolved definition (Environment): name + ordered command steps +
//     effective variables + declared input patterns
//   - Execution machinery (StepRunner, Runner): sequential step invocation
//     with an allowlist-built process environment
//   - Identity (Fingerprint): a content-based hash used for up-to-date
//     detection and result replay
//
// An environment run is strictly sequential: steps execute in declared order
// and the first failing non-ignored step fails the environment with that
// step's exit code. Failure handling is pure delegation; the runner never
// retries or reinterprets a tool's exit status.
package env
