package matrix

import (
	"sort"

	"envmatrix/internal/env"
)

// Result is the deterministic summary of a matrix execution attempt.
type Result struct {
	MatrixHash MatrixHash

	// FinalState is the terminal state of each environment by name.
	FinalState ExecutionState

	// ExecutionOrder is the ordered list of environments that were started
	// (transitioned to RUNNING).
	ExecutionOrder []string

	// Results holds the per-environment outcomes (executed or replayed).
	Results map[string]*env.Result
}

// Failed reports whether any environment failed.
func (r *Result) Failed() bool {
	if r == nil {
		return true
	}
	for _, st := range r.FinalState {
		if st == EnvFailed {
			return true
		}
	}
	return false
}

// FailedEnvs returns the sorted names of failed environments.
func (r *Result) FailedEnvs() []string {
	if r == nil {
		return nil
	}
	var out []string
	for name, st := range r.FinalState {
		if st == EnvFailed {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// SkippedEnvs returns the sorted names of environments skipped due to an
// upstream failure.
func (r *Result) SkippedEnvs() []string {
	if r == nil {
		return nil
	}
	var out []string
	for name, st := range r.FinalState {
		if st == EnvSkipped {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
