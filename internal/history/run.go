// Package history persists run records under <root>/.envmatrix/runs/ and
// answers questions about previous attempts: which environments failed last
// time, and what fingerprint a previous successful run observed.
package history

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Mode records how a run was invoked.
type Mode string

const (
	ModeDefault     Mode = "default"
	ModeIncremental Mode = "incremental"
	ModeRerunFailed Mode = "rerun-failed"
	ModeWatch       Mode = "watch"
)

// Outcome is the terminal status of a single environment within a run.
type Outcome struct {
	// Status is the matrix-level terminal state name.
	Status string `json:"status"`

	// Fingerprint is the environment's execution identity for this run.
	Fingerprint string `json:"fingerprint,omitempty"`

	// ExitCode is the environment's overall exit code.
	ExitCode int `json:"exit_code"`
}

// Run is the persistent record of one matrix execution attempt.
type Run struct {
	RunID         string             `json:"run_id"`
	MatrixHash    string             `json:"matrix_hash"`
	StartTime     time.Time          `json:"start_time"`
	Mode          Mode               `json:"mode"`
	Envs          map[string]Outcome `json:"envs"`
	PreviousRunID *string            `json:"previous_run_id"`
}

// Validate checks record completeness before persisting.
func (r Run) Validate() error {
	var errs []error
	if strings.TrimSpace(r.RunID) == "" {
		errs = append(errs, errors.New("run_id is required"))
	}
	if strings.TrimSpace(r.MatrixHash) == "" {
		errs = append(errs, errors.New("matrix_hash is required"))
	}
	if r.StartTime.IsZero() {
		errs = append(errs, errors.New("start_time is required"))
	}
	switch r.Mode {
	case ModeDefault, ModeIncremental, ModeRerunFailed, ModeWatch:
	default:
		errs = append(errs, fmt.Errorf("invalid mode %q", r.Mode))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
