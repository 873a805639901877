// Package cli wires configuration loading, matrix execution, reporting, and
// history into the envmatrix command tree.
package cli

import (
	"errors"

	"envmatrix/internal/config"
	"envmatrix/internal/matrix"
)

// Semantic exit codes.
const (
	ExitSuccess           = 0
	ExitEnvFailure        = 1
	ExitInvalidInvocation = 2
	ExitConfigError       = 3
	ExitInternalError     = 4
)

// ExitError carries a semantic exit code through cobra's error return.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

func exitErrf(code int, err error) error {
	return &ExitError{Code: code, Err: err}
}

// Classify maps an error to its semantic exit code.
//
// Configuration-level failures (schema, resolution, matrix validation) map
// to ExitConfigError; explicit ExitErrors keep their code; anything else is
// internal.
func Classify(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var xe *ExitError
	if errors.As(err, &xe) && xe != nil {
		if xe.Code != 0 {
			return xe.Code
		}
		return ExitInternalError
	}
	if config.IsConfigError(err) {
		return ExitConfigError
	}
	var me *matrix.MatrixError
	if errors.As(err, &me) {
		return ExitConfigError
	}
	return ExitInternalError
}
