package matrix

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidMatrix = errors.New("invalid environment matrix")
	ErrCycleFound    = errors.New("cycle detected")
)

// MatrixError wraps deterministic matrix validation failures.
type MatrixError struct {
	Kind error
	Msg  string
}

func (e *MatrixError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *MatrixError) Unwrap() error { return e.Kind }

func invalidf(format string, args ...any) error {
	return &MatrixError{Kind: ErrInvalidMatrix, Msg: fmt.Sprintf(format, args...)}
}

func cycleError(path []string) error {
	msg := "cycle"
	if len(path) > 0 {
		msg = "cycle: " + strings.Join(path, " -> ")
	}
	return &MatrixError{Kind: ErrCycleFound, Msg: msg}
}
