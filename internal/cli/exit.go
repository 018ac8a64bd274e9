package cli

import (
	"context"
	"errors"
	"fmt"

	"checkweaver/internal/dag"
	"checkweaver/internal/runlog"
)

const (
	ExitSuccess           = 0
	ExitMajorFinding      = 1
	ExitInvalidInvocation = 2
	ExitInternalError     = 3
	ExitCancelled         = 130
)

// InvocationError carries the exit code for failures detected before any
// task runs: bad flags, bad configuration, failed expansion.
type InvocationError struct {
	ExitCode int
	Message  string
	Cause    error
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func (e *InvocationError) Unwrap() error { return e.Cause }

func invalidInvocationf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitInvalidInvocation, Message: fmt.Sprintf(format, args...)}
}

// ExitCode maps an error returned by Run to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var invErr *InvocationError
	if errors.As(err, &invErr) && invErr != nil {
		if invErr.ExitCode != 0 {
			return invErr.ExitCode
		}
		return ExitInvalidInvocation
	}
	if dag.IsCancelled(err) || errors.Is(err, context.Canceled) {
		return ExitCancelled
	}
	var cfgErr *runlog.ConfigFailureError
	var expErr *runlog.ExpansionFailureError
	if errors.As(err, &cfgErr) || errors.As(err, &expErr) {
		return ExitInvalidInvocation
	}
	return ExitInternalError
}
