package dag

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidGraph         = errors.New("invalid task graph")
	ErrCycleFound           = errors.New("cycle detected")
	ErrUnresolvedDependency = errors.New("unresolved dependency")
	ErrInvalidTask          = errors.New("invalid task")
	ErrUnknownNode          = errors.New("unknown task")
	ErrSealed               = errors.New("dependency graph is sealed")

	ErrCheckerFailed = errors.New("checker failed")
	ErrTaskTimeout   = errors.New("task timed out")
	ErrCheckerPanic  = errors.New("checker panicked")
	ErrCancelled     = errors.New("run cancelled")
)

// GraphError wraps deterministic expansion and graph validation failures.
type GraphError struct {
	Kind error
	Msg  string
}

func (e *GraphError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *GraphError) Unwrap() error { return e.Kind }

func invalidf(format string, args ...any) error {
	return &GraphError{Kind: ErrInvalidGraph, Msg: fmt.Sprintf(format, args...)}
}

func unresolvedf(format string, args ...any) error {
	return &GraphError{Kind: ErrUnresolvedDependency, Msg: fmt.Sprintf(format, args...)}
}

func invalidTaskf(format string, args ...any) error {
	return &GraphError{Kind: ErrInvalidTask, Msg: fmt.Sprintf(format, args...)}
}

func cycleError(path []string) error {
	msg := "cycle"
	if len(path) > 0 {
		msg = "cycle: " + strings.Join(path, " -> ")
	}
	return &GraphError{Kind: ErrCycleFound, Msg: msg}
}

// IsExpansionError reports whether err aborts a run before any worker starts.
func IsExpansionError(err error) bool {
	return errors.Is(err, ErrInvalidGraph) ||
		errors.Is(err, ErrCycleFound) ||
		errors.Is(err, ErrUnresolvedDependency) ||
		errors.Is(err, ErrInvalidTask)
}

// TaskError is the per-task failure converted into a finding by the executor.
// It never escapes Execute.
type TaskError struct {
	TaskID string
	Kind   error
	Cause  error
}

func (e *TaskError) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause == nil {
		return fmt.Sprintf("task %s: %s", e.TaskID, e.Kind)
	}
	return fmt.Sprintf("task %s: %s: %v", e.TaskID, e.Kind, e.Cause)
}

func (e *TaskError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}
