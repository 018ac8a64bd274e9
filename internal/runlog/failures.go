package runlog

import (
	"errors"
	"fmt"
)

// ConfigFailureError wraps configuration and invocation problems.
type ConfigFailureError struct {
	Code    string
	Message string
	Cause   error
}

func (e *ConfigFailureError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("config failure (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("config failure: %s", e.Message)
}

func (e *ConfigFailureError) Unwrap() error { return e.Cause }

// ExpansionFailureError wraps plan expansion failures: unresolved
// dependencies, cycles and invalid task descriptors.
type ExpansionFailureError struct {
	Code    string
	Message string
	Cause   error
}

func (e *ExpansionFailureError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("expansion failure (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("expansion failure: %s", e.Message)
}

func (e *ExpansionFailureError) Unwrap() error { return e.Cause }

// SystemFailureError wraps everything else: I/O, invariant violations.
type SystemFailureError struct {
	Code    string
	Message string
	Cause   error
}

func (e *SystemFailureError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("system failure (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("system failure: %s", e.Message)
}

func (e *SystemFailureError) Unwrap() error { return e.Cause }

// Classify maps err to a persisted Failure. Unclassified errors are system
// failures.
func Classify(err error) (Failure, error) {
	if err == nil {
		return Failure{}, errors.New("nil error")
	}

	var cf *ConfigFailureError
	if errors.As(err, &cf) && cf != nil {
		return Failure{
			FailureClass: FailureClassConfig,
			ErrorCode:    nonEmptyOr(cf.Code, "ConfigFailure"),
			ErrorMessage: nonEmptyOr(cf.Message, cf.Error()),
		}, nil
	}

	var xf *ExpansionFailureError
	if errors.As(err, &xf) && xf != nil {
		return Failure{
			FailureClass: FailureClassExpansion,
			ErrorCode:    nonEmptyOr(xf.Code, "ExpansionFailure"),
			ErrorMessage: nonEmptyOr(xf.Message, xf.Error()),
		}, nil
	}

	var sf *SystemFailureError
	if errors.As(err, &sf) && sf != nil {
		return Failure{
			FailureClass: FailureClassSystem,
			ErrorCode:    nonEmptyOr(sf.Code, "SystemFailure"),
			ErrorMessage: nonEmptyOr(sf.Message, sf.Error()),
		}, nil
	}

	return Failure{
		FailureClass: FailureClassSystem,
		ErrorCode:    "Unclassified",
		ErrorMessage: nonEmptyOr(err.Error(), "unknown error"),
	}, nil
}

func nonEmptyOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
