package runlog

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the persisted outcome of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Run is the persisted record of one invocation.
type Run struct {
	RunID         string    `json:"run_id"`
	PlanHash      string    `json:"plan_hash,omitempty"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time,omitempty"`
	Status        Status    `json:"status"`
	Workers       int       `json:"workers"`
	Checkers      []string  `json:"checkers"`
	Tasks         TaskCount `json:"tasks"`
	Findings      int       `json:"findings"`
	MaxSeverity   string    `json:"max_severity,omitempty"`
	CacheHits     int       `json:"cache_hits"`
	TraceHash     string    `json:"trace_hash,omitempty"`
	ExitCode      int       `json:"exit_code"`
	PreviousRunID *string   `json:"previous_run_id"`
}

// TaskCount tallies terminal task states.
type TaskCount struct {
	Done    int `json:"done"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

func (r Run) Validate() error {
	var errs []error
	if strings.TrimSpace(r.RunID) == "" {
		errs = append(errs, errors.New("run_id is required"))
	}
	if r.StartTime.IsZero() {
		errs = append(errs, errors.New("start_time is required"))
	}
	switch r.Status {
	case StatusRunning, StatusCompleted, StatusCancelled, StatusFailed:
	default:
		errs = append(errs, fmt.Errorf("invalid status %q", r.Status))
	}
	if r.Status == StatusCompleted && strings.TrimSpace(r.PlanHash) == "" {
		errs = append(errs, errors.New("plan_hash is required for a completed run"))
	}
	if !r.EndTime.IsZero() && r.EndTime.Before(r.StartTime) {
		errs = append(errs, errors.New("end_time precedes start_time"))
	}
	if r.Workers < 0 || r.Findings < 0 || r.CacheHits < 0 {
		errs = append(errs, errors.New("counts must be >= 0"))
	}
	if r.PreviousRunID != nil && strings.TrimSpace(*r.PreviousRunID) == "" {
		errs = append(errs, errors.New("previous_run_id must not be empty when provided"))
	}
	return errors.Join(errs...)
}

// FailureClass partitions run-level failures.
type FailureClass string

const (
	FailureClassConfig    FailureClass = "config"
	FailureClassExpansion FailureClass = "expansion"
	FailureClassSystem    FailureClass = "system"
)

// Failure records why a run ended without a finding stream.
type Failure struct {
	FailureClass FailureClass `json:"failure_class"`
	ErrorCode    string       `json:"error_code"`
	ErrorMessage string       `json:"error_message"`
}

func (f Failure) Validate() error {
	var errs []error
	switch f.FailureClass {
	case FailureClassConfig, FailureClassExpansion, FailureClassSystem:
	default:
		errs = append(errs, fmt.Errorf("invalid failure_class %q", f.FailureClass))
	}
	if strings.TrimSpace(f.ErrorCode) == "" {
		errs = append(errs, errors.New("error_code is required"))
	}
	if strings.TrimSpace(f.ErrorMessage) == "" {
		errs = append(errs, errors.New("error_message is required"))
	}
	return errors.Join(errs...)
}
