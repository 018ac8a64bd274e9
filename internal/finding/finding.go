// Package finding defines the normalized record emitted by checkers.
package finding

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"checkweaver/internal/fingerprint"
)

// Severity is the closed set of finding severities.
type Severity string

const (
	SeverityInfo   Severity = "INFO"
	SeverityNormal Severity = "NORMAL"
	SeverityMajor  Severity = "MAJOR"
)

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityNormal, SeverityMajor:
		return true
	default:
		return false
	}
}

// Rank orders severities from least to most severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 0
	case SeverityNormal:
		return 1
	case SeverityMajor:
		return 2
	default:
		return -1
	}
}

// ParseSeverity accepts the canonical names case-insensitively.
func ParseSeverity(raw string) (Severity, error) {
	s := Severity(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidFinding, raw)
	}
	return s, nil
}

// ErrInvalidFinding is returned by New and Validate.
var ErrInvalidFinding = errors.New("invalid finding")

// Finding is a value object. Two findings are equal iff every field matches.
//
// File is empty for project-level findings; Line and Column are zero when
// absent.
type Finding struct {
	Origin       string   `json:"origin"`
	File         string   `json:"file,omitempty"`
	Line         int      `json:"line,omitempty"`
	Column       int      `json:"column,omitempty"`
	Severity     Severity `json:"severity"`
	Message      string   `json:"message"`
	DebugMessage string   `json:"debug_message,omitempty"`
}

// New builds and validates a finding.
func New(origin, file string, line, column int, severity Severity, message string) (Finding, error) {
	f := Finding{
		Origin:   origin,
		File:     file,
		Line:     line,
		Column:   column,
		Severity: severity,
		Message:  message,
	}
	if err := f.Validate(); err != nil {
		return Finding{}, err
	}
	return f, nil
}

// Project builds a finding that is not attached to any file.
func Project(origin string, severity Severity, message string) Finding {
	return Finding{Origin: origin, Severity: severity, Message: message}
}

// AtLine builds a finding attached to a line of file.
func AtLine(origin, file string, line int, severity Severity, message string) Finding {
	return Finding{Origin: origin, File: file, Line: line, Severity: severity, Message: message}
}

// WithDebug returns a copy of f carrying a debug message.
func (f Finding) WithDebug(msg string) Finding {
	f.DebugMessage = msg
	return f
}

// Validate checks construction invariants.
func (f Finding) Validate() error {
	var errs []error
	if strings.TrimSpace(f.Origin) == "" {
		errs = append(errs, errors.New("origin is required"))
	}
	if !f.Severity.Valid() {
		errs = append(errs, fmt.Errorf("unknown severity %q", f.Severity))
	}
	if strings.TrimSpace(f.Message) == "" {
		errs = append(errs, errors.New("message must not be empty"))
	}
	if f.File != "" {
		if !filepath.IsAbs(f.File) {
			errs = append(errs, fmt.Errorf("file must be absolute (got %q)", f.File))
		}
		if f.Line <= 0 {
			errs = append(errs, fmt.Errorf("line must be positive when file is set (got %d)", f.Line))
		}
	} else if f.Line < 0 {
		errs = append(errs, fmt.Errorf("line must not be negative (got %d)", f.Line))
	}
	if f.Column < 0 {
		errs = append(errs, fmt.Errorf("column must not be negative (got %d)", f.Column))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidFinding, errors.Join(errs...))
}

// Equal reports structural equality.
func (f Finding) Equal(o Finding) bool { return f == o }

// ID is a content address of the finding.
func (f Finding) ID() fingerprint.Digest {
	return fingerprint.MustOf([]any{f.Origin, f.File, f.Line, f.Column, string(f.Severity), f.Message, f.DebugMessage})
}

// Less orders findings by (file, line, column, origin). Project-level findings
// (no file) sort before file findings.
func Less(a, b Finding) bool {
	if a.File != b.File {
		return a.File < b.File
	}
	if a.Line != b.Line {
		return a.Line < b.Line
	}
	if a.Column != b.Column {
		return a.Column < b.Column
	}
	return a.Origin < b.Origin
}

// Sort orders findings for output. Ties keep their relative order.
func Sort(fs []Finding) {
	sort.SliceStable(fs, func(i, j int) bool { return Less(fs[i], fs[j]) })
}

// MaxSeverity returns the most severe severity in fs, or "" when fs is empty.
func MaxSeverity(fs []Finding) Severity {
	var out Severity
	for _, f := range fs {
		if f.Severity.Rank() > out.Rank() {
			out = f.Severity
		}
	}
	return out
}

// Clone returns a copy of fs that does not alias the input.
func Clone(fs []Finding) []Finding {
	if fs == nil {
		return nil
	}
	out := make([]Finding, len(fs))
	copy(out, fs)
	return out
}
