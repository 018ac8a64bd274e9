package core

import (
	"context"

	"checkweaver/internal/finding"
)

// Checker is the contract the engine consumes.
//
// Run receives the resolved inputs of one task and the findings of the tasks
// it depends on. Cancellation is observed through ctx; a checker that ignores
// it simply runs to completion.
type Checker interface {
	ID() string
	DeclaredInputs() []InputSpec
	DeclaredDependencies() []string
	Expand(project *Project) ([]TaskDescriptor, error)
	Run(ctx context.Context, in Inputs, deps DependencyResults) ([]finding.Finding, error)
}

// PrerequisiteChecker is optionally implemented by checkers that need an
// external tool or resource. A non-nil error skips every task of the checker.
type PrerequisiteChecker interface {
	CheckPrerequisites() error
}

// DependencyResults exposes the findings of a task's dependencies, grouped by
// the checker that produced them.
type DependencyResults interface {
	// Of returns the findings of all dependency tasks of the given checker,
	// ordered by task index.
	Of(checkerID string) []finding.Finding
	// Checkers returns the dependency checker ids, sorted.
	Checkers() []string
}

// Cancelled reports whether the run handed to a checker has been cancelled.
func Cancelled(ctx context.Context) bool {
	return ctx.Err() != nil
}

// Base carries the static half of the Checker interface so concrete checkers
// only implement Expand and Run.
type Base struct {
	Name   string
	Inputs []InputSpec
	Deps   []string
}

func (b Base) ID() string { return b.Name }

func (b Base) DeclaredInputs() []InputSpec {
	out := make([]InputSpec, len(b.Inputs))
	copy(out, b.Inputs)
	return out
}

func (b Base) DeclaredDependencies() []string {
	out := make([]string, len(b.Deps))
	copy(out, b.Deps)
	return out
}

// PerFile expands one descriptor per project file, binding the file to input
// fileInput and copying shared into every bundle.
func PerFile(checkerID string, project *Project, fileInput string, shared map[string]any) ([]TaskDescriptor, error) {
	files, err := project.Files()
	if err != nil {
		return nil, err
	}
	out := make([]TaskDescriptor, 0, len(files))
	for _, f := range files {
		inputs := make(map[string]any, len(shared)+1)
		for k, v := range shared {
			inputs[k] = v
		}
		inputs[fileInput] = FileRef{Path: f}
		out = append(out, TaskDescriptor{CheckerID: checkerID, Inputs: inputs})
	}
	return out, nil
}

// Once expands a single project-level descriptor.
func Once(checkerID string, inputs map[string]any) []TaskDescriptor {
	return []TaskDescriptor{{CheckerID: checkerID, Inputs: inputs}}
}
