package core

import (
	"fmt"
	"sort"

	"checkweaver/internal/fingerprint"
)

// FileRef is an input value naming a project file. The engine resolves it to
// a *fileproxy.Proxy before the checker runs.
type FileRef struct {
	Path string
}

// EncodeCanonical identifies a file reference by path. The engine substitutes
// the file's content before fingerprinting, so this is only used for
// references that never reach a worker (e.g. during expansion checks).
func (r FileRef) EncodeCanonical(enc *fingerprint.Encoder) error {
	return enc.EncodeField("file", r.Path)
}

// TaskRef names prior tasks by checker identity and, optionally, by file.
//
// TaskRef{Checker: "A"} refers to every task of checker A;
// TaskRef{Checker: "A", File: "/abs/x.go"} refers to A's task(s) on that file.
type TaskRef struct {
	Checker string
	File    string
}

func (r TaskRef) String() string {
	if r.File == "" {
		return r.Checker
	}
	return r.Checker + "@" + r.File
}

func (r TaskRef) EncodeCanonical(enc *fingerprint.Encoder) error {
	if err := enc.EncodeField("checker", r.Checker); err != nil {
		return err
	}
	return enc.EncodeField("file", r.File)
}

// TaskDescriptor is what a checker's Expand returns.
type TaskDescriptor struct {
	CheckerID string
	Inputs    map[string]any
	// DependsOn lists task references this descriptor waits for. When empty,
	// the task waits for every task of every declared dependency checker.
	DependsOn []TaskRef
}

// Task is a descriptor bound to its checker and a stable id.
type Task struct {
	// ID is unique within a plan: "<checker>#<index>", index counting the
	// checker's descriptors in expansion order.
	ID        string
	CheckerID string
	Index     int
	Inputs    map[string]any

	// Dependencies is the resolved set of task ids, sorted. It is not part of
	// the fingerprint.
	Dependencies []string

	Checker Checker
}

// NewTask binds a descriptor. Inputs are copied so later mutation of the
// descriptor cannot change the task's identity.
func NewTask(c Checker, index int, d TaskDescriptor) *Task {
	inputs := make(map[string]any, len(d.Inputs))
	for k, v := range d.Inputs {
		inputs[k] = v
	}
	return &Task{
		ID:        TaskID(c.ID(), index),
		CheckerID: c.ID(),
		Index:     index,
		Inputs:    inputs,
		Checker:   c,
	}
}

// TaskID formats the canonical id for a checker's index-th task.
func TaskID(checkerID string, index int) string {
	return fmt.Sprintf("%s#%d", checkerID, index)
}

// File returns the path of the task's first file input (by input name order),
// or "" for project-level tasks.
func (t *Task) File() string {
	names := make([]string, 0, len(t.Inputs))
	for k := range t.Inputs {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, n := range names {
		if ref, ok := t.Inputs[n].(FileRef); ok {
			return ref.Path
		}
	}
	return ""
}

// FingerprintSource is the value whose digest identifies the task for
// caching: checker identity plus the input bundle.
func FingerprintSource(checkerID string, inputs map[string]any) map[string]any {
	return map[string]any{
		"checker": checkerID,
		"inputs":  inputs,
	}
}
