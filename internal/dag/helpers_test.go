package dag

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"checkweaver/internal/core"
	"checkweaver/internal/finding"
)

type runFunc func(ctx context.Context, in core.Inputs, deps core.DependencyResults) ([]finding.Finding, error)

// fakeChecker counts invocations and delegates Expand/Run to closures.
type fakeChecker struct {
	core.Base
	expand func(p *core.Project) ([]core.TaskDescriptor, error)
	run    runFunc

	mu    sync.Mutex
	calls int
	seen  []string
}

func (c *fakeChecker) Expand(p *core.Project) ([]core.TaskDescriptor, error) {
	if c.expand == nil {
		return core.Once(c.Name, nil), nil
	}
	return c.expand(p)
}

func (c *fakeChecker) Run(ctx context.Context, in core.Inputs, deps core.DependencyResults) ([]finding.Finding, error) {
	c.mu.Lock()
	c.calls++
	if p := in.File("file"); p != nil {
		c.seen = append(c.seen, p.Filename())
	}
	c.mu.Unlock()
	if c.run == nil {
		return nil, nil
	}
	return c.run(ctx, in, deps)
}

func (c *fakeChecker) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// perFile builds a checker with one task per project file bound to "file".
func perFile(id string, deps []string, run runFunc) *fakeChecker {
	c := &fakeChecker{
		Base: core.Base{
			Name:   id,
			Inputs: []core.InputSpec{{Name: "file", Kind: core.KindFile}},
			Deps:   deps,
		},
		run: run,
	}
	c.expand = func(p *core.Project) ([]core.TaskDescriptor, error) {
		return core.PerFile(id, p, "file", nil)
	}
	return c
}

// projectLevel builds a checker with a single task and no inputs.
func projectLevel(id string, deps []string, run runFunc) *fakeChecker {
	return &fakeChecker{Base: core.Base{Name: id, Deps: deps}, run: run}
}

// fanOut builds a checker with n independent tasks distinguished by input "n".
func fanOut(id string, n int, run runFunc) *fakeChecker {
	c := &fakeChecker{
		Base: core.Base{Name: id, Inputs: []core.InputSpec{{Name: "n", Kind: core.KindInt}}},
		run:  run,
	}
	c.expand = func(*core.Project) ([]core.TaskDescriptor, error) {
		out := make([]core.TaskDescriptor, 0, n)
		for i := 0; i < n; i++ {
			out = append(out, core.TaskDescriptor{CheckerID: id, Inputs: map[string]any{"n": i}})
		}
		return out, nil
	}
	return c
}

// newProject writes files (relative name -> content) under a temp root.
func newProject(t *testing.T, files map[string]string) *core.Project {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	p, err := core.NewProject(root, nil)
	require.NoError(t, err)
	return p
}

func abs(p *core.Project, rel string) string {
	return filepath.Join(p.Root, filepath.FromSlash(rel))
}

func expandPlan(t *testing.T, p *core.Project, checkers ...core.Checker) *Plan {
	t.Helper()
	plan, err := Expand(context.Background(), checkers, p, ExpandOptions{})
	require.NoError(t, err)
	return plan
}

func execute(t *testing.T, plan *Plan, opts Options) (*RunResult, error) {
	t.Helper()
	ex, err := NewExecutor(plan, opts)
	require.NoError(t, err)
	return ex.Execute(context.Background())
}

// lineFinding reports one finding at line on the task's file.
func lineFinding(sev finding.Severity, line int, msg string) runFunc {
	return func(_ context.Context, in core.Inputs, _ core.DependencyResults) ([]finding.Finding, error) {
		return []finding.Finding{{File: in.File("file").Filename(), Line: line, Severity: sev, Message: msg}}, nil
	}
}
