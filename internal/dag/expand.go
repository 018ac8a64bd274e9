package dag

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"checkweaver/internal/core"
)

// ExpandOptions configures Expand.
type ExpandOptions struct {
	// Registry instantiates dependency checkers that are declared but not
	// configured. Nil disables auto-instantiation.
	Registry *core.Registry
	Logger   *slog.Logger
}

// Expand turns checkers into a validated Plan.
//
// Every checker is expanded against project (concurrently; results are kept
// in checker order). Cross-checker references are resolved only after every
// checker has expanded. Any failure here is fatal to the run and no task
// starts.
func Expand(ctx context.Context, checkers []core.Checker, project *core.Project, opts ExpandOptions) (*Plan, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if project == nil {
		return nil, invalidf("project is required")
	}

	all, err := withDependencies(checkers, opts.Registry, logger)
	if err != nil {
		return nil, err
	}

	descs := make([][]core.TaskDescriptor, len(all))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range all {
		i, c := i, c
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			d, err := c.Expand(project)
			if err != nil {
				return invalidTaskf("expanding checker %q: %v", c.ID(), err)
			}
			descs[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var tasks []*core.Task
	byChecker := make(map[string][]*core.Task, len(all))
	pending := make(map[*core.Task]core.TaskDescriptor)
	for i, c := range all {
		specs := c.DeclaredInputs()
		for j, d := range descs[i] {
			if d.CheckerID != "" && d.CheckerID != c.ID() {
				return nil, invalidTaskf("checker %q expanded a descriptor for %q", c.ID(), d.CheckerID)
			}
			if err := core.ValidateInputs(specs, d.Inputs); err != nil {
				return nil, invalidTaskf("%s: %v", core.TaskID(c.ID(), j), err)
			}
			t := core.NewTask(c, j, d)
			tasks = append(tasks, t)
			byChecker[c.ID()] = append(byChecker[c.ID()], t)
			pending[t] = d
		}
		logger.Debug("expanded checker", "checker", c.ID(), "tasks", len(descs[i]))
	}

	declared := make(map[string][]string, len(all))
	for _, c := range all {
		declared[c.ID()] = c.DeclaredDependencies()
	}
	for _, t := range tasks {
		deps, err := resolveDependencies(t, pending[t], declared[t.CheckerID], byChecker)
		if err != nil {
			return nil, err
		}
		t.Dependencies = deps
	}

	return NewPlan(tasks)
}

// withDependencies returns checkers plus every transitively declared
// dependency, instantiating missing ones from the registry with empty
// settings. The result is sorted by id.
func withDependencies(checkers []core.Checker, reg *core.Registry, logger *slog.Logger) ([]core.Checker, error) {
	byID := make(map[string]core.Checker, len(checkers))
	var queue []core.Checker
	for _, c := range checkers {
		if c == nil {
			return nil, invalidf("nil checker")
		}
		if _, dup := byID[c.ID()]; dup {
			return nil, invalidf("duplicate checker id: %q", c.ID())
		}
		byID[c.ID()] = c
		queue = append(queue, c)
	}

	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		for _, dep := range c.DeclaredDependencies() {
			if _, ok := byID[dep]; ok {
				continue
			}
			if !reg.Has(dep) {
				return nil, unresolvedf("checker %q depends on unknown checker %q", c.ID(), dep)
			}
			inst, err := reg.New(dep, nil)
			if err != nil {
				return nil, unresolvedf("instantiating %q for %q: %v", dep, c.ID(), err)
			}
			logger.Info("instantiated dependency checker", "checker", dep, "required_by", c.ID())
			byID[dep] = inst
			queue = append(queue, inst)
		}
	}

	out := make([]core.Checker, 0, len(byID))
	for _, c := range byID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}

// resolveDependencies maps a descriptor's references to task ids. Explicit
// DependsOn entries and TaskRef inputs are honored; with neither, the task
// waits for every task of every declared dependency checker.
func resolveDependencies(t *core.Task, d core.TaskDescriptor, declared []string, byChecker map[string][]*core.Task) ([]string, error) {
	refs := append([]core.TaskRef(nil), d.DependsOn...)
	names := make([]string, 0, len(t.Inputs))
	for k := range t.Inputs {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, n := range names {
		if ref, ok := t.Inputs[n].(core.TaskRef); ok {
			refs = append(refs, ref)
		}
	}
	if len(refs) == 0 {
		for _, dep := range declared {
			refs = append(refs, core.TaskRef{Checker: dep})
		}
	}

	set := make(map[string]struct{})
	for _, ref := range refs {
		candidates, ok := byChecker[ref.Checker]
		if !ok {
			if !contains(declared, ref.Checker) {
				return nil, unresolvedf("task %q references checker %q which it does not declare", t.ID, ref)
			}
			// A declared dependency that expanded to nothing imposes no edge.
			continue
		}
		if !contains(declared, ref.Checker) {
			return nil, unresolvedf("task %q references checker %q which it does not declare", t.ID, ref)
		}
		matched := 0
		for _, c := range candidates {
			if ref.File != "" && c.File() != ref.File {
				continue
			}
			set[c.ID] = struct{}{}
			matched++
		}
		if matched == 0 {
			return nil, unresolvedf("task %q: no task matches %s", t.ID, ref)
		}
	}

	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Describe renders a plan for the "plan" command: one line per task in
// topological order.
func Describe(p *Plan, w io.Writer) error {
	for _, id := range p.TopologicalOrder() {
		t, _ := p.Task(id)
		line := id
		if f := t.File(); f != "" {
			line += " " + f
		}
		if deps := p.Dependencies(id); len(deps) > 0 {
			line += fmt.Sprintf(" <- %v", deps)
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
