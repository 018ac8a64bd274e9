package dag

import (
	"sort"

	"checkweaver/internal/core"
	"checkweaver/internal/fingerprint"
)

type edgeIndex struct {
	from int
	to   int
}

// Plan is an immutable, validated set of tasks and their dependency edges.
//
// It is safe for concurrent read access. Each Execute builds its own Tracker
// from the plan.
type Plan struct {
	byID  map[string]int
	tasks []*core.Task // canonical order: (checker, index)

	edges []edgeIndex // sorted, deduplicated

	outgoing [][]int // by canonical index, sorted ascending
	incoming [][]int // by canonical index, sorted ascending
	indeg    []int
	depth    []int

	hash PlanHash
}

// NewPlan validates tasks and builds a plan. Each task's Dependencies must
// name tasks in the same set.
//
// Validation rejects empty or duplicate ids, unknown dependencies and any
// cycle. Duplicate dependency entries collapse into one edge.
func NewPlan(tasks []*core.Task) (*Plan, error) {
	ordered := make([]*core.Task, 0, len(tasks))
	for _, t := range tasks {
		if t == nil {
			return nil, invalidf("nil task")
		}
		ordered = append(ordered, t)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.CheckerID != b.CheckerID {
			return a.CheckerID < b.CheckerID
		}
		if a.Index != b.Index {
			return a.Index < b.Index
		}
		return a.ID < b.ID
	})

	byID := make(map[string]int, len(ordered))
	for i, t := range ordered {
		if t.ID == "" {
			return nil, invalidf("task id is required")
		}
		if _, exists := byID[t.ID]; exists {
			return nil, invalidf("duplicate task id: %q", t.ID)
		}
		byID[t.ID] = i
	}

	// Cycle detection runs through the tracker so the witness path matches
	// what Add reports at run time.
	probe := NewTracker()
	for _, t := range ordered {
		if err := probe.AddNode(t.ID); err != nil {
			return nil, err
		}
	}

	seen := make(map[edgeIndex]struct{})
	var mapped []edgeIndex
	for i, t := range ordered {
		for _, dep := range t.Dependencies {
			j, ok := byID[dep]
			if !ok {
				return nil, unresolvedf("task %q depends on unknown task %q", t.ID, dep)
			}
			pair := edgeIndex{from: j, to: i}
			if _, dup := seen[pair]; dup {
				continue
			}
			if err := probe.Add(t.ID, dep); err != nil {
				return nil, err
			}
			seen[pair] = struct{}{}
			mapped = append(mapped, pair)
		}
	}

	sort.Slice(mapped, func(i, j int) bool {
		a, b := mapped[i], mapped[j]
		if a.from != b.from {
			return a.from < b.from
		}
		return a.to < b.to
	})

	p := &Plan{
		byID:     byID,
		tasks:    ordered,
		edges:    mapped,
		outgoing: make([][]int, len(ordered)),
		incoming: make([][]int, len(ordered)),
		indeg:    make([]int, len(ordered)),
	}
	for _, e := range mapped {
		p.outgoing[e.from] = append(p.outgoing[e.from], e.to)
		p.incoming[e.to] = append(p.incoming[e.to], e.from)
		p.indeg[e.to]++
	}
	for i := range p.outgoing {
		sort.Ints(p.outgoing[i])
		sort.Ints(p.incoming[i])
	}

	if err := p.validateAcyclic(); err != nil {
		return nil, err
	}
	p.depth = p.computeDepth()
	p.hash = p.computeHash()
	return p, nil
}

// Hash returns the stable identity for this plan.
func (p *Plan) Hash() PlanHash { return p.hash }

// Len returns the number of tasks.
func (p *Plan) Len() int { return len(p.tasks) }

// Task returns a task by id.
func (p *Plan) Task(id string) (*core.Task, bool) {
	i, ok := p.byID[id]
	if !ok {
		return nil, false
	}
	return p.tasks[i], true
}

// Tasks returns the tasks in canonical order.
func (p *Plan) Tasks() []*core.Task {
	out := make([]*core.Task, len(p.tasks))
	copy(out, p.tasks)
	return out
}

// Edges returns the dependency edges in canonical order.
func (p *Plan) Edges() []Edge {
	out := make([]Edge, 0, len(p.edges))
	for _, e := range p.edges {
		out = append(out, Edge{From: p.tasks[e.from].ID, To: p.tasks[e.to].ID})
	}
	return out
}

// Dependencies returns the distinct dependency ids of a task in canonical
// order.
func (p *Plan) Dependencies(id string) []string {
	i, ok := p.byID[id]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(p.incoming[i]))
	for _, j := range p.incoming[i] {
		out = append(out, p.tasks[j].ID)
	}
	return out
}

// Depth returns the length of the longest dependency path ending at id.
func (p *Plan) Depth(id string) (int, bool) {
	i, ok := p.byID[id]
	if !ok {
		return 0, false
	}
	return p.depth[i], true
}

// canonicalIndex returns the task's position in canonical order.
func (p *Plan) canonicalIndex(id string) int {
	if i, ok := p.byID[id]; ok {
		return i
	}
	return len(p.tasks)
}

// NewTracker returns a fresh tracker holding every task and edge of the plan.
func (p *Plan) NewTracker() (*Tracker, error) {
	t := NewTracker()
	for _, task := range p.tasks {
		if err := t.AddNode(task.ID); err != nil {
			return nil, err
		}
	}
	for _, e := range p.edges {
		if err := t.Add(p.tasks[e.to].ID, p.tasks[e.from].ID); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// TopologicalOrder returns a deterministic topological ordering of task ids.
func (p *Plan) TopologicalOrder() []string {
	order := p.topoOrderIndices()
	ids := make([]string, 0, len(order))
	for _, i := range order {
		ids = append(ids, p.tasks[i].ID)
	}
	return ids
}

func (p *Plan) computeDepth() []int {
	depth := make([]int, len(p.tasks))
	for _, u := range p.topoOrderIndices() {
		max := 0
		for _, parent := range p.incoming[u] {
			if d := depth[parent] + 1; d > max {
				max = d
			}
		}
		depth[u] = max
	}
	return depth
}

// computeHash folds every task and edge into one fingerprint. A task whose
// inputs cannot be fingerprinted contributes a marker instead; it fails at
// run time, not here.
func (p *Plan) computeHash() PlanHash {
	tasks := make([]any, 0, len(p.tasks))
	for _, t := range p.tasks {
		var inputs any = "unfingerprintable"
		if d, err := fingerprint.Of(t.Inputs); err == nil {
			inputs = d[:]
		}
		tasks = append(tasks, map[string]any{
			"id":      t.ID,
			"checker": t.CheckerID,
			"inputs":  inputs,
		})
	}
	edges := make([]any, 0, len(p.edges))
	for _, e := range p.edges {
		edges = append(edges, []any{e.from, e.to})
	}
	return planHashOf(fingerprint.MustOf(map[string]any{
		"tasks": tasks,
		"edges": edges,
	}))
}
