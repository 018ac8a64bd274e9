package dag

import (
	"fmt"
	"sort"
	"sync"
)

type trackNode struct {
	// dependencies and dependents are multisets: an edge added twice is
	// recorded twice and released twice.
	dependencies []string
	dependents   []string
	outstanding  int
	dispatched   bool
}

// Tracker records "A depends on B" edges between task ids and drives their
// states for one run.
//
// All operations take a single mutex; each is O(degree) except the cycle check
// on Add and the skip cascade on Drop, which are bounded by reachability.
type Tracker struct {
	mu         sync.Mutex
	nodes      map[string]*trackNode
	state      ExecutionState
	sealed     bool
	unresolved int
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		nodes: make(map[string]*trackNode),
		state: make(ExecutionState),
	}
}

// AddNode registers a task id in PENDING state.
func (t *Tracker) AddNode(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sealed {
		return ErrSealed
	}
	if id == "" {
		return invalidf("task id is required")
	}
	if _, exists := t.nodes[id]; exists {
		return invalidf("duplicate task id: %q", id)
	}
	t.nodes[id] = &trackNode{}
	t.state[id] = TaskPending
	t.unresolved++
	return nil
}

// Add records that dependent waits for dependency. It fails with
// ErrCycleFound when the edge would close a cycle; the graph is unchanged in
// that case.
func (t *Tracker) Add(dependent, dependency string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sealed {
		return ErrSealed
	}
	dn, ok := t.nodes[dependent]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownNode, dependent)
	}
	pn, ok := t.nodes[dependency]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownNode, dependency)
	}
	if path := t.pathLocked(dependency, dependent); path != nil {
		return cycleError(append([]string{dependent}, path...))
	}

	dn.dependencies = append(dn.dependencies, dependency)
	pn.dependents = append(pn.dependents, dependent)
	if t.state[dependency] != TaskDone {
		dn.outstanding++
	}
	return nil
}

// pathLocked searches the dependency edges from "from" for "to" and returns
// the path from..to, or nil. Neighbors are visited in sorted order so the
// reported witness is stable.
func (t *Tracker) pathLocked(from, to string) []string {
	if from == to {
		return []string{from}
	}
	visited := map[string]bool{from: true}
	parent := map[string]string{}
	stack := []string{from}
	for len(stack) > 0 {
		u := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		next := append([]string(nil), t.nodes[u].dependencies...)
		sort.Sort(sort.Reverse(sort.StringSlice(next)))
		for _, v := range next {
			if visited[v] {
				continue
			}
			visited[v] = true
			parent[v] = u
			if v == to {
				path := []string{v}
				for cur := u; ; cur = parent[cur] {
					path = append(path, cur)
					if cur == from {
						break
					}
				}
				for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
					path[i], path[j] = path[j], path[i]
				}
				return path
			}
			stack = append(stack, v)
		}
	}
	return nil
}

// Seal forbids further edges. The executor seals before the first dequeue.
func (t *Tracker) Seal() {
	t.mu.Lock()
	t.sealed = true
	t.mu.Unlock()
}

// ReadySet returns, sorted, the tasks with no outstanding dependencies that
// have not been dispatched yet.
func (t *Tracker) ReadySet() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for id, n := range t.nodes {
		st := t.state[id]
		if st == TaskPending && n.outstanding == 0 {
			t.state[id] = TaskReady
			st = TaskReady
		}
		if st == TaskReady && !n.dispatched {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Dispatch marks a READY task as handed to the work queue.
func (t *Tracker) Dispatch(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownNode, id)
	}
	if t.state[id] != TaskReady || n.dispatched {
		return fmt.Errorf("cannot dispatch %q in state %s", id, t.state[id])
	}
	n.dispatched = true
	return nil
}

// Start moves a READY task to RUNNING.
func (t *Tracker) Start(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Transition(t.state, id, TaskReady, TaskRunning)
}

// Release marks a RUNNING task DONE and returns the tasks that became ready,
// sorted.
func (t *Tracker) Release(id string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNode, id)
	}
	if err := Transition(t.state, id, TaskRunning, TaskDone); err != nil {
		return nil, err
	}
	t.unresolved--

	var ready []string
	for _, d := range n.dependents {
		dn := t.nodes[d]
		dn.outstanding--
		if dn.outstanding == 0 && t.state[d] == TaskPending {
			t.state[d] = TaskReady
			ready = append(ready, d)
		}
	}
	sort.Strings(ready)
	return ready, nil
}

// Drop marks a task FAILED or SKIPPED and transitively marks every dependent
// SKIPPED. It returns the newly skipped dependents in BFS order with siblings
// sorted. Dropping an already terminal task is a no-op.
func (t *Tracker) Drop(id string, to TaskState) ([]string, error) {
	if to != TaskFailed && to != TaskSkipped {
		return nil, fmt.Errorf("drop %q: target state must be FAILED or SKIPPED, got %s", id, to)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.nodes[id]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNode, id)
	}
	cur := t.state[id]
	if IsTerminal(cur) {
		return nil, nil
	}
	if cur != TaskRunning && to == TaskFailed {
		return nil, fmt.Errorf("cannot fail %q from state %s", id, cur)
	}
	if err := Transition(t.state, id, cur, to); err != nil {
		return nil, err
	}
	t.unresolved--

	var skipped []string
	queue := []string{id}
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]

		next := append([]string(nil), t.nodes[u].dependents...)
		sort.Strings(next)
		for _, v := range next {
			switch t.state[v] {
			case TaskPending, TaskReady:
				t.state[v] = TaskSkipped
				t.unresolved--
				skipped = append(skipped, v)
				queue = append(queue, v)
			case TaskRunning:
				return skipped, fmt.Errorf("invariant violation: dependent %q of %q is RUNNING during skip propagation", v, u)
			default:
				// Already terminal; its dependents were handled when it got there.
			}
		}
	}
	return skipped, nil
}

// AllResolved reports whether every task is terminal.
func (t *Tracker) AllResolved() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.unresolved == 0
}

// State returns the current state of id.
func (t *Tracker) State(id string) (TaskState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.state[id]
	return st, ok
}

// Unstarted returns, sorted, the tasks that are neither running nor terminal.
func (t *Tracker) Unstarted() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for id, st := range t.state {
		if st == TaskPending || st == TaskReady {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Snapshot returns a copy of every task's state.
func (t *Tracker) Snapshot() ExecutionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := make(ExecutionState, len(t.state))
	for k, v := range t.state {
		cp[k] = v
	}
	return cp
}
