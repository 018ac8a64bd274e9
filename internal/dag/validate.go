package dag

import "container/heap"

// validateAcyclic proves the plan has no cycles using Kahn's algorithm. The
// tracker already rejected any closing edge during construction; this is the
// whole-graph confirmation.
func (p *Plan) validateAcyclic() error {
	order := p.topoOrderIndices()
	if len(order) == len(p.tasks) {
		return nil
	}
	var stuck []string
	placed := make(map[int]bool, len(order))
	for _, i := range order {
		placed[i] = true
	}
	for i, t := range p.tasks {
		if !placed[i] {
			stuck = append(stuck, t.ID)
		}
	}
	return cycleError(stuck)
}

type intMinHeap []int

func (h intMinHeap) Len() int           { return len(h) }
func (h intMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topoOrderIndices returns a deterministic topological ordering of canonical
// indices. The ready queue is a min-heap by canonical index.
func (p *Plan) topoOrderIndices() []int {
	indeg := make([]int, len(p.indeg))
	copy(indeg, p.indeg)

	ready := &intMinHeap{}
	for i := range indeg {
		if indeg[i] == 0 {
			heap.Push(ready, i)
		}
	}

	out := make([]int, 0, len(indeg))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		out = append(out, n)
		for _, m := range p.outgoing[n] {
			indeg[m]--
			if indeg[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	return out
}
