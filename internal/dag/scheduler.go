package dag

import "sort"

// orderReady sorts ready task ids in place for dispatch.
//
// Policy: (topological depth asc, canonical index asc). Execution order among
// ready peers is otherwise unspecified; this only makes single-worker runs
// reproducible.
func orderReady(p *Plan, ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		a, b := ids[i], ids[j]
		ad, _ := p.Depth(a)
		bd, _ := p.Depth(b)
		if ad != bd {
			return ad < bd
		}
		return p.canonicalIndex(a) < p.canonicalIndex(b)
	})
}
