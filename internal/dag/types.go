package dag

import "checkweaver/internal/fingerprint"

// PlanHash is the deterministic identity of a Plan.
//
// It is computed from task identity, checker, input bundle and dependency
// structure, and is stable across expansion order.
type PlanHash string

func (h PlanHash) String() string { return string(h) }

// Edge represents a dependency relation: To depends on From.
//
// A directed edge From -> To means To can only run after From is DONE.
type Edge struct {
	From string
	To   string
}

func planHashOf(d fingerprint.Digest) PlanHash { return PlanHash(d.String()) }
