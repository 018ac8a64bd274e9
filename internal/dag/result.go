package dag

import (
	"sort"
	"time"

	"checkweaver/internal/finding"
	"checkweaver/internal/fingerprint"
)

// RunResult is the summary of one Execute call.
type RunResult struct {
	PlanHash PlanHash
	Status   RunStatus

	// Findings is the merged stream, ordered by (file, line, column, origin)
	// with ties in task canonical order then checker emission order.
	Findings []finding.Finding

	// FinalState is the terminal state of each task.
	FinalState ExecutionState

	// ExecutionOrder lists the tasks that reached RUNNING, in dequeue order.
	ExecutionOrder []string

	// Fingerprints holds the cache key of every task that computed one.
	Fingerprints map[string]fingerprint.Digest

	// CacheHits lists, sorted, the tasks served without invoking their checker.
	CacheHits []string

	// Timings records when each task started and finished running.
	Timings map[string]TaskTiming

	Start, End time.Time
}

// TaskTiming is the wall-clock span of one task in RUNNING.
type TaskTiming struct {
	Start time.Time
	End   time.Time
}

// MaxSeverity returns the highest severity in the finding stream, or "".
func (r *RunResult) MaxSeverity() finding.Severity {
	if r == nil {
		return ""
	}
	return finding.MaxSeverity(r.Findings)
}

// Count returns the number of tasks that ended in state s.
func (r *RunResult) Count(s TaskState) int {
	n := 0
	for _, st := range r.FinalState {
		if st == s {
			n++
		}
	}
	return n
}

// depResults implements core.DependencyResults over the DONE dependencies of
// one task.
type depResults struct {
	byChecker map[string][]finding.Finding
}

func (d depResults) Of(checkerID string) []finding.Finding {
	return finding.Clone(d.byChecker[checkerID])
}

func (d depResults) Checkers() []string {
	out := make([]string, 0, len(d.byChecker))
	for id := range d.byChecker {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// digest identifies the dependency findings for the cache key: each
// checker's findings by content id, in order.
func (d depResults) digest() (fingerprint.Digest, error) {
	m := make(map[string]any, len(d.byChecker))
	for id, fs := range d.byChecker {
		ids := make([]any, 0, len(fs))
		for _, f := range fs {
			fid := f.ID()
			ids = append(ids, fid[:])
		}
		m[id] = ids
	}
	return fingerprint.Of(m)
}
