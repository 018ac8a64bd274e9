// Package dag schedules checker tasks over a dependency graph.
//
// It is split into:
//   - Immutable plan (Plan): the expanded tasks, their dependency edges, a
//     canonical task order and a stable PlanHash.
//   - Mutable run state (Tracker): per-task states, outstanding dependency
//     counters, ready and skip propagation.
//   - Executor: a fixed worker pool that drives one Tracker to completion,
//     consulting the file proxy cache and the result cache for every task.
//
// Finding output is ordered by (file, line, column, origin), never by
// completion order, so identical inputs produce identical streams.
package dag
