// Package core defines the checker-facing domain model.
//
// It is the boundary between the execution engine (package dag) and the
// analysis units it schedules:
//
//   - Checker: identity, declared inputs, declared dependencies, expansion
//     into task descriptors, and the run method producing findings.
//   - TaskDescriptor / Task: one scheduled invocation of a checker with a
//     concrete input bundle.
//   - Project: the root directory plus the file selection predicate that
//     checkers expand against.
//   - Registry: checker factories addressable by identity.
//
// Nothing in this package schedules or caches; it only describes work.
package core
