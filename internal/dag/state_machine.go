package dag

import "fmt"

// IsTerminal reports whether the state is terminal (finished).
func IsTerminal(s TaskState) bool {
	switch s {
	case TaskDone, TaskFailed, TaskSkipped:
		return true
	default:
		return false
	}
}

// IsSuccessful reports whether the state satisfies dependents.
func IsSuccessful(s TaskState) bool {
	return s == TaskDone
}

// Transition performs a validated transition for a single task.
//
// The caller supplies the expected prior state (from) to make races observable.
// This function mutates the provided state map if and only if the transition is valid.
func Transition(state ExecutionState, taskID string, from, to TaskState) error {
	cur, ok := state[taskID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownNode, taskID)
	}
	if cur != from {
		return fmt.Errorf("invalid transition for %q: expected %s, got %s", taskID, from, cur)
	}
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed transition for %q: %s -> %s", taskID, from, to)
	}
	state[taskID] = to
	return nil
}

func isAllowedTransition(from, to TaskState) bool {
	switch from {
	case TaskPending:
		return to == TaskReady || to == TaskSkipped
	case TaskReady:
		return to == TaskRunning || to == TaskSkipped
	case TaskRunning:
		return to == TaskDone || to == TaskFailed || to == TaskSkipped
	default:
		return false
	}
}
