package dag

import "testing"

func TestStateMachine_Transitions_ValidAndInvalid(t *testing.T) {
	state := ExecutionState{"A": TaskPending}

	if err := Transition(state, "A", TaskPending, TaskReady); err != nil {
		t.Fatalf("expected valid transition, got %v", err)
	}
	if err := Transition(state, "A", TaskReady, TaskRunning); err != nil {
		t.Fatalf("expected valid transition, got %v", err)
	}
	if err := Transition(state, "A", TaskRunning, TaskDone); err != nil {
		t.Fatalf("expected valid transition, got %v", err)
	}

	// Terminal -> RUNNING is forbidden.
	if err := Transition(state, "A", TaskDone, TaskRunning); err == nil {
		t.Fatalf("expected error")
	}

	// Wrong expected prior state is observable.
	state["A"] = TaskReady
	if err := Transition(state, "A", TaskPending, TaskRunning); err == nil {
		t.Fatalf("expected error for stale prior state")
	}

	// PENDING cannot jump straight to RUNNING.
	state["A"] = TaskPending
	if err := Transition(state, "A", TaskPending, TaskRunning); err == nil {
		t.Fatalf("expected error")
	}

	// FAILED and SKIPPED are terminal.
	for _, terminal := range []TaskState{TaskFailed, TaskSkipped} {
		state["A"] = terminal
		if err := Transition(state, "A", terminal, TaskReady); err == nil {
			t.Fatalf("expected error leaving %s", terminal)
		}
	}

	if err := Transition(state, "missing", TaskPending, TaskReady); err == nil {
		t.Fatalf("expected error for unknown task")
	}
}

func TestIsTerminalAndSuccessful(t *testing.T) {
	cases := []struct {
		state      TaskState
		terminal   bool
		successful bool
	}{
		{TaskPending, false, false},
		{TaskReady, false, false},
		{TaskRunning, false, false},
		{TaskDone, true, true},
		{TaskFailed, true, false},
		{TaskSkipped, true, false},
	}
	for _, c := range cases {
		if IsTerminal(c.state) != c.terminal {
			t.Fatalf("IsTerminal(%s) = %v", c.state, !c.terminal)
		}
		if IsSuccessful(c.state) != c.successful {
			t.Fatalf("IsSuccessful(%s) = %v", c.state, !c.successful)
		}
	}
}
