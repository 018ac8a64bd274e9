package dag

// TaskState is the runtime state of a task within one run.
//
// Terminal states are DONE, FAILED and SKIPPED. A task served from the result
// cache ends DONE; the cache decision is recorded in the trace, not here.
type TaskState string

const (
	TaskPending TaskState = "PENDING"
	TaskReady   TaskState = "READY"
	TaskRunning TaskState = "RUNNING"
	TaskDone    TaskState = "DONE"
	TaskFailed  TaskState = "FAILED"
	TaskSkipped TaskState = "SKIPPED"
)

// ExecutionState maps task id to its current TaskState.
type ExecutionState map[string]TaskState

// RunStatus is the run-level outcome.
type RunStatus string

const (
	RunCompleted RunStatus = "Completed"
	RunCancelled RunStatus = "Cancelled"
)
