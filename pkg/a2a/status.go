package a2a

import "time"

/*
TaskState enumerates the mutually exclusive states a task may be in.  The
zero value is "unknown".
*/
type TaskState string

const (
	TaskStateSubmitted TaskState = "submitted"
	TaskStateWorking   TaskState = "working"
	TaskStateInputReq  TaskState = "input-required"
	TaskStateCompleted TaskState = "completed"
	TaskStateCanceled  TaskState = "canceled"
	TaskStateFailed    TaskState = "failed"
	TaskStateUnknown   TaskState = "unknown"
)

/*
IsTerminal reports whether the state has no outgoing edges.  Once a task
reaches a terminal state every further mutation must be rejected.
*/
func (state TaskState) IsTerminal() bool {
	switch state {
	case TaskStateCompleted, TaskStateCanceled, TaskStateFailed:
		return true
	}
	return false
}

// allowedTransitions holds the legal edges of the task lifecycle.
var allowedTransitions = map[TaskState][]TaskState{
	TaskStateSubmitted: {
		TaskStateWorking,
		TaskStateInputReq,
		TaskStateCompleted,
		TaskStateCanceled,
		TaskStateFailed,
	},
	TaskStateWorking: {
		TaskStateInputReq,
		TaskStateCompleted,
		TaskStateCanceled,
		TaskStateFailed,
	},
	TaskStateInputReq: {
		TaskStateWorking,
		TaskStateCanceled,
		TaskStateFailed,
	},
}

/*
CanTransitionTo reports whether the edge from the receiver to next is part
of the task lifecycle.
*/
func (state TaskState) CanTransitionTo(next TaskState) bool {
	for _, candidate := range allowedTransitions[state] {
		if candidate == next {
			return true
		}
	}
	return false
}

type TaskStatus struct {
	State     TaskState `json:"state"`
	Message   *Message  `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}
