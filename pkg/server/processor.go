package server

import (
	"context"

	"github.com/openpriorauth/a4a-go/pkg/a2a"
)

/*
TaskProcessor is the domain contract.  ServerCore routes a new request to
the first processor whose CanHandle returns true and then drives the task
through Start and, after an input-required pause, Resume.

Implementations must never leave a task stuck: ServerCore converts any
returned error or panic into a terminal failed record, but a processor
returning nil is expected to have moved the task out of submitted itself.
*/
type TaskProcessor interface {
	// CanHandle is a pure predicate used for routing.  No side effects.
	CanHandle(params a2a.TaskSendParams) bool

	// Start is invoked exactly once per task, when no prior record exists.
	// A missing auth context is the processor's decision to fail, not the
	// transport's, so the refusal lands in the task history.
	Start(ctx context.Context, params a2a.TaskSendParams, updater *TaskUpdater, auth *AuthContext) error

	// Resume is invoked when a new message arrives for a task whose
	// persisted state, before ServerCore's bookkeeping transition to
	// working, was input-required.  The task argument is the pre-resume
	// snapshot; implementations should re-check its status and treat
	// anything other than input-required as a stray message.
	Resume(ctx context.Context, task a2a.Task, message a2a.Message, updater *TaskUpdater, auth *AuthContext) error
}
