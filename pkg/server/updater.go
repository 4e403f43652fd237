package server

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/openpriorauth/a4a-go/pkg/a2a"
	"github.com/openpriorauth/a4a-go/pkg/errors"
	"github.com/openpriorauth/a4a-go/pkg/stores"
)

/*
TaskUpdater is the only API a processor may use to mutate its task.  Every
mutation funnels through the store's atomic Update so per-id serialization
holds and subscription fan-out fires exactly once per change.

Once a terminal state is written the updater becomes inert: further calls
are logged and rejected, which is how a canceled task shrugs off late
writes from a still-running processor.
*/
type TaskUpdater struct {
	store  stores.TaskStore
	taskID string
	inert  atomic.Bool
}

func NewTaskUpdater(store stores.TaskStore, taskID string) *TaskUpdater {
	return &TaskUpdater{
		store:  store,
		taskID: taskID,
	}
}

func (updater *TaskUpdater) TaskID() string {
	return updater.taskID
}

/*
UpdateStatus transitions the task and appends the accompanying message to
the history.  Illegal edges and writes past a terminal state are rejected.
*/
func (updater *TaskUpdater) UpdateStatus(ctx context.Context, state a2a.TaskState, message *a2a.Message) *errors.RpcError {
	if updater.inert.Load() {
		log.Warn("updater is inert, rejecting status update",
			"task", updater.taskID, "state", state)
		return errors.ErrTaskTerminal
	}

	_, rpcErr := updater.store.Update(ctx, updater.taskID, func(task *a2a.Task) *errors.RpcError {
		if task.Status.State.IsTerminal() {
			return errors.ErrTaskTerminal.WithMessagef(
				"task %s already %s", task.ID, task.Status.State)
		}

		if !task.Status.State.CanTransitionTo(state) {
			return errors.ErrInvalidParams.WithMessagef(
				"invalid state transition from %s to %s", task.Status.State, state)
		}

		task.ToStatus(state, message)
		return nil
	})

	if rpcErr != nil {
		log.Warn("status update rejected",
			"task", updater.taskID, "state", state, "error", rpcErr)
		return rpcErr
	}

	if state.IsTerminal() {
		updater.inert.Store(true)
	}

	log.Info("task status update", "task", updater.taskID, "state", state)
	return nil
}

/*
AddArtifact appends an output unit.  ID, index and timestamp are assigned
here so processors only describe content.
*/
func (updater *TaskUpdater) AddArtifact(ctx context.Context, artifact a2a.Artifact) *errors.RpcError {
	if updater.inert.Load() {
		log.Warn("updater is inert, rejecting artifact", "task", updater.taskID)
		return errors.ErrTaskTerminal
	}

	_, rpcErr := updater.store.Update(ctx, updater.taskID, func(task *a2a.Task) *errors.RpcError {
		if task.Status.State.IsTerminal() {
			return errors.ErrTaskTerminal.WithMessagef(
				"task %s already %s", task.ID, task.Status.State)
		}

		artifact.ID = uuid.NewString()
		artifact.Index = len(task.Artifacts)
		artifact.Timestamp = time.Now().UTC()
		task.AddArtifact(artifact)
		return nil
	})

	return rpcErr
}

/*
SignalCompletion drives the task into a terminal state.  The updater is
inert afterwards regardless of which terminal state was written.
*/
func (updater *TaskUpdater) SignalCompletion(ctx context.Context, state a2a.TaskState, message *a2a.Message) *errors.RpcError {
	if !state.IsTerminal() {
		return errors.ErrInvalidParams.WithMessagef("%s is not a terminal state", state)
	}

	return updater.UpdateStatus(ctx, state, message)
}

/*
SetInternalState replaces the processor-private continuation bag.  The bag
never reaches the client: sanitized snapshots strip it.
*/
func (updater *TaskUpdater) SetInternalState(ctx context.Context, state map[string]any) *errors.RpcError {
	if updater.inert.Load() {
		return errors.ErrTaskTerminal
	}

	_, rpcErr := updater.store.Update(ctx, updater.taskID, func(task *a2a.Task) *errors.RpcError {
		if task.Status.State.IsTerminal() {
			return errors.ErrTaskTerminal
		}

		task.InternalState = state
		return nil
	})

	return rpcErr
}

// InternalState returns the processor-private bag of the current record.
func (updater *TaskUpdater) InternalState(ctx context.Context) (map[string]any, *errors.RpcError) {
	task, rpcErr := updater.store.Get(ctx, updater.taskID)

	if rpcErr != nil {
		return nil, rpcErr
	}

	return task.InternalState, nil
}
