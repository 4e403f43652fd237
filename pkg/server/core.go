package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/openpriorauth/a4a-go/pkg/a2a"
	"github.com/openpriorauth/a4a-go/pkg/errors"
	"github.com/openpriorauth/a4a-go/pkg/sse"
	"github.com/openpriorauth/a4a-go/pkg/stores"
)

/*
Core dispatches the three task operations to the registered processors and
owns the bookkeeping around task creation, resumption and cancellation.

Start/Resume invocations are serialized per task id: the processor holding
a task is the only writer until its invocation returns.  Cancellation is
the one out-of-band mutation – whichever write reaches the store first
wins, and the loser's updater calls bounce off the terminal check.
*/
type Core struct {
	card       a2a.AgentCard
	store      stores.TaskStore
	processors []TaskProcessor
	broker     *sse.Broker

	// Auth derives the caller context per call.  Nil means every caller
	// is anonymous and processors receive a nil AuthContext.
	Auth AuthFunc

	mu       sync.Mutex
	runLocks map[string]*sync.Mutex
	owners   map[string]TaskProcessor
	watched  map[string]struct{}

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewCore(card a2a.AgentCard, store stores.TaskStore, processors ...TaskProcessor) *Core {
	return &Core{
		card:       card,
		store:      store,
		processors: processors,
		broker:     sse.NewBroker(),
		runLocks:   make(map[string]*sync.Mutex),
		owners:     make(map[string]TaskProcessor),
		watched:    make(map[string]struct{}),
		done:       make(chan struct{}),
	}
}

func (core *Core) Card() a2a.AgentCard {
	return core.card
}

func (core *Core) Broker() *sse.Broker {
	return core.broker
}

func (core *Core) Store() stores.TaskStore {
	return core.store
}

// Authenticate derives the caller context from the Authorization header.
func (core *Core) Authenticate(authorization string) *AuthContext {
	if core.Auth == nil {
		return nil
	}
	return core.Auth(authorization)
}

/*
SendTask creates a new task or resumes a paused one.  The returned snapshot
reflects the record immediately after bookkeeping; processing continues
asynchronously and is observed through SSE or polling.
*/
func (core *Core) SendTask(ctx context.Context, params a2a.TaskSendParams, auth *AuthContext) (*a2a.Task, *errors.RpcError) {
	if err := params.Message.Validate(); err != nil {
		return nil, errors.ErrInvalidParams.WithMessagef("invalid message: %v", err)
	}

	if params.ID != "" {
		prior, rpcErr := core.store.Get(ctx, params.ID)

		if rpcErr == nil {
			return core.resumeTask(ctx, prior, params, auth)
		}

		if rpcErr.Code != errors.ErrTaskNotFound.Code {
			return nil, rpcErr
		}
		// Unknown id asserted by the caller: treat as a fresh task.
	}

	return core.createTask(ctx, params, auth)
}

// GetTask returns the sanitized snapshot of a task.
func (core *Core) GetTask(ctx context.Context, id string, historyLength *int) (*a2a.Task, *errors.RpcError) {
	task, rpcErr := core.store.Get(ctx, id)

	if rpcErr != nil {
		return nil, rpcErr
	}

	snapshot := task.Sanitized()

	if historyLength != nil && *historyLength >= 0 && len(snapshot.History) > *historyLength {
		snapshot.History = snapshot.History[len(snapshot.History)-*historyLength:]
	}

	return snapshot, nil
}

/*
CancelTask transitions a non-terminal task to canceled.  An in-flight
processor invocation keeps running, but every update it attempts afterwards
is rejected by the terminal check.
*/
func (core *Core) CancelTask(ctx context.Context, id string) (*a2a.Task, *errors.RpcError) {
	snapshot, rpcErr := core.store.Update(ctx, id, func(task *a2a.Task) *errors.RpcError {
		if task.Status.State.IsTerminal() {
			return errors.ErrTaskNotCancelable.WithMessagef(
				"task %s already %s", task.ID, task.Status.State)
		}

		task.ToStatus(a2a.TaskStateCanceled, a2a.NewTextMessage(a2a.RoleAgent, "Task canceled by request."))
		return nil
	})

	if rpcErr != nil {
		return nil, rpcErr
	}

	log.Info("task canceled", "task", id)
	return snapshot.Sanitized(), nil
}

// Close waits for in-flight processor invocations and tears down fan-out.
func (core *Core) Close() {
	core.closeOnce.Do(func() {
		close(core.done)
		core.wg.Wait()
		core.broker.Close()
	})
}

func (core *Core) createTask(ctx context.Context, params a2a.TaskSendParams, auth *AuthContext) (*a2a.Task, *errors.RpcError) {
	task := a2a.NewTask(params.ID)
	task.Metadata = params.Metadata
	task.AddMessage(params.Message)

	if rpcErr := core.store.Create(ctx, task); rpcErr != nil {
		return nil, rpcErr
	}

	core.watch(task.ID)

	proc := core.route(params)
	updater := NewTaskUpdater(core.store, task.ID)

	if proc == nil {
		// No processor claims the request: that is a completed no-op, not
		// a protocol error.
		log.Info("no processor matched, completing without action", "task", task.ID)
		core.invoke(task.ID, func() {
			_ = updater.SignalCompletion(context.Background(), a2a.TaskStateCompleted,
				a2a.NewTextMessage(a2a.RoleAgent, "No action needed for this request."))
		})
		return task.Sanitized(), nil
	}

	core.mu.Lock()
	core.owners[task.ID] = proc
	core.mu.Unlock()

	core.invoke(task.ID, func() {
		core.run(updater, func() error {
			return proc.Start(context.Background(), params, updater, auth)
		})
	})

	return task.Sanitized(), nil
}

func (core *Core) resumeTask(ctx context.Context, prior *a2a.Task, params a2a.TaskSendParams, auth *AuthContext) (*a2a.Task, *errors.RpcError) {
	var preResume *a2a.Task

	// Atomically claim the pause: only an input-required task may be
	// resumed, and the transition to working is the claim itself.
	snapshot, rpcErr := core.store.Update(ctx, prior.ID, func(task *a2a.Task) *errors.RpcError {
		if task.Status.State.IsTerminal() {
			return errors.ErrTaskFinished.WithMessagef(
				"task %s already %s", task.ID, task.Status.State)
		}

		if task.Status.State != a2a.TaskStateInputReq {
			return errors.ErrTaskBusy.WithMessagef(
				"task %s is %s", task.ID, task.Status.State)
		}

		preResume = task.Clone()
		task.AddMessage(params.Message)
		task.Status.State = a2a.TaskStateWorking
		task.Status.Message = nil
		task.Status.Timestamp = time.Now().UTC()

		return nil
	})

	if rpcErr != nil {
		return nil, rpcErr
	}

	core.watch(prior.ID)

	core.mu.Lock()
	proc := core.owners[prior.ID]
	core.mu.Unlock()

	updater := NewTaskUpdater(core.store, prior.ID)

	if proc == nil {
		// Owner lost (should not happen with the in-memory store); fail
		// the task rather than leaving it stuck in working.
		core.invoke(prior.ID, func() {
			_ = updater.SignalCompletion(context.Background(), a2a.TaskStateFailed,
				a2a.NewTextMessage(a2a.RoleAgent, "No processor owns this task."))
		})
		return snapshot.Sanitized(), nil
	}

	core.invoke(prior.ID, func() {
		core.run(updater, func() error {
			return proc.Resume(context.Background(), *preResume, params.Message, updater, auth)
		})
	})

	return snapshot.Sanitized(), nil
}

// route returns the first processor claiming the request, or nil.
func (core *Core) route(params a2a.TaskSendParams) TaskProcessor {
	for _, proc := range core.processors {
		if proc.CanHandle(params) {
			return proc
		}
	}
	return nil
}

/*
run executes a processor invocation and converts every failure mode –
returned error or panic – into a terminal failed record so a processor bug
can never leave a task stuck in working.
*/
func (core *Core) run(updater *TaskUpdater, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("processor panic", "task", updater.TaskID(), "panic", r)
			_ = updater.SignalCompletion(context.Background(), a2a.TaskStateFailed,
				a2a.NewTextMessage(a2a.RoleAgent, fmt.Sprintf("processor panic: %v", r)))
		}
	}()

	if err := fn(); err != nil {
		log.Error("processor error", "task", updater.TaskID(), "error", err)
		_ = updater.SignalCompletion(context.Background(), a2a.TaskStateFailed,
			a2a.NewTextMessage(a2a.RoleAgent, err.Error()))
	}
}

// invoke runs fn under the task's invocation lock so Start/Resume never
// interleave for one id.
func (core *Core) invoke(taskID string, fn func()) {
	core.mu.Lock()
	lock, ok := core.runLocks[taskID]
	if !ok {
		lock = &sync.Mutex{}
		core.runLocks[taskID] = lock
	}
	core.mu.Unlock()

	core.wg.Add(1)

	go func() {
		defer core.wg.Done()
		lock.Lock()
		defer lock.Unlock()
		fn()
	}()
}

// forget drops the per-task bookkeeping once the task is terminal.  New
// operations on the id are rejected before any of these entries would be
// consulted, so a long-running server does not accumulate them.
func (core *Core) forget(taskID string) {
	core.mu.Lock()
	defer core.mu.Unlock()

	delete(core.watched, taskID)
	delete(core.owners, taskID)
	delete(core.runLocks, taskID)
}

// watch forwards store snapshots for one task into the SSE broker until
// the task reaches a terminal state.
func (core *Core) watch(taskID string) {
	core.mu.Lock()
	if _, ok := core.watched[taskID]; ok {
		core.mu.Unlock()
		return
	}
	core.watched[taskID] = struct{}{}
	core.mu.Unlock()

	ch, cancel := core.store.Subscribe(taskID)

	core.wg.Add(1)

	go func() {
		defer core.wg.Done()
		defer cancel()
		defer core.forget(taskID)

		for {
			select {
			case <-core.done:
				return
			case snapshot, ok := <-ch:
				if !ok {
					return
				}

				if err := core.broker.Publish(taskID, snapshot); err != nil {
					log.Error("failed to publish task snapshot", "task", taskID, "error", err)
				}

				if snapshot.Status.State.IsTerminal() {
					return
				}
			}
		}
	}()
}
