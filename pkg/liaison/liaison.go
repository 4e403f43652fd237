package liaison

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/openpriorauth/a4a-go/pkg/a2a"
	"github.com/openpriorauth/a4a-go/pkg/client"
)

// Status collapses the connection's fine-grained states into a small set
// suitable for direct UI binding.
type Status string

const (
	StatusIdle          Status = "idle"
	StatusInitializing  Status = "initializing"
	StatusConnecting    Status = "connecting"
	StatusRunning       Status = "running"
	StatusAwaitingInput Status = "awaiting-input"
	StatusReconnecting  Status = "reconnecting"
	StatusSending       Status = "sending"
	StatusCanceling     Status = "canceling"
	StatusCompleted     Status = "completed"
	StatusError         Status = "error"
)

// ErrConnectionActive is returned when a task is started while another
// conversation is still running.
var ErrConnectionActive = stderrors.New("a task connection is already active")

// maxAutoDepth bounds consecutive automatic replies so a responder that
// never satisfies the agent cannot loop forever.
const maxAutoDepth = 8

/*
AutoResponder is offered every input-required pause before it reaches the
human.  Returning a non-nil message answers on the caller's behalf;
returning nil (or an error) surfaces the raw question instead.
*/
type AutoResponder func(ctx context.Context, question a2a.Message) (*a2a.Message, error)

/*
Update is one entry on the liaison's outbound stream.  Question is set
only when an input-required pause could not be resolved automatically.
*/
type Update struct {
	Status   Status
	Task     *a2a.Task
	Question *a2a.Message
	Err      error
	Reason   client.CloseReason
}

/*
TaskLiaison wraps one ClientConnection per logical conversation.  It owns
at most one connection at a time, intercepts pauses with the configured
AutoResponder, and exposes a collapsed status stream.
*/
type TaskLiaison struct {
	agentURL      string
	cfg           client.Config
	AutoResponder AutoResponder

	mu     sync.Mutex
	conn   *client.ClientConnection
	status Status
	depth  int

	updates   chan Update
	updatesMu sync.Mutex
	closed    bool

	alive        atomic.Bool
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

func New(agentURL string, cfg client.Config) *TaskLiaison {
	liaison := &TaskLiaison{
		agentURL: agentURL,
		cfg:      cfg,
		status:   StatusIdle,
		updates:  make(chan Update, 32),
	}
	liaison.alive.Store(true)
	return liaison
}

// Updates returns the collapsed status stream.  Closed by Shutdown.
func (liaison *TaskLiaison) Updates() <-chan Update {
	return liaison.updates
}

func (liaison *TaskLiaison) Status() Status {
	liaison.mu.Lock()
	defer liaison.mu.Unlock()
	return liaison.status
}

func (liaison *TaskLiaison) Task() *a2a.Task {
	liaison.mu.Lock()
	conn := liaison.conn
	liaison.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.CurrentTask()
}

/*
StartTask begins a new conversation.  Starting one while another is active
is a usage error.
*/
func (liaison *TaskLiaison) StartTask(ctx context.Context, params a2a.TaskSendParams) error {
	return liaison.attach(func() (*client.ClientConnection, error) {
		return client.Create(ctx, liaison.agentURL, params, liaison.cfg)
	})
}

// ResumeTask reattaches to a task started in an earlier session.
func (liaison *TaskLiaison) ResumeTask(ctx context.Context, taskID string) error {
	return liaison.attach(func() (*client.ClientConnection, error) {
		return client.Resume(ctx, liaison.agentURL, taskID, liaison.cfg)
	})
}

func (liaison *TaskLiaison) attach(dial func() (*client.ClientConnection, error)) error {
	liaison.mu.Lock()

	if liaison.conn != nil {
		liaison.mu.Unlock()
		return ErrConnectionActive
	}

	liaison.status = StatusInitializing
	liaison.depth = 0
	liaison.mu.Unlock()

	liaison.push(Update{Status: StatusInitializing})

	conn, err := dial()

	if !liaison.alive.Load() {
		// Torn down while dialing; make sure the late connection does not
		// leak a monitor goroutine.
		if conn != nil {
			conn.Close(client.CloseByRestart)
		}
		return nil
	}

	if err != nil {
		liaison.setStatus(StatusError)
		liaison.push(Update{Status: StatusError, Err: err})
		return err
	}

	liaison.mu.Lock()
	liaison.conn = conn
	liaison.mu.Unlock()

	liaison.wg.Add(1)
	go liaison.watch(conn)

	return nil
}

/*
Send forwards a human reply to a surfaced pause.
*/
func (liaison *TaskLiaison) Send(ctx context.Context, message a2a.Message) error {
	conn := liaison.connection()

	if conn == nil {
		return stderrors.New("no active task connection")
	}

	return conn.Send(ctx, message)
}

// Cancel requests cancellation of the active conversation.
func (liaison *TaskLiaison) Cancel(ctx context.Context) error {
	conn := liaison.connection()

	if conn == nil {
		return nil
	}

	return conn.Cancel(ctx)
}

/*
Shutdown tears the liaison down exactly once, closing any active
connection even if initialization is still in flight.
*/
func (liaison *TaskLiaison) Shutdown() {
	liaison.shutdownOnce.Do(func() {
		liaison.alive.Store(false)

		conn := liaison.connection()

		if conn != nil {
			conn.Close(client.CloseByRestart)
		}

		liaison.wg.Wait()

		liaison.updatesMu.Lock()
		liaison.closed = true
		close(liaison.updates)
		liaison.updatesMu.Unlock()
	})
}

func (liaison *TaskLiaison) connection() *client.ClientConnection {
	liaison.mu.Lock()
	defer liaison.mu.Unlock()
	return liaison.conn
}

// watch drains one connection's event stream until it closes.
func (liaison *TaskLiaison) watch(conn *client.ClientConnection) {
	defer liaison.wg.Done()

	for event := range conn.Events() {
		if !liaison.alive.Load() {
			continue
		}

		switch event.Type {
		case client.EventStatusUpdate:
			if event.Task != nil && event.Task.Status.State == a2a.TaskStateInputReq {
				liaison.handlePause(conn, event.Task)
				continue
			}

			status := collapse(conn.CurrentState())
			liaison.setStatus(status)
			liaison.push(Update{Status: status, Task: event.Task})
		case client.EventTaskUpdate, client.EventArtifactUpdate:
			liaison.push(Update{Status: liaison.Status(), Task: event.Task})
		case client.EventError:
			liaison.push(Update{Status: liaison.Status(), Task: event.Task, Err: event.Err})
		case client.EventClose:
			status := StatusCompleted
			if event.Reason == client.CloseTaskFailed {
				status = StatusError
			}

			liaison.mu.Lock()
			liaison.conn = nil
			liaison.status = status
			liaison.mu.Unlock()

			liaison.push(Update{Status: status, Task: event.Task, Reason: event.Reason})
			return
		}
	}
}

/*
handlePause offers the agent's question to the AutoResponder first.  Each
pause is offered independently, so a responder whose own answer triggers
another pause is consulted again, up to maxAutoDepth times.
*/
func (liaison *TaskLiaison) handlePause(conn *client.ClientConnection, task *a2a.Task) {
	question := task.Status.Message

	liaison.mu.Lock()
	liaison.depth++
	depth := liaison.depth
	responder := liaison.AutoResponder
	liaison.mu.Unlock()

	if responder == nil || question == nil || depth > maxAutoDepth {
		if depth > maxAutoDepth {
			log.Warn("auto responder depth exceeded, surfacing pause",
				"task", task.ID, "depth", depth)
		}
		liaison.surface(task, question)
		return
	}

	reply, err := responder(context.Background(), *question)

	if !liaison.alive.Load() {
		return
	}

	if err != nil {
		log.Warn("auto responder failed, surfacing pause", "task", task.ID, "error", err)
		liaison.surface(task, question)
		return
	}

	if reply == nil {
		liaison.surface(task, question)
		return
	}

	liaison.setStatus(StatusSending)

	if err := conn.Send(context.Background(), *reply); err != nil {
		log.Warn("auto reply failed, surfacing pause", "task", task.ID, "error", err)
		liaison.surface(task, question)
	}
}

// surface exposes the raw pause to the human caller.  Handing over to the
// human breaks the automatic reply chain, so the depth counter restarts.
func (liaison *TaskLiaison) surface(task *a2a.Task, question *a2a.Message) {
	liaison.mu.Lock()
	liaison.depth = 0
	liaison.mu.Unlock()

	liaison.setStatus(StatusAwaitingInput)
	liaison.push(Update{Status: StatusAwaitingInput, Task: task, Question: question})
}

func (liaison *TaskLiaison) setStatus(status Status) {
	liaison.mu.Lock()
	defer liaison.mu.Unlock()
	liaison.status = status
}

func (liaison *TaskLiaison) push(update Update) {
	liaison.updatesMu.Lock()
	defer liaison.updatesMu.Unlock()

	if liaison.closed {
		return
	}

	select {
	case liaison.updates <- update:
	default:
		log.Warn("update listener is slow, dropping update", "status", update.Status)
	}
}

func collapse(state client.ConnectionState) Status {
	switch state {
	case client.StateIdle:
		return StatusIdle
	case client.StateInitializing, client.StateFetchingCard, client.StateDeterminingStrategy:
		return StatusInitializing
	case client.StateStartingSSE, client.StateConnectingSSE, client.StateStartingPoll:
		return StatusConnecting
	case client.StateConnectedSSE, client.StatePolling:
		return StatusRunning
	case client.StateReconnectingSSE, client.StateRetryingPoll:
		return StatusReconnecting
	case client.StateInputRequired:
		return StatusAwaitingInput
	case client.StateSending:
		return StatusSending
	case client.StateCanceling:
		return StatusCanceling
	case client.StateClosed:
		return StatusCompleted
	default:
		return StatusRunning
	}
}
