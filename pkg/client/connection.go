package client

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/openpriorauth/a4a-go/pkg/a2a"
	"github.com/openpriorauth/a4a-go/pkg/errors"
	"github.com/openpriorauth/a4a-go/pkg/jsonrpc"
	"github.com/openpriorauth/a4a-go/pkg/sse"
)

var (
	// ErrInvalidState is returned by Send when the task is not awaiting input.
	ErrInvalidState = stderrors.New("task is not awaiting input")
	// ErrClosed is returned by operations on a closed connection.
	ErrClosed = stderrors.New("connection is closed")
)

/*
Config tunes one connection.  Zero values pick the defaults: 1s poll
interval, the shared retry schedule for reconnects, a 32-event buffer.
*/
type Config struct {
	// ForcePoll skips SSE negotiation entirely, even against a streaming
	// capable agent.
	ForcePoll bool

	PollInterval time.Duration
	Reconnect    *errors.RetryConfig

	// Token is attached as a bearer credential to every RPC and stream
	// request.  Optional.
	Token string

	EventBuffer int
}

func (cfg Config) withDefaults() Config {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Reconnect == nil {
		cfg.Reconnect = errors.DefaultRetryConfig()
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 32
	}
	return cfg
}

type inboxMsg struct {
	snapshot *a2a.Task
	state    ConnectionState
	err      error
	fallback bool
	fatal    bool
}

/*
ClientConnection is the per-task state machine on the caller side.  All
transport callbacks funnel through one internal loop goroutine, so no two
snapshots are ever processed concurrently and the event stream is ordered.

The snapshot held by the connection is only ever replaced by server
confirmed state; the one local mutation is clearing the pending question
right before a send so it cannot flicker back.
*/
type ClientConnection struct {
	agentURL string
	cfg      Config
	rpc      *jsonrpc.Client
	card     a2a.AgentCard

	events chan Event
	inbox  chan inboxMsg
	stop   chan struct{}

	mu               sync.Mutex
	state            ConnectionState
	steady           ConnectionState
	taskID           string
	task             *a2a.Task
	canceledByClient bool

	eventsMu     sync.Mutex
	eventsClosed bool

	closed    atomic.Bool
	closeOnce sync.Once

	sseMu     sync.Mutex
	sseClient *sse.Client

	wg sync.WaitGroup
}

/*
Create starts a fresh task on the agent and begins monitoring it.
*/
func Create(ctx context.Context, agentURL string, params a2a.TaskSendParams, cfg Config) (*ClientConnection, error) {
	conn := newConnection(agentURL, cfg)

	err := conn.initialize(ctx, func(ctx context.Context) (*a2a.Task, error) {
		var task a2a.Task

		if err := conn.rpc.Call(ctx, "tasks/send", params, &task); err != nil {
			return nil, fmt.Errorf("failed to create task: %w", err)
		}

		return &task, nil
	})

	if err != nil {
		conn.abort()
		return nil, err
	}

	return conn, nil
}

/*
Resume attaches to an existing task, seeding local state from tasks/get
before the transport comes up.
*/
func Resume(ctx context.Context, agentURL string, taskID string, cfg Config) (*ClientConnection, error) {
	conn := newConnection(agentURL, cfg)

	err := conn.initialize(ctx, func(ctx context.Context) (*a2a.Task, error) {
		var task a2a.Task

		params := a2a.TaskQueryParams{TaskIDParams: a2a.TaskIDParams{ID: taskID}}

		if err := conn.rpc.Call(ctx, "tasks/get", params, &task); err != nil {
			return nil, fmt.Errorf("failed to resume task %s: %w", taskID, err)
		}

		return &task, nil
	})

	if err != nil {
		conn.abort()
		return nil, err
	}

	return conn, nil
}

func newConnection(agentURL string, cfg Config) *ClientConnection {
	cfg = cfg.withDefaults()

	rpc := jsonrpc.NewClient(strings.TrimRight(agentURL, "/") + "/a2a")
	rpc.Token = cfg.Token

	return &ClientConnection{
		agentURL: strings.TrimRight(agentURL, "/"),
		cfg:      cfg,
		rpc:      rpc,
		// One slot beyond the configured buffer is reserved for the close
		// event, which must never be dropped.
		events:   make(chan Event, cfg.EventBuffer+1),
		inbox:    make(chan inboxMsg, 16),
		stop:     make(chan struct{}),
		state:    StateIdle,
		steady:   StatePolling,
	}
}

// FetchAgentCard retrieves the agent's discovery document.
func FetchAgentCard(ctx context.Context, agentURL string) (*a2a.AgentCard, error) {
	url := strings.TrimRight(agentURL, "/") + "/.well-known/agent-card"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)

	if err != nil {
		return nil, err
	}

	resp, err := http.DefaultClient.Do(req)

	if err != nil {
		return nil, fmt.Errorf("failed to fetch agent card: %w", err)
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("agent card request returned %d", resp.StatusCode)
	}

	var card a2a.AgentCard

	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return nil, fmt.Errorf("failed to decode agent card: %w", err)
	}

	return &card, nil
}

func (conn *ClientConnection) initialize(ctx context.Context, seed func(context.Context) (*a2a.Task, error)) error {
	conn.setState(StateInitializing)
	conn.setState(StateFetchingCard)

	// The card fetch is the first contact with the agent, so transient
	// startup failures get the shared retry schedule.
	var card *a2a.AgentCard

	err := errors.RetryWithBackoff(conn.cfg.Reconnect, func() error {
		fetched, fetchErr := FetchAgentCard(ctx, conn.agentURL)

		if fetchErr != nil {
			return fetchErr
		}

		card = fetched
		return nil
	})

	if err != nil {
		return err
	}

	if conn.closed.Load() {
		return ErrClosed
	}

	conn.card = *card

	conn.setState(StateDeterminingStrategy)
	streaming := card.Capabilities.Streaming && !conn.cfg.ForcePoll

	task, err := seed(ctx)

	if err != nil {
		return err
	}

	if conn.closed.Load() {
		return ErrClosed
	}

	conn.mu.Lock()
	conn.taskID = task.ID
	conn.mu.Unlock()

	conn.wg.Add(1)
	go conn.run()

	if streaming {
		conn.setState(StateStartingSSE)
		conn.setSteady(StateConnectedSSE)
		conn.startSSE()
	} else {
		conn.setState(StateStartingPoll)
		conn.setSteady(StatePolling)
		conn.startPoll()
	}

	// Route the seed snapshot through the loop so a task that is already
	// paused or terminal is surfaced the same way a live update would be.
	conn.deliver(inboxMsg{snapshot: task})

	return nil
}

/*
Send delivers the caller's reply to a paused task.  Legal only while the
last known task state is input-required; anything else is a usage error
and no network call is made.
*/
func (conn *ClientConnection) Send(ctx context.Context, message a2a.Message) error {
	if conn.closed.Load() {
		return ErrClosed
	}

	conn.mu.Lock()

	if conn.task == nil || conn.task.Status.State != a2a.TaskStateInputReq {
		state := a2a.TaskStateUnknown
		if conn.task != nil {
			state = conn.task.Status.State
		}
		conn.mu.Unlock()
		return fmt.Errorf("%w: task is %s", ErrInvalidState, state)
	}

	taskID := conn.task.ID
	// Clear the pending question before the round trip so it cannot
	// flicker back while the server transitions to working.
	conn.task.Status.Message = nil
	prev := conn.state
	conn.state = StateSending
	conn.mu.Unlock()

	var updated a2a.Task
	err := conn.rpc.Call(ctx, "tasks/send", a2a.TaskSendParams{ID: taskID, Message: message}, &updated)

	if conn.closed.Load() {
		return nil
	}

	if err != nil {
		conn.mu.Lock()
		if conn.state == StateSending {
			conn.state = prev
		}
		conn.mu.Unlock()

		conn.emit(Event{Type: EventError, Err: fmt.Errorf("send failed: %w", err), State: conn.CurrentState()})
		return err
	}

	conn.deliver(inboxMsg{snapshot: &updated})
	return nil
}

/*
Cancel asks the agent to cancel the task.  The server may race a natural
completion with the cancel; losing that race is not an error.  Calling
Cancel on an already closed connection is a no-op.
*/
func (conn *ClientConnection) Cancel(ctx context.Context) error {
	if conn.closed.Load() {
		return nil
	}

	conn.mu.Lock()
	taskID := conn.taskID
	conn.canceledByClient = true
	prev := conn.state
	conn.state = StateCanceling
	conn.mu.Unlock()

	if taskID == "" {
		conn.Close(CloseByCaller)
		return nil
	}

	var updated a2a.Task
	err := conn.rpc.Call(ctx, "tasks/cancel", a2a.TaskIDParams{ID: taskID}, &updated)

	if conn.closed.Load() {
		return nil
	}

	if err != nil {
		if jsonrpc.IsRpcError(err, errors.ErrTaskNotCancelable) || jsonrpc.IsRpcError(err, errors.ErrTaskFinished) {
			// Lost the race with a natural terminal state.  The terminal
			// snapshot reaches us through the transport.
			log.Info("cancel lost the race with completion", "task", taskID)
			return nil
		}

		conn.mu.Lock()
		if conn.state == StateCanceling {
			conn.state = prev
		}
		conn.canceledByClient = false
		conn.mu.Unlock()

		conn.emit(Event{Type: EventError, Err: fmt.Errorf("cancel failed: %w", err), State: conn.CurrentState()})
		return err
	}

	conn.deliver(inboxMsg{snapshot: &updated})
	return nil
}

/*
Close ends the connection permanently.  Idempotent: the close event is
emitted exactly once, no matter how many callers race into it.
*/
func (conn *ClientConnection) Close(reason CloseReason) {
	conn.closeOnce.Do(func() {
		conn.closed.Store(true)

		conn.sseMu.Lock()
		if conn.sseClient != nil {
			_ = conn.sseClient.Close()
		}
		conn.sseMu.Unlock()

		close(conn.stop)

		conn.mu.Lock()
		conn.state = StateClosed
		task := conn.task
		conn.mu.Unlock()

		log.Info("connection closed", "task", taskIDOf(task), "reason", reason)

		conn.eventsMu.Lock()
		defer conn.eventsMu.Unlock()

		// emit never fills the reserved slot, so this send cannot block.
		conn.events <- Event{Type: EventClose, Reason: reason, State: StateClosed, Task: task}

		conn.eventsClosed = true
		close(conn.events)
	})
}

// abort tears down a connection whose initialization failed, without
// emitting a close event nobody is listening for yet.
func (conn *ClientConnection) abort() {
	conn.closeOnce.Do(func() {
		conn.closed.Store(true)
		close(conn.stop)

		conn.eventsMu.Lock()
		conn.eventsClosed = true
		close(conn.events)
		conn.eventsMu.Unlock()

		conn.mu.Lock()
		conn.state = StateClosed
		conn.mu.Unlock()
	})
}

// Events returns the ordered event stream.  Closed exactly once, after
// the close event.
func (conn *ClientConnection) Events() <-chan Event {
	return conn.events
}

func (conn *ClientConnection) CurrentState() ConnectionState {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	return conn.state
}

func (conn *ClientConnection) CurrentTask() *a2a.Task {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	return conn.task
}

func (conn *ClientConnection) TaskID() string {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	return conn.taskID
}

func (conn *ClientConnection) Card() a2a.AgentCard {
	return conn.card
}

// run is the single goroutine applying transport input to the machine.
func (conn *ClientConnection) run() {
	defer conn.wg.Done()

	for {
		select {
		case <-conn.stop:
			return
		case msg := <-conn.inbox:
			conn.handle(msg)
		}
	}
}

func (conn *ClientConnection) handle(msg inboxMsg) {
	switch {
	case msg.snapshot != nil:
		conn.applySnapshot(msg.snapshot)
	case msg.fallback:
		log.Warn("stream retries exhausted, falling back to polling", "task", conn.TaskID())
		conn.setState(StateStartingPoll)
		conn.setSteady(StatePolling)
		conn.startPoll()
	case msg.fatal:
		conn.emit(Event{Type: EventError, Err: msg.err, State: conn.CurrentState(), Task: conn.CurrentTask()})
		conn.Close(CloseTaskFailed)
	case msg.err != nil:
		conn.emit(Event{Type: EventError, Err: msg.err, State: conn.CurrentState(), Task: conn.CurrentTask()})
	case msg.state != "":
		conn.setTransportState(msg.state)
	}
}

/*
applySnapshot reconciles a server-confirmed snapshot into local state and
emits the derived events.  Unchanged snapshots (poll repeats) emit nothing.
*/
func (conn *ClientConnection) applySnapshot(task *a2a.Task) {
	conn.mu.Lock()
	prev := conn.task

	statusChanged := prev == nil ||
		prev.Status.State != task.Status.State ||
		!prev.Status.Timestamp.Equal(task.Status.Timestamp) ||
		len(prev.History) != len(task.History)
	artifactsGrew := (prev == nil && len(task.Artifacts) > 0) ||
		(prev != nil && len(task.Artifacts) > len(prev.Artifacts))
	changed := prev == nil || statusChanged || artifactsGrew

	if !changed {
		conn.mu.Unlock()
		return
	}

	conn.task = task
	conn.mu.Unlock()

	conn.emit(Event{Type: EventTaskUpdate, Task: task, State: conn.CurrentState()})

	if statusChanged {
		conn.emit(Event{Type: EventStatusUpdate, Task: task, State: conn.CurrentState()})
	}

	if artifactsGrew {
		conn.emit(Event{Type: EventArtifactUpdate, Task: task, State: conn.CurrentState()})
	}

	switch {
	case task.Status.State == a2a.TaskStateInputReq:
		conn.setState(StateInputRequired)
	case task.Status.State.IsTerminal():
		conn.Close(conn.closeReasonFor(task.Status.State))
	default:
		// A working snapshot after a pause or a transient RPC reverts the
		// machine to the transport's steady state.
		conn.mu.Lock()
		if conn.state == StateInputRequired || conn.state == StateSending || conn.state == StateCanceling {
			conn.state = conn.steady
		}
		conn.mu.Unlock()
	}
}

func (conn *ClientConnection) closeReasonFor(state a2a.TaskState) CloseReason {
	switch state {
	case a2a.TaskStateCompleted:
		return CloseTaskCompleted
	case a2a.TaskStateCanceled:
		conn.mu.Lock()
		byClient := conn.canceledByClient
		conn.mu.Unlock()

		if byClient {
			return CloseTaskCanceledByClient
		}
		return CloseTaskCanceledByAgent
	case a2a.TaskStateFailed:
		return CloseTaskFailed
	default:
		return CloseByCaller
	}
}

func (conn *ClientConnection) startSSE() {
	streamClient := sse.NewClient(conn.agentURL + "/events/" + conn.TaskID())

	if conn.cfg.Token != "" {
		streamClient.Headers["Authorization"] = "Bearer " + conn.cfg.Token
	}

	streamClient.Retry = conn.cfg.Reconnect
	streamClient.OnReconnect = func(attempt int) {
		conn.deliver(inboxMsg{state: StateReconnectingSSE})
	}

	conn.sseMu.Lock()
	conn.sseClient = streamClient
	conn.sseMu.Unlock()

	conn.deliver(inboxMsg{state: StateConnectingSSE})

	conn.wg.Add(1)

	go func() {
		defer conn.wg.Done()

		err := streamClient.Subscribe(context.Background(), "", func(event *sse.Event) {
			conn.deliver(inboxMsg{state: StateConnectedSSE})

			var task a2a.Task

			if err := json.Unmarshal(event.Data, &task); err != nil {
				log.Warn("dropping malformed stream frame", "error", err)
				return
			}

			conn.deliver(inboxMsg{snapshot: &task})
		})

		if conn.closed.Load() {
			return
		}

		if err != nil {
			conn.deliver(inboxMsg{err: fmt.Errorf("stream failed: %w", err)})
			conn.deliver(inboxMsg{fallback: true})
		}
	}()
}

func (conn *ClientConnection) startPoll() {
	conn.wg.Add(1)

	go func() {
		defer conn.wg.Done()

		ticker := time.NewTicker(conn.cfg.PollInterval)
		defer ticker.Stop()

		conn.deliver(inboxMsg{state: StatePolling})

		taskID := conn.TaskID()
		failures := 0

		for {
			select {
			case <-conn.stop:
				return
			case <-ticker.C:
				var task a2a.Task

				params := a2a.TaskQueryParams{TaskIDParams: a2a.TaskIDParams{ID: taskID}}
				err := conn.rpc.Call(context.Background(), "tasks/get", params, &task)

				if conn.closed.Load() {
					return
				}

				if err != nil {
					failures++

					if failures > conn.cfg.Reconnect.MaxAttempts {
						conn.deliver(inboxMsg{fatal: true, err: fmt.Errorf(
							"polling gave up after %d attempts: %w", failures, err)})
						return
					}

					conn.deliver(inboxMsg{state: StateRetryingPoll})

					select {
					case <-time.After(conn.cfg.Reconnect.Delay(failures - 1)):
					case <-conn.stop:
						return
					}
					continue
				}

				failures = 0
				conn.deliver(inboxMsg{state: StatePolling})
				conn.deliver(inboxMsg{snapshot: &task})
			}
		}
	}()
}

// deliver hands a message to the loop goroutine, giving up if the
// connection stops first.
func (conn *ClientConnection) deliver(msg inboxMsg) {
	select {
	case conn.inbox <- msg:
	case <-conn.stop:
	}
}

func (conn *ClientConnection) emit(event Event) {
	conn.eventsMu.Lock()
	defer conn.eventsMu.Unlock()

	if conn.eventsClosed {
		return
	}

	// The last slot stays free for the close event.
	if len(conn.events) >= cap(conn.events)-1 {
		log.Warn("event listener is slow, dropping event", "type", event.Type)
		return
	}

	conn.events <- event
}

func (conn *ClientConnection) setState(state ConnectionState) {
	conn.mu.Lock()
	defer conn.mu.Unlock()

	if conn.state != StateClosed {
		conn.state = state
	}
}

// setTransportState applies a transport sub-state without clobbering the
// externally significant states.
func (conn *ClientConnection) setTransportState(state ConnectionState) {
	conn.mu.Lock()
	defer conn.mu.Unlock()

	switch conn.state {
	case StateInputRequired, StateSending, StateCanceling, StateClosed:
		return
	default:
		conn.state = state
	}
}

func (conn *ClientConnection) setSteady(state ConnectionState) {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	conn.steady = state
}

func taskIDOf(task *a2a.Task) string {
	if task == nil {
		return ""
	}
	return task.ID
}
