package client

import (
	"github.com/openpriorauth/a4a-go/pkg/a2a"
)

/*
ConnectionState is the client-local state of one connection.  It is a
superset of the task state: transport sub-states live here, while the
server only ever sees task states.
*/
type ConnectionState string

const (
	StateIdle                ConnectionState = "idle"
	StateInitializing        ConnectionState = "initializing"
	StateFetchingCard        ConnectionState = "fetching-card"
	StateDeterminingStrategy ConnectionState = "determining-strategy"
	StateStartingSSE         ConnectionState = "starting-sse"
	StateConnectingSSE       ConnectionState = "connecting-sse"
	StateConnectedSSE        ConnectionState = "connected-sse"
	StateReconnectingSSE     ConnectionState = "reconnecting-sse"
	StateStartingPoll        ConnectionState = "starting-poll"
	StatePolling             ConnectionState = "polling"
	StateRetryingPoll        ConnectionState = "retrying-poll"
	StateInputRequired       ConnectionState = "input-required"
	StateSending             ConnectionState = "sending"
	StateCanceling           ConnectionState = "canceling"
	StateClosed              ConnectionState = "closed"
)

// CloseReason records why a connection ended.
type CloseReason string

const (
	CloseTaskCompleted        CloseReason = "task-completed"
	CloseTaskCanceledByAgent  CloseReason = "task-canceled-by-agent"
	CloseTaskCanceledByClient CloseReason = "task-canceled-by-client"
	CloseTaskFailed           CloseReason = "task-failed"
	CloseByCaller             CloseReason = "closed-by-caller"
	CloseByRestart            CloseReason = "closed-by-restart"
)

type EventType string

const (
	// EventTaskUpdate fires when any field of the snapshot changed.
	EventTaskUpdate EventType = "task-update"
	// EventStatusUpdate fires when the status specifically changed.
	EventStatusUpdate EventType = "status-update"
	// EventArtifactUpdate fires when the artifacts sequence grew.
	EventArtifactUpdate EventType = "artifact-update"
	// EventError reports a recoverable or terminal fault.
	EventError EventType = "error"
	// EventClose is emitted exactly once, when the connection ends.
	EventClose EventType = "close"
)

/*
Event is one entry on the connection's ordered event stream.  Task carries
the snapshot the event was derived from, State the client-local state at
emission time.  Reason is set on close events, Err on error events.
*/
type Event struct {
	Type   EventType
	Task   *a2a.Task
	State  ConnectionState
	Reason CloseReason
	Err    error
}
