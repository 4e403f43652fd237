package a2a

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
)

/*
Task is the authoritative record of one long-running agent task.  History
and Artifacts are append-only; Status carries the latest lifecycle state
plus the agent's most recent communication (e.g. the question asked while
paused for input).

InternalState is the processor-private continuation bag.  It is never
serialized to the client – Sanitized strips it before a snapshot crosses
the wire.
*/
type Task struct {
	ID        string         `json:"id"`
	Status    TaskStatus     `json:"status"`
	History   []Message      `json:"history,omitempty"`
	Artifacts []Artifact     `json:"artifacts,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`

	InternalState map[string]any `json:"-"`
}

/*
NewTask creates a task in the submitted state.  The id is generated when
the caller does not assert one.
*/
func NewTask(id string) *Task {
	if id == "" {
		id = uuid.NewString()
	}

	return &Task{
		ID: id,
		Status: TaskStatus{
			State:     TaskStateSubmitted,
			Timestamp: time.Now().UTC(),
		},
	}
}

/*
ToStatus transitions the task's status and appends the accompanying message
to the history.  Callers are expected to have checked the edge is legal.
*/
func (task *Task) ToStatus(state TaskState, message *Message) {
	task.Status.State = state
	task.Status.Timestamp = time.Now().UTC()
	task.Status.Message = message

	if message != nil {
		task.History = append(task.History, *message)
	}
}

func (task *Task) AddMessage(message Message) {
	task.History = append(task.History, message)
}

func (task *Task) AddArtifact(artifact Artifact) {
	task.Artifacts = append(task.Artifacts, artifact)
}

func (task *Task) LastMessage() *Message {
	if len(task.History) == 0 {
		return nil
	}

	return &task.History[len(task.History)-1]
}

/*
Clone returns a deep copy of the task, internal state included.  Snapshots
handed out by the store must never alias the authoritative record.
*/
func (task *Task) Clone() *Task {
	cp := &Task{
		ID:     task.ID,
		Status: task.Status,
	}

	if task.Status.Message != nil {
		msg := *task.Status.Message
		cp.Status.Message = &msg
	}

	cp.History = make([]Message, len(task.History))

	for i, msg := range task.History {
		cp.History[i] = msg
		cp.History[i].Parts = append([]Part(nil), msg.Parts...)
	}

	cp.Artifacts = make([]Artifact, len(task.Artifacts))

	for i, artifact := range task.Artifacts {
		cp.Artifacts[i] = artifact
		cp.Artifacts[i].Parts = append([]Part(nil), artifact.Parts...)

		if artifact.Name != nil {
			name := *artifact.Name
			cp.Artifacts[i].Name = &name
		}
	}

	if task.Metadata != nil {
		cp.Metadata = make(map[string]any, len(task.Metadata))
		for k, v := range task.Metadata {
			cp.Metadata[k] = v
		}
	}

	if task.InternalState != nil {
		cp.InternalState = make(map[string]any, len(task.InternalState))
		for k, v := range task.InternalState {
			cp.InternalState[k] = v
		}
	}

	return cp
}

/*
Sanitized returns a deep copy with the processor-private bag removed.  This
is the only shape that transports and tasks/get may return.
*/
func (task *Task) Sanitized() *Task {
	cp := task.Clone()
	cp.InternalState = nil
	return cp
}

// TaskSendParams represents the parameters for sending a task message.
type TaskSendParams struct {
	// ID is the unique identifier for the task being initiated or continued.
	// Empty means the server allocates a fresh task.
	ID string `json:"id,omitempty"`
	// Message is the message content to send to the agent for processing.
	Message Message `json:"message"`
	// Metadata is optional metadata associated with sending this message.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// TaskIDParams represents the base parameters for task ID-based operations.
type TaskIDParams struct {
	// ID is the unique identifier of the task.
	ID string `json:"id"`
	// Metadata is optional metadata to include with the operation.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// TaskQueryParams represents the parameters for querying task information.
type TaskQueryParams struct {
	TaskIDParams
	// HistoryLength is an optional parameter to specify how much history to retrieve.
	HistoryLength *int `json:"historyLength,omitempty"`
}

func (task *Task) String() string {
	var sb strings.Builder

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("212")).
		Bold(true)

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("39")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("252"))

	sectionStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("99")).
		Bold(true)

	indent := "   "
	bullet := "│ "

	sb.WriteString(headerStyle.Render("Task Details") + "\n")
	sb.WriteString(bullet + labelStyle.Render("ID: ") + valueStyle.Render(task.ID) + "\n")

	sb.WriteString("\n" + sectionStyle.Render("Status") + "\n")
	sb.WriteString(bullet + labelStyle.Render("State: ") + valueStyle.Render(string(task.Status.State)) + "\n")
	if task.Status.Message != nil {
		sb.WriteString(bullet + labelStyle.Render("Message: ") + valueStyle.Render(task.Status.Message.String()) + "\n")
	}
	sb.WriteString(bullet + labelStyle.Render("Timestamp: ") + valueStyle.Render(task.Status.Timestamp.Format(time.RFC3339)) + "\n")

	if len(task.History) > 0 {
		sb.WriteString("\n" + sectionStyle.Render("History") + "\n")
		for i, message := range task.History {
			sb.WriteString(bullet + labelStyle.Render(fmt.Sprintf("Message %d", i+1)) + "\n")
			sb.WriteString(bullet + indent + labelStyle.Render("Role: ") + valueStyle.Render(message.Role) + "\n")
			for _, part := range message.Parts {
				sb.WriteString(bullet + indent + labelStyle.Render("Content: ") + valueStyle.Render(part.Text) + "\n")
			}
		}
	}

	if len(task.Artifacts) > 0 {
		sb.WriteString("\n" + sectionStyle.Render("Artifacts") + "\n")
		for i, artifact := range task.Artifacts {
			sb.WriteString(bullet + labelStyle.Render(fmt.Sprintf("Artifact %d", i+1)) + "\n")
			if artifact.Name != nil {
				sb.WriteString(bullet + indent + labelStyle.Render("Name: ") + valueStyle.Render(*artifact.Name) + "\n")
			}
			for j, part := range artifact.Parts {
				sb.WriteString(bullet + indent + labelStyle.Render(fmt.Sprintf("Part %d: ", j+1)) + valueStyle.Render(part.Text) + "\n")
			}
		}
	}

	if len(task.Metadata) > 0 {
		sb.WriteString("\n" + sectionStyle.Render("Metadata") + "\n")
		keys := make([]string, 0, len(task.Metadata))
		for k := range task.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sb.WriteString(bullet + labelStyle.Render(k+": ") + valueStyle.Render(fmt.Sprintf("%v", task.Metadata[k])) + "\n")
		}
	}

	return sb.String()
}
