package a2a

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTaskDefaults(t *testing.T) {
	task := NewTask("")
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, TaskStateSubmitted, task.Status.State)
	assert.NotZero(t, task.Status.Timestamp)
	assert.Empty(t, task.History)
	assert.Empty(t, task.Artifacts)

	// Caller-asserted ids are kept as-is.
	task = NewTask("my-id")
	assert.Equal(t, "my-id", task.ID)
}

func TestStateTransitions(t *testing.T) {
	assert.True(t, TaskStateSubmitted.CanTransitionTo(TaskStateWorking))
	assert.True(t, TaskStateSubmitted.CanTransitionTo(TaskStateCompleted))
	assert.True(t, TaskStateWorking.CanTransitionTo(TaskStateInputReq))
	assert.True(t, TaskStateInputReq.CanTransitionTo(TaskStateWorking))
	assert.True(t, TaskStateWorking.CanTransitionTo(TaskStateCanceled))

	// No edges out of a terminal state.
	assert.False(t, TaskStateCompleted.CanTransitionTo(TaskStateWorking))
	assert.False(t, TaskStateCanceled.CanTransitionTo(TaskStateWorking))
	assert.False(t, TaskStateFailed.CanTransitionTo(TaskStateSubmitted))

	// working may not go back to submitted.
	assert.False(t, TaskStateWorking.CanTransitionTo(TaskStateSubmitted))
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, TaskStateCompleted.IsTerminal())
	assert.True(t, TaskStateCanceled.IsTerminal())
	assert.True(t, TaskStateFailed.IsTerminal())
	assert.False(t, TaskStateSubmitted.IsTerminal())
	assert.False(t, TaskStateWorking.IsTerminal())
	assert.False(t, TaskStateInputReq.IsTerminal())
}

func TestToStatusAppendsMessageToHistory(t *testing.T) {
	task := NewTask("")
	task.ToStatus(TaskStateWorking, NewTextMessage(RoleAgent, "on it"))

	assert.Equal(t, TaskStateWorking, task.Status.State)
	require.Len(t, task.History, 1)
	assert.Equal(t, RoleAgent, task.History[0].Role)
}

func TestSanitizedStripsInternalState(t *testing.T) {
	task := NewTask("")
	task.InternalState = map[string]any{"policy": "secret"}
	task.AddMessage(*NewTextMessage(RoleUser, "hello"))

	clean := task.Sanitized()
	assert.Nil(t, clean.InternalState)
	assert.Len(t, clean.History, 1)

	// The original record keeps its bag.
	assert.NotNil(t, task.InternalState)
}

func TestInternalStateNeverSerialized(t *testing.T) {
	task := NewTask("")
	task.InternalState = map[string]any{"policy": "secret"}

	data, err := json.Marshal(task)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret")
}

func TestCloneIsDeep(t *testing.T) {
	task := NewTask("")
	task.AddMessage(*NewTextMessage(RoleUser, "one"))
	task.AddArtifact(NewArtifact("out", NewTextPart("a")))
	task.Metadata = map[string]any{"k": "v"}

	clone := task.Clone()
	clone.History[0].Parts[0].Text = "changed"
	*clone.Artifacts[0].Name = "changed"
	clone.Metadata["k"] = "changed"

	assert.Equal(t, "one", task.History[0].Parts[0].Text)
	assert.Equal(t, "out", *task.Artifacts[0].Name)
	assert.Equal(t, "v", task.Metadata["k"])
}

func TestHistoryAndArtifactOrderSurvivesRoundTrip(t *testing.T) {
	task := NewTask("")

	for _, text := range []string{"first", "second", "third"} {
		task.AddMessage(*NewTextMessage(RoleUser, text))
		task.AddArtifact(NewArtifact(text, NewTextPart(text)))
	}

	data, err := json.Marshal(task.Sanitized())
	require.NoError(t, err)

	var restored Task
	require.NoError(t, json.Unmarshal(data, &restored))

	require.Len(t, restored.History, 3)
	require.Len(t, restored.Artifacts, 3)

	for i, text := range []string{"first", "second", "third"} {
		assert.Equal(t, text, restored.History[i].Parts[0].Text)
		assert.Equal(t, text, *restored.Artifacts[i].Name)
	}
}
