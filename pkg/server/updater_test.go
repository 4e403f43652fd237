package server

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpriorauth/a4a-go/pkg/a2a"
	"github.com/openpriorauth/a4a-go/pkg/errors"
	"github.com/openpriorauth/a4a-go/pkg/stores"
)

func newUpdaterFixture(t *testing.T) (*stores.InMemoryTaskStore, *TaskUpdater) {
	t.Helper()

	store := stores.NewInMemoryTaskStore()
	t.Cleanup(store.Close)

	task := a2a.NewTask("task1")
	require.Nil(t, store.Create(context.Background(), task))

	return store, NewTaskUpdater(store, "task1")
}

func TestUpdaterUpdateStatus(t *testing.T) {
	store, updater := newUpdaterFixture(t)
	ctx := context.Background()

	require.Nil(t, updater.UpdateStatus(ctx, a2a.TaskStateWorking,
		a2a.NewTextMessage(a2a.RoleAgent, "working on it")))

	task, _ := store.Get(ctx, "task1")
	assert.Equal(t, a2a.TaskStateWorking, task.Status.State)
	require.Len(t, task.History, 1)
	assert.Equal(t, a2a.RoleAgent, task.History[0].Role)
}

func TestUpdaterRejectsIllegalEdge(t *testing.T) {
	_, updater := newUpdaterFixture(t)
	ctx := context.Background()

	require.Nil(t, updater.UpdateStatus(ctx, a2a.TaskStateWorking, nil))

	// working may not go back to submitted.
	rpcErr := updater.UpdateStatus(ctx, a2a.TaskStateSubmitted, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, errors.ErrInvalidParams.Code, rpcErr.Code)
}

func TestUpdaterInertAfterTerminal(t *testing.T) {
	store, updater := newUpdaterFixture(t)
	ctx := context.Background()

	require.Nil(t, updater.SignalCompletion(ctx, a2a.TaskStateCompleted, nil))

	rpcErr := updater.UpdateStatus(ctx, a2a.TaskStateWorking, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, errors.ErrTaskTerminal.Code, rpcErr.Code)

	rpcErr = updater.AddArtifact(ctx, a2a.NewArtifact("late", a2a.NewTextPart("x")))
	require.NotNil(t, rpcErr)

	task, _ := store.Get(ctx, "task1")
	assert.Equal(t, a2a.TaskStateCompleted, task.Status.State)
	assert.Empty(t, task.Artifacts)
}

func TestUpdaterTerminalCheckHoldsAcrossUpdaters(t *testing.T) {
	store, updater := newUpdaterFixture(t)
	ctx := context.Background()

	// A second updater simulates an out-of-band cancel racing the first.
	other := NewTaskUpdater(store, "task1")
	require.Nil(t, other.SignalCompletion(ctx, a2a.TaskStateCanceled, nil))

	// The first updater has not observed the terminal write, but the store
	// still rejects its update.
	rpcErr := updater.UpdateStatus(ctx, a2a.TaskStateCompleted, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, errors.ErrTaskTerminal.Code, rpcErr.Code)

	task, _ := store.Get(ctx, "task1")
	assert.Equal(t, a2a.TaskStateCanceled, task.Status.State)
}

func TestUpdaterAddArtifact(t *testing.T) {
	store, updater := newUpdaterFixture(t)
	ctx := context.Background()

	require.Nil(t, updater.AddArtifact(ctx, a2a.NewArtifact("first", a2a.NewTextPart("a"))))
	require.Nil(t, updater.AddArtifact(ctx, a2a.NewArtifact("second", a2a.NewTextPart("b"))))

	task, _ := store.Get(ctx, "task1")
	require.Len(t, task.Artifacts, 2)
	assert.NotEmpty(t, task.Artifacts[0].ID)
	assert.Equal(t, 0, task.Artifacts[0].Index)
	assert.Equal(t, 1, task.Artifacts[1].Index)
	assert.NotZero(t, task.Artifacts[0].Timestamp)
}

func TestUpdaterSignalCompletionRequiresTerminalState(t *testing.T) {
	_, updater := newUpdaterFixture(t)

	rpcErr := updater.SignalCompletion(context.Background(), a2a.TaskStateWorking, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, errors.ErrInvalidParams.Code, rpcErr.Code)
}

func TestUpdaterInternalStateRoundTrip(t *testing.T) {
	store, updater := newUpdaterFixture(t)
	ctx := context.Background()

	require.Nil(t, updater.SetInternalState(ctx, map[string]any{"policy": "p1"}))

	state, rpcErr := updater.InternalState(ctx)
	require.Nil(t, rpcErr)
	assert.Equal(t, "p1", state["policy"])

	// The bag never appears in sanitized snapshots.
	task, _ := store.Get(ctx, "task1")
	assert.Nil(t, task.Sanitized().InternalState)
}
