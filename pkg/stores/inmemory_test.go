package stores

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpriorauth/a4a-go/pkg/a2a"
	"github.com/openpriorauth/a4a-go/pkg/errors"
)

func TestNewInMemoryTaskStore(t *testing.T) {
	store := NewInMemoryTaskStore()
	defer store.Close()

	assert.NotNil(t, store)
	assert.Empty(t, store.tasks)
}

func TestTaskStore_CreateAndGet(t *testing.T) {
	store := NewInMemoryTaskStore()
	defer store.Close()

	ctx := context.Background()
	task := a2a.NewTask("task1")
	require.Nil(t, store.Create(ctx, task))

	// Duplicate ids are rejected.
	assert.NotNil(t, store.Create(ctx, a2a.NewTask("task1")))

	got, rpcErr := store.Get(ctx, "task1")
	require.Nil(t, rpcErr)
	assert.Equal(t, "task1", got.ID)

	// The snapshot must not alias the stored record.
	got.Status.State = a2a.TaskStateFailed
	again, _ := store.Get(ctx, "task1")
	assert.Equal(t, a2a.TaskStateSubmitted, again.Status.State)

	_, rpcErr = store.Get(ctx, "nonexistent")
	require.NotNil(t, rpcErr)
	assert.Equal(t, errors.ErrTaskNotFound.Code, rpcErr.Code)
}

func TestTaskStore_Update(t *testing.T) {
	store := NewInMemoryTaskStore()
	defer store.Close()

	ctx := context.Background()
	require.Nil(t, store.Create(ctx, a2a.NewTask("task1")))

	snapshot, rpcErr := store.Update(ctx, "task1", func(task *a2a.Task) *errors.RpcError {
		task.ToStatus(a2a.TaskStateWorking, nil)
		return nil
	})
	require.Nil(t, rpcErr)
	assert.Equal(t, a2a.TaskStateWorking, snapshot.Status.State)

	// A mutator error leaves the record untouched.
	_, rpcErr = store.Update(ctx, "task1", func(task *a2a.Task) *errors.RpcError {
		task.ToStatus(a2a.TaskStateFailed, nil)
		return errors.ErrInternal
	})
	require.NotNil(t, rpcErr)

	_, rpcErr = store.Update(ctx, "nonexistent", func(task *a2a.Task) *errors.RpcError {
		return nil
	})
	require.NotNil(t, rpcErr)
	assert.Equal(t, errors.ErrTaskNotFound.Code, rpcErr.Code)
}

func TestTaskStore_UpdatesAreSerializedPerID(t *testing.T) {
	store := NewInMemoryTaskStore()
	defer store.Close()

	ctx := context.Background()
	task := a2a.NewTask("task1")
	task.Metadata = map[string]any{"count": 0}
	require.Nil(t, store.Create(ctx, task))

	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = store.Update(ctx, "task1", func(task *a2a.Task) *errors.RpcError {
				task.Metadata["count"] = task.Metadata["count"].(int) + 1
				return nil
			})
		}()
	}

	wg.Wait()

	got, rpcErr := store.Get(ctx, "task1")
	require.Nil(t, rpcErr)
	assert.Equal(t, 50, got.Metadata["count"])
}

func TestTaskStore_SubscribeReceivesSanitizedSnapshots(t *testing.T) {
	store := NewInMemoryTaskStore()
	defer store.Close()

	ctx := context.Background()
	require.Nil(t, store.Create(ctx, a2a.NewTask("task1")))

	ch, cancel := store.Subscribe("task1")
	defer cancel()

	_, rpcErr := store.Update(ctx, "task1", func(task *a2a.Task) *errors.RpcError {
		task.InternalState = map[string]any{"secret": true}
		task.ToStatus(a2a.TaskStateWorking, nil)
		return nil
	})
	require.Nil(t, rpcErr)

	select {
	case snapshot := <-ch:
		assert.Equal(t, a2a.TaskStateWorking, snapshot.Status.State)
		assert.Nil(t, snapshot.InternalState)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for subscription fan-out")
	}
}

func TestTaskStore_UnsubscribeStopsDelivery(t *testing.T) {
	store := NewInMemoryTaskStore()
	defer store.Close()

	ctx := context.Background()
	require.Nil(t, store.Create(ctx, a2a.NewTask("task1")))

	ch, cancel := store.Subscribe("task1")
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
}

func TestTaskStore_List(t *testing.T) {
	store := NewInMemoryTaskStore()
	defer store.Close()

	ctx := context.Background()
	require.Nil(t, store.Create(ctx, a2a.NewTask("a")))
	require.Nil(t, store.Create(ctx, a2a.NewTask("b")))

	assert.Len(t, store.List(ctx), 2)
}
