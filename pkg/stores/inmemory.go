package stores

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/openpriorauth/a4a-go/pkg/a2a"
	"github.com/openpriorauth/a4a-go/pkg/errors"
)

// taskEntry pairs a record with the mutex serializing its updates.
type taskEntry struct {
	mu   sync.Mutex
	task *a2a.Task
}

/*
InMemoryTaskStore is the reference TaskStore.  A per-task mutex serializes
mutations for one id while leaving unrelated tasks free to progress, and a
subscriber registry fans sanitized snapshots out to push transports.
*/
type InMemoryTaskStore struct {
	mu          sync.RWMutex
	tasks       map[string]*taskEntry
	subscribers map[string]map[chan a2a.Task]struct{}
	expiration  time.Duration
	done        chan struct{}
	closeOnce   sync.Once
}

func NewInMemoryTaskStore() *InMemoryTaskStore {
	store := &InMemoryTaskStore{
		tasks:       make(map[string]*taskEntry),
		subscribers: make(map[string]map[chan a2a.Task]struct{}),
		expiration:  24 * time.Hour,
		done:        make(chan struct{}),
	}

	go store.sweepExpired()

	return store
}

func (store *InMemoryTaskStore) Create(ctx context.Context, task *a2a.Task) *errors.RpcError {
	store.mu.Lock()
	defer store.mu.Unlock()

	if _, ok := store.tasks[task.ID]; ok {
		return errors.ErrInvalidParams.WithMessagef("task %s already exists", task.ID)
	}

	store.tasks[task.ID] = &taskEntry{task: task.Clone()}
	return nil
}

func (store *InMemoryTaskStore) Get(ctx context.Context, id string) (*a2a.Task, *errors.RpcError) {
	store.mu.RLock()
	entry, ok := store.tasks[id]
	store.mu.RUnlock()

	if !ok {
		return nil, errors.ErrTaskNotFound.WithMessagef("task %s not found", id)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	return entry.task.Clone(), nil
}

func (store *InMemoryTaskStore) Update(
	ctx context.Context, id string, mutate Mutator,
) (*a2a.Task, *errors.RpcError) {
	store.mu.RLock()
	entry, ok := store.tasks[id]
	store.mu.RUnlock()

	if !ok {
		return nil, errors.ErrTaskNotFound.WithMessagef("task %s not found", id)
	}

	entry.mu.Lock()

	if rpcErr := mutate(entry.task); rpcErr != nil {
		entry.mu.Unlock()
		return nil, rpcErr
	}

	snapshot := entry.task.Clone()
	entry.mu.Unlock()

	store.notify(id, *snapshot.Sanitized())

	return snapshot, nil
}

func (store *InMemoryTaskStore) Subscribe(id string) (<-chan a2a.Task, func()) {
	ch := make(chan a2a.Task, 8)

	store.mu.Lock()

	if _, ok := store.subscribers[id]; !ok {
		store.subscribers[id] = make(map[chan a2a.Task]struct{})
	}

	store.subscribers[id][ch] = struct{}{}
	store.mu.Unlock()

	cancel := func() {
		store.mu.Lock()
		defer store.mu.Unlock()

		if subs, ok := store.subscribers[id]; ok {
			if _, ok := subs[ch]; ok {
				delete(subs, ch)
				close(ch)
			}
			if len(subs) == 0 {
				delete(store.subscribers, id)
			}
		}
	}

	return ch, cancel
}

func (store *InMemoryTaskStore) List(ctx context.Context) []*a2a.Task {
	store.mu.RLock()
	defer store.mu.RUnlock()

	tasks := make([]*a2a.Task, 0, len(store.tasks))

	for _, entry := range store.tasks {
		entry.mu.Lock()
		tasks = append(tasks, entry.task.Clone())
		entry.mu.Unlock()
	}

	return tasks
}

// Close stops the expiration sweeper.
func (store *InMemoryTaskStore) Close() {
	store.closeOnce.Do(func() { close(store.done) })
}

func (store *InMemoryTaskStore) notify(id string, snapshot a2a.Task) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	for ch := range store.subscribers[id] {
		select {
		case ch <- snapshot:
		default:
			// slow subscriber – drop the snapshot to avoid blocking.
			log.Warn("dropping task snapshot for slow subscriber", "task", id)
		}
	}
}

// sweepExpired evicts terminal tasks whose last status update is older
// than the store expiration.
func (store *InMemoryTaskStore) sweepExpired() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-store.done:
			return
		case <-ticker.C:
			store.mu.Lock()
			now := time.Now()
			for id, entry := range store.tasks {
				entry.mu.Lock()
				expired := entry.task.Status.State.IsTerminal() &&
					now.Sub(entry.task.Status.Timestamp) > store.expiration
				entry.mu.Unlock()

				if expired {
					delete(store.tasks, id)
				}
			}
			store.mu.Unlock()
		}
	}
}
