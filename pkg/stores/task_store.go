package stores

// TaskStore is the persistence boundary for task records.  The built-in
// implementation is an in-memory map safe for concurrent use which is
// sufficient for dev & unit tests.  Production deployments can swap in a
// persistent implementation (redis, sql, …).

import (
	"context"

	"github.com/openpriorauth/a4a-go/pkg/a2a"
	"github.com/openpriorauth/a4a-go/pkg/errors"
)

// Mutator is applied under the task's write lock; returning an RpcError
// aborts the update without committing anything.
type Mutator func(task *a2a.Task) *errors.RpcError

type TaskStore interface {
	// Create inserts a new task record.  The id must not already exist.
	Create(ctx context.Context, task *a2a.Task) *errors.RpcError

	// Get returns a deep copy of the record, or ErrTaskNotFound.
	Get(ctx context.Context, id string) (*a2a.Task, *errors.RpcError)

	// Update applies mutate atomically.  Updates for a given id are
	// serialized: no two mutations for the same id interleave.  Every
	// successful update fans the sanitized snapshot out to subscribers.
	Update(ctx context.Context, id string, mutate Mutator) (*a2a.Task, *errors.RpcError)

	// Subscribe returns a channel receiving sanitized snapshots after each
	// successful update, plus a cancel func that must be called to release
	// the subscription.
	Subscribe(id string) (<-chan a2a.Task, func())

	// List returns deep copies of every stored record.
	List(ctx context.Context) []*a2a.Task
}
