package pool

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/latticedb/lattice/errors"
)

// TaskState is the terminal or in-flight state of a registered task.
type TaskState int32

const (
	TaskQueued TaskState = iota
	TaskRunning
	TaskCompleted
	TaskFailed
	TaskCancelled
)

// Registry wraps a Pool with a cancellation flag. Tasks queued but
// not yet started transition to Cancelled without executing when CancelAll
// is called; tasks already running are not interrupted - cancellation is
// cooperative, exposed to long-running closures via IsCancelled.
type Registry struct {
	pool *Pool

	mu        sync.Mutex
	cancelled bool
	states    map[uint64]*TaskState
	nextID    uint64
}

// NewRegistry wraps an existing Pool.
func NewRegistry(p *Pool) *Registry {
	return &Registry{pool: p, states: make(map[uint64]*TaskState)}
}

// IsCancelled reports whether CancelAll has been invoked and not yet
// followed by a Reset. Long-running closures poll this cooperatively; the
// registry never interrupts a running goroutine.
func (r *Registry) IsCancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

// Submit registers closure under id and submits it to the underlying pool.
// While the registry's cancellation flag is set, new submissions fail fast
// with errors.CodeCancelled instead of being queued.
func (r *Registry) Submit(ctx context.Context, closure Closure) (*Handle, error) {
	r.mu.Lock()
	if r.cancelled {
		r.mu.Unlock()
		return nil, errors.New(errors.CodeCancelled, "registry: cancellation in progress, rejecting new submissions")
	}
	id := r.nextID
	r.nextID++
	state := new(TaskState)
	*state = TaskQueued
	r.states[id] = state
	r.mu.Unlock()

	wrapped := func(ctx context.Context) (interface{}, error) {
		if atomic.LoadInt32((*int32)(state)) == int32(TaskCancelled) {
			return nil, errors.New(errors.CodeCancelled, "task cancelled before it started")
		}
		atomic.StoreInt32((*int32)(state), int32(TaskRunning))
		res, err := closure(ctx)
		if err != nil {
			atomic.StoreInt32((*int32)(state), int32(TaskFailed))
		} else {
			atomic.StoreInt32((*int32)(state), int32(TaskCompleted))
		}
		return res, err
	}

	h := r.pool.Submit(ctx, wrapped)
	return h, nil
}

// CancelAll sets the cancellation flag and transitions every queued-but-
// unstarted task to Cancelled. Tasks already running continue to
// completion; CancelAll does not wait for them - a caller that needs to
// wait for in-flight work to drain tracks that separately (the Storage
// Manager does this with its own in-progress counter).
func (r *Registry) CancelAll() {
	r.mu.Lock()
	r.cancelled = true
	for _, state := range r.states {
		atomic.CompareAndSwapInt32((*int32)(state), int32(TaskQueued), int32(TaskCancelled))
	}
	r.mu.Unlock()
}

// Reset clears the cancellation flag so the registry can accept new
// submissions again. The Storage Manager does not call it: its
// CancelAllTasks shuts the underlying pool down instead.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.cancelled = false
	r.states = make(map[uint64]*TaskState)
	r.nextID = 0
	r.mu.Unlock()
}

// Shutdown drains the underlying pool.
func (r *Registry) Shutdown() {
	r.pool.Shutdown()
}
