// Package pool implements a bounded, fixed-size worker pool the storage
// engine submits query and maintenance work to, plus a cancelable task
// registry layered on top of it. Live/draining accounting tracks a
// live-goroutine count under a sync.Cond so Shutdown can block until every
// worker has exited, draining a fixed-size FIFO queue rather than scaling
// or work-stealing.
package pool

import (
	"context"
	"sync"

	"github.com/latticedb/lattice/errors"
)

// Closure is the unit of work a Pool executes.
type Closure func(ctx context.Context) (interface{}, error)

// Handle is returned by Submit and resolves to the closure's result.
type Handle struct {
	done   chan struct{}
	result interface{}
	err    error
	// cancelled is set if the task was cancelled before it started running.
	cancelled bool
}

// Wait blocks until the task behind h completes, returning its result or
// propagating its error. Cancellation surfaces as errors.CodeCancelled.
func (h *Handle) Wait(ctx context.Context) (interface{}, error) {
	select {
	case <-h.done:
		if h.cancelled {
			return nil, errors.New(errors.CodeCancelled, "task cancelled before it started")
		}
		return h.result, h.err
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "pool: wait")
	}
}

type task struct {
	ctx     context.Context
	closure Closure
	handle  *Handle
}

// Pool is a fixed-size FIFO worker pool. Submission from within a worker is
// permitted: rather than growing the queue unboundedly, a self-submission
// (detected via a per-goroutine marker in the context) runs inline, which
// avoids deadlocking a saturated pool when one of its own workers submits
// more work to it.
type Pool struct {
	name  string
	queue chan *task

	mu     sync.Mutex
	cond   *sync.Cond
	live   int
	closed bool
	wg     sync.WaitGroup
}

type workerKey struct{}

// New starts size workers draining a FIFO queue of depth queueDepth. name
// identifies the pool in logs and metrics (the façade keeps three separate
// pools - async, reader, writer - so that saturation in one role cannot
// starve another).
func New(name string, size, queueDepth int) *Pool {
	if size <= 0 {
		size = 1
	}
	if queueDepth <= 0 {
		queueDepth = size * 4
	}
	p := &Pool{
		name:  name,
		queue: make(chan *task, queueDepth),
		live:  size,
	}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.work()
	}
	return p
}

func (p *Pool) work() {
	defer func() {
		p.mu.Lock()
		p.live--
		if p.live == 0 {
			p.cond.Broadcast()
		}
		p.mu.Unlock()
		p.wg.Done()
	}()

	for t := range p.queue {
		p.run(t)
	}
}

func (p *Pool) run(t *task) {
	ctx := context.WithValue(t.ctx, workerKey{}, p)
	result, err := t.closure(ctx)
	t.handle.result = result
	t.handle.err = err
	close(t.handle.done)
}

// Submit enqueues closure for execution and returns a Handle. If the
// caller is itself running inside one of this pool's workers, the closure
// runs inline instead of being enqueued, which is what prevents deadlock
// when the pool is saturated and a worker tries to submit more work to
// itself.
func (p *Pool) Submit(ctx context.Context, closure Closure) *Handle {
	h := &Handle{done: make(chan struct{})}
	t := &task{ctx: ctx, closure: closure, handle: h}

	if v := ctx.Value(workerKey{}); v == p {
		p.run(t)
		return h
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		h.cancelled = true
		close(h.done)
		return h
	}
	// The send happens while still holding mu, so it cannot race
	// Shutdown's close(p.queue): Shutdown only closes the queue after
	// setting closed under the same mutex, and a Submit that observed
	// closed==false here is guaranteed to finish its send before
	// Shutdown can acquire mu to close the channel.
	p.queue <- t
	p.mu.Unlock()
	return h
}

// Wait is a convenience for Submit(...).Wait(ctx).
func (p *Pool) Wait(ctx context.Context, h *Handle) (interface{}, error) {
	return h.Wait(ctx)
}

// Shutdown drains outstanding work and joins workers. It is idempotent.
// closed and the queue close happen under the same mutex Submit checks
// and sends under, so no Submit can land a send on an already-closed
// queue.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	p.wg.Wait()
}

// QueueDepth reports the number of tasks currently queued but not yet
// picked up by a worker; used for metrics passthrough.
func (p *Pool) QueueDepth() int {
	return len(p.queue)
}
