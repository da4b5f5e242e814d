// Package xlock implements the Exclusive Lock Table: the mechanism
// consolidation uses to briefly block all new readers of an array while it
// deletes superseded fragments. It holds no lock across I/O of its own
// beyond the filelock handle obtained for the duration of the hold - the
// blocking is purely on the read-mode registry's refcount reaching zero.
package xlock

import (
	"context"
	"sync"

	"github.com/latticedb/lattice/errors"
	"github.com/latticedb/lattice/vfs"
)

// RefCounter is the subset of registry.Registry that xlock needs: the
// current read-mode refcount for a URI, kept decoupled from the registry
// package to avoid a cyclic import (the registry notifies this package's
// condition variable on close; this package only reads the registry's
// count, it never imports it back).
type RefCounter interface {
	RefCount(uri vfs.URI) int
}

// Table is the process-wide Exclusive Lock Table: array_uri -> filelock
// handle, held only during consolidation's delete phase.
type Table struct {
	refs RefCounter
	v    vfs.VFS

	mu      sync.Mutex
	cv      *sync.Cond
	holders map[vfs.URI]vfs.LockHandle
}

// New builds a Table. refs supplies the live read-mode refcount that
// Lock waits to reach zero.
func New(v vfs.VFS, refs RefCounter) *Table {
	t := &Table{refs: refs, v: v, holders: make(map[vfs.URI]vfs.LockHandle)}
	t.cv = sync.NewCond(&t.mu)
	return t
}

// Notify wakes any goroutine blocked in Lock for uri. The registry calls
// this after an emptied read-mode entry's filelock has already been
// released - a waiter woken here immediately tries to take the exclusive
// flock itself, so the shared flock must already be gone or that attempt
// races the registry's own unlock and can spuriously fail.
func (t *Table) Notify(uri vfs.URI) {
	t.mu.Lock()
	t.cv.Broadcast()
	t.mu.Unlock()
}

// Lock blocks until uri's read-mode refcount is zero, then takes an
// exclusive filelock on the array directory and records it in the table.
// While held, Held reports true for uri and new opens-for-reads must
// consult it (the Storage Manager enforces that by checking Held before
// calling registry.Acquire, and blocking on the same condition variable
// via WaitUnlocked).
func (t *Table) Lock(ctx context.Context, uri vfs.URI) error {
	t.mu.Lock()
	for t.refs.RefCount(uri) > 0 {
		if err := ctx.Err(); err != nil {
			t.mu.Unlock()
			return errors.New(errors.CodeCancelled, "xlock: "+err.Error())
		}
		t.cv.Wait()
	}
	if _, held := t.holders[uri]; held {
		t.mu.Unlock()
		return errors.New(errors.CodeLockError, "xlock: already held for "+uri.Escaped())
	}
	t.mu.Unlock()

	lock, err := t.v.FilelockLock(ctx, uri, vfs.LockExclusive)
	if err != nil {
		return errors.Wrapf(err, "xlock: acquiring exclusive lock on %s", uri)
	}

	t.mu.Lock()
	t.holders[uri] = lock
	t.mu.Unlock()
	return nil
}

// Unlock releases the exclusive lock on uri and wakes any readers or other
// consolidators blocked in Lock or WaitUnlocked for the same URI.
func (t *Table) Unlock(ctx context.Context, uri vfs.URI) error {
	t.mu.Lock()
	lock, held := t.holders[uri]
	if !held {
		t.mu.Unlock()
		return errors.New(errors.CodeInvalidArgument, "xlock: not held for "+uri.Escaped())
	}
	delete(t.holders, uri)
	t.mu.Unlock()

	err := t.v.FilelockUnlock(ctx, lock)

	t.mu.Lock()
	t.cv.Broadcast()
	t.mu.Unlock()

	if err != nil {
		return errors.Wrapf(err, "xlock: releasing exclusive lock on %s", uri)
	}
	return nil
}

// Held reports whether uri is currently xlocked, so array_open_for_reads
// can block on WaitUnlocked instead of racing the registry.
func (t *Table) Held(uri vfs.URI) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, held := t.holders[uri]
	return held
}

// WaitUnlocked blocks until uri is not xlocked. Called by
// array_open_for_reads before every registry.Acquire attempt, so a new
// open never races a consolidator's delete phase while the array is
// xlocked.
func (t *Table) WaitUnlocked(ctx context.Context, uri vfs.URI) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for {
		if _, held := t.holders[uri]; !held {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return errors.New(errors.CodeCancelled, "xlock: "+err.Error())
		}
		t.cv.Wait()
	}
}
