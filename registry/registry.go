package registry

import (
	"context"
	"sync"

	"github.com/latticedb/lattice/errors"
	"github.com/latticedb/lattice/fragment"
	"github.com/latticedb/lattice/vfs"
)

// Registry is one process-wide map of Open-Array Entries for a single
// Mode. The Storage Manager owns two instances (read, write) - see
// NewPair.
type Registry struct {
	mode Mode
	vfs  vfs.VFS

	mu      sync.Mutex
	entries map[vfs.URI]*Entry

	// onEmptied is invoked - after the entry is removed from the map and
	// its filelock released - whenever a read-mode entry's refcount drops
	// to zero. The Storage Manager wires this to broadcast the exclusive
	// lock table's condition variable once the read-mode entry is fully
	// gone. It must run after FilelockUnlock, not before:
	// a goroutine woken in xlock.Table.Lock re-takes the exclusive flock
	// immediately, and Local.FilelockLock uses LOCK_NB with no retry, so
	// notifying while the shared flock this Release call is about to drop
	// is still held would make that reacquisition race and spuriously
	// fail. Nil is a valid, no-op value for write-mode registries, which
	// array_xlock does not wait on.
	onEmptied func(vfs.URI)
}

// Pair bundles the read-mode and write-mode registries the Storage Manager
// needs; array URIs may be open in both simultaneously.
type Pair struct {
	Read  *Registry
	Write *Registry
}

// NewPair builds the two independent registries sharing a VFS.
func NewPair(v vfs.VFS, onReadEmptied func(vfs.URI)) *Pair {
	return &Pair{
		Read:  &Registry{mode: ModeRead, vfs: v, entries: make(map[vfs.URI]*Entry), onEmptied: onReadEmptied},
		Write: &Registry{mode: ModeWrite, vfs: v, entries: make(map[vfs.URI]*Entry), onEmptied: nil},
	}
}

// lockModeFor returns the filelock mode a registry of this Mode takes on
// the array directory while an entry is open: shared for reads, exclusive
// for writes.
func (r *Registry) lockModeFor() vfs.LockMode {
	if r.mode == ModeWrite {
		return vfs.LockExclusive
	}
	return vfs.LockShared
}

// Acquire implements the two-phase-locking open protocol: under the
// registry mutex, either create a fresh entry (refcount 1) or bump an
// existing one's refcount; the registry mutex is released before any I/O
// (schema load, filelock acquisition, for a freshly created entry) runs.
// load is called exactly once per entry, the first time it is created,
// with the registry mutex NOT held - it is responsible for calling
// e.SetSchema and may do fragment-metadata work under e.Lock.
// load runs before the filelock is taken, so opening a missing array
// fails in load without the filelock creating anything at uri. If load or
// the filelock fails, the entry is removed before the error propagates.
func (r *Registry) Acquire(ctx context.Context, uri vfs.URI, load func(ctx context.Context, e *Entry) error) (*Entry, error) {
	r.mu.Lock()
	if e, ok := r.entries[uri]; ok {
		e.refcount++
		r.mu.Unlock()
		return e, nil
	}
	e := &Entry{URI: uri, Mode: r.mode}
	if r.mode == ModeRead {
		e.fragments = fragment.NewMapCache()
	}
	e.refcount = 1
	r.entries[uri] = e
	r.mu.Unlock()

	if err := load(ctx, e); err != nil {
		r.rollbackFailedCreate(uri)
		return nil, err
	}

	lock, err := r.vfs.FilelockLock(ctx, uri, r.lockModeFor())
	if err != nil {
		r.rollbackFailedCreate(uri)
		return nil, errors.Wrapf(err, "registry: acquiring filelock on %s", uri)
	}
	e.lock = lock

	return e, nil
}

// rollbackFailedCreate removes an entry that failed to finish Loading,
// only if it is still the one this call created (refcount still 1 and
// nothing else observed it - Acquire holds no lock across load, so in
// principle another Acquire could have bumped refcount in the interim; in
// that case we leave the entry in place and let the other caller's I/O
// decide its fate, since removing it here would orphan that caller's
// reference).
func (r *Registry) rollbackFailedCreate(uri vfs.URI) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[uri]; ok && e.refcount <= 1 {
		delete(r.entries, uri)
	}
}

// Release implements the close protocol: under the registry mutex,
// decrement refcount; if it reaches zero, remove the entry, release its
// filelock, and only then notify onEmptied - in that order, so anything
// onEmptied wakes never races this call's own still-in-flight
// FilelockUnlock for the same URI.
func (r *Registry) Release(ctx context.Context, uri vfs.URI) error {
	r.mu.Lock()
	e, ok := r.entries[uri]
	if !ok {
		r.mu.Unlock()
		return errors.New(errors.CodeInvalidArgument, "registry: closing an unopened array "+uri.Escaped())
	}
	e.refcount--
	if e.refcount > 0 {
		r.mu.Unlock()
		return nil
	}
	delete(r.entries, uri)
	r.mu.Unlock()

	if e.lock != nil {
		if err := r.vfs.FilelockUnlock(ctx, e.lock); err != nil {
			return errors.Wrapf(err, "registry: releasing filelock on %s", uri)
		}
	}

	if r.onEmptied != nil {
		r.onEmptied(uri)
	}
	return nil
}

// Lookup returns the entry for uri without affecting its refcount, or
// (nil, false) if none is open. Used by reopen, which is only valid for
// an entry already open for reads.
func (r *Registry) Lookup(uri vfs.URI) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[uri]
	return e, ok
}

// RefCount reports the current refcount for uri, or 0 if not open. Used by
// array_xlock to wait for the read-mode refcount to reach zero.
func (r *Registry) RefCount(uri vfs.URI) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[uri]; ok {
		return e.refcount
	}
	return 0
}

// IsOpen reports whether any entry for uri currently exists.
func (r *Registry) IsOpen(uri vfs.URI) bool {
	return r.RefCount(uri) > 0
}

// SetOnEmptied installs the callback invoked when an entry's refcount
// drops to zero, after its removal from the map and its filelock
// release. Used to break the construction-order cycle between Registry
// and xlock.Table, which each need a reference to the other.
func (r *Registry) SetOnEmptied(fn func(vfs.URI)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onEmptied = fn
}

// Len reports how many entries are currently open, for metrics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
