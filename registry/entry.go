// Package registry implements the Open-Array Registry: two process-wide
// maps (one per mode), each guarded by its own mutex, with entries
// carrying a fine-grained mutex over their own schema and fragment
// metadata. Keeping each map's mutex separate from its entries' mutexes
// avoids ever needing to hold both at once, which would otherwise risk a
// deadlock or a race between a lookup and an in-flight entry update.
package registry

import (
	"sync"

	"github.com/latticedb/lattice/fragment"
	"github.com/latticedb/lattice/schema"
	"github.com/latticedb/lattice/vfs"
)

// Mode distinguishes a read-mode opening from a write-mode opening of the
// same array URI; both may coexist as two separate registry entries.
type Mode uint8

const (
	ModeRead Mode = iota
	ModeWrite
)

// Entry is the registry record for one (array_uri, mode) opening. Its
// refcount is touched only under the owning Registry's mutex; its schema
// and fragment-metadata map are touched only under mu.
type Entry struct {
	URI  vfs.URI
	Mode Mode

	// mu guards Schema and Fragments. It is held across fragment metadata
	// I/O - safe because entries are independent of each other - but
	// never together with the owning Registry's mutex (lock order:
	// registry mutex -> entry mutex -> cache mutex -> VFS).
	mu     sync.Mutex
	schema *schema.Schema
	// fragments is nil for write-mode entries, which never load fragment
	// metadata.
	fragments *fragment.MapCache
	// fragmentList is the most recent ordered snapshot fragment.Loader.Load
	// returned for this entry, refreshed by array_reopen.
	fragmentList []*fragment.Metadata
	// openTimestamp is the MVCC read timestamp this entry was opened (or
	// last reopened) at.
	openTimestamp int64

	lock vfs.LockHandle

	// refcount is touched only under the owning Registry's mutex.
	refcount int
}

// Schema returns the entry's installed schema. Safe to call without
// holding any lock once the entry has finished Loading (callers obtain the
// entry from a Registry method that already enforces this).
func (e *Entry) Schema() *schema.Schema {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.schema
}

// SetSchema installs s into the entry. Called once, while the entry is
// still being loaded; subsequent calls are a bug and the caller is
// expected to enforce single-assignment - the schema is read-only for the
// entry's lifetime once installed.
func (e *Entry) SetSchema(s *schema.Schema) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.schema = s
}

// FragmentCache exposes the entry's fragment-metadata cache to the
// fragment.Loader. Returns nil for write-mode entries.
func (e *Entry) FragmentCache() fragment.Cache {
	if e.fragments == nil {
		return nil
	}
	return e.fragments
}

// Fragments returns the most recent ordered fragment snapshot installed
// by SetFragments (array_open_for_reads or array_reopen).
func (e *Entry) Fragments() []*fragment.Metadata {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fragmentList
}

// SetFragments installs a new ordered fragment snapshot and the
// timestamp it was taken at.
func (e *Entry) SetFragments(list []*fragment.Metadata, t int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fragmentList = list
	e.openTimestamp = t
}

// OpenTimestamp returns the MVCC read timestamp this entry is currently
// positioned at.
func (e *Entry) OpenTimestamp() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.openTimestamp
}

// Lock runs fn with the entry mutex held, the sole sanctioned way to touch
// Schema/Fragments together with other entry-local state such as the
// filelock handle.
func (e *Entry) Lock(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn()
}
