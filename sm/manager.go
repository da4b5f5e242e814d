// Package sm implements the Storage Manager façade: the single entry
// point that owns the Open-Array Registry, thread pools, tile cache,
// fragment metadata loader, exclusive lock table, and in-progress
// counter, and exposes the array_* / query_* / object_* operation set.
package sm

import (
	"context"
	"time"

	"github.com/latticedb/lattice/cache"
	"github.com/latticedb/lattice/config"
	"github.com/latticedb/lattice/consolidate"
	"github.com/latticedb/lattice/errors"
	"github.com/latticedb/lattice/fragment"
	"github.com/latticedb/lattice/iterator"
	"github.com/latticedb/lattice/logger"
	"github.com/latticedb/lattice/pool"
	"github.com/latticedb/lattice/query"
	"github.com/latticedb/lattice/registry"
	"github.com/latticedb/lattice/schema"
	"github.com/latticedb/lattice/seal"
	"github.com/latticedb/lattice/stats"
	"github.com/latticedb/lattice/vfs"
	"github.com/latticedb/lattice/xlock"
)

// Manager is the Storage Manager façade. One Manager serves one
// deployment's worth of arrays; it is safe for concurrent use by many
// callers.
type Manager struct {
	vfs   vfs.VFS
	cfg   *config.Config
	log   logger.Logger
	stats stats.Client

	cache    *cache.TileCache
	loader   *fragment.Loader
	entries  *registry.Pair
	xlocks   *xlock.Table
	progress *progressCounter
	markers  iterator.Markers

	asyncPool  *pool.Pool
	readerPool *pool.Pool
	writerPool *pool.Pool
	tasks      *pool.Registry
}

// New constructs a Manager from cfg's sm.* keys, reporting through log and
// stats (either may be nil, defaulting to no-ops).
func New(v vfs.VFS, cfg *config.Config, log logger.Logger, st stats.Client) (*Manager, error) {
	if log == nil {
		log = logger.NopLogger
	}
	if st == nil {
		st = stats.NopClient
	}
	if cfg == nil {
		cfg = config.New(nil)
	}

	tileCacheSize, err := cfg.GetBytes("sm.tile_cache_size", 10<<20)
	if err != nil {
		return nil, err
	}
	numAsync, err := cfg.GetInt("sm.num_async_threads", 4)
	if err != nil {
		return nil, err
	}
	numReader, err := cfg.GetInt("sm.num_reader_threads", 4)
	if err != nil {
		return nil, err
	}
	numWriter, err := cfg.GetInt("sm.num_writer_threads", 4)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		vfs:      v,
		cfg:      cfg,
		log:      log.WithPrefix("storage-manager"),
		stats:    st,
		cache:    cache.New(tileCacheSize),
		loader:   fragment.NewLoader(v, log),
		progress: newProgressCounter(),
		markers:  iterator.DefaultMarkers,
	}
	m.entries = registry.NewPair(v, nil)
	m.xlocks = xlock.New(v, m.entries.Read)
	m.entries.Read.SetOnEmptied(m.xlocks.Notify)

	m.asyncPool = pool.New("async", numAsync, 0)
	m.readerPool = pool.New("reader", numReader, 0)
	m.writerPool = pool.New("writer", numWriter, 0)
	m.tasks = pool.NewRegistry(m.asyncPool)

	return m, nil
}

func (m *Manager) consolidationParams() (consolidate.Params, error) {
	steps, err := m.cfg.GetInt("sm.consolidation.steps", 4)
	if err != nil {
		return consolidate.Params{}, err
	}
	minFrags, err := m.cfg.GetInt("sm.consolidation.step_min_frags", 3)
	if err != nil {
		return consolidate.Params{}, err
	}
	maxFrags, err := m.cfg.GetInt("sm.consolidation.step_max_frags", 10)
	if err != nil {
		return consolidate.Params{}, err
	}
	ratio, err := m.cfg.GetFloat("sm.consolidation.step_size_ratio", 0.3)
	if err != nil {
		return consolidate.Params{}, err
	}
	return consolidate.Params{Steps: steps, StepMinFrags: minFrags, StepMaxFrags: maxFrags, StepSizeRatio: ratio}, nil
}

// ArrayCreate implements array_create: validates sch, creates the array
// directory, and writes the (optionally sealed) schema file.
func (m *Manager) ArrayCreate(ctx context.Context, uri vfs.URI, sch *schema.Schema, key seal.Key) error {
	m.progress.enter()
	defer m.progress.leave()

	if err := sch.Validate(); err != nil {
		return err
	}
	if isArr, err := m.vfs.IsFile(ctx, uri.Join(schema.ArraySchemaFile)); err != nil {
		return err
	} else if isArr {
		return errors.New(errors.CodeAlreadyExists, "sm: array already exists at "+uri.Escaped())
	}
	if err := m.vfs.CreateDir(ctx, uri); err != nil {
		return errors.Wrapf(err, "sm: array_create %s", uri)
	}
	raw, err := schema.Encode(sch, key)
	if err != nil {
		return err
	}
	if err := m.vfs.Write(ctx, uri.Join(schema.ArraySchemaFile), raw); err != nil {
		return errors.Wrapf(err, "sm: array_create %s", uri)
	}
	return nil
}

func (m *Manager) loadSchema(ctx context.Context, uri vfs.URI, key seal.Key) (*schema.Schema, error) {
	raw, err := m.vfs.Read(ctx, uri.Join(schema.ArraySchemaFile), 0, -1)
	if err != nil {
		if errors.Is(err, errors.CodeNotFound) {
			return nil, errors.New(errors.CodeNotFound, "sm: no array at "+uri.Escaped())
		}
		return nil, errors.Wrapf(err, "sm: reading schema for %s", uri)
	}
	return schema.Decode(raw, key)
}

// ArrayOpenForReads implements array_open_for_reads(uri, t, key): blocks
// on any in-progress xlock for uri, then opens (or joins) the read-mode
// registry entry, loading the schema on first open and the fragment
// metadata visible at t on every call.
func (m *Manager) ArrayOpenForReads(ctx context.Context, uri vfs.URI, t int64, key seal.Key) (*registry.Entry, error) {
	start := time.Now()
	m.progress.enter()
	defer m.progress.leave()

	if err := m.xlocks.WaitUnlocked(ctx, uri); err != nil {
		return nil, err
	}

	entry, err := m.entries.Read.Acquire(ctx, uri, func(ctx context.Context, e *registry.Entry) error {
		sch, err := m.loadSchema(ctx, uri, key)
		if err != nil {
			return err
		}
		e.SetSchema(sch)
		return nil
	})
	if err != nil {
		m.stats.Count("sm.array_open_for_reads.error", 1)
		return nil, err
	}

	if err := m.loadFragmentsInto(ctx, entry, uri, t, key); err != nil {
		m.stats.Count("sm.array_open_for_reads.error", 1)
		// entry was already created or joined by Acquire above; the caller
		// never receives it on this path, so it must be released here or
		// its refcount leaks forever and array_xlock can never succeed
		// again for uri.
		m.releaseFailedOpen(ctx, uri)
		return nil, err
	}
	m.stats.Timing("sm.array_open_for_reads", time.Since(start))
	return entry, nil
}

// ArrayOpenForReadsAt implements the explicit-fragment-list variant of
// array_open_for_reads: rather than discovering fragments
// by timestamp visibility, the caller hands the exact set of fragment
// URIs to load - used by a consolidator that already knows which
// fragments it is about to merge and wants them pinned regardless of
// what gets written concurrently.
func (m *Manager) ArrayOpenForReadsAt(ctx context.Context, uri vfs.URI, fragURIs []vfs.URI, key seal.Key) (*registry.Entry, error) {
	m.progress.enter()
	defer m.progress.leave()

	if err := m.xlocks.WaitUnlocked(ctx, uri); err != nil {
		return nil, err
	}

	entry, err := m.entries.Read.Acquire(ctx, uri, func(ctx context.Context, e *registry.Entry) error {
		sch, err := m.loadSchema(ctx, uri, key)
		if err != nil {
			return err
		}
		e.SetSchema(sch)
		return nil
	})
	if err != nil {
		return nil, err
	}

	list := make([]*fragment.Metadata, len(fragURIs))
	for i, fu := range fragURIs {
		info, ok := fragment.Parse(fu)
		if !ok {
			m.releaseFailedOpen(ctx, uri)
			return nil, errors.New(errors.CodeInvalidFragment, "sm: not a fragment uri: "+fu.Escaped())
		}
		if cached, ok := entry.FragmentCache().Get(fu); ok {
			list[i] = cached
			continue
		}
		md, err := m.loader.LoadOne(ctx, info, entry.Schema(), key)
		if err != nil {
			m.releaseFailedOpen(ctx, uri)
			return nil, err
		}
		entry.FragmentCache().Put(fu, md)
		list[i] = md
	}
	entry.SetFragments(list, -1)
	return entry, nil
}

// releaseFailedOpen releases uri's read-mode entry after it was already
// created or joined by Acquire but the open call is about to fail before
// handing the entry back to the caller - otherwise the refcount Acquire
// incremented is never decremented by anyone, and array_xlock blocks on
// it forever.
func (m *Manager) releaseFailedOpen(ctx context.Context, uri vfs.URI) {
	if relErr := m.entries.Read.Release(ctx, uri); relErr != nil {
		m.log.Errorf("sm: releasing %s after a failed open-for-reads: %v", uri, relErr)
	}
}

func (m *Manager) loadFragmentsInto(ctx context.Context, entry *registry.Entry, uri vfs.URI, t int64, key seal.Key) error {
	list, err := m.loader.Load(ctx, uri, entry.Schema(), t, key, entry.FragmentCache())
	if err != nil {
		return err
	}
	entry.SetFragments(list, t)
	return nil
}

// ArrayOpenForWrites implements array_open_for_writes(uri, key): opens
// (or joins) the write-mode registry entry, which carries no fragment
// metadata map.
func (m *Manager) ArrayOpenForWrites(ctx context.Context, uri vfs.URI, key seal.Key) (*registry.Entry, error) {
	m.progress.enter()
	defer m.progress.leave()

	return m.entries.Write.Acquire(ctx, uri, func(ctx context.Context, e *registry.Entry) error {
		sch, err := m.loadSchema(ctx, uri, key)
		if err != nil {
			return err
		}
		e.SetSchema(sch)
		return nil
	})
}

// ArrayReopen implements array_reopen(uri, t, key): valid only for an
// entry already open-for-reads; re-runs the fragment loader at a
// new timestamp, reusing the entry's existing fragment cache.
func (m *Manager) ArrayReopen(ctx context.Context, uri vfs.URI, t int64, key seal.Key) error {
	m.progress.enter()
	defer m.progress.leave()

	entry, ok := m.entries.Read.Lookup(uri)
	if !ok {
		return errors.New(errors.CodeInvalidArgument, "sm: array_reopen: no read-mode entry open for "+uri.Escaped())
	}
	return m.loadFragmentsInto(ctx, entry, uri, t, key)
}

// ArrayCloseForReads implements array_close_for_reads(uri).
func (m *Manager) ArrayCloseForReads(ctx context.Context, uri vfs.URI) error {
	m.progress.enter()
	defer m.progress.leave()
	return m.entries.Read.Release(ctx, uri)
}

// ArrayCloseForWrites implements array_close_for_writes(uri).
func (m *Manager) ArrayCloseForWrites(ctx context.Context, uri vfs.URI) error {
	m.progress.enter()
	defer m.progress.leave()
	return m.entries.Write.Release(ctx, uri)
}

// ArrayXLock implements array_xlock(uri): blocks until the
// read-mode refcount for uri is zero, then acquires the exclusive lock.
func (m *Manager) ArrayXLock(ctx context.Context, uri vfs.URI) error {
	return m.xlocks.Lock(ctx, uri)
}

// ArrayXUnlock implements array_xunlock(uri).
func (m *Manager) ArrayXUnlock(ctx context.Context, uri vfs.URI) error {
	return m.xlocks.Unlock(ctx, uri)
}

// QuerySubmit implements query_submit(query): increments in-progress,
// runs q on the caller's thread, decrements, and returns the terminal
// status.
func (m *Manager) QuerySubmit(ctx context.Context, q query.Query) (query.Status, error) {
	m.progress.enter()
	defer m.progress.leave()
	return q.Submit()
}

// QuerySubmitAsync implements query_submit_async(query): increments
// in-progress, enqueues onto the async pool (which itself may dispatch to
// the reader/writer pools inside q.Submit), and returns a handle
// immediately; in-progress is decremented once the task reaches any
// terminal state, including cancellation before it started.
func (m *Manager) QuerySubmitAsync(ctx context.Context, q query.Query) (*pool.Handle, error) {
	m.progress.enter()
	h, err := m.tasks.Submit(ctx, func(ctx context.Context) (interface{}, error) {
		return q.Submit()
	})
	if err != nil {
		m.progress.leave()
		return nil, err
	}
	go func() {
		_, _ = h.Wait(context.Background())
		m.progress.leave()
	}()
	return h, nil
}

// ReaderPool and WriterPool expose the reader/writer pools to a query
// kernel's own dispatch, letting an async query submitted to the async
// pool fan further work out to the reader/writer pools.
func (m *Manager) ReaderPool() *pool.Pool { return m.readerPool }
func (m *Manager) WriterPool() *pool.Pool { return m.writerPool }

// ReadFromCache implements read_from_cache(uri, offset) → (buf, in_cache):
// a thin forwarder to the tile cache.
func (m *Manager) ReadFromCache(uri vfs.URI, offset int64) ([]byte, bool) {
	buf, hit := m.cache.Read(cache.Key{URI: uri, Offset: offset})
	if hit {
		m.stats.Count("sm.tile_cache.hit", 1)
	} else {
		m.stats.Count("sm.tile_cache.miss", 1)
	}
	return buf, hit
}

// WriteToCache implements write_to_cache(uri, offset, buffer).
func (m *Manager) WriteToCache(uri vfs.URI, offset int64, buf []byte) {
	m.cache.Insert(cache.Key{URI: uri, Offset: offset}, buf)
}

// Read implements read(uri, offset, nbytes): a thin forwarder to VFS, not
// cached.
func (m *Manager) Read(ctx context.Context, uri vfs.URI, offset, n int64) ([]byte, error) {
	return m.vfs.Read(ctx, uri, offset, n)
}

// Write implements write(uri, buffer): a thin forwarder to VFS.
func (m *Manager) Write(ctx context.Context, uri vfs.URI, p []byte) error {
	return m.vfs.Write(ctx, uri, p)
}

// CreateDir, Touch, CloseFile, Sync, ObjectRemove, ObjectMove implement
// the remaining filesystem helpers as thin VFS forwarders.
func (m *Manager) CreateDir(ctx context.Context, uri vfs.URI) error   { return m.vfs.CreateDir(ctx, uri) }
func (m *Manager) Touch(ctx context.Context, uri vfs.URI) error       { return m.vfs.Touch(ctx, uri) }
func (m *Manager) CloseFile(ctx context.Context, uri vfs.URI) error   { return m.vfs.CloseFile(ctx, uri) }
func (m *Manager) Sync(ctx context.Context, uri vfs.URI) error        { return m.vfs.Sync(ctx, uri) }
func (m *Manager) ObjectRemove(ctx context.Context, uri vfs.URI) error { return m.vfs.Remove(ctx, uri) }
func (m *Manager) ObjectMove(ctx context.Context, src, dst vfs.URI) error {
	return m.vfs.Move(ctx, src, dst)
}
func (m *Manager) IsDir(ctx context.Context, uri vfs.URI) (bool, error)  { return m.vfs.IsDir(ctx, uri) }
func (m *Manager) IsFile(ctx context.Context, uri vfs.URI) (bool, error) { return m.vfs.IsFile(ctx, uri) }

// IsArray, IsGroup implement the taxonomy checks: is uri's
// directory marked as an array or group.
func (m *Manager) IsArray(ctx context.Context, uri vfs.URI) (bool, error) {
	return m.vfs.IsFile(ctx, uri.Join(schema.ArraySchemaFile))
}

func (m *Manager) IsGroup(ctx context.Context, uri vfs.URI) (bool, error) {
	return m.vfs.IsFile(ctx, uri.Join(schema.GroupMarkerFile))
}

// IsFragment checks for a fragment metadata marker file under uri.
func (m *Manager) IsFragment(ctx context.Context, uri vfs.URI) (bool, error) {
	return m.vfs.IsFile(ctx, uri.Join(fragment.MetadataFile))
}

// ObjectType implements object_type(uri): classifies uri by marker file.
func (m *Manager) ObjectType(ctx context.Context, uri vfs.URI) (iterator.ObjectType, error) {
	return iterator.Classify(ctx, m.vfs, uri, m.markers)
}

// ObjectIterBegin/Next/Free implement object_iter_{begin,next,free},
// thin wrappers over the iterator package.
func (m *Manager) ObjectIterBegin(root vfs.URI, order iterator.Order, recursive bool) *iterator.Iterator {
	return iterator.Begin(m.vfs, root, order, recursive, m.markers)
}

func (m *Manager) ObjectIterNext(ctx context.Context, it *iterator.Iterator) (vfs.URI, iterator.ObjectType, bool, error) {
	return it.Next(ctx)
}

func (m *Manager) ObjectIterFree(it *iterator.Iterator) {
	it.Free()
}

// GetFragmentInfo implements get_fragment_info(schema, timestamp, key):
// loader-backed, ordered by (t_first, uuid).
func (m *Manager) GetFragmentInfo(ctx context.Context, uri vfs.URI, sch *schema.Schema, t int64, key seal.Key) ([]*fragment.Metadata, error) {
	return m.loader.Load(ctx, uri, sch, t, key, fragment.NewMapCache())
}

// GetConsolidationPlan computes merge candidates over the fragments
// visible at t, bounded by the sm.consolidation.* config values.
func (m *Manager) GetConsolidationPlan(ctx context.Context, uri vfs.URI, sch *schema.Schema, t int64, key seal.Key) ([]consolidate.Step, error) {
	fragments, err := m.GetFragmentInfo(ctx, uri, sch, t, key)
	if err != nil {
		return nil, err
	}
	params, err := m.consolidationParams()
	if err != nil {
		return nil, err
	}
	return consolidate.Plan(fragments, params), nil
}

// CancelAllTasks implements cancel_all_tasks(): sets the cancellation
// flag, waits for the in-progress counter to reach zero, then drains the
// thread pools. After it returns, the Storage Manager's pools are shut
// down; the caller must construct a new Manager to submit further work.
func (m *Manager) CancelAllTasks(ctx context.Context) error {
	m.tasks.CancelAll()
	if err := m.progress.waitZero(ctx); err != nil {
		return err
	}
	m.tasks.Shutdown()
	m.readerPool.Shutdown()
	m.writerPool.Shutdown()
	return nil
}

// InProgressCount exposes the in-progress counter for metrics/tests.
func (m *Manager) InProgressCount() int {
	return m.progress.count()
}

// TileCacheStats exposes tile cache hit/miss counters for metrics.
func (m *Manager) TileCacheStats() (hits, misses int64) {
	return m.cache.Stats()
}
