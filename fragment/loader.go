package fragment

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/latticedb/lattice/errors"
	"github.com/latticedb/lattice/logger"
	"github.com/latticedb/lattice/schema"
	"github.com/latticedb/lattice/seal"
	"github.com/latticedb/lattice/vfs"
)

// maxConcurrentLoads bounds how many fragment-metadata files the loader
// decrypts and validates at once, so a fragment-heavy array cannot spawn
// thousands of goroutines from a single open call.
const maxConcurrentLoads = 16

// MetadataFile is the marker filename is_fragment checks for, and the
// name the loader reads under each fragment directory.
const MetadataFile = "__fragment_metadata"

// Cache is the subset of an open-array entry the loader populates and
// reuses: a map from fragment URI to already-loaded metadata, shared
// immutably for lookup and mutated only by the loader. The loader itself
// takes no lock beyond what's needed to build its own result - the caller
// holds its own entry mutex across this call.
type Cache interface {
	Get(vfs.URI) (*Metadata, bool)
	Put(vfs.URI, *Metadata)
}

// MapCache is a Cache backed by a plain map, for callers (tests, or a
// write-mode entry that never reads fragments) that do not need the full
// registry.Entry machinery.
type MapCache struct {
	mu sync.Mutex
	m  map[vfs.URI]*Metadata
}

// NewMapCache returns an empty MapCache.
func NewMapCache() *MapCache {
	return &MapCache{m: make(map[vfs.URI]*Metadata)}
}

func (c *MapCache) Get(u vfs.URI) (*Metadata, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	md, ok := c.m[u]
	return md, ok
}

func (c *MapCache) Put(u vfs.URI, md *Metadata) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[u] = md
}

// Loader implements the Fragment Metadata Loader: given an array
// directory and a read timestamp, it discovers, orders, and decodes the
// fragment metadata files visible at that timestamp.
type Loader struct {
	vfs vfs.VFS
	log logger.Logger
}

// NewLoader binds a loader to a VFS implementation.
func NewLoader(v vfs.VFS, log logger.Logger) *Loader {
	if log == nil {
		log = logger.NopLogger
	}
	return &Loader{vfs: v, log: log.WithPrefix("fragment-loader")}
}

// Load enumerates children of arrayURI, filters to the fragment-URI
// grammar, discards fragments with t_first > t, sorts the rest by
// (t_first, uuid), and for each - reusing whatever cache already has -
// reads, decrypts, validates, and caches its metadata file. It returns
// the ordered, deduplicated vector of metadata pointers, every entry
// with t_first <= t.
func (l *Loader) Load(ctx context.Context, arrayURI vfs.URI, sch *schema.Schema, t int64, key seal.Key, cache Cache) ([]*Metadata, error) {
	children, err := l.vfs.Ls(ctx, arrayURI)
	if err != nil {
		return nil, errors.Wrapf(err, "fragment loader: listing %s", arrayURI)
	}

	var infos []Info
	for _, child := range children {
		info, ok := Parse(child)
		if !ok {
			continue
		}
		if !VisibleAt(info.TFirst, t) {
			continue
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool { return Less(infos[i], infos[j]) })

	out := make([]*Metadata, len(infos))
	var (
		sem = semaphore.NewWeighted(maxConcurrentLoads)
		g   errgroup.Group
	)
	for i, info := range infos {
		i, info := i, info
		if existing, ok := cache.Get(info.URI); ok {
			out[i] = existing
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, errors.Wrap(err, "fragment loader: acquiring load slot")
		}
		g.Go(func() error {
			defer sem.Release(1)
			md, err := l.loadOne(ctx, info, sch, key)
			if err != nil {
				return err
			}
			out[i] = md
			cache.Put(info.URI, md)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return out, nil
}

// LoadOne reads, checksum-validates, decrypts, and unmarshals the
// metadata file for a single fragment. Exported so callers with an
// explicit fragment URI in hand (e.g. the Storage Manager's
// array_open_for_reads explicit-fragment-list variant) do not have to
// duplicate this sequence.
func (l *Loader) LoadOne(ctx context.Context, info Info, sch *schema.Schema, key seal.Key) (*Metadata, error) {
	return l.loadOne(ctx, info, sch, key)
}

func (l *Loader) loadOne(ctx context.Context, info Info, sch *schema.Schema, key seal.Key) (*Metadata, error) {
	metaURI := info.URI.Join(MetadataFile)
	raw, err := l.vfs.Read(ctx, metaURI, 0, -1)
	if err != nil {
		if errors.Is(err, errors.CodeNotFound) {
			return nil, errors.New(errors.CodeInvalidFragment, "fragment loader: missing metadata file for "+info.URI.Escaped())
		}
		return nil, errors.Wrapf(err, "fragment loader: reading metadata for %s", info.URI)
	}

	// A nil schema means nothing to validate against, version included.
	schemaVersion := ^uint32(0)
	if sch != nil {
		schemaVersion = sch.Version
	}
	md, err := Decode(info, raw, schemaVersion, key, sch)
	if err != nil {
		l.log.Debugf("fragment loader: rejecting %s: %v", info.URI, err)
		return nil, err
	}
	return md, nil
}
