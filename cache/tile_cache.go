// Package cache implements a bounded-size, thread-safe tile cache: a
// single-mutex LRU keyed by (attribute file URI, offset), holding byte
// buffers, never exceeding a configured total-bytes capacity.
package cache

import (
	"container/list"
	"sync"

	"github.com/latticedb/lattice/vfs"
)

// Key is the tile cache key: an attribute file URI plus a byte offset.
// Keys are globally unique because attribute files are written once.
type Key struct {
	URI    vfs.URI
	Offset int64
}

type entry struct {
	key   Key
	value []byte
}

// TileCache is a bounded-total-bytes LRU cache of byte buffers. A single
// mutex protects the list and map - the cache is advisory, not a store of
// record, so sharding for concurrency is unnecessary here.
type TileCache struct {
	mu       sync.Mutex
	capacity int64
	size     int64
	ll       *list.List
	items    map[Key]*list.Element

	hits   int64
	misses int64
}

// New returns a TileCache bounded to capacityBytes total held bytes.
func New(capacityBytes int64) *TileCache {
	return &TileCache{
		capacity: capacityBytes,
		ll:       list.New(),
		items:    make(map[Key]*list.Element),
	}
}

// Read copies the cached bytes for key into a fresh buffer on a hit and
// reports inCache=true; on a miss it returns (nil, false) and leaves the
// cache untouched.
func (c *TileCache) Read(key Key) (buf []byte, inCache bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	c.ll.MoveToFront(el)
	c.hits++
	e := el.Value.(*entry)
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true
}

// Insert stores bytes under key, evicting least-recently-used entries
// until total size <= capacity. If bytes alone exceeds capacity, the
// insert is silently dropped - the cache still reports success since it is
// advisory, not a store.
func (c *TileCache) Insert(key Key, bytes []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if int64(len(bytes)) > c.capacity {
		return
	}

	if el, ok := c.items[key]; ok {
		old := el.Value.(*entry)
		c.size -= int64(len(old.value))
		old.value = append([]byte(nil), bytes...)
		c.size += int64(len(old.value))
		c.ll.MoveToFront(el)
	} else {
		e := &entry{key: key, value: append([]byte(nil), bytes...)}
		el := c.ll.PushFront(e)
		c.items[key] = el
		c.size += int64(len(bytes))
	}

	for c.size > c.capacity {
		back := c.ll.Back()
		if back == nil {
			break
		}
		c.evict(back)
	}
}

func (c *TileCache) evict(el *list.Element) {
	e := el.Value.(*entry)
	c.ll.Remove(el)
	delete(c.items, e.key)
	c.size -= int64(len(e.value))
}

// Len returns the number of entries currently cached.
func (c *TileCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Size returns the total bytes currently held; never exceeds Capacity
// (invariant 2).
func (c *TileCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Capacity returns the configured byte capacity.
func (c *TileCache) Capacity() int64 {
	return c.capacity
}

// Stats returns cumulative hit/miss counts, used by stats.Client gauges.
func (c *TileCache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
