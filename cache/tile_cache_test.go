package cache_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/latticedb/lattice/cache"
	"github.com/latticedb/lattice/vfs"
)

func TestTileCache(t *testing.T) {
	key := func(offset int64) cache.Key {
		return cache.Key{URI: vfs.NewURI("/tmp/attr.bin"), Offset: offset}
	}

	t.Run("miss then hit", func(t *testing.T) {
		c := cache.New(1024)
		_, ok := c.Read(key(0))
		assert.False(t, ok)

		c.Insert(key(0), []byte("tile-data"))
		got, ok := c.Read(key(0))
		assert.True(t, ok)
		assert.Equal(t, "tile-data", string(got))

		hits, misses := c.Stats()
		assert.Equal(t, int64(1), hits)
		assert.Equal(t, int64(1), misses)
	})

	t.Run("eviction respects total byte capacity", func(t *testing.T) {
		c := cache.New(10)
		c.Insert(key(0), []byte("0123456789")) // exactly at capacity
		assert.Equal(t, int64(10), c.Size())

		c.Insert(key(1), []byte("x")) // forces eviction of key(0)
		_, ok := c.Read(key(0))
		assert.False(t, ok)
		_, ok = c.Read(key(1))
		assert.True(t, ok)
	})

	t.Run("oversized insert is dropped", func(t *testing.T) {
		c := cache.New(4)
		c.Insert(key(0), []byte("way too big"))
		assert.Equal(t, 0, c.Len())
		assert.Equal(t, int64(0), c.Size())
	})

	t.Run("read moves entry to front, sparing it from eviction", func(t *testing.T) {
		c := cache.New(2)
		c.Insert(key(0), []byte("a"))
		c.Insert(key(1), []byte("b"))
		_, ok := c.Read(key(0)) // key(0) is now most-recently-used
		assert.True(t, ok)

		c.Insert(key(2), []byte("c")) // evicts key(1), not key(0)
		_, ok = c.Read(key(1))
		assert.False(t, ok)
		_, ok = c.Read(key(0))
		assert.True(t, ok)
	})
}
