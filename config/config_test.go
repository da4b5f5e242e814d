package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticedb/lattice/config"
)

func TestDefaults(t *testing.T) {
	c := config.New(nil)
	v, ok := c.Get("sm.tile_cache_size")
	require.True(t, ok)
	assert.Equal(t, "10485760", v)
}

func TestOverrides(t *testing.T) {
	c := config.New(map[string]string{"sm.tile_cache_size": "2048"})
	n, err := c.GetBytes("sm.tile_cache_size", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2048), n)
}

func TestTypedAccessors(t *testing.T) {
	c := config.New(map[string]string{
		"sm.num_async_threads":       "8",
		"sm.consolidation.amplification": "2.5",
		"vfs.s3.timeout":             "30s",
	})

	n, err := c.GetInt("sm.num_async_threads", 1)
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	f, err := c.GetFloat("sm.consolidation.amplification", 0)
	require.NoError(t, err)
	assert.Equal(t, 2.5, f)

	d, err := c.GetDuration("vfs.s3.timeout", 0)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)

	assert.Equal(t, "fallback", c.GetString("not.set", "fallback"))
}

func TestGetIntParseError(t *testing.T) {
	c := config.New(map[string]string{"bad": "not-a-number"})
	_, err := c.GetInt("bad", 0)
	require.Error(t, err)
}

func TestLoadFlattensNestedTables(t *testing.T) {
	data := []byte(`
[sm]
num_async_threads = 16

[sm.consolidation]
steps = 7
step_size_ratio = 0.5
`)
	c, err := config.Load(data)
	require.NoError(t, err)

	n, err := c.GetInt("sm.num_async_threads", 0)
	require.NoError(t, err)
	assert.Equal(t, 16, n)

	n, err = c.GetInt("sm.consolidation.steps", 0)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	// Keys not present in the loaded TOML still fall back to Defaults.
	_, ok := c.Get("sm.tile_cache_size")
	assert.True(t, ok)
}

func TestWithPrefix(t *testing.T) {
	c := config.New(map[string]string{
		"vfs.s3.region":  "us-east-1",
		"vfs.s3.timeout": "10s",
		"sm.tile_cache_size": "1",
	})
	sub := c.WithPrefix("vfs.s3")
	assert.Equal(t, "us-east-1", sub["region"])
	assert.Equal(t, "10s", sub["timeout"])
	_, ok := sub["tile_cache_size"]
	assert.False(t, ok)
}
