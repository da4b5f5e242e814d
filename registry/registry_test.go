package registry_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticedb/lattice/errors"
	"github.com/latticedb/lattice/registry"
	"github.com/latticedb/lattice/schema"
	"github.com/latticedb/lattice/vfs"
)

func loadWithSchema(s *schema.Schema) func(ctx context.Context, e *registry.Entry) error {
	return func(ctx context.Context, e *registry.Entry) error {
		e.SetSchema(s)
		return nil
	}
}

func TestAcquireCreatesAndSharesEntry(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	v := vfs.NewLocal()
	uri := vfs.NewURI(dir)
	require.NoError(t, v.CreateDir(ctx, uri))

	pair := registry.NewPair(v, nil)
	sch := &schema.Schema{Version: 1}

	e1, err := pair.Read.Acquire(ctx, uri, loadWithSchema(sch))
	require.NoError(t, err)
	assert.Equal(t, 1, pair.Read.RefCount(uri))

	e2, err := pair.Read.Acquire(ctx, uri, loadWithSchema(&schema.Schema{Version: 99}))
	require.NoError(t, err)
	assert.Same(t, e1, e2, "a second Acquire for an already-open uri must return the same entry")
	assert.Equal(t, 2, pair.Read.RefCount(uri))
	// load is only invoked on first creation, so the installed schema is unchanged.
	assert.Equal(t, sch, e2.Schema())
}

func TestReleaseDropsEntryAtZeroRefcount(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	v := vfs.NewLocal()
	uri := vfs.NewURI(dir)
	require.NoError(t, v.CreateDir(ctx, uri))

	pair := registry.NewPair(v, nil)
	_, err := pair.Read.Acquire(ctx, uri, loadWithSchema(&schema.Schema{}))
	require.NoError(t, err)
	_, err = pair.Read.Acquire(ctx, uri, loadWithSchema(&schema.Schema{}))
	require.NoError(t, err)

	require.NoError(t, pair.Read.Release(ctx, uri))
	assert.True(t, pair.Read.IsOpen(uri))

	require.NoError(t, pair.Read.Release(ctx, uri))
	assert.False(t, pair.Read.IsOpen(uri))
}

func TestReleaseUnopenedIsAnError(t *testing.T) {
	ctx := context.Background()
	v := vfs.NewLocal()
	pair := registry.NewPair(v, nil)

	err := pair.Read.Release(ctx, vfs.NewURI("/never/opened"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CodeInvalidArgument))
}

func TestAcquireRollsBackOnLoadFailure(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	v := vfs.NewLocal()
	uri := vfs.NewURI(dir)
	require.NoError(t, v.CreateDir(ctx, uri))

	pair := registry.NewPair(v, nil)
	boom := errors.New(errors.CodeInvalidSchema, "boom")

	_, err := pair.Read.Acquire(ctx, uri, func(ctx context.Context, e *registry.Entry) error {
		return boom
	})
	require.Error(t, err)
	assert.False(t, pair.Read.IsOpen(uri), "a failed load must not leave an entry behind")

	// And the filelock must have been released, so a fresh Acquire succeeds.
	_, err = pair.Read.Acquire(ctx, uri, loadWithSchema(&schema.Schema{}))
	require.NoError(t, err)
}

func TestOnEmptiedFiresExactlyOnceAtZero(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	v := vfs.NewLocal()
	uri := vfs.NewURI(dir)
	require.NoError(t, v.CreateDir(ctx, uri))

	var mu sync.Mutex
	var notified int
	pair := registry.NewPair(v, func(u vfs.URI) {
		mu.Lock()
		notified++
		mu.Unlock()
	})

	_, err := pair.Read.Acquire(ctx, uri, loadWithSchema(&schema.Schema{}))
	require.NoError(t, err)
	_, err = pair.Read.Acquire(ctx, uri, loadWithSchema(&schema.Schema{}))
	require.NoError(t, err)

	require.NoError(t, pair.Read.Release(ctx, uri))
	mu.Lock()
	assert.Equal(t, 0, notified)
	mu.Unlock()

	require.NoError(t, pair.Read.Release(ctx, uri))
	mu.Lock()
	assert.Equal(t, 1, notified)
	mu.Unlock()
}

func TestReadAndWriteRegistriesAreIndependent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	v := vfs.NewLocal()
	uri := vfs.NewURI(dir)
	require.NoError(t, v.CreateDir(ctx, uri))

	pair := registry.NewPair(v, nil)
	_, err := pair.Read.Acquire(ctx, uri, loadWithSchema(&schema.Schema{}))
	require.NoError(t, err)

	_, err = pair.Write.Acquire(ctx, uri, loadWithSchema(&schema.Schema{}))
	require.NoError(t, err)

	assert.Equal(t, 1, pair.Read.RefCount(uri))
	assert.Equal(t, 1, pair.Write.RefCount(uri))
}

func TestWriteModeEntryHasNoFragmentCache(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	v := vfs.NewLocal()
	uri := vfs.NewURI(dir)
	require.NoError(t, v.CreateDir(ctx, uri))

	pair := registry.NewPair(v, nil)
	e, err := pair.Write.Acquire(ctx, uri, loadWithSchema(&schema.Schema{}))
	require.NoError(t, err)
	assert.Nil(t, e.FragmentCache())
}

func TestLookupDoesNotAffectRefcount(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	v := vfs.NewLocal()
	uri := vfs.NewURI(dir)
	require.NoError(t, v.CreateDir(ctx, uri))

	pair := registry.NewPair(v, nil)
	_, err := pair.Read.Acquire(ctx, uri, loadWithSchema(&schema.Schema{}))
	require.NoError(t, err)

	e, ok := pair.Read.Lookup(uri)
	require.True(t, ok)
	assert.Equal(t, uri, e.URI)
	assert.Equal(t, 1, pair.Read.RefCount(uri))
}
