package pool_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticedb/lattice/errors"
	"github.com/latticedb/lattice/pool"
)

func TestRegistrySubmitAndComplete(t *testing.T) {
	p := pool.New("test", 2, 0)
	defer p.Shutdown()
	r := pool.NewRegistry(p)

	h, err := r.Submit(context.Background(), func(ctx context.Context) (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	got, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}

func TestRegistryCancelAllBlocksQueuedWork(t *testing.T) {
	p := pool.New("test", 1, 8)
	defer p.Shutdown()
	r := pool.NewRegistry(p)

	// Saturate the single worker so subsequent submissions stay queued.
	block := make(chan struct{})
	release := make(chan struct{})
	first, err := r.Submit(context.Background(), func(ctx context.Context) (interface{}, error) {
		close(block)
		<-release
		return nil, nil
	})
	require.NoError(t, err)
	<-block

	queued, err := r.Submit(context.Background(), func(ctx context.Context) (interface{}, error) {
		return "should not run", nil
	})
	require.NoError(t, err)

	r.CancelAll()
	close(release)

	_, err = first.Wait(context.Background())
	require.NoError(t, err)

	_, err = queued.Wait(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CodeCancelled))
}

func TestRegistryRejectsNewSubmissionsWhileCancelling(t *testing.T) {
	p := pool.New("test", 1, 0)
	defer p.Shutdown()
	r := pool.NewRegistry(p)

	r.CancelAll()
	assert.True(t, r.IsCancelled())

	_, err := r.Submit(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, nil
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CodeCancelled))
}

func TestRegistryResetAllowsResubmission(t *testing.T) {
	p := pool.New("test", 1, 0)
	defer p.Shutdown()
	r := pool.NewRegistry(p)

	r.CancelAll()
	r.Reset()
	assert.False(t, r.IsCancelled())

	h, err := r.Submit(context.Background(), func(ctx context.Context) (interface{}, error) {
		return "back", nil
	})
	require.NoError(t, err)
	got, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "back", got)
}

func TestRegistryConcurrentSubmit(t *testing.T) {
	p := pool.New("test", 4, 0)
	defer p.Shutdown()
	r := pool.NewRegistry(p)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := r.Submit(context.Background(), func(ctx context.Context) (interface{}, error) {
				return nil, nil
			})
			if err == nil {
				h.Wait(context.Background())
			}
		}()
	}
	wg.Wait()
}
