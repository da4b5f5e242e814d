package sm

import (
	"context"
	"sync"

	"github.com/latticedb/lattice/errors"
)

// progressCounter is the In-Progress Counter: a single process-wide
// non-negative integer counting queries currently executing, with a
// condition variable for "reached zero". cancel_all_tasks waits on this
// after setting the cancellation flag.
type progressCounter struct {
	mu sync.Mutex
	cv *sync.Cond
	n  int
}

func newProgressCounter() *progressCounter {
	c := &progressCounter{}
	c.cv = sync.NewCond(&c.mu)
	return c
}

// enter increments the counter. The array create/open/reopen/close and
// query submit operations, VacuumArray and UpgradeArrayVersion call this
// on entry and leave on every exit path; the xlock, tile cache,
// filesystem-helper, object iterator, fragment-info, consolidation-plan
// and MarkForVacuum operations do not touch the counter.
func (c *progressCounter) enter() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *progressCounter) leave() {
	c.mu.Lock()
	c.n--
	if c.n == 0 {
		c.cv.Broadcast()
	}
	c.mu.Unlock()
}

// waitZero blocks until the counter reaches zero or ctx is done.
func (c *progressCounter) waitZero(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.n != 0 {
		if err := ctx.Err(); err != nil {
			return errors.New(errors.CodeCancelled, "storage manager: "+err.Error())
		}
		c.cv.Wait()
	}
	return nil
}

func (c *progressCounter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
