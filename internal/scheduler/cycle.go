package scheduler

import (
	"sync"
	"time"

	"github.com/storesync/storesync/internal/synclog"
)

// Cycle is the handle of one sync cycle.
type Cycle struct {
	TenantID string
	Started  time.Time

	// selection in effect when the cycle started
	selected bool
	active   string

	mu    sync.Mutex
	entry *synclog.Entry
	done  chan struct{}
}

func newCycle(tenantID string, started time.Time) *Cycle {
	return &Cycle{
		TenantID: tenantID,
		Started:  started,
		done:     make(chan struct{}),
	}
}

// Done is closed when the cycle has fully completed: after its settle step,
// or right after invalidation when no settle step was needed.
func (c *Cycle) Done() <-chan struct{} {
	return c.done
}

// Entry returns the log entry the cycle produced. ok is false when logging
// was disabled, nothing was cached beforehand, or the result was discarded.
func (c *Cycle) Entry() (entry synclog.Entry, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.entry == nil {
		return synclog.Entry{}, false
	}
	return *c.entry, true
}

func (c *Cycle) finish(entry *synclog.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return
	default:
	}
	c.entry = entry
	close(c.done)
}
