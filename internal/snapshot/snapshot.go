// Package snapshot captures point-in-time views of the cache for every
// registered data type of a tenant.
package snapshot

import (
	"github.com/storesync/storesync/internal/cache"
	"github.com/storesync/storesync/internal/diff"
	"github.com/storesync/storesync/internal/registry"
)

// Reader is the read-only cache capability the capturer needs.
type Reader interface {
	Get(key cache.Key) (any, bool)
}

// Snapshots maps a data type to the data cached for it. A nil value means
// nothing was cached.
type Snapshots map[string]any

// Populated returns how many types had cached data. Empty values, typed
// nils included, do not count.
func (s Snapshots) Populated() int {
	n := 0
	for _, v := range s {
		if !diff.IsEmpty(v) {
			n++
		}
	}
	return n
}

// Capturer reads snapshots from a cache.
type Capturer struct {
	cache    Reader
	registry *registry.Registry
}

// New creates a Capturer. If reg is nil, registry.Default is used.
func New(c Reader, reg *registry.Registry) *Capturer {
	if reg == nil {
		reg = registry.Default
	}
	return &Capturer{cache: c, registry: reg}
}

// Capture reads the cache once for every registered descriptor. It never
// fetches; types with nothing cached map to nil.
func (c *Capturer) Capture(tenantID string) Snapshots {
	out := make(Snapshots, c.registry.Len())
	for _, d := range c.registry.All() {
		data, _ := c.cache.Get(d.QueryKey(tenantID))
		out[d.Type] = data
	}
	return out
}
