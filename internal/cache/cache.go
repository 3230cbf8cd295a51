// Package cache provides the key-addressed in-memory data cache that the
// dashboard reads from and the sync scheduler invalidates.
//
// Entries are addressed by a Key (an ordered list of segments). Consumers
// that want an entry kept fresh Mount a Fetcher for its key; invalidating a
// key prefix marks matching entries stale and refetches every mounted key
// under that prefix in the background.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Key addresses a cache entry, e.g. Key{"orders", "store-1"}.
type Key []string

// String returns the canonical string form of the key. Segments are
// path-escaped, so a "/" inside a segment cannot collide with a segment
// boundary.
func (k Key) String() string {
	parts := make([]string, len(k))
	for i, seg := range k {
		parts[i] = url.PathEscape(seg)
	}
	return strings.Join(parts, "/")
}

// HasPrefix reports whether the leading segments of k equal prefix.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Fetcher loads fresh data for a key.
type Fetcher func(ctx context.Context, key Key) (any, error)

type entry struct {
	key       Key
	data      any
	stale     bool
	updatedAt time.Time
	lastErr   error
}

type mount struct {
	key   Key
	fetch Fetcher
	refs  int
}

// Stats is a point-in-time view of the cache.
type Stats struct {
	Entries int
	Stale   int
	Mounted int
	Hits    int64
	Misses  int64
}

// Store is the cache. It is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	mounts  map[string]*mount
	hits    int64
	misses  int64

	group  singleflight.Group
	logger *log.Logger
}

// New creates an empty Store.
//
// If logger is nil, a default logger writing to stderr is used.
func New(logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(os.Stderr, "[cache] ", log.LstdFlags)
	}
	return &Store{
		entries: make(map[string]*entry),
		mounts:  make(map[string]*mount),
		logger:  logger,
	}
}

// Get returns the data resident for key. It never triggers a fetch.
func (s *Store) Get(key Key) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key.String()]
	if !ok {
		s.misses++
		return nil, false
	}
	s.hits++
	return e.data, true
}

// Set stores data for key and clears its stale flag.
func (s *Store) Set(key Key, data any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.setLocked(key, data)
}

func (s *Store) setLocked(key Key, data any) {
	id := key.String()
	e, ok := s.entries[id]
	if !ok {
		e = &entry{key: append(Key(nil), key...)}
		s.entries[id] = e
	}
	e.data = data
	e.stale = false
	e.lastErr = nil
	e.updatedAt = time.Now()
}

// IsStale reports whether key has been invalidated since it was last set.
// Unknown keys are not stale.
func (s *Store) IsStale(key Key) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key.String()]
	return ok && e.stale
}

// Remove drops the entry for key.
func (s *Store) Remove(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key.String())
}

// Mount registers a consumer that keeps key fresh with fetch. The returned
// function unmounts it. Mounting the same key twice shares one slot; the
// latest fetcher wins and the slot is released when every mount is undone.
func (s *Store) Mount(key Key, fetch Fetcher) (unmount func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := key.String()
	m, ok := s.mounts[id]
	if !ok {
		m = &mount{key: append(Key(nil), key...)}
		s.mounts[id] = m
	}
	m.fetch = fetch
	m.refs++

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()

			if cur, ok := s.mounts[id]; ok && cur == m {
				m.refs--
				if m.refs <= 0 {
					delete(s.mounts, id)
				}
			}
		})
	}
}

// Mounted returns the keys currently mounted under prefix.
func (s *Store) Mounted(prefix Key) []Key {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []Key
	for _, m := range s.mounts {
		if m.key.HasPrefix(prefix) {
			keys = append(keys, m.key)
		}
	}
	return keys
}

// Invalidate marks every entry under prefix stale and starts a background
// refetch for every mounted key under prefix. It does not wait for the
// refetches; use the returned Refetch to observe them.
func (s *Store) Invalidate(ctx context.Context, prefix Key) *Refetch {
	s.mu.Lock()
	for _, e := range s.entries {
		if e.key.HasPrefix(prefix) {
			e.stale = true
		}
	}
	var targets []*mount
	for _, m := range s.mounts {
		if m.key.HasPrefix(prefix) {
			targets = append(targets, &mount{key: m.key, fetch: m.fetch})
		}
	}
	s.mu.Unlock()

	r := newRefetch(len(targets))
	for _, m := range targets {
		go s.refetch(ctx, m, r)
	}
	if len(targets) == 0 {
		r.finish()
	}
	return r
}

func (s *Store) refetch(ctx context.Context, m *mount, r *Refetch) {
	defer r.done1()

	id := m.key.String()
	data, err, _ := s.group.Do(id, func() (any, error) {
		return m.fetch(ctx, m.key)
	})
	if err != nil {
		s.logger.Printf("Refetch failed for %s: %v", id, err)
		s.mu.Lock()
		if e, ok := s.entries[id]; ok {
			e.lastErr = err
		}
		s.mu.Unlock()
		r.fail(fmt.Errorf("failed to refetch %s: %w", id, err))
		return
	}

	s.Set(m.key, data)
}

// Stats returns current cache statistics.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Entries: len(s.entries),
		Mounted: len(s.mounts),
		Hits:    s.hits,
		Misses:  s.misses,
	}
	for _, e := range s.entries {
		if e.stale {
			st.Stale++
		}
	}
	return st
}

// Refetch tracks the background refetches started by one Invalidate call.
type Refetch struct {
	mu      sync.Mutex
	pending int
	errs    []error
	done    chan struct{}
	closed  bool
}

func newRefetch(n int) *Refetch {
	return &Refetch{pending: n, done: make(chan struct{})}
}

// Done is closed once every refetch has finished.
func (r *Refetch) Done() <-chan struct{} {
	return r.done
}

// Err joins the errors of failed refetches. Only meaningful after Done.
func (r *Refetch) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return errors.Join(r.errs...)
}

func (r *Refetch) fail(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *Refetch) done1() {
	r.mu.Lock()
	r.pending--
	last := r.pending <= 0
	r.mu.Unlock()
	if last {
		r.finish()
	}
}

func (r *Refetch) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.done)
	}
}

// Wait merges several Refetch handles into one.
func Wait(rs ...*Refetch) *Refetch {
	merged := newRefetch(len(rs))
	if len(rs) == 0 {
		merged.finish()
		return merged
	}
	for _, r := range rs {
		go func(r *Refetch) {
			<-r.Done()
			if err := r.Err(); err != nil {
				merged.fail(err)
			}
			merged.done1()
		}(r)
	}
	return merged
}
