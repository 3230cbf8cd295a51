// Package synclog holds the bounded, process-wide log of sync cycles.
//
// The sink keeps the most recent entries in a ring buffer, exposes an
// enabled flag that tells the scheduler whether to pay for snapshot capture,
// and fans new entries out to subscribers such as the dashboard.
package synclog

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/storesync/storesync/internal/diff"
)

// DefaultCapacity is the number of entries kept when no capacity is given.
const DefaultCapacity = 100

// Status of a completed sync cycle.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Entry records one completed sync cycle. Entries are immutable once added.
type Entry struct {
	ID           string          `json:"id"`
	Timestamp    int64           `json:"timestamp"` // epoch ms
	StoreID      string          `json:"store_id"`
	Duration     int64           `json:"duration"` // ms
	Status       Status          `json:"status"`
	Error        string          `json:"error,omitempty"`
	TotalChanges int             `json:"total_changes"`
	Diffs        []diff.SyncDiff `json:"diffs"`
}

// NewEntry assembles an entry, counting the diffs that carry changes.
func NewEntry(storeID string, at time.Time, duration time.Duration, diffs []diff.SyncDiff, err error) Entry {
	e := Entry{
		ID:        uuid.NewString(),
		Timestamp: at.UnixMilli(),
		StoreID:   storeID,
		Duration:  duration.Milliseconds(),
		Status:    StatusSuccess,
		Diffs:     diffs,
	}
	for _, d := range diffs {
		if d.HasChanges {
			e.TotalChanges++
		}
	}
	if err != nil {
		e.Status = StatusError
		e.Error = err.Error()
	}
	return e
}

// Time returns the entry timestamp.
func (e Entry) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Sink is the log. It is safe for concurrent use.
type Sink struct {
	mu      sync.RWMutex
	buf     []Entry
	start   int
	size    int
	enabled bool

	subsMu sync.Mutex
	subs   map[int]chan Entry
	nextID int
}

// New creates a sink keeping at most capacity entries. Logging starts
// enabled. A capacity <= 0 selects DefaultCapacity.
func New(capacity int) *Sink {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Sink{
		buf:     make([]Entry, capacity),
		enabled: true,
		subs:    make(map[int]chan Entry),
	}
}

// Enabled reports whether diff logging is on.
func (s *Sink) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

// SetEnabled turns diff logging on or off.
func (s *Sink) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
}

// Capacity returns the retention bound.
func (s *Sink) Capacity() int {
	return len(s.buf)
}

// AddEntry appends e, evicting the oldest entry when full, and notifies
// subscribers.
func (s *Sink) AddEntry(e Entry) {
	s.mu.Lock()
	idx := (s.start + s.size) % len(s.buf)
	s.buf[idx] = e
	if s.size < len(s.buf) {
		s.size++
	} else {
		s.start = (s.start + 1) % len(s.buf)
	}
	s.mu.Unlock()

	s.publish(e)
}

// Len returns the number of retained entries.
func (s *Sink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Entries returns the retained entries, oldest first.
func (s *Sink) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, s.size)
	for i := 0; i < s.size; i++ {
		out[i] = s.buf[(s.start+i)%len(s.buf)]
	}
	return out
}

// Latest returns up to n of the newest entries, newest first.
func (s *Sink) Latest(n int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n > s.size || n <= 0 {
		n = s.size
	}
	out := make([]Entry, n)
	for i := 0; i < n; i++ {
		out[i] = s.buf[(s.start+s.size-1-i)%len(s.buf)]
	}
	return out
}

// Clear drops every retained entry.
func (s *Sink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.buf {
		s.buf[i] = Entry{}
	}
	s.start = 0
	s.size = 0
}

// Subscribe returns a channel receiving every entry added from now on.
// Entries are dropped for a subscriber whose buffer is full. Call cancel to
// unsubscribe; it closes the channel.
func (s *Sink) Subscribe(buffer int) (<-chan Entry, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Entry, buffer)

	s.subsMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subsMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, id)
			s.subsMu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (s *Sink) publish(e Entry) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	for _, ch := range s.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
