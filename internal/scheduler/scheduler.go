package scheduler

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"github.com/storesync/storesync/internal/cache"
	"github.com/storesync/storesync/internal/clock"
	"github.com/storesync/storesync/internal/diff"
	"github.com/storesync/storesync/internal/registry"
	"github.com/storesync/storesync/internal/snapshot"
	"github.com/storesync/storesync/internal/synclog"
)

// SettleDelay is the upper bound the settle step waits for refetches to
// land before capturing "after" snapshots.
const SettleDelay = 2000 * time.Millisecond

// ErrNoTenant is returned when a sync is requested without a tenant.
var ErrNoTenant = errors.New("no tenant selected")

// Cache is the cache capability the scheduler uses: resident reads for
// snapshots and prefix invalidation.
type Cache interface {
	snapshot.Reader
	Invalidate(ctx context.Context, prefix cache.Key) *cache.Refetch
}

// Config holds scheduler configuration.
type Config struct {
	// Registry lists the data domains to invalidate and diff.
	Registry *registry.Registry

	// Clock drives the poll timer and settle delay.
	Clock clock.Clock

	// AwaitRefetch lets the settle step run as soon as every refetch
	// started by the cycle has finished, instead of always waiting for
	// SettleDelay.
	AwaitRefetch bool

	// Logger for scheduler activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Registry:     registry.Default,
		Clock:        clock.Real(),
		AwaitRefetch: true,
		Logger:       log.New(os.Stderr, "[scheduler] ", log.LstdFlags),
	}
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	Running         bool      `json:"running"`
	TenantID        string    `json:"tenant_id"`
	IntervalSeconds int       `json:"interval_seconds"`
	Ticks           int       `json:"ticks"`
	Cycles          int       `json:"cycles"`
	Discarded       int       `json:"discarded"`
	LastCycle       time.Time `json:"last_cycle"`
}

// Scheduler polls the cache for one tenant at a time.
type Scheduler struct {
	cache    Cache
	sink     *synclog.Sink
	capturer *snapshot.Capturer
	registry *registry.Registry
	clock    clock.Clock
	await    bool
	logger   *log.Logger

	mu        sync.Mutex
	selected  bool
	tenantID  string
	interval  int
	timer     clock.Timer
	gen       uint64
	ticks     int
	cycles    int
	discarded int
	lastCycle time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Scheduler. Nothing is armed until Start is called.
func New(c Cache, sink *synclog.Sink, config *Config) *Scheduler {
	if config == nil {
		config = DefaultConfig()
	}
	defaults := DefaultConfig()
	if config.Registry == nil {
		config.Registry = defaults.Registry
	}
	if config.Clock == nil {
		config.Clock = defaults.Clock
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if sink == nil {
		sink = synclog.New(0)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cache:    c,
		sink:     sink,
		capturer: snapshot.New(c, config.Registry),
		registry: config.Registry,
		clock:    config.Clock,
		await:    config.AwaitRefetch,
		logger:   config.Logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start selects tenantID and polls it every intervalSeconds. An empty tenant
// or a non-positive interval leaves nothing armed. Any previously armed
// timer is cancelled first; calling Start again with the same arguments
// while armed is a no-op.
func (s *Scheduler) Start(tenantID string, intervalSeconds int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.selected && s.timer != nil && tenantID == s.tenantID && intervalSeconds == s.interval {
		return
	}

	s.disarmLocked()
	s.selected = true
	s.tenantID = tenantID
	s.interval = intervalSeconds

	if tenantID == "" || intervalSeconds <= 0 {
		s.logger.Printf("Polling disabled (tenant=%q, interval=%ds)", tenantID, intervalSeconds)
		return
	}

	s.armLocked()
	s.logger.Printf("Polling %s every %ds", tenantID, intervalSeconds)
}

// Stop cancels the armed timer, if any. The tenant selection is kept.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.logger.Printf("Polling stopped for %s", s.tenantID)
	}
	s.disarmLocked()
}

// Close stops polling and cancels in-flight refetches started by the
// scheduler.
func (s *Scheduler) Close() {
	s.Stop()
	s.cancel()
}

// ForceSync runs one sync cycle for tenantID immediately, independent of the
// timer. tenantID need not be the selected tenant; the result is discarded
// only if the selection changes before the cycle settles.
func (s *Scheduler) ForceSync(tenantID string) (*Cycle, error) {
	if tenantID == "" {
		return nil, ErrNoTenant
	}
	return s.runCycle(tenantID), nil
}

// ForceRefresh runs one sync cycle for the selected tenant.
func (s *Scheduler) ForceRefresh() (*Cycle, error) {
	s.mu.Lock()
	tenantID := s.tenantID
	s.mu.Unlock()

	return s.ForceSync(tenantID)
}

// Status returns the current scheduler state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Status{
		Running:         s.timer != nil,
		TenantID:        s.tenantID,
		IntervalSeconds: s.interval,
		Ticks:           s.ticks,
		Cycles:          s.cycles,
		Discarded:       s.discarded,
		LastCycle:       s.lastCycle,
	}
}

// armLocked arms the timer for the current generation. Caller holds s.mu.
func (s *Scheduler) armLocked() {
	gen := s.gen
	period := time.Duration(s.interval) * time.Second
	s.timer = s.clock.AfterFunc(period, func() { s.tick(gen) })
}

// disarmLocked cancels the timer and supersedes its generation. Caller holds s.mu.
func (s *Scheduler) disarmLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
}

func (s *Scheduler) tick(gen uint64) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.ticks++
	tenantID := s.tenantID
	s.armLocked()
	s.mu.Unlock()

	s.runCycle(tenantID)
}

// runCycle executes one sync cycle. It returns once invalidation has been
// issued; the settle step runs later.
func (s *Scheduler) runCycle(tenantID string) *Cycle {
	start := s.clock.Now()
	cyc := newCycle(tenantID, start)

	s.mu.Lock()
	cyc.selected, cyc.active = s.selected, s.tenantID
	s.mu.Unlock()

	logging := s.sink.Enabled()
	var before snapshot.Snapshots
	if logging {
		before = s.capturer.Capture(tenantID)
	}

	prefixes := s.registry.Prefixes(tenantID)
	refetches := make([]*cache.Refetch, 0, len(prefixes))
	for _, p := range prefixes {
		refetches = append(refetches, s.cache.Invalidate(s.ctx, p))
	}

	s.mu.Lock()
	s.cycles++
	s.lastCycle = start
	s.mu.Unlock()

	if !logging || before.Populated() == 0 {
		cyc.finish(nil)
		return cyc
	}

	s.scheduleSettle(cyc, before, cache.Wait(refetches...))
	return cyc
}

// scheduleSettle arranges for settle to run exactly once: when the
// refetches finish (if awaiting is enabled) or after SettleDelay.
func (s *Scheduler) scheduleSettle(cyc *Cycle, before snapshot.Snapshots, refetch *cache.Refetch) {
	var (
		once    sync.Once
		timerMu sync.Mutex
		timer   clock.Timer
	)
	run := func(err error) {
		once.Do(func() {
			timerMu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timerMu.Unlock()
			s.settle(cyc, before, err)
		})
	}

	timerMu.Lock()
	timer = s.clock.AfterFunc(SettleDelay, func() {
		var err error
		select {
		case <-refetch.Done():
			err = refetch.Err()
		default:
		}
		run(err)
	})
	timerMu.Unlock()

	if s.await {
		go func() {
			select {
			case <-refetch.Done():
				run(refetch.Err())
			case <-cyc.Done():
			}
		}()
	}
}

func (s *Scheduler) settle(cyc *Cycle, before snapshot.Snapshots, refetchErr error) {
	s.mu.Lock()
	stale := s.selected != cyc.selected || s.tenantID != cyc.active
	if stale {
		s.discarded++
	}
	s.mu.Unlock()

	if stale {
		s.logger.Printf("Discarding sync result for %s: tenant selection changed", cyc.TenantID)
		cyc.finish(nil)
		return
	}

	after := s.capturer.Capture(cyc.TenantID)

	descs := s.registry.All()
	diffs := make([]diff.SyncDiff, 0, len(descs))
	for _, d := range descs {
		diffs = append(diffs, diff.Compute(d.Type, d, before[d.Type], after[d.Type]))
	}

	now := s.clock.Now()
	entry := synclog.NewEntry(cyc.TenantID, now, now.Sub(cyc.Started), diffs, refetchErr)
	s.sink.AddEntry(entry)

	s.logger.Printf("Sync complete for %s: %d changes in %dms (%s)",
		cyc.TenantID, entry.TotalChanges, entry.Duration, entry.Status)
	cyc.finish(&entry)
}
