// Package daemon runs the sync engine as a long-lived process.
//
// The daemon:
// 1. Mounts API fetchers for the selected store and primes the cache
// 2. Polls through the scheduler at the configured interval
// 3. Copies sync log entries into the archive, if one is configured
// 4. Serves the dashboard
// 5. Applies preference changes from the config file while running
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/storesync/storesync/internal/api"
	"github.com/storesync/storesync/internal/archive"
	"github.com/storesync/storesync/internal/cache"
	"github.com/storesync/storesync/internal/clock"
	"github.com/storesync/storesync/internal/config"
	"github.com/storesync/storesync/internal/dashboard"
	"github.com/storesync/storesync/internal/registry"
	"github.com/storesync/storesync/internal/scheduler"
	"github.com/storesync/storesync/internal/synclog"
)

// Config holds configuration for the daemon.
type Config struct {
	// Settings is the loaded storesync configuration.
	Settings *config.Config

	// Loader, when set and backed by a file, enables live preference
	// reloading.
	Loader *config.Loader

	// Overrides, when set, adjusts every preference set before it is
	// applied, including those reloaded from the config file. The CLI uses
	// it to keep flag values in force across reloads.
	Overrides func(*config.Preferences)

	// Clock drives the scheduler (default: real clock)
	Clock clock.Clock

	// PurgeInterval is how often archive retention is enforced
	PurgeInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Clock:         clock.Real(),
		PurgeInterval: time.Hour,
		Logger:        log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon owns every sync component for one process.
type Daemon struct {
	config   *Config
	settings *config.Config
	logger   *log.Logger

	registry  *registry.Registry
	store     *cache.Store
	client    *api.Client
	sink      *synclog.Sink
	scheduler *scheduler.Scheduler
	archive   *archive.DB
	dashboard *dashboard.Server
	handler   *dashboard.Handler
	watcher   *config.Watcher

	mu      sync.Mutex
	prefs   config.Preferences
	mounted string
	unmount func()

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a daemon from loaded settings. Nothing runs until Start.
func New(settings *config.Config, loader *config.Loader) (*Daemon, error) {
	cfg := DefaultConfig()
	cfg.Settings = settings
	cfg.Loader = loader
	return NewWithConfig(cfg)
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(cfg *Config) (*Daemon, error) {
	if cfg == nil || cfg.Settings == nil {
		return nil, fmt.Errorf("settings cannot be nil")
	}
	defaults := DefaultConfig()
	if cfg.Clock == nil {
		cfg.Clock = defaults.Clock
	}
	if cfg.PurgeInterval <= 0 {
		cfg.PurgeInterval = defaults.PurgeInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = defaults.Logger
	}
	settings := cfg.Settings

	client, err := api.New(api.Config{
		BaseURL: settings.API.BaseURL,
		Token:   settings.API.Token,
		Timeout: settings.API.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create api client: %w", err)
	}

	d := &Daemon{
		config:   cfg,
		settings: settings,
		logger:   cfg.Logger,
		registry: registry.Default,
		store:    cache.New(componentLogger(cfg.Logger, "[cache] ")),
		client:   client,
		sink:     synclog.New(settings.Sync.LogCapacity),
	}

	d.scheduler = scheduler.New(d.store, d.sink, &scheduler.Config{
		Registry:     d.registry,
		Clock:        cfg.Clock,
		AwaitRefetch: settings.Sync.AwaitRefetch,
		Logger:       componentLogger(cfg.Logger, "[scheduler] "),
	})

	if settings.Archive.Path != "" {
		db, err := archive.Open(settings.Archive.Path)
		if err != nil {
			d.scheduler.Close()
			return nil, fmt.Errorf("failed to open archive: %w", err)
		}
		d.archive = db
	}

	if settings.Dashboard.Enabled {
		d.dashboard = dashboard.NewServer(&dashboard.Config{
			Port:   settings.Dashboard.Port,
			Logger: componentLogger(cfg.Logger, "[dashboard] "),
		}, d.sink, d.scheduler)
		d.handler = dashboard.NewHandler(d.dashboard, d.sink, componentLogger(cfg.Logger, "[dashboard] "))
	}

	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

// componentLogger derives a logger for a component, sharing the parent's
// writer and flags.
func componentLogger(parent *log.Logger, prefix string) *log.Logger {
	return log.New(parent.Writer(), prefix, parent.Flags())
}

// Start applies the configured preferences and runs every component. It
// blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.logger.Println("Starting daemon")

	if d.dashboard != nil {
		if err := d.dashboard.Start(); err != nil {
			return fmt.Errorf("failed to start dashboard: %w", err)
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.handler.Run(d.ctx)
		}()
	}

	if d.archive != nil {
		d.wg.Add(1)
		go d.archiveEntries()
		if d.settings.Archive.Retention > 0 {
			d.wg.Add(1)
			go d.purgeArchive()
		}
	}

	if err := d.startWatcher(); err != nil {
		d.logger.Printf("Preference watching disabled: %v", err)
	}

	d.ApplyPreferences(d.preferences(d.settings))

	select {
	case <-ctx.Done():
		d.logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop shuts every component down. It is safe to call more than once and
// on a daemon that was never started.
func (d *Daemon) Stop() error {
	var errs []error
	d.stopOnce.Do(func() {
		d.logger.Println("Stopping daemon")

		d.mu.Lock()
		d.cancel()
		d.mu.Unlock()
		d.scheduler.Close()

		if d.watcher != nil {
			if err := d.watcher.Stop(); err != nil {
				errs = append(errs, err)
			}
		}
		if d.dashboard != nil {
			if err := d.dashboard.Stop(); err != nil {
				errs = append(errs, err)
			}
		}

		d.wg.Wait()

		d.mu.Lock()
		if d.unmount != nil {
			d.unmount()
			d.unmount = nil
		}
		d.mu.Unlock()

		if d.archive != nil {
			if err := d.archive.Close(); err != nil {
				errs = append(errs, err)
			}
		}

		d.logger.Println("Daemon stopped")
	})
	return errors.Join(errs...)
}

// ApplyPreferences switches store, interval and diff logging. Switching
// stores remounts the API fetchers and primes the cache for the new store
// in the background.
func (d *Daemon) ApplyPreferences(p config.Preferences) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ctx.Err() != nil {
		return
	}

	if p.StoreID != d.mounted {
		d.mountLocked(p.StoreID)
		if p.StoreID != "" {
			d.wg.Add(1)
			go func(storeID string) {
				defer d.wg.Done()
				if err := d.client.Prime(d.ctx, d.store, d.registry, storeID); err != nil {
					d.logger.Printf("Priming %s incomplete: %v", storeID, err)
				}
			}(p.StoreID)
		}
	}

	d.sink.SetEnabled(p.DiffLogging)
	d.scheduler.Start(p.StoreID, p.IntervalSeconds)

	if p != d.prefs {
		d.logger.Printf("Preferences applied: store=%q interval=%ds diff_logging=%v",
			p.StoreID, p.IntervalSeconds, p.DiffLogging)
	}
	d.prefs = p
}

// preferences extracts the live preferences from c with overrides applied.
func (d *Daemon) preferences(c *config.Config) config.Preferences {
	p := c.Preferences()
	if d.config.Overrides != nil {
		d.config.Overrides(&p)
	}
	return p
}

// mountLocked replaces the mounted fetchers with storeID's. Caller holds d.mu.
func (d *Daemon) mountLocked(storeID string) {
	if d.unmount != nil {
		d.unmount()
		d.unmount = nil
	}
	d.mounted = storeID
	if storeID != "" {
		d.unmount = d.client.MountAll(d.store, d.registry, storeID)
	}
}

// Preferences returns the preferences currently applied.
func (d *Daemon) Preferences() config.Preferences {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.prefs
}

// SyncOnce fetches storeID's data, runs one sync cycle, and waits for it to
// settle. ok is false when the cycle produced no entry.
func (d *Daemon) SyncOnce(ctx context.Context, storeID string) (entry synclog.Entry, ok bool, err error) {
	if storeID == "" {
		return synclog.Entry{}, false, scheduler.ErrNoTenant
	}

	d.mu.Lock()
	if d.mounted != storeID {
		d.mountLocked(storeID)
	}
	d.mu.Unlock()

	if err := d.client.Prime(ctx, d.store, d.registry, storeID); err != nil {
		d.logger.Printf("Priming %s incomplete: %v", storeID, err)
	}

	d.sink.SetEnabled(true)
	cyc, err := d.scheduler.ForceSync(storeID)
	if err != nil {
		return synclog.Entry{}, false, err
	}

	select {
	case <-cyc.Done():
	case <-ctx.Done():
		return synclog.Entry{}, false, ctx.Err()
	}

	entry, ok = cyc.Entry()
	return entry, ok, nil
}

// Sink returns the sync log.
func (d *Daemon) Sink() *synclog.Sink { return d.sink }

// Scheduler returns the scheduler.
func (d *Daemon) Scheduler() *scheduler.Scheduler { return d.scheduler }

// Cache returns the cache store.
func (d *Daemon) Cache() *cache.Store { return d.store }

// Archive returns the archive, or nil when archiving is disabled.
func (d *Daemon) Archive() *archive.DB { return d.archive }

// DashboardAddr returns the dashboard's listening address, or "".
func (d *Daemon) DashboardAddr() string {
	if d.dashboard == nil {
		return ""
	}
	return d.dashboard.GetAddr()
}

func (d *Daemon) startWatcher() error {
	if d.config.Loader == nil {
		return fmt.Errorf("no config loader")
	}
	w, err := config.NewWatcher(d.config.Loader, componentLogger(d.logger, "[config] "))
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		return err
	}
	d.watcher = w

	d.logger.Printf("Watching preferences in %s", w.Path())

	d.wg.Add(1)
	go d.applyChanges(w)
	return nil
}

// applyChanges applies reloaded preferences until the watcher stops.
func (d *Daemon) applyChanges(w *config.Watcher) {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case c, ok := <-w.Changes():
			if !ok {
				return
			}
			d.ApplyPreferences(d.preferences(c))

		case err, ok := <-w.Errors():
			if !ok {
				return
			}
			d.logger.Printf("Preference watcher error: %v", err)
		}
	}
}

// archiveEntries copies every new sync log entry into the archive.
func (d *Daemon) archiveEntries() {
	defer d.wg.Done()

	entries, cancel := d.sink.Subscribe(64)
	defer cancel()

	for {
		select {
		case <-d.ctx.Done():
			return

		case e, ok := <-entries:
			if !ok {
				return
			}
			if err := d.archive.AppendContext(d.ctx, e); err != nil {
				d.logger.Printf("Error archiving entry %s: %v", e.ID, err)
			}
		}
	}
}

// purgeArchive periodically drops entries older than the retention window.
func (d *Daemon) purgeArchive() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.PurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			cutoff := time.Now().Add(-d.settings.Archive.Retention)
			n, err := d.archive.PurgeContext(d.ctx, cutoff)
			if err != nil {
				d.logger.Printf("Error purging archive: %v", err)
				continue
			}
			if n > 0 {
				d.logger.Printf("Purged %d archived entries", n)
			}
		}
	}
}
