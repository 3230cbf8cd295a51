// Package config loads storesync configuration with viper and watches the
// preference file for live changes.
//
// Sources, highest precedence first:
//   - STORESYNC_* environment variables (STORESYNC_SYNC_INTERVAL, ...)
//   - the config file (--config, or storesync.yaml in . or
//     $HOME/.config/storesync)
//   - built-in defaults
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// FileName is the config file name searched for without --config.
const FileName = "storesync"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "STORESYNC"

// APIConfig configures the analytics API client.
type APIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SyncConfig holds the sync preferences.
type SyncConfig struct {
	// StoreID is the active tenant. Empty means no store selected.
	StoreID string `mapstructure:"store_id"`

	// Interval in seconds between polls. 0 disables polling.
	Interval int `mapstructure:"interval"`

	// DiffLogging enables before/after snapshots and the sync log.
	DiffLogging bool `mapstructure:"diff_logging"`

	// AwaitRefetch settles a cycle as soon as its refetches finish.
	AwaitRefetch bool `mapstructure:"await_refetch"`

	// LogCapacity bounds the in-memory sync log.
	LogCapacity int `mapstructure:"log_capacity"`
}

// DashboardConfig configures the dashboard server.
type DashboardConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// ArchiveConfig configures the sync log archive.
type ArchiveConfig struct {
	// Path to the SQLite archive. Empty disables archiving.
	Path string `mapstructure:"path"`

	// Retention drops archived entries older than this. 0 keeps everything.
	Retention time.Duration `mapstructure:"retention"`
}

// LogConfig configures process logging.
type LogConfig struct {
	// File to write logs to (rotated). Empty logs to stderr.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// Config is the full storesync configuration.
type Config struct {
	API       APIConfig       `mapstructure:"api"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Log       LogConfig       `mapstructure:"log"`
}

// Preferences are the live-applied subset of the sync settings.
type Preferences struct {
	StoreID         string
	IntervalSeconds int
	DiffLogging     bool
}

// Preferences returns the live-applied settings.
func (c *Config) Preferences() Preferences {
	return Preferences{
		StoreID:         c.Sync.StoreID,
		IntervalSeconds: c.Sync.Interval,
		DiffLogging:     c.Sync.DiffLogging,
	}
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []error
	if c.Sync.Interval < 0 {
		errs = append(errs, fmt.Errorf("sync.interval must be >= 0, got %d", c.Sync.Interval))
	}
	if c.Sync.LogCapacity < 0 {
		errs = append(errs, fmt.Errorf("sync.log_capacity must be >= 0, got %d", c.Sync.LogCapacity))
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		errs = append(errs, fmt.Errorf("dashboard.port out of range: %d", c.Dashboard.Port))
	}
	if c.API.Timeout < 0 {
		errs = append(errs, fmt.Errorf("api.timeout must be >= 0, got %s", c.API.Timeout))
	}
	return errors.Join(errs...)
}

// Loader reads configuration from file, environment and defaults.
type Loader struct {
	v        *viper.Viper
	explicit string
}

// NewLoader creates a loader. path is an explicit config file; empty
// searches the default locations.
func NewLoader(path string) *Loader {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "storesync"))
		}
	}

	return &Loader{v: v, explicit: path}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "")
	v.SetDefault("api.token", "")
	v.SetDefault("api.timeout", "15s")
	v.SetDefault("sync.store_id", "")
	v.SetDefault("sync.interval", 0)
	v.SetDefault("sync.diff_logging", false)
	v.SetDefault("sync.await_refetch", true)
	v.SetDefault("sync.log_capacity", 100)
	v.SetDefault("dashboard.enabled", true)
	v.SetDefault("dashboard.port", 8787)
	v.SetDefault("archive.path", "")
	v.SetDefault("archive.retention", "0s")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
}

// Load reads the config file (if any) and returns the merged configuration.
// A missing file is not an error unless it was given explicitly.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if l.explicit != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var c Config
	if err := l.v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &c, nil
}

// ConfigFile returns the file the last Load read, or "" if none was found.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Load is shorthand for NewLoader(path).Load().
func Load(path string) (*Config, error) {
	return NewLoader(path).Load()
}
