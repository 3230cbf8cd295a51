package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/storesync/storesync/internal/config"
	"github.com/storesync/storesync/internal/ui"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "storesync",
	Short: "Keep seller dashboard data fresh and log what changed",
	Long: `storesync polls the seller analytics API for the selected store, keeps a
local cache of every dashboard data domain fresh, and can record a log of
what changed between polls.

Configuration is read from storesync.yaml (current directory or
~/.config/storesync), overridden by STORESYNC_* environment variables.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "inspect", Title: "Inspection Commands:"},
	)

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: ./storesync.yaml or ~/.config/storesync/storesync.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log to stderr even when a log file is configured")
}

// loadSettings loads configuration honoring --config.
func loadSettings() (*config.Config, *config.Loader, error) {
	loader := config.NewLoader(configPath)
	settings, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	return settings, loader, nil
}

// newLogger returns the process logger: a rotating file when log.file is
// set, stderr otherwise.
func newLogger(settings *config.Config, prefix string) *log.Logger {
	var w io.Writer = os.Stderr
	if settings.Log.File != "" {
		rotating := &lumberjack.Logger{
			Filename:   settings.Log.File,
			MaxSize:    settings.Log.MaxSizeMB,
			MaxBackups: settings.Log.MaxBackups,
			Compress:   true,
		}
		w = rotating
		if verbose {
			w = io.MultiWriter(os.Stderr, rotating)
		}
	}
	return log.New(w, prefix, log.LstdFlags)
}

func main() {
	ui.Init()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
