package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/storesync/storesync/internal/config"
	"github.com/storesync/storesync/internal/daemon"
	"github.com/storesync/storesync/internal/ui"
)

var runCmd = &cobra.Command{
	Use:     "run",
	GroupID: "sync",
	Short:   "Run the sync daemon",
	Long: `Run the sync daemon in the foreground.

The daemon polls the selected store every sync.interval seconds, invalidating
every dashboard data domain and refetching it from the API. With
sync.diff_logging enabled, each poll is compared against the data held before
it and the result is appended to the sync log.

Changes to sync.store_id, sync.interval and sync.diff_logging in the config
file are applied without a restart. Values given by --store, --interval or
--diff-logging stay in force across those reloads.

The dashboard server exposes:
  GET  /health
  GET  /api/sync/logs?store=&limit=, DELETE /api/sync/logs
  POST /api/sync/refresh
  GET  /api/sync/logging, PUT /api/sync/logging
  GET  /api/sync/status
  GET  /ws                 (sync_log messages)

Example usage:
  storesync run
  storesync run --store store-1 --interval 30 --diff-logging`,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, loader, err := loadSettings()
		if err != nil {
			return err
		}

		overrides := preferenceOverrides(cmd)
		prefs := settings.Preferences()
		overrides(&prefs)
		settings.Sync.StoreID = prefs.StoreID
		settings.Sync.Interval = prefs.IntervalSeconds
		settings.Sync.DiffLogging = prefs.DiffLogging

		if cmd.Flags().Changed("port") {
			settings.Dashboard.Port, _ = cmd.Flags().GetInt("port")
		}
		if noDash, _ := cmd.Flags().GetBool("no-dashboard"); noDash {
			settings.Dashboard.Enabled = false
		}
		if err := settings.Validate(); err != nil {
			return err
		}

		cfg := daemon.DefaultConfig()
		cfg.Settings = settings
		cfg.Loader = loader
		cfg.Overrides = overrides
		cfg.Logger = newLogger(settings, "[daemon] ")

		d, err := daemon.NewWithConfig(cfg)
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		fmt.Printf("%s Syncing %s every %ds (diff logging: %v)\n",
			ui.RenderAccent("⟳"), storeLabel(settings.Sync.StoreID), settings.Sync.Interval, settings.Sync.DiffLogging)
		if settings.Dashboard.Enabled {
			fmt.Printf("   Dashboard: http://localhost:%d\n", settings.Dashboard.Port)
		}
		if settings.Archive.Path != "" {
			fmt.Printf("   Archive: %s\n", settings.Archive.Path)
		}
		fmt.Println("\nPress Ctrl+C to stop...")

		if err := d.Start(ctx); err != nil {
			return err
		}
		fmt.Printf("\n%s Daemon stopped\n", ui.RenderPass("✓"))
		return nil
	},
}

// preferenceOverrides returns a function applying the preference flags that
// were set on the command line. The daemon reapplies it after every config
// reload so flags keep precedence over the file.
func preferenceOverrides(cmd *cobra.Command) func(*config.Preferences) {
	flags := cmd.Flags()
	store, _ := flags.GetString("store")
	interval, _ := flags.GetInt("interval")
	diffLogging, _ := flags.GetBool("diff-logging")

	setStore := flags.Changed("store")
	setInterval := flags.Changed("interval")
	setDiffLogging := flags.Changed("diff-logging")

	return func(p *config.Preferences) {
		if setStore {
			p.StoreID = store
		}
		if setInterval {
			p.IntervalSeconds = interval
		}
		if setDiffLogging {
			p.DiffLogging = diffLogging
		}
	}
}

func storeLabel(storeID string) string {
	if storeID == "" {
		return "(no store selected)"
	}
	return storeID
}

func init() {
	runCmd.Flags().String("store", "", "Store to sync (overrides sync.store_id)")
	runCmd.Flags().Int("interval", 0, "Poll interval in seconds, 0 disables (overrides sync.interval)")
	runCmd.Flags().Bool("diff-logging", false, "Record what changed on each poll (overrides sync.diff_logging)")
	runCmd.Flags().IntP("port", "p", 8787, "Dashboard port (overrides dashboard.port)")
	runCmd.Flags().Bool("no-dashboard", false, "Don't start the dashboard server")

	rootCmd.AddCommand(runCmd)
}
