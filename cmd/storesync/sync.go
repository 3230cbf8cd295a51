package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/storesync/storesync/internal/daemon"
	"github.com/storesync/storesync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run one sync cycle and print what changed",
	Long: `Fetch every data domain of a store, run one forced sync cycle, and print
the resulting sync log entry.

The cycle invalidates all domains and compares the data fetched before the
cycle with the data refetched by it. If an archive is configured the entry
is also archived.

Example usage:
  storesync sync --store store-1
  storesync sync --store store-1 --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, _, err := loadSettings()
		if err != nil {
			return err
		}
		storeID, _ := cmd.Flags().GetString("store")
		if storeID == "" {
			storeID = settings.Sync.StoreID
		}
		if storeID == "" {
			return fmt.Errorf("no store selected: pass --store or set sync.store_id")
		}
		asJSON, _ := cmd.Flags().GetBool("json")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		settings.Dashboard.Enabled = false

		cfg := daemon.DefaultConfig()
		cfg.Settings = settings
		cfg.Logger = newLogger(settings, "[sync] ")

		d, err := daemon.NewWithConfig(cfg)
		if err != nil {
			return err
		}
		defer d.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		entry, ok, err := d.SyncOnce(ctx, storeID)
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}
		if !ok {
			fmt.Printf("%s No data cached for %s; nothing to compare\n", ui.RenderWarn("⚠"), storeID)
			return nil
		}

		if db := d.Archive(); db != nil {
			if err := db.AppendContext(ctx, entry); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to archive entry: %v\n", err)
			}
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(entry)
		}
		fmt.Print(ui.RenderEntry(entry, ui.Options{Verbose: verbose}))
		return nil
	},
}

func init() {
	syncCmd.Flags().String("store", "", "Store to sync (default: sync.store_id)")
	syncCmd.Flags().Bool("json", false, "Print the entry as JSON")
	syncCmd.Flags().Duration("timeout", 2*time.Minute, "Give up after this long")

	rootCmd.AddCommand(syncCmd)
}
