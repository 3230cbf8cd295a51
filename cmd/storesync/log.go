package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/storesync/storesync/internal/archive"
	"github.com/storesync/storesync/internal/registry"
	"github.com/storesync/storesync/internal/synclog"
	"github.com/storesync/storesync/internal/ui"
)

var logCmd = &cobra.Command{
	Use:     "log",
	GroupID: "inspect",
	Short:   "Show archived sync log entries",
	Long: `Show sync log entries from the archive, newest first.

The archive is written by 'storesync run' and 'storesync sync' when
archive.path is set. --since accepts durations (2h), dates (2025-03-01),
RFC 3339 timestamps or phrases like "yesterday" and "3 hours ago".

Example usage:
  storesync log
  storesync log --store store-1 --since "2 hours ago"
  storesync log --type orders --limit 5 --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openArchive(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		filter := archive.Filter{}
		filter.StoreID, _ = cmd.Flags().GetString("store")
		filter.Limit, _ = cmd.Flags().GetInt("limit")

		if typ, _ := cmd.Flags().GetString("type"); typ != "" {
			if _, err := registry.Default.Lookup(typ); err != nil {
				return err
			}
			filter.ChangedType = typ
		}
		if errorsOnly, _ := cmd.Flags().GetBool("errors"); errorsOnly {
			filter.Status = synclog.StatusError
		}
		if since, _ := cmd.Flags().GetString("since"); since != "" {
			if filter.Since, err = parseSince(since, time.Now()); err != nil {
				return err
			}
		}

		entries, err := db.ListContext(cmd.Context(), filter)
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			if entries == nil {
				entries = []synclog.Entry{}
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		}

		if len(entries) == 0 {
			fmt.Println("No sync log entries found")
			return nil
		}
		return ui.PrintEntries(os.Stdout, entries, ui.Options{Verbose: verbose})
	},
}

var logPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete archived entries older than --before",
	RunE: func(cmd *cobra.Command, args []string) error {
		before, _ := cmd.Flags().GetString("before")
		cutoff, err := parseSince(before, time.Now())
		if err != nil {
			return err
		}
		if cutoff.IsZero() {
			return fmt.Errorf("--before is required")
		}

		db, err := openArchive(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		n, err := db.PurgeContext(cmd.Context(), cutoff)
		if err != nil {
			return err
		}
		fmt.Printf("%s Purged %d entries older than %s\n", ui.RenderPass("✓"), n, cutoff.Format(time.RFC3339))
		return nil
	},
}

// openArchive opens --db, falling back to archive.path.
func openArchive(cmd *cobra.Command) (*archive.DB, error) {
	path, _ := cmd.Flags().GetString("db")
	if path == "" {
		settings, _, err := loadSettings()
		if err != nil {
			return nil, err
		}
		path = settings.Archive.Path
	}
	if path == "" {
		return nil, fmt.Errorf("no archive configured: pass --db or set archive.path")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("archive not found at %s: %w", path, err)
	}
	return archive.Open(path)
}

func init() {
	logCmd.PersistentFlags().String("db", "", "Archive path (default: archive.path)")
	logCmd.Flags().String("store", "", "Only entries for this store")
	logCmd.Flags().String("since", "", "Only entries newer than this")
	logCmd.Flags().String("type", "", "Only entries where this data type changed")
	logCmd.Flags().Bool("errors", false, "Only failed cycles")
	logCmd.Flags().IntP("limit", "n", 20, "Maximum entries to show (0 = all)")
	logCmd.Flags().Bool("json", false, "Print entries as JSON")

	logPurgeCmd.Flags().String("before", "", "Cutoff, e.g. 720h or \"last month\"")
	logCmd.AddCommand(logPurgeCmd)

	rootCmd.AddCommand(logCmd)
}
