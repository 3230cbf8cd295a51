package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/storesync/storesync/internal/registry"
	"github.com/storesync/storesync/internal/ui"
)

var keysCmd = &cobra.Command{
	Use:     "keys",
	GroupID: "inspect",
	Short:   "List the data types kept fresh and their cache keys",
	Long: `List every data type the scheduler invalidates and diffs, with its cache
query key and API path. Pass --store to resolve them for one store.`,
	Run: func(cmd *cobra.Command, args []string) {
		storeID, _ := cmd.Flags().GetString("store")
		fmt.Print(ui.RenderRegistry(registry.Default, storeID))
	},
}

func init() {
	keysCmd.Flags().String("store", "", "Resolve keys for this store")

	rootCmd.AddCommand(keysCmd)
}
