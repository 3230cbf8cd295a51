package daemon_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/storesync/storesync/internal/config"
	"github.com/storesync/storesync/internal/daemon"
)

// This example runs the daemon until a timeout, polling one store every 30
// seconds with diff logging on.
// Note: This is for documentation only and won't run as a test.
func ExampleNewWithConfig() {
	settings, err := config.Load("")
	if err != nil {
		log.Fatal(err)
	}
	settings.Sync.StoreID = "store-1"
	settings.Sync.Interval = 30
	settings.Sync.DiffLogging = true

	d, err := daemon.NewWithConfig(&daemon.Config{
		Settings: settings,
		Logger:   log.New(os.Stderr, "[daemon] ", log.Ltime),
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := d.Start(ctx); err != nil {
		log.Fatal(err)
	}

	for _, e := range d.Sink().Latest(5) {
		fmt.Printf("%s %s: %d changes\n", e.Time().Format(time.Kitchen), e.StoreID, e.TotalChanges)
	}
}
