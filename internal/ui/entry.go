package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/storesync/storesync/internal/registry"
	"github.com/storesync/storesync/internal/synclog"
)

// Options controls entry rendering.
type Options struct {
	// Verbose lists unchanged types too.
	Verbose bool

	// Location for timestamps (default: local)
	Location *time.Location
}

// RenderEntry renders one entry: a header line followed by one line per
// changed data type.
func RenderEntry(e synclog.Entry, opts Options) string {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}

	var sb strings.Builder

	status := RenderPass(string(e.Status))
	if e.Status == synclog.StatusError {
		status = RenderFail(string(e.Status))
	}
	changes := fmt.Sprintf("%d changes", e.TotalChanges)
	if e.TotalChanges == 1 {
		changes = "1 change"
	}
	if e.TotalChanges > 0 {
		changes = RenderWarn(changes)
	} else {
		changes = RenderMuted(changes)
	}

	fmt.Fprintf(&sb, "%s  %s  %s  %s  %s\n",
		RenderMuted(e.Time().In(loc).Format("2006-01-02 15:04:05")),
		RenderAccent(e.StoreID),
		status,
		changes,
		RenderMuted(fmt.Sprintf("%dms", e.Duration)),
	)
	if e.Error != "" {
		fmt.Fprintf(&sb, "    %s\n", RenderFail(e.Error))
	}

	for _, d := range e.Diffs {
		if !d.HasChanges && !opts.Verbose {
			continue
		}
		line := d.Summary()
		if !d.HasChanges {
			line = RenderMuted(line)
		}
		fmt.Fprintf(&sb, "    %s\n", line)
	}

	return sb.String()
}

// PrintEntries writes entries to w, separated by blank lines.
func PrintEntries(w io.Writer, entries []synclog.Entry, opts Options) error {
	for i, e := range entries {
		if i > 0 {
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, RenderEntry(e, opts)); err != nil {
			return err
		}
	}
	return nil
}

// RenderRegistry renders the data type table.
func RenderRegistry(reg *registry.Registry, tenantID string) string {
	if tenantID == "" {
		tenantID = "{store}"
	}

	descs := reg.All()
	width := 0
	for _, d := range descs {
		if len(d.Type) > width {
			width = len(d.Type)
		}
	}

	var sb strings.Builder
	sb.WriteString(RenderAccent(fmt.Sprintf("%-*s  %s", width, "TYPE", "QUERY KEY")) + "\n")
	for _, d := range descs {
		fmt.Fprintf(&sb, "%-*s  %s  %s\n", width, d.Type, d.QueryKey(tenantID), RenderMuted(d.ResolvePath(tenantID)))
	}
	return sb.String()
}
