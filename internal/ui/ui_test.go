package ui

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/storesync/storesync/internal/diff"
	"github.com/storesync/storesync/internal/registry"
	"github.com/storesync/storesync/internal/synclog"
)

func init() {
	DisableColor()
}

func sampleEntry(err error) synclog.Entry {
	orders, _ := registry.Default.Lookup(registry.TypeOrders)
	claims, _ := registry.Default.Lookup(registry.TypeClaims)
	diffs := []diff.SyncDiff{
		diff.Compute(orders.Type, orders, []any{map[string]any{"id": 1}}, []any{map[string]any{"id": 1}, map[string]any{"id": 2}}),
		diff.Compute(claims.Type, claims, []any{}, nil),
	}
	return synclog.NewEntry("store-1", time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC), 1500*time.Millisecond, diffs, err)
}

func TestRenderEntry(t *testing.T) {
	tests := []struct {
		name    string
		entry   synclog.Entry
		opts    Options
		want    []string
		notWant []string
	}{
		{
			name:    "changed types only",
			entry:   sampleEntry(nil),
			opts:    Options{Location: time.UTC},
			want:    []string{"2025-03-01 12:00:00", "store-1", "success", "1 change", "1500ms", "orders: modified (1 → 2) +1 -0 ~0"},
			notWant: []string{"claims"},
		},
		{
			name:  "verbose lists unchanged",
			entry: sampleEntry(nil),
			opts:  Options{Verbose: true, Location: time.UTC},
			want:  []string{"orders:", "claims: no changes"},
		},
		{
			name:  "error",
			entry: sampleEntry(errors.New("failed to refetch orders/store-1: boom")),
			opts:  Options{Location: time.UTC},
			want:  []string{"error", "boom"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RenderEntry(tt.entry, tt.opts)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("output missing %q:\n%s", w, got)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(got, w) {
					t.Errorf("output contains %q:\n%s", w, got)
				}
			}
		})
	}
}

func TestPrintEntries(t *testing.T) {
	var buf bytes.Buffer
	entries := []synclog.Entry{sampleEntry(nil), sampleEntry(nil)}

	if err := PrintEntries(&buf, entries, Options{Location: time.UTC}); err != nil {
		t.Fatal(err)
	}
	if got := strings.Count(buf.String(), "store-1"); got != 2 {
		t.Errorf("store-1 appears %d times, want 2", got)
	}
}

func TestRenderRegistry(t *testing.T) {
	got := RenderRegistry(registry.Default, "s1")

	lines := strings.Split(strings.TrimSpace(got), "\n")
	if len(lines) != registry.Default.Len()+1 {
		t.Fatalf("got %d lines", len(lines))
	}
	if !strings.Contains(lines[1], "orders/s1") || !strings.Contains(lines[1], "/api/stores/s1/orders") {
		t.Errorf("orders line = %q", lines[1])
	}
	if !strings.Contains(RenderRegistry(registry.Default, ""), "{store}") {
		t.Error("placeholder tenant not rendered")
	}
}
