package synclog

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/storesync/storesync/internal/diff"
)

func entry(store string) Entry {
	return NewEntry(store, time.UnixMilli(1000), 5*time.Millisecond, nil, nil)
}

func TestNewEntry(t *testing.T) {
	diffs := []diff.SyncDiff{
		{Type: "orders", HasChanges: true},
		{Type: "products"},
		{Type: "claims", HasChanges: true},
	}
	at := time.UnixMilli(1700000000123)

	e := NewEntry("store-1", at, 2150*time.Millisecond, diffs, nil)
	if e.ID == "" {
		t.Error("ID is empty")
	}
	if e.Timestamp != 1700000000123 {
		t.Errorf("Timestamp = %d", e.Timestamp)
	}
	if e.Duration != 2150 {
		t.Errorf("Duration = %d, want 2150", e.Duration)
	}
	if e.TotalChanges != 2 {
		t.Errorf("TotalChanges = %d, want 2", e.TotalChanges)
	}
	if e.Status != StatusSuccess {
		t.Errorf("Status = %s, want success", e.Status)
	}
	if !e.Time().Equal(at) {
		t.Errorf("Time() = %v, want %v", e.Time(), at)
	}

	failed := NewEntry("store-1", at, 0, nil, errors.New("refetch failed"))
	if failed.Status != StatusError || failed.Error != "refetch failed" {
		t.Errorf("failed entry = %+v", failed)
	}
	if failed.ID == e.ID {
		t.Error("entry ids are not unique")
	}
}

func TestSink_RingBuffer(t *testing.T) {
	s := New(3)
	for i := 0; i < 5; i++ {
		s.AddEntry(entry(fmt.Sprintf("s%d", i)))
	}

	if s.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", s.Len())
	}

	got := s.Entries()
	want := []string{"s2", "s3", "s4"}
	for i, e := range got {
		if e.StoreID != want[i] {
			t.Errorf("Entries()[%d] = %s, want %s", i, e.StoreID, want[i])
		}
	}

	latest := s.Latest(2)
	if len(latest) != 2 || latest[0].StoreID != "s4" || latest[1].StoreID != "s3" {
		t.Errorf("Latest(2) = %v", latest)
	}
	if n := len(s.Latest(0)); n != 3 {
		t.Errorf("Latest(0) returned %d entries, want 3", n)
	}

	s.Clear()
	if s.Len() != 0 || len(s.Entries()) != 0 {
		t.Error("Clear() left entries behind")
	}
}

func TestSink_DefaultCapacity(t *testing.T) {
	if got := New(0).Capacity(); got != DefaultCapacity {
		t.Errorf("Capacity() = %d, want %d", got, DefaultCapacity)
	}
}

func TestSink_Enabled(t *testing.T) {
	s := New(1)
	if !s.Enabled() {
		t.Error("new sink should be enabled")
	}
	s.SetEnabled(false)
	if s.Enabled() {
		t.Error("SetEnabled(false) had no effect")
	}
}

func TestSink_Subscribe(t *testing.T) {
	s := New(10)
	ch, cancel := s.Subscribe(1)

	s.AddEntry(entry("a"))
	s.AddEntry(entry("b")) // dropped: buffer full

	select {
	case e := <-ch:
		if e.StoreID != "a" {
			t.Errorf("got %s, want a", e.StoreID)
		}
	case <-time.After(time.Second):
		t.Fatal("no entry delivered")
	}

	select {
	case e := <-ch:
		t.Errorf("unexpected entry %s", e.StoreID)
	default:
	}

	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("channel open after cancel")
	}

	s.AddEntry(entry("c"))
	if s.Len() != 3 {
		t.Errorf("Len() = %d, want 3", s.Len())
	}
}
