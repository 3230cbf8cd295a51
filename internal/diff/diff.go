// Package diff compares two snapshots of one data type and reports whether
// and how they differ.
//
// Compute is pure: it does not mutate its inputs, performs no I/O, and gives
// the same result for the same inputs. Snapshots are normalized through JSON
// first so that typed API models and decoded maps compare alike.
package diff

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/google/go-cmp/cmp"

	"github.com/storesync/storesync/internal/registry"
)

// Kind classifies a change.
type Kind string

const (
	KindAdded    Kind = "added"
	KindRemoved  Kind = "removed"
	KindModified Kind = "modified"
)

// envelopeFields are the object fields treated as the record list of a
// paginated API response.
var envelopeFields = []string{"content", "items", "data", "results"}

// ChangeDetail describes what differs between two snapshots.
type ChangeDetail struct {
	Kind        Kind     `json:"kind"`
	BeforeCount int      `json:"before_count"`
	AfterCount  int      `json:"after_count"`
	Fields      []string `json:"fields,omitempty"`
	Added       []string `json:"added,omitempty"`
	Removed     []string `json:"removed,omitempty"`
	Modified    []string `json:"modified,omitempty"`
}

// SyncDiff is the comparison result for one data type in one sync cycle.
type SyncDiff struct {
	Type       string        `json:"type"`
	HasChanges bool          `json:"has_changes"`
	Before     any           `json:"before,omitempty"`
	After      any           `json:"after,omitempty"`
	Detail     *ChangeDetail `json:"detail,omitempty"`
}

// Compute compares before and after for typ. Either side may be nil,
// meaning no data was cached.
func Compute(typ string, desc registry.Descriptor, before, after any) SyncDiff {
	if typ == "" {
		typ = desc.Type
	}
	d := SyncDiff{Type: typ, Before: before, After: after}

	b := normalize(before)
	a := normalize(after)
	if equal(b, a) {
		return d
	}

	d.HasChanges = true
	d.Detail = detail(b, a)
	return d
}

// Summary renders the diff as one line.
func (d SyncDiff) Summary() string {
	if !d.HasChanges || d.Detail == nil {
		return fmt.Sprintf("%s: no changes", d.Type)
	}
	c := d.Detail

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s (%d → %d)", d.Type, c.Kind, c.BeforeCount, c.AfterCount)
	if len(c.Added)+len(c.Removed)+len(c.Modified) > 0 {
		fmt.Fprintf(&sb, " +%d -%d ~%d", len(c.Added), len(c.Removed), len(c.Modified))
	}
	if len(c.Fields) > 0 {
		fmt.Fprintf(&sb, " fields: %s", strings.Join(c.Fields, ", "))
	}
	return sb.String()
}

// normalize converts v into generic JSON values. Values that cannot be
// encoded are returned unchanged.
func normalize(v any) any {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return v
	}
	return out
}

// IsEmpty reports whether v holds no data: nil, a typed nil, or an empty
// string, list or object. Compute treats all of these as equal.
func IsEmpty(v any) bool {
	return isEmpty(normalize(v))
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	}
	return false
}

func equal(a, b any) bool {
	if isEmpty(a) && isEmpty(b) {
		return true
	}
	if isEmpty(a) != isEmpty(b) {
		return false
	}
	if isGeneric(a) && isGeneric(b) {
		return cmp.Equal(a, b)
	}
	return reflect.DeepEqual(a, b)
}

// isGeneric reports whether v is made only of JSON-decoded values, which
// go-cmp can walk without options.
func isGeneric(v any) bool {
	switch x := v.(type) {
	case nil, bool, string, json.Number, float64:
		return true
	case []any:
		for _, e := range x {
			if !isGeneric(e) {
				return false
			}
		}
		return true
	case map[string]any:
		for _, e := range x {
			if !isGeneric(e) {
				return false
			}
		}
		return true
	}
	return false
}

func detail(before, after any) *ChangeDetail {
	c := &ChangeDetail{
		BeforeCount: count(before),
		AfterCount:  count(after),
	}
	switch {
	case isEmpty(before):
		c.Kind = KindAdded
	case isEmpty(after):
		c.Kind = KindRemoved
	default:
		c.Kind = KindModified
	}

	bm, bok := before.(map[string]any)
	am, aok := after.(map[string]any)
	if bok && aok {
		c.Fields = changedFields(bm, am)
	}

	c.Added, c.Removed, c.Modified = diffRecords(records(before), records(after))
	return c
}

// records returns the record list of v: v itself if it is a list, or the
// first envelope field holding a list.
func records(v any) []any {
	switch x := v.(type) {
	case []any:
		return x
	case map[string]any:
		for _, f := range envelopeFields {
			if list, ok := x[f].([]any); ok {
				return list
			}
		}
	}
	return nil
}

func count(v any) int {
	if list := records(v); list != nil {
		return len(list)
	}
	if m, ok := v.(map[string]any); ok {
		return len(m)
	}
	if isEmpty(v) {
		return 0
	}
	return 1
}

func changedFields(before, after map[string]any) []string {
	seen := make(map[string]bool, len(before)+len(after))
	var fields []string
	check := func(k string) {
		if seen[k] {
			return
		}
		seen[k] = true
		if !equal(before[k], after[k]) {
			fields = append(fields, k)
		}
	}
	for k := range before {
		check(k)
	}
	for k := range after {
		check(k)
	}
	sort.Strings(fields)
	return fields
}

// diffRecords matches records by their "id" field. Records without an id
// are ignored here; they still count toward HasChanges.
func diffRecords(before, after []any) (added, removed, modified []string) {
	b := indexByID(before)
	a := indexByID(after)
	if len(b) == 0 && len(a) == 0 {
		return nil, nil, nil
	}

	for id, rec := range a {
		prev, ok := b[id]
		switch {
		case !ok:
			added = append(added, id)
		case !equal(prev, rec):
			modified = append(modified, id)
		}
	}
	for id := range b {
		if _, ok := a[id]; !ok {
			removed = append(removed, id)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	sort.Strings(modified)
	return added, removed, modified
}

func indexByID(list []any) map[string]any {
	out := make(map[string]any)
	for _, rec := range list {
		m, ok := rec.(map[string]any)
		if !ok {
			continue
		}
		id, ok := m["id"]
		if !ok || id == nil {
			continue
		}
		out[fmt.Sprint(id)] = m
	}
	return out
}
