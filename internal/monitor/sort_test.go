package monitor

import (
	"errors"
	"testing"
	"time"

	"github.com/pingsantohq/connprobe/pkg/types"
)

func ptrFloat(v float64) *float64 { return &v }

func ptrTime(t time.Time) *time.Time { return &t }

func sampleEntries() []types.MonitoredEntry {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return []types.MonitoredEntry{
		{Name: "delta", Category: "b", Address: "10.0.0.10", Status: types.StatusOnline, LatencyMs: ptrFloat(30), LastChecked: ptrTime(base.Add(time.Minute))},
		{Name: "alpha", Category: "a", Address: "10.0.0.2", Status: types.StatusUnknown},
		{Name: "charlie", Category: "c", Address: "example.com", Status: types.StatusOffline, LastChecked: ptrTime(base)},
		{Name: "Bravo", Category: "a", Address: "10.0.0.9", Status: types.StatusOnline, LatencyMs: ptrFloat(5), LastChecked: ptrTime(base.Add(2 * time.Minute))},
	}
}

func names(entries []types.MonitoredEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}

func assertOrder(t *testing.T, spec SortSpec, want ...string) {
	t.Helper()
	entries := sampleEntries()
	if err := SortEntries(entries, spec); err != nil {
		t.Fatalf("SortEntries(%+v): %v", spec, err)
	}
	got := names(entries)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("SortEntries(%+v) = %v, want %v", spec, got, want)
		}
	}
}

func TestDefaultSort(t *testing.T) {
	assertOrder(t, SortSpec{}, "charlie", "Bravo", "delta", "alpha")
}

func TestColumnSorts(t *testing.T) {
	assertOrder(t, SortSpec{Column: ColumnName}, "alpha", "Bravo", "charlie", "delta")
	assertOrder(t, SortSpec{Column: ColumnName, Descending: true}, "delta", "charlie", "Bravo", "alpha")
	assertOrder(t, SortSpec{Column: ColumnAddress}, "alpha", "Bravo", "delta", "charlie")
	assertOrder(t, SortSpec{Column: ColumnLatency}, "Bravo", "delta", "alpha", "charlie")
	assertOrder(t, SortSpec{Column: ColumnLatency, Descending: true}, "delta", "Bravo", "alpha", "charlie")
	assertOrder(t, SortSpec{Column: ColumnLastChecked}, "charlie", "delta", "Bravo", "alpha")
	assertOrder(t, SortSpec{Column: ColumnLastChecked, Descending: true}, "Bravo", "delta", "charlie", "alpha")
	assertOrder(t, SortSpec{Column: "Category"}, "alpha", "Bravo", "delta", "charlie")
}

func TestInvalidSortColumn(t *testing.T) {
	entries := sampleEntries()
	if err := SortEntries(entries, SortSpec{Column: "color"}); !errors.Is(err, ErrInvalidSort) {
		t.Fatalf("expected ErrInvalidSort, got %v", err)
	}
	m := New(nil)
	if _, err := m.Sorted(SortSpec{Column: "color"}); !errors.Is(err, ErrInvalidSort) {
		t.Fatalf("expected ErrInvalidSort from Sorted, got %v", err)
	}
}
