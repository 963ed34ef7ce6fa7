package monitor

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/pingsantohq/connprobe/internal/target"
	"github.com/pingsantohq/connprobe/pkg/types"
)

const (
	ColumnName        = "name"
	ColumnCategory    = "category"
	ColumnAddress     = "address"
	ColumnStatus      = "status"
	ColumnLatency     = "latency"
	ColumnLastChecked = "last_checked"
)

var ErrInvalidSort = errors.New("invalid sort column")

// SortSpec selects a column and direction. An empty Column is the default
// view: Offline first, then Online, then Unknown, each by name.
type SortSpec struct {
	Column     string
	Descending bool
}

// Sorted returns a snapshot ordered by spec. Entries without a latency or
// never checked always sort last for those columns, in either direction.
func (m *Monitor) Sorted(spec SortSpec) ([]types.MonitoredEntry, error) {
	entries := m.Snapshot()
	if err := SortEntries(entries, spec); err != nil {
		return nil, err
	}
	return entries, nil
}

func SortEntries(entries []types.MonitoredEntry, spec SortSpec) error {
	column := strings.ToLower(strings.TrimSpace(spec.Column))
	if column == "" {
		sort.SliceStable(entries, func(i, j int) bool {
			a, b := entries[i], entries[j]
			if ra, rb := defaultRank(a.Status), defaultRank(b.Status); ra != rb {
				return ra < rb
			}
			return compareText(a.Name, b.Name) < 0
		})
		return nil
	}

	var cmp func(a, b types.MonitoredEntry) int
	var missing func(e types.MonitoredEntry) bool
	switch column {
	case ColumnName:
		cmp = func(a, b types.MonitoredEntry) int { return compareText(a.Name, b.Name) }
	case ColumnCategory:
		cmp = func(a, b types.MonitoredEntry) int { return compareText(a.Category, b.Category) }
	case ColumnAddress:
		cmp = func(a, b types.MonitoredEntry) int { return target.CompareAddress(a.Address, b.Address) }
	case ColumnStatus:
		cmp = func(a, b types.MonitoredEntry) int { return compareText(string(a.Status), string(b.Status)) }
	case ColumnLatency:
		missing = func(e types.MonitoredEntry) bool { return e.LatencyMs == nil }
		cmp = func(a, b types.MonitoredEntry) int { return compareFloat(*a.LatencyMs, *b.LatencyMs) }
	case ColumnLastChecked:
		missing = func(e types.MonitoredEntry) bool { return e.LastChecked == nil }
		cmp = func(a, b types.MonitoredEntry) int { return a.LastChecked.Compare(*b.LastChecked) }
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSort, spec.Column)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if missing != nil {
			ma, mb := missing(a), missing(b)
			switch {
			case ma && mb:
				return false
			case ma:
				return false
			case mb:
				return true
			}
		}
		c := cmp(a, b)
		if spec.Descending {
			return c > 0
		}
		return c < 0
	})
	return nil
}

func defaultRank(status types.EntryStatus) int {
	switch status {
	case types.StatusOffline:
		return 0
	case types.StatusOnline:
		return 1
	default:
		return 2
	}
}

func compareText(a, b string) int {
	return strings.Compare(strings.ToLower(a), strings.ToLower(b))
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
