package types

import "time"

// EntryStatus is the last known reachability of a monitored entry.
type EntryStatus string

const (
	StatusOnline  EntryStatus = "Online"
	StatusOffline EntryStatus = "Offline"
	StatusUnknown EntryStatus = "Unknown"
)

// RegistryRecord holds the static fields of a monitored entry, the part that
// is persisted between sessions.
type RegistryRecord struct {
	Category string `json:"category" yaml:"category"`
	Name     string `json:"name" yaml:"name"`
	Address  string `json:"address" yaml:"address"`
}

// MonitoredEntry is a registry target plus its live status. A nil LastChecked
// means the entry has never been probed.
type MonitoredEntry struct {
	Category    string      `json:"category"`
	Name        string      `json:"name"`
	Address     string      `json:"address"`
	Status      EntryStatus `json:"status"`
	LatencyMs   *float64    `json:"latency_ms"`
	LastChecked *time.Time  `json:"last_checked"`
}

// Record returns the persisted view of the entry.
func (e MonitoredEntry) Record() RegistryRecord {
	return RegistryRecord{Category: e.Category, Name: e.Name, Address: e.Address}
}

// LastCheckedText renders LastChecked, using "never" for unprobed entries.
func (e MonitoredEntry) LastCheckedText() string {
	if e.LastChecked == nil {
		return "never"
	}
	return e.LastChecked.Format("2006-01-02 15:04:05")
}

// Clone returns a deep copy so callers never share the live pointers.
func (e MonitoredEntry) Clone() MonitoredEntry {
	out := e
	if e.LatencyMs != nil {
		v := *e.LatencyMs
		out.LatencyMs = &v
	}
	if e.LastChecked != nil {
		ts := *e.LastChecked
		out.LastChecked = &ts
	}
	return out
}
