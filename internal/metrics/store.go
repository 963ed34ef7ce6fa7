package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pingsantohq/connprobe/pkg/types"
)

// Store maintains in-memory gauges and counters for prober telemetry.
type Store struct {
	batchesTotal        atomic.Uint64
	batchesPartial      atomic.Uint64
	batchWorkers        atomic.Int64
	outcomes            map[types.Classification]*atomic.Uint64
	monitorRunning      atomic.Int64
	roundsTotal         atomic.Uint64
	lastRoundUnix       atomic.Int64
	registryEntries     atomic.Int64
	entriesOnline       atomic.Int64
	entriesOffline      atomic.Int64
	entriesUnknown      atomic.Int64
	storeErrors         atomic.Uint64
	readinessState      atomic.Int64
	readinessReason     atomic.Value
	readinessCategories atomic.Value
	readyTransitions    atomic.Uint64
	notReadyTransitions atomic.Uint64
	readyAlerts         atomic.Uint64
	categoryTotals      sync.Map // categoryKey -> *atomic.Uint64
}

// ReadinessCategory captures a categorized readiness reason with severity.
type ReadinessCategory struct {
	Name     string
	Severity string
}

type categoryKey struct {
	Name     string
	Severity string
}

// NewStore constructs a Store with zeroed metrics.
func NewStore() *Store {
	store := &Store{outcomes: make(map[types.Classification]*atomic.Uint64, len(types.Classifications))}
	for _, class := range types.Classifications {
		store.outcomes[class] = &atomic.Uint64{}
	}
	store.readinessReason.Store("")
	store.readinessCategories.Store([]ReadinessCategory(nil))
	return store
}

// Snapshot captures the current metric values in a plain struct.
type Snapshot struct {
	BatchesTotal        uint64
	BatchesPartial      uint64
	BatchWorkers        int64
	Outcomes            map[types.Classification]uint64
	MonitorRunning      bool
	RoundsTotal         uint64
	LastRound           time.Time
	RegistryEntries     int64
	EntriesOnline       int64
	EntriesOffline      int64
	EntriesUnknown      int64
	StoreErrors         uint64
	Ready               bool
	ReadyReason         string
	ReadyTransitions    uint64
	NotReadyTransitions uint64
	ReadyAlerts         uint64
	ReadyCategories     []ReadinessCategory
	CategoryTransitions []CategoryCount
}

// CategoryCount captures accumulated transition counts per category/severity.
type CategoryCount struct {
	Category string
	Severity string
	Count    uint64
}

// Snapshot returns a point-in-time copy of the metrics.
func (s *Store) Snapshot() Snapshot {
	readyReason, _ := s.readinessReason.Load().(string)
	rawCategories, _ := s.readinessCategories.Load().([]ReadinessCategory)
	categories := make([]ReadinessCategory, len(rawCategories))
	copy(categories, rawCategories)
	categoryCounts := make([]CategoryCount, 0)
	s.categoryTotals.Range(func(key, value any) bool {
		ckey, ok := key.(categoryKey)
		if !ok {
			return true
		}
		counter, ok := value.(*atomic.Uint64)
		if !ok || counter == nil {
			return true
		}
		categoryCounts = append(categoryCounts, CategoryCount{
			Category: ckey.Name,
			Severity: ckey.Severity,
			Count:    counter.Load(),
		})
		return true
	})
	outcomes := make(map[types.Classification]uint64, len(s.outcomes))
	for class, counter := range s.outcomes {
		outcomes[class] = counter.Load()
	}
	var lastRound time.Time
	if unix := s.lastRoundUnix.Load(); unix > 0 {
		lastRound = time.Unix(0, unix).UTC()
	}
	return Snapshot{
		BatchesTotal:        s.batchesTotal.Load(),
		BatchesPartial:      s.batchesPartial.Load(),
		BatchWorkers:        s.batchWorkers.Load(),
		Outcomes:            outcomes,
		MonitorRunning:      s.monitorRunning.Load() == 1,
		RoundsTotal:         s.roundsTotal.Load(),
		LastRound:           lastRound,
		RegistryEntries:     s.registryEntries.Load(),
		EntriesOnline:       s.entriesOnline.Load(),
		EntriesOffline:      s.entriesOffline.Load(),
		EntriesUnknown:      s.entriesUnknown.Load(),
		StoreErrors:         s.storeErrors.Load(),
		Ready:               s.readinessState.Load() == 1,
		ReadyReason:         readyReason,
		ReadyTransitions:    s.readyTransitions.Load(),
		NotReadyTransitions: s.notReadyTransitions.Load(),
		ReadyAlerts:         s.readyAlerts.Load(),
		ReadyCategories:     categories,
		CategoryTransitions: categoryCounts,
	}
}

// ObserveBatch counts a finished batch and its outcomes.
func (s *Store) ObserveBatch(result types.BatchResult) {
	s.batchesTotal.Add(1)
	if !result.Complete {
		s.batchesPartial.Add(1)
	}
	s.batchWorkers.Store(int64(result.Workers))
	for _, out := range result.Outcomes {
		if counter, ok := s.outcomes[out.Classification]; ok {
			counter.Add(1)
		}
	}
}

func (s *Store) SetMonitorRunning(running bool) {
	if running {
		s.monitorRunning.Store(1)
		return
	}
	s.monitorRunning.Store(0)
}

// ObserveRound records a completed monitor round and the resulting status
// breakdown of the registry.
func (s *Store) ObserveRound(ts time.Time, online, offline, unknown int) {
	s.roundsTotal.Add(1)
	s.lastRoundUnix.Store(ts.UnixNano())
	s.entriesOnline.Store(int64(online))
	s.entriesOffline.Store(int64(offline))
	s.entriesUnknown.Store(int64(unknown))
}

func (s *Store) ObserveRegistrySize(entries int) {
	if entries < 0 {
		entries = 0
	}
	s.registryEntries.Store(int64(entries))
}

func (s *Store) ObserveStoreResult(err error) {
	if err != nil {
		s.storeErrors.Add(1)
	}
}

func (s *Store) ObserveReadiness(ready bool, reason string, categories []ReadinessCategory) {
	prev := s.readinessState.Load()
	if ready {
		if prev == 0 {
			s.readyTransitions.Add(1)
		}
		s.readinessState.Store(1)
		s.readinessReason.Store("")
		s.readinessCategories.Store([]ReadinessCategory(nil))
		return
	}
	if prev == 1 {
		s.notReadyTransitions.Add(1)
		s.readyAlerts.Add(1)
	}
	s.readinessState.Store(0)
	s.readinessReason.Store(reason)
	deduped := dedupeCategories(categories)
	s.readinessCategories.Store(deduped)
	if prev == 1 && len(deduped) > 0 {
		for _, cat := range deduped {
			counter := s.getCategoryCounter(cat)
			counter.Add(1)
		}
	}
}

func (s *Store) getCategoryCounter(category ReadinessCategory) *atomic.Uint64 {
	key := categoryKey{
		Name:     normalizeCategoryName(category.Name),
		Severity: normalizeSeverity(category.Severity),
	}
	if value, ok := s.categoryTotals.Load(key); ok {
		if counter, ok := value.(*atomic.Uint64); ok && counter != nil {
			return counter
		}
	}
	counter := &atomic.Uint64{}
	actual, _ := s.categoryTotals.LoadOrStore(key, counter)
	if existing, ok := actual.(*atomic.Uint64); ok && existing != nil {
		return existing
	}
	return counter
}

func dedupeCategories(categories []ReadinessCategory) []ReadinessCategory {
	if len(categories) == 0 {
		return nil
	}
	seen := make(map[categoryKey]struct{}, len(categories))
	result := make([]ReadinessCategory, 0, len(categories))
	for _, c := range categories {
		rawName := strings.TrimSpace(c.Name)
		if rawName == "" {
			continue
		}
		name := normalizeCategoryName(c.Name)
		severity := normalizeSeverity(c.Severity)
		key := categoryKey{Name: name, Severity: severity}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, ReadinessCategory{
			Name:     name,
			Severity: severity,
		})
	}
	return result
}

func normalizeCategoryName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "unknown"
	}
	return name
}

func normalizeSeverity(severity string) string {
	severity = strings.TrimSpace(strings.ToLower(severity))
	if severity == "" {
		return "unknown"
	}
	switch severity {
	case "info", "informational":
		return "info"
	case "warn", "warning":
		return "warning"
	case "critical", "crit":
		return "critical"
	default:
		return severity
	}
}

// WritePrometheus renders the current metrics using the Prometheus text format.
func (s *Store) WritePrometheus(w io.Writer) error {
	snap := s.Snapshot()
	reason := snap.ReadyReason
	if !snap.Ready && reason == "" {
		reason = "unknown"
	}
	if snap.Ready && reason == "" {
		reason = "ready"
	}
	lines := []string{
		"# HELP connprobe_batches_total Total batches run.",
		"# TYPE connprobe_batches_total counter",
		fmt.Sprintf("connprobe_batches_total %d", snap.BatchesTotal),
		"# HELP connprobe_batches_partial_total Batches cancelled before every target finished.",
		"# TYPE connprobe_batches_partial_total counter",
		fmt.Sprintf("connprobe_batches_partial_total %d", snap.BatchesPartial),
		"# HELP connprobe_batch_workers_number Worker count of the most recent batch.",
		"# TYPE connprobe_batch_workers_number gauge",
		fmt.Sprintf("connprobe_batch_workers_number %d", snap.BatchWorkers),
		"# HELP connprobe_outcomes_total Probe outcomes by classification.",
		"# TYPE connprobe_outcomes_total counter",
	}
	for _, class := range types.Classifications {
		lines = append(lines, fmt.Sprintf("connprobe_outcomes_total{classification=%q} %d", class, snap.Outcomes[class]))
	}
	lastRound := int64(0)
	if !snap.LastRound.IsZero() {
		lastRound = snap.LastRound.Unix()
	}
	lines = append(lines,
		"# HELP connprobe_monitor_running Whether the continuous monitor is running (1=running).",
		"# TYPE connprobe_monitor_running gauge",
		fmt.Sprintf("connprobe_monitor_running %d", boolValue(snap.MonitorRunning)),
		"# HELP connprobe_monitor_rounds_total Total monitor rounds completed.",
		"# TYPE connprobe_monitor_rounds_total counter",
		fmt.Sprintf("connprobe_monitor_rounds_total %d", snap.RoundsTotal),
		"# HELP connprobe_monitor_last_round_timestamp_seconds Completion time of the last monitor round.",
		"# TYPE connprobe_monitor_last_round_timestamp_seconds gauge",
		fmt.Sprintf("connprobe_monitor_last_round_timestamp_seconds %d", lastRound),
		"# HELP connprobe_registry_entries_number Entries in the monitor registry.",
		"# TYPE connprobe_registry_entries_number gauge",
		fmt.Sprintf("connprobe_registry_entries_number %d", snap.RegistryEntries),
		"# HELP connprobe_registry_status_number Registry entries by status after the last round.",
		"# TYPE connprobe_registry_status_number gauge",
		fmt.Sprintf("connprobe_registry_status_number{status=%q} %d", types.StatusOnline, snap.EntriesOnline),
		fmt.Sprintf("connprobe_registry_status_number{status=%q} %d", types.StatusOffline, snap.EntriesOffline),
		fmt.Sprintf("connprobe_registry_status_number{status=%q} %d", types.StatusUnknown, snap.EntriesUnknown),
		"# HELP connprobe_registry_store_errors_total Registry store operations that failed.",
		"# TYPE connprobe_registry_store_errors_total counter",
		fmt.Sprintf("connprobe_registry_store_errors_total %d", snap.StoreErrors),
		"# HELP connprobe_ready Whether the service considers itself ready (1=ready).",
		"# TYPE connprobe_ready gauge",
		fmt.Sprintf("connprobe_ready %d", boolValue(snap.Ready)),
		"# HELP connprobe_ready_info Reason associated with the most recent readiness evaluation.",
		"# TYPE connprobe_ready_info gauge",
		fmt.Sprintf("connprobe_ready_info{reason=%q} 1", reason),
		"# HELP connprobe_ready_transitions_total Count of readiness state transitions by resulting state.",
		"# TYPE connprobe_ready_transitions_total counter",
		fmt.Sprintf("connprobe_ready_transitions_total{state=%q} %d", "ready", snap.ReadyTransitions),
		fmt.Sprintf("connprobe_ready_transitions_total{state=%q} %d", "not_ready", snap.NotReadyTransitions),
		"# HELP connprobe_ready_alerts_total Total number of readiness alert transitions.",
		"# TYPE connprobe_ready_alerts_total counter",
		fmt.Sprintf("connprobe_ready_alerts_total %d", snap.ReadyAlerts),
		"# HELP connprobe_ready_categories_info Categories associated with the most recent readiness evaluation.",
		"# TYPE connprobe_ready_categories_info gauge",
	)
	if len(snap.ReadyCategories) == 0 {
		lines = append(lines, fmt.Sprintf("connprobe_ready_categories_info{category=%q,severity=%q} 1", "none", "none"))
	} else {
		cats := append([]ReadinessCategory(nil), snap.ReadyCategories...)
		sort.Slice(cats, func(i, j int) bool {
			if cats[i].Name == cats[j].Name {
				return cats[i].Severity < cats[j].Severity
			}
			return cats[i].Name < cats[j].Name
		})
		for _, cat := range cats {
			lines = append(lines, fmt.Sprintf("connprobe_ready_categories_info{category=%q,severity=%q} 1", cat.Name, cat.Severity))
		}
	}
	lines = append(lines,
		"# HELP connprobe_ready_category_transitions_total Count of readiness degradations annotated by category.",
		"# TYPE connprobe_ready_category_transitions_total counter",
	)
	if len(snap.CategoryTransitions) == 0 {
		lines = append(lines, fmt.Sprintf("connprobe_ready_category_transitions_total{category=%q,severity=%q} %d", "none", "none", 0))
	} else {
		counts := append([]CategoryCount(nil), snap.CategoryTransitions...)
		sort.Slice(counts, func(i, j int) bool {
			if counts[i].Category == counts[j].Category {
				return counts[i].Severity < counts[j].Severity
			}
			return counts[i].Category < counts[j].Category
		})
		for _, cc := range counts {
			lines = append(lines, fmt.Sprintf("connprobe_ready_category_transitions_total{category=%q,severity=%q} %d", cc.Category, cc.Severity, cc.Count))
		}
	}
	lines = append(lines, "")
	for _, line := range lines {
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return err
		}
	}
	return nil
}

func boolValue(v bool) int {
	if v {
		return 1
	}
	return 0
}

// NewHTTPHandler returns an http.Handler that serves Prometheus formatted metrics.
func NewHTTPHandler(store *Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		if r.Method == http.MethodHead {
			return
		}
		if err := store.WritePrometheus(w); err != nil {
			http.Error(w, "metrics unavailable", http.StatusInternalServerError)
		}
	})
}
