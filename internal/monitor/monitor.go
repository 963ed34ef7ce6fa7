// Package monitor keeps an ordered registry of targets and probes it in
// repeated rounds while running.
//
// All registry access happens under one mutex. A round works on a snapshot
// of the registry and applies each outcome back to the live entry with the
// same address, so targets added, removed or edited mid-round are handled
// without holding the lock across probe I/O.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/pingsantohq/connprobe/internal/events"
	"github.com/pingsantohq/connprobe/internal/metrics"
	"github.com/pingsantohq/connprobe/internal/registry"
	"github.com/pingsantohq/connprobe/internal/target"
	"github.com/pingsantohq/connprobe/pkg/types"
)

const (
	DefaultMinInterval = 5 * time.Second
	DefaultMaxWorkers  = 10
)

var (
	ErrDuplicateTarget = errors.New("target already registered")
	ErrNotFound        = errors.New("target not found")
	ErrInvalidInterval = errors.New("invalid monitor interval")
	ErrInvalidTarget   = errors.New("invalid target address")
	ErrEmptyRegistry   = fmt.Errorf("%w: registry is empty", ErrInvalidInterval)
)

// Prober runs one batch over targets. *batch.Prober satisfies it.
type Prober interface {
	Run(ctx context.Context, targets []types.Target, workerCount int) types.BatchResult
}

type Monitor struct {
	prober      Prober
	store       registry.Store
	events      events.Recorder
	metrics     metrics.MonitorRecorder
	logger      *log.Logger
	now         func() time.Time
	minInterval time.Duration
	maxWorkers  int

	saveMu sync.Mutex

	mu       sync.Mutex
	entries  []*types.MonitoredEntry
	running  bool
	interval time.Duration
	gen      uint64
	cancel   context.CancelFunc
	done     chan struct{}
}

type Option func(*Monitor)

func WithStore(store registry.Store) Option {
	return func(m *Monitor) {
		m.store = store
	}
}

func WithEvents(rec events.Recorder) Option {
	return func(m *Monitor) {
		if rec != nil {
			m.events = rec
		}
	}
}

func WithMetrics(rec metrics.MonitorRecorder) Option {
	return func(m *Monitor) {
		if rec != nil {
			m.metrics = rec
		}
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// WithMinInterval lowers or raises the interval floor. Tests use it to run
// rounds quickly.
func WithMinInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.minInterval = d
		}
	}
}

func WithMaxWorkers(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.maxWorkers = n
		}
	}
}

func New(prober Prober, opts ...Option) *Monitor {
	m := &Monitor{
		prober:      prober,
		events:      events.NoopRecorder{},
		metrics:     metrics.NoopMonitorRecorder{},
		logger:      log.New(io.Discard, "", 0),
		now:         time.Now,
		minInterval: DefaultMinInterval,
		maxWorkers:  DefaultMaxWorkers,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.interval = m.minInterval
	return m
}

// Load replaces the registry with the records held by the store. Invalid or
// duplicate addresses are skipped. Live state starts as never checked.
func (m *Monitor) Load(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	records, err := m.store.Load(ctx)
	m.metrics.ObserveStoreResult(err)
	if err != nil {
		return fmt.Errorf("load registry: %w", err)
	}

	entries := make([]*types.MonitoredEntry, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		r = normalize(r)
		if !target.ValidateAddress(r.Address) {
			m.logger.Printf("registry entry skipped address=%q reason=invalid", r.Address)
			continue
		}
		if _, dup := seen[r.Address]; dup {
			m.logger.Printf("registry entry skipped address=%q reason=duplicate", r.Address)
			continue
		}
		seen[r.Address] = struct{}{}
		entries = append(entries, newEntry(r))
	}

	m.mu.Lock()
	m.entries = entries
	m.mu.Unlock()

	m.metrics.ObserveRegistrySize(len(entries))
	m.emit(types.EventRegistryUpdated, "", map[string]any{"entries": len(entries), "source": "store"})
	m.logger.Printf("registry loaded entries=%d", len(entries))
	return nil
}

// AddTarget appends a new entry with Unknown status.
func (m *Monitor) AddTarget(ctx context.Context, rec types.RegistryRecord) (types.MonitoredEntry, error) {
	rec = normalize(rec)
	if !target.ValidateAddress(rec.Address) {
		return types.MonitoredEntry{}, fmt.Errorf("%w: %q", ErrInvalidTarget, rec.Address)
	}

	m.mu.Lock()
	if m.indexLocked(rec.Address) >= 0 {
		m.mu.Unlock()
		return types.MonitoredEntry{}, fmt.Errorf("%w: %s", ErrDuplicateTarget, rec.Address)
	}
	entry := newEntry(rec)
	m.entries = append(m.entries, entry)
	out := entry.Clone()
	size := len(m.entries)
	m.mu.Unlock()

	m.registryChanged(ctx, size, types.EventTargetAdded, rec.Address)
	return out, nil
}

// RemoveTarget deletes the entry with address.
func (m *Monitor) RemoveTarget(ctx context.Context, address string) error {
	address = strings.TrimSpace(address)

	m.mu.Lock()
	idx := m.indexLocked(address)
	if idx < 0 {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, address)
	}
	m.entries = append(m.entries[:idx], m.entries[idx+1:]...)
	size := len(m.entries)
	m.mu.Unlock()

	m.registryChanged(ctx, size, types.EventTargetRemoved, address)
	return nil
}

// UpdateTarget edits the static fields of the entry with address in place.
// An empty rec.Address keeps the current address. Live fields are kept.
func (m *Monitor) UpdateTarget(ctx context.Context, address string, rec types.RegistryRecord) (types.MonitoredEntry, error) {
	address = strings.TrimSpace(address)
	rec = normalize(rec)
	if rec.Address == "" {
		rec.Address = address
	}
	if !target.ValidateAddress(rec.Address) {
		return types.MonitoredEntry{}, fmt.Errorf("%w: %q", ErrInvalidTarget, rec.Address)
	}

	m.mu.Lock()
	idx := m.indexLocked(address)
	if idx < 0 {
		m.mu.Unlock()
		return types.MonitoredEntry{}, fmt.Errorf("%w: %s", ErrNotFound, address)
	}
	if other := m.indexLocked(rec.Address); other >= 0 && other != idx {
		m.mu.Unlock()
		return types.MonitoredEntry{}, fmt.Errorf("%w: %s", ErrDuplicateTarget, rec.Address)
	}
	entry := m.entries[idx]
	entry.Category = rec.Category
	entry.Name = rec.Name
	entry.Address = rec.Address
	out := entry.Clone()
	size := len(m.entries)
	m.mu.Unlock()

	m.registryChanged(ctx, size, types.EventTargetUpdated, address)
	return out, nil
}

// Snapshot returns copies of all entries in registry order.
func (m *Monitor) Snapshot() []types.MonitoredEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.MonitoredEntry, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Clone()
	}
	return out
}

// Len returns the number of registered entries.
func (m *Monitor) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Monitor) registryChanged(ctx context.Context, size int, kind types.EventType, address string) {
	m.metrics.ObserveRegistrySize(size)
	m.persist(ctx)
	m.emit(kind, address, nil)
	m.emit(types.EventRegistryUpdated, "", map[string]any{"entries": size})
}

// persist saves the current static fields. Failures are logged and counted;
// the in-memory registry stays authoritative.
func (m *Monitor) persist(ctx context.Context) {
	if m.store == nil {
		return
	}
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	m.mu.Lock()
	records := make([]types.RegistryRecord, len(m.entries))
	for i, e := range m.entries {
		records[i] = e.Record()
	}
	m.mu.Unlock()

	err := m.store.Save(ctx, records)
	m.metrics.ObserveStoreResult(err)
	if err != nil {
		m.logger.Printf("registry save failed entries=%d: %v", len(records), err)
	}
}

func (m *Monitor) emit(kind types.EventType, address string, details map[string]any) {
	m.events.Record(types.Event{
		Type:      kind,
		Timestamp: m.now().UTC(),
		Address:   address,
		Details:   details,
	})
}

func (m *Monitor) indexLocked(address string) int {
	for i, e := range m.entries {
		if e.Address == address {
			return i
		}
	}
	return -1
}

func normalize(rec types.RegistryRecord) types.RegistryRecord {
	return types.RegistryRecord{
		Category: strings.TrimSpace(rec.Category),
		Name:     strings.TrimSpace(rec.Name),
		Address:  strings.TrimSpace(rec.Address),
	}
}

func newEntry(rec types.RegistryRecord) *types.MonitoredEntry {
	return &types.MonitoredEntry{
		Category: rec.Category,
		Name:     rec.Name,
		Address:  rec.Address,
		Status:   types.StatusUnknown,
	}
}
