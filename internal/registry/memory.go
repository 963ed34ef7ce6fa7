package registry

import (
	"context"
	"sync"

	"github.com/pingsantohq/connprobe/pkg/types"
)

// MemoryStore keeps the registry in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	records []types.RegistryRecord
	saves   int
}

func NewMemoryStore(records ...types.RegistryRecord) *MemoryStore {
	return &MemoryStore{records: cloneRecords(records)}
}

func (m *MemoryStore) Load(ctx context.Context) ([]types.RegistryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneRecords(m.records), nil
}

func (m *MemoryStore) Save(ctx context.Context, records []types.RegistryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = cloneRecords(records)
	m.saves++
	return nil
}

// Saves reports how many times Save was called.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *MemoryStore) Close() error { return nil }
