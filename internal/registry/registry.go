// Package registry persists the static fields of monitored entries. The
// monitor owns the live state; stores only see ordered RegistryRecords.
package registry

import (
	"context"
	"fmt"

	"github.com/pingsantohq/connprobe/internal/config"
	"github.com/pingsantohq/connprobe/pkg/types"
)

// Store loads and replaces the persisted registry. Save receives the full
// registry in order and replaces whatever was stored before.
type Store interface {
	Load(ctx context.Context) ([]types.RegistryRecord, error)
	Save(ctx context.Context, records []types.RegistryRecord) error
	Close() error
}

// Open constructs the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.RegistryConfig) (Store, error) {
	switch cfg.Driver {
	case config.DriverFile, "":
		return NewFileStore(cfg.Path), nil
	case config.DriverSQLite:
		return NewSQLiteStore(ctx, cfg.Path)
	case config.DriverPostgres:
		return NewPostgresStore(ctx, cfg.DSN)
	case config.DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown registry driver %q", cfg.Driver)
	}
}

func cloneRecords(records []types.RegistryRecord) []types.RegistryRecord {
	out := make([]types.RegistryRecord, len(records))
	copy(out, records)
	return out
}
