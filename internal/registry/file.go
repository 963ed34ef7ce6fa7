package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/pingsantohq/connprobe/internal/config"
	"github.com/pingsantohq/connprobe/pkg/types"
)

// FileStore keeps the registry in a YAML document:
//
//	targets:
//	  - category: core
//	    name: edge-router
//	    address: 10.0.0.1
type FileStore struct {
	path string
}

type fileDocument struct {
	Targets []types.RegistryRecord `yaml:"targets"`
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: filepath.Clean(path)}
}

func (f *FileStore) Path() string { return f.path }

// Load returns the stored records. A missing file is an empty registry.
func (f *FileStore) Load(ctx context.Context) ([]types.RegistryRecord, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []types.RegistryRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry %q: %w", f.path, err)
	}
	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse registry %q: %w", f.path, err)
	}
	if doc.Targets == nil {
		doc.Targets = []types.RegistryRecord{}
	}
	return doc.Targets, nil
}

func (f *FileStore) Save(ctx context.Context, records []types.RegistryRecord) error {
	doc := fileDocument{Targets: cloneRecords(records)}
	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	if err := config.WriteFileAtomic(f.path, data); err != nil {
		return fmt.Errorf("save registry: %w", err)
	}
	return nil
}

func (f *FileStore) Close() error { return nil }
