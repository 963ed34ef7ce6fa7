package registry

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/pingsantohq/connprobe/pkg/types"
)

// SQLiteStore keeps the registry in a SQLite table ordered by position.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path and runs
// migrations.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("ensure registry dir %q: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path))
	if err != nil {
		return nil, fmt.Errorf("unable to open sqlite database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	store := &SQLiteStore{db: db}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) migrate(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS registry_entries (
	address  TEXT PRIMARY KEY,
	position INTEGER NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	name     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_registry_entries_position ON registry_entries (position);
`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *SQLiteStore) Load(ctx context.Context) ([]types.RegistryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT category, name, address FROM registry_entries ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query registry: %w", err)
	}
	defer rows.Close()

	records := []types.RegistryRecord{}
	for rows.Next() {
		var r types.RegistryRecord
		if err := rows.Scan(&r.Category, &r.Name, &r.Address); err != nil {
			return nil, fmt.Errorf("scan registry row: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) Save(ctx context.Context, records []types.RegistryRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM registry_entries`); err != nil {
		return fmt.Errorf("clear registry: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO registry_entries (address, position, category, name) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare registry insert: %w", err)
	}
	defer stmt.Close()
	for i, r := range records {
		if _, err := stmt.ExecContext(ctx, r.Address, i, r.Category, r.Name); err != nil {
			return fmt.Errorf("insert registry entry %q: %w", r.Address, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit registry: %w", err)
	}
	return nil
}
