package registry

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pingsantohq/connprobe/pkg/types"
)

// PostgresStore keeps the registry in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects using the supplied connection string and ensures
// the schema exists.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store := &PostgresStore{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// Close releases database resources.
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}

func (p *PostgresStore) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS registry_entries (
    address  TEXT PRIMARY KEY,
    position INTEGER NOT NULL,
    category TEXT NOT NULL DEFAULT '',
    name     TEXT NOT NULL DEFAULT ''
);
`
	_, err := p.pool.Exec(ctx, schema)
	return err
}

func (p *PostgresStore) Load(ctx context.Context) ([]types.RegistryRecord, error) {
	const query = `
SELECT category, name, address
  FROM registry_entries
 ORDER BY position;
`
	rows, err := p.pool.Query(ctx, query)
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

func (p *PostgresStore) Save(ctx context.Context, records []types.RegistryRecord) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin registry tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM registry_entries`); err != nil {
		return fmt.Errorf("clear registry: %w", err)
	}
	batch := &pgx.Batch{}
	for i, r := range records {
		batch.Queue(`INSERT INTO registry_entries (address, position, category, name) VALUES ($1,$2,$3,$4)`,
			r.Address, i, r.Category, r.Name)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert registry entries: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit registry: %w", err)
	}
	return nil
}
