// Package postgres stores session records in PostgreSQL through a pgx pool.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"roomgraph/internal/common/errors"
	"roomgraph/internal/storage"
)

type Adapter struct {
	pool   *pgxpool.Pool
	config *Config
}

func NewAdapter(ctx context.Context, config *Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("invalid PostgreSQL config: %v", err))
	}

	poolConfig, err := pgxpool.ParseConfig(config.GetConnectionString())
	if err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("invalid PostgreSQL connection settings: %v", err))
	}
	poolConfig.MaxConns = config.MaxConns

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.ConnectionError("failed to connect to PostgreSQL database", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.ConnectionError("failed to ping database", err)
	}

	adapter := &Adapter{pool: pool, config: config}
	if err := adapter.migrate(ctx); err != nil {
		pool.Close()
		return nil, errors.InternalError("failed to migrate database", err)
	}
	return adapter, nil
}

func (a *Adapter) migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id VARCHAR(64) PRIMARY KEY,
			src_room TEXT NOT NULL,
			dst_room TEXT NOT NULL,
			rule TEXT NOT NULL,
			options JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON sessions(created_at)`,
	}

	for _, query := range queries {
		if _, err := a.pool.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to execute migration query: %w", err)
		}
	}
	return nil
}

func (a *Adapter) Save(ctx context.Context, rec *storage.SessionRecord) error {
	options, err := json.Marshal(rec.Options)
	if err != nil {
		return errors.ValidationError(fmt.Sprintf("invalid session options: %v", err))
	}

	_, err = a.pool.Exec(ctx,
		`INSERT INTO sessions (id, src_room, dst_room, rule, options, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
			src_room = EXCLUDED.src_room,
			dst_room = EXCLUDED.dst_room,
			rule = EXCLUDED.rule,
			options = EXCLUDED.options`,
		rec.ID, rec.Source, rec.Destination, rec.Rule, options, rec.CreatedAt)
	if err != nil {
		return errors.InternalError("failed to save session", err)
	}
	return nil
}

func (a *Adapter) Delete(ctx context.Context, id string) error {
	if _, err := a.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return errors.InternalError("failed to delete session", err)
	}
	return nil
}

func (a *Adapter) List(ctx context.Context) ([]*storage.SessionRecord, error) {
	rows, err := a.pool.Query(ctx,
		`SELECT id, src_room, dst_room, rule, options, created_at FROM sessions ORDER BY created_at, id`)
	if err != nil {
		return nil, errors.InternalError("failed to list sessions", err)
	}
	defer rows.Close()

	var out []*storage.SessionRecord
	for rows.Next() {
		var (
			rec     storage.SessionRecord
			options []byte
		)
		if err := rows.Scan(&rec.ID, &rec.Source, &rec.Destination, &rec.Rule, &options, &rec.CreatedAt); err != nil {
			return nil, errors.InternalError("failed to scan session", err)
		}
		if err := json.Unmarshal(options, &rec.Options); err != nil {
			return nil, errors.InternalError("corrupt options for session "+rec.ID, err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (a *Adapter) Health(ctx context.Context) error {
	return a.pool.Ping(ctx)
}

func (a *Adapter) Close() error {
	a.pool.Close()
	return nil
}

type Factory struct{}

func (Factory) Create(config storage.StorageConfig) (storage.Store, error) {
	c, ok := config.(*Config)
	if !ok {
		return nil, errors.ConfigError("invalid config type for PostgreSQL storage")
	}
	return NewAdapter(context.Background(), c)
}

func (Factory) GetType() string { return "postgres" }
