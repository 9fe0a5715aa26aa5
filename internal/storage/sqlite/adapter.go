// Package sqlite stores session records in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"roomgraph/internal/common/errors"
	"roomgraph/internal/storage"
)

type Adapter struct {
	db     *sql.DB
	config *Config
}

func NewAdapter(config *Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("invalid SQLite config: %v", err))
	}

	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, errors.ConnectionError("failed to open database", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.ConnectionError("failed to ping database", err)
	}

	adapter := &Adapter{
		db:     db,
		config: config,
	}

	if err := adapter.migrate(); err != nil {
		db.Close()
		return nil, errors.InternalError("failed to migrate database", err)
	}

	return adapter, nil
}

func (a *Adapter) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			src_room TEXT NOT NULL,
			dst_room TEXT NOT NULL,
			rule TEXT NOT NULL,
			options TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON sessions(created_at)`,
	}

	for _, query := range queries {
		if _, err := a.db.Exec(query); err != nil {
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

	_, err = a.db.ExecContext(ctx,
		`INSERT INTO sessions (id, src_room, dst_room, rule, options, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			src_room = excluded.src_room,
			dst_room = excluded.dst_room,
			rule = excluded.rule,
			options = excluded.options`,
		rec.ID, rec.Source, rec.Destination, rec.Rule, string(options), rec.CreatedAt.UTC())
	if err != nil {
		return errors.InternalError("failed to save session", err)
	}
	return nil
}

func (a *Adapter) Delete(ctx context.Context, id string) error {
	if _, err := a.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return errors.InternalError("failed to delete session", err)
	}
	return nil
}

func (a *Adapter) List(ctx context.Context) ([]*storage.SessionRecord, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT id, src_room, dst_room, rule, options, created_at FROM sessions ORDER BY created_at, id`)
	if err != nil {
		return nil, errors.InternalError("failed to list sessions", err)
	}
	defer rows.Close()

	var out []*storage.SessionRecord
	for rows.Next() {
		var (
			rec       storage.SessionRecord
			options   string
			createdAt time.Time
		)
		if err := rows.Scan(&rec.ID, &rec.Source, &rec.Destination, &rec.Rule, &options, &createdAt); err != nil {
			return nil, errors.InternalError("failed to scan session", err)
		}
		if err := json.Unmarshal([]byte(options), &rec.Options); err != nil {
			return nil, errors.InternalError("corrupt options for session "+rec.ID, err)
		}
		rec.CreatedAt = createdAt
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (a *Adapter) Health(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

func (a *Adapter) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

type Factory struct{}

func (Factory) Create(config storage.StorageConfig) (storage.Store, error) {
	c, ok := config.(*Config)
	if !ok {
		return nil, errors.ConfigError("invalid config type for SQLite storage")
	}
	return NewAdapter(c)
}

func (Factory) GetType() string { return "sqlite" }
