// Package storage persists session directives so they survive restarts.
// Events themselves are never stored.
package storage

import (
	"context"
	"time"
)

// SessionRecord is a persisted session directive. Rule holds the rule in
// its canonical text form.
type SessionRecord struct {
	ID          string            `json:"id"`
	Source      string            `json:"src_room"`
	Destination string            `json:"dst_room"`
	Rule        string            `json:"rule"`
	Options     map[string]string `json:"options,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Store keeps session records
type Store interface {
	// Save inserts or replaces the record with the same ID
	Save(ctx context.Context, rec *SessionRecord) error
	// Delete removes a record; deleting an unknown ID is not an error
	Delete(ctx context.Context, id string) error
	// List returns all records ordered by creation time
	List(ctx context.Context) ([]*SessionRecord, error)
	Health(ctx context.Context) error
	Close() error
}

// StorageConfig is implemented by every backend's configuration
type StorageConfig interface {
	Validate() error
	GetType() string
	GetConnectionString() string
}

// StorageFactory creates a store from its configuration
type StorageFactory interface {
	Create(config StorageConfig) (Store, error)
	GetType() string
}
