package sqlite

import "roomgraph/internal/common/validation"

// Config points at the SQLite database file, created if missing
type Config struct {
	DatabasePath string `json:"path" validate:"required"`
}

func DefaultConfig() *Config {
	return &Config{DatabasePath: "./roomgraph.db"}
}

func (c *Config) Validate() error { return validation.Struct(c) }

func (c *Config) GetType() string { return "sqlite" }

func (c *Config) GetConnectionString() string { return c.DatabasePath }
