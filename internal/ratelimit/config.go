package ratelimit

import (
	"fmt"
	"time"
)

// BackendType selects where request counts are kept
type BackendType string

const (
	BackendLocal BackendType = "local"
	BackendRedis BackendType = "redis"
)

// Config represents rate limiter configuration
type Config struct {
	RequestsPerSecond int         `json:"requests_per_second" yaml:"requests_per_second"`
	BurstSize         int         `json:"burst_size" yaml:"burst_size"`
	Enabled           bool        `json:"enabled" yaml:"enabled"`
	Backend           BackendType `json:"backend" yaml:"backend"`

	// KeyPrefix namespaces redis keys
	KeyPrefix string `json:"key_prefix,omitempty" yaml:"key_prefix,omitempty"`

	// Cleanup settings for local limiters
	MaxKeys       int           `json:"max_keys,omitempty" yaml:"max_keys,omitempty"`
	CleanupPeriod time.Duration `json:"cleanup_period,omitempty" yaml:"cleanup_period,omitempty"`
}

// Validate fills defaults and checks the configuration
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests per second must be positive")
	}
	if c.BurstSize <= 0 {
		c.BurstSize = c.RequestsPerSecond
	}
	if c.Backend == "" {
		c.Backend = BackendLocal
	}
	switch c.Backend {
	case BackendLocal, BackendRedis:
	default:
		return fmt.Errorf("unsupported rate limiter backend: %s", c.Backend)
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "roomgraph:ratelimit:"
	}
	if c.MaxKeys <= 0 {
		c.MaxKeys = 10000
	}
	if c.CleanupPeriod <= 0 {
		c.CleanupPeriod = 5 * time.Minute
	}
	return nil
}
