package redis

import (
	"fmt"
	"time"

	"roomgraph/internal/common/validation"
)

// Config connects the transport to a Redis server. Rooms are pub/sub
// channels named ChannelPrefix + room.
type Config struct {
	Address       string        `json:"address" validate:"required,hostname_port"`
	Password      string        `json:"-"`
	DB            int           `json:"db" validate:"min=0,max=15"`
	PoolSize      int           `json:"pool_size" validate:"min=1"`
	Timeout       time.Duration `json:"timeout"`
	ChannelPrefix string        `json:"channel_prefix"`
	// Buffer is the per-room queue length in front of the distributor
	Buffer int `json:"buffer" validate:"min=1"`
}

func DefaultConfig() *Config {
	return &Config{
		Address:       "localhost:6379",
		PoolSize:      10,
		Timeout:       5 * time.Second,
		ChannelPrefix: "roomgraph:",
		Buffer:        256,
	}
}

// Validate fills in the pool size, timeout and buffer when unset
func (c *Config) Validate() error {
	if c.PoolSize <= 0 {
		c.PoolSize = 10
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.Buffer <= 0 {
		c.Buffer = 256
	}
	return validation.Struct(c)
}

func (c *Config) GetType() string { return "redis" }

// GetConnectionString masks the password
func (c *Config) GetConnectionString() string {
	auth := ""
	if c.Password != "" {
		auth = ":***@"
	}
	return fmt.Sprintf("redis://%s%s/%d", auth, c.Address, c.DB)
}
