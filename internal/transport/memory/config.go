package memory

import "fmt"

// Config configures the in-process transport
type Config struct {
	// Buffer is the per-subscription queue length. Senders block while a
	// subscriber's queue is full.
	Buffer int `json:"buffer" validate:"min=0"`
}

func DefaultConfig() *Config {
	return &Config{Buffer: 256}
}

func (c *Config) Validate() error {
	if c.Buffer < 0 {
		return fmt.Errorf("buffer must not be negative")
	}
	if c.Buffer == 0 {
		c.Buffer = 256
	}
	return nil
}

func (c *Config) GetConnectionString() string { return "memory://" }

func (c *Config) GetType() string { return "memory" }
