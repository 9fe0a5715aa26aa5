package nats

import (
	"fmt"
	"net/url"
	"time"

	"roomgraph/internal/common/validation"
)

type Config struct {
	URL           string        `json:"url" validate:"required"`
	Name          string        `json:"name"`
	Username      string        `json:"username"`
	Password      string        `json:"-"`
	Token         string        `json:"-"`
	SubjectPrefix string        `json:"subject_prefix"`
	Timeout       time.Duration `json:"timeout"`
	MaxReconnects int           `json:"max_reconnects" validate:"min=-1"`
	ReconnectWait time.Duration `json:"reconnect_wait"`
	PollInterval  time.Duration `json:"poll_interval"`
	Buffer        int           `json:"buffer"`
}

func (c *Config) Validate() error {
	if c.Name == "" {
		c.Name = "roomgraph"
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = 2 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.Buffer <= 0 {
		c.Buffer = 256
	}
	return validation.Struct(c)
}

func (c *Config) GetType() string {
	return "nats"
}

func (c *Config) GetConnectionString() string {
	if u, err := url.Parse(c.URL); err == nil && u.Host != "" {
		return fmt.Sprintf("nats://%s", u.Host)
	}
	return "nats://***"
}

func DefaultConfig() *Config {
	return &Config{
		URL:           "nats://localhost:4222",
		Name:          "roomgraph",
		SubjectPrefix: "roomgraph.",
		Timeout:       5 * time.Second,
		MaxReconnects: 60,
		ReconnectWait: 2 * time.Second,
		PollInterval:  100 * time.Millisecond,
		Buffer:        256,
	}
}
