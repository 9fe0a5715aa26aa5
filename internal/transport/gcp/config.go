package gcp

import (
	"fmt"
	"time"

	"roomgraph/internal/common/validation"
)

type Config struct {
	ProjectID       string `json:"project_id" validate:"required"`
	CredentialsJSON string `json:"-"`
	CredentialsPath string `json:"credentials_path"`
	// Endpoint overrides the API endpoint, e.g. for the emulator
	Endpoint           string `json:"endpoint"`
	TopicPrefix        string `json:"topic_prefix"`
	SubscriptionPrefix string `json:"subscription_prefix"`
	// AckDeadline is in seconds
	AckDeadline            int           `json:"ack_deadline" validate:"min=10,max=600"`
	MaxOutstandingMessages int           `json:"max_outstanding_messages" validate:"min=1"`
	Timeout                time.Duration `json:"timeout"`
	Buffer                 int           `json:"buffer"`
}

func (c *Config) Validate() error {
	if c.AckDeadline == 0 {
		c.AckDeadline = 60
	}
	if c.MaxOutstandingMessages <= 0 {
		c.MaxOutstandingMessages = 100
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Buffer <= 0 {
		c.Buffer = 256
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = "roomgraph-"
	}
	if c.SubscriptionPrefix == "" {
		c.SubscriptionPrefix = c.TopicPrefix
	}

	if err := validation.Struct(c); err != nil {
		return fmt.Errorf("GCP Pub/Sub config: %w", err)
	}
	return nil
}

func (c *Config) GetType() string {
	return "gcp"
}

func (c *Config) GetConnectionString() string {
	return fmt.Sprintf("pubsub://projects/%s/topics/%s*", c.ProjectID, c.TopicPrefix)
}

func DefaultConfig() *Config {
	return &Config{
		TopicPrefix:            "roomgraph-",
		SubscriptionPrefix:     "roomgraph-",
		AckDeadline:            60,
		MaxOutstandingMessages: 100,
		Timeout:                30 * time.Second,
		Buffer:                 256,
	}
}
