package kafka

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

var (
	securityProtocols = []string{"PLAINTEXT", "SSL", "SASL_PLAINTEXT", "SASL_SSL"}
	saslMechanisms    = []string{"PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512"}
)

// Config connects the transport to a Kafka cluster. Each room is a topic
// named TopicPrefix + room; each join reads it through its own consumer
// group so that every member sees every message.
type Config struct {
	Brokers          []string      `json:"brokers"`
	ClientID         string        `json:"client_id"`
	GroupPrefix      string        `json:"group_prefix"`
	TopicPrefix      string        `json:"topic_prefix"`
	SecurityProtocol string        `json:"security_protocol"`
	SASLMechanism    string        `json:"sasl_mechanism"`
	SASLUsername     string        `json:"sasl_username"`
	SASLPassword     string        `json:"-"`
	Timeout          time.Duration `json:"timeout"`
	PollInterval     time.Duration `json:"poll_interval"`
	Buffer           int           `json:"buffer"`
}

func DefaultConfig() *Config {
	c := &Config{
		Brokers:     []string{"localhost:9092"},
		TopicPrefix: "roomgraph.",
	}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.ClientID == "" {
		c.ClientID = "roomgraph"
	}
	if c.GroupPrefix == "" {
		c.GroupPrefix = "roomgraph"
	}
	if c.SecurityProtocol == "" {
		c.SecurityProtocol = "PLAINTEXT"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.Buffer <= 0 {
		c.Buffer = 256
	}
}

// Validate fills in defaults and checks the brokers and security settings
func (c *Config) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("Kafka brokers are required")
	}
	if slices.Contains(c.Brokers, "") {
		return fmt.Errorf("empty Kafka broker address in %q", c.Brokers)
	}

	c.applyDefaults()
	if !slices.Contains(securityProtocols, c.SecurityProtocol) {
		return fmt.Errorf("invalid security protocol %s, want one of %s",
			c.SecurityProtocol, strings.Join(securityProtocols, ", "))
	}
	if !c.usesSASL() {
		return nil
	}

	if c.SASLMechanism == "" {
		c.SASLMechanism = "PLAIN"
	}
	if !slices.Contains(saslMechanisms, c.SASLMechanism) {
		return fmt.Errorf("invalid SASL mechanism %s, want one of %s",
			c.SASLMechanism, strings.Join(saslMechanisms, ", "))
	}
	if c.SASLUsername == "" || c.SASLPassword == "" {
		return fmt.Errorf("SASL username and password are required for %s", c.SecurityProtocol)
	}
	return nil
}

func (c *Config) usesSASL() bool {
	return strings.HasPrefix(c.SecurityProtocol, "SASL_")
}

func (c *Config) GetType() string { return "kafka" }

// GetConnectionString lists the bootstrap servers
func (c *Config) GetConnectionString() string {
	return strings.Join(c.Brokers, ",")
}
