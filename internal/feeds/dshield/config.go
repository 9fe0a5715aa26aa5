package dshield

import (
	"strings"
	"time"

	"roomgraph/internal/common/validation"
)

// DefaultURL is the DShield per-AS report
const DefaultURL = "https://secure.dshield.org/asdetailsascii.html"

type Config struct {
	// ASNs are the autonomous systems to poll, as decimal numbers
	ASNs []string `json:"asns" validate:"required,min=1,dive,numeric"`
	// Room receives the events
	Room     string `json:"room" validate:"required,room_name"`
	Schedule string `json:"schedule" validate:"required,cron_spec"`
	URL      string `json:"url" validate:"required,url"`
	// UseCymruWhois tags events with "dshield asn" and leaves "asn" to a
	// whois lookup further down the graph
	UseCymruWhois bool          `json:"use_cymru_whois"`
	Timeout       time.Duration `json:"timeout"`
	// LockTTL bounds how long a poll holds the shared lock
	LockTTL time.Duration `json:"lock_ttl"`
}

func DefaultConfig() *Config {
	return &Config{
		Room:     "dshield",
		Schedule: "@every 1h",
		URL:      DefaultURL,
		Timeout:  30 * time.Second,
		LockTTL:  10 * time.Minute,
	}
}

func (c *Config) Validate() error {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 10 * time.Minute
	}
	return validation.Struct(c)
}

// reportURL returns the report address for one AS
func (c *Config) reportURL(asn string) string {
	sep := "?"
	if strings.Contains(c.URL, "?") {
		sep = "&"
	}
	return c.URL + sep + "as=" + asn
}

// asnKey is the attribute carrying the polled AS number
func (c *Config) asnKey() string {
	if c.UseCymruWhois {
		return "dshield asn"
	}
	return "asn"
}
