package postgres

import (
	"fmt"
	"net"
	"net/url"
	"strconv"

	"roomgraph/internal/common/validation"
)

const defaultPort = 5432

// Config locates the PostgreSQL database holding session records
type Config struct {
	Host     string `json:"host" validate:"required"`
	Port     int    `json:"port" validate:"min=0,max=65535"`
	Database string `json:"database" validate:"required"`
	Username string `json:"username" validate:"required"`
	Password string `json:"-"`
	SSLMode  string `json:"sslmode" validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`
	MaxConns int32  `json:"max_conns" validate:"min=0"`
}

func DefaultConfig() *Config {
	return &Config{
		Host:     "localhost",
		Port:     defaultPort,
		Database: "roomgraph",
		Username: "postgres",
		SSLMode:  "prefer",
		MaxConns: 4,
	}
}

// NewConfigFromURL reads a postgres:// or postgresql:// DSN
func NewConfigFromURL(dsn string) (*Config, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid PostgreSQL URL: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return nil, fmt.Errorf("invalid PostgreSQL URL scheme %q", u.Scheme)
	}

	c := &Config{
		Host:     u.Hostname(),
		Port:     defaultPort,
		Username: u.User.Username(),
		SSLMode:  u.Query().Get("sslmode"),
	}
	c.Password, _ = u.User.Password()
	if len(u.Path) > 1 {
		c.Database = u.Path[1:]
	}
	if p := u.Port(); p != "" {
		if c.Port, err = strconv.Atoi(p); err != nil {
			return nil, fmt.Errorf("invalid PostgreSQL port %q", p)
		}
	}
	if c.SSLMode == "" {
		c.SSLMode = "prefer"
	}
	return c, nil
}

// Validate fills in the port, SSL mode and pool size when unset
func (c *Config) Validate() error {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.SSLMode == "" {
		c.SSLMode = "prefer"
	}
	if c.MaxConns == 0 {
		c.MaxConns = 4
	}
	return validation.Struct(c)
}

func (c *Config) GetType() string { return "postgres" }

// GetConnectionString is the DSN handed to pgx, password included
func (c *Config) GetConnectionString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Username, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}

// String describes the connection without credentials
func (c *Config) String() string {
	return "postgres://" + net.JoinHostPort(c.Host, strconv.Itoa(c.Port)) + "/" + c.Database
}
