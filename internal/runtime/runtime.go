// Package runtime expands a declarative description of sources, event types
// and customers into the roomgraph sessions that connect their rooms.
//
// Rooms are named after the prefix:
//
//	<prefix>.sources            events from every source
//	<prefix>.source.<name>      raw events from one source
//	<prefix>.type.<name>        events of one type
//	<prefix>.types              events of every declared type
//	<prefix>.customer.<name>    events for one customer
package runtime

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
	"roomgraph/internal/common/errors"
	"roomgraph/internal/common/logging"
	"roomgraph/internal/common/validation"
	"roomgraph/internal/roomgraph"
	"roomgraph/internal/rules"
)

// Config is the YAML document
type Config struct {
	Prefix    string     `yaml:"prefix" validate:"required,room_name"`
	Sources   []Source   `yaml:"sources" validate:"dive"`
	Types     []Type     `yaml:"types" validate:"dive"`
	Customers []Customer `yaml:"customers" validate:"dive"`
}

// Source is a feed writing into its own room. Other bots move its events
// into the sources room after sanitizing them; Sanitized marks a source
// whose events are already clean and can be forwarded as they are.
type Source struct {
	Name      string            `yaml:"name" validate:"required,room_name"`
	Sanitized bool              `yaml:"sanitized"`
	Options   map[string]string `yaml:"options"`
}

// Type selects events whose "type" attribute equals Name
type Type struct {
	Name string `yaml:"name" validate:"required,room_name"`
}

// Customer receives events matching any of its asn/netblock expressions,
// either from every type or only from the listed ones. A customer without
// expressions gets a room but no sessions.
type Customer struct {
	Name    string            `yaml:"name" validate:"required,room_name"`
	ASNs    []string          `yaml:"asns"`
	Types   []string          `yaml:"types"`
	Options map[string]string `yaml:"options"`
}

// Load reads and validates a runtime file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("failed to read runtime config %s: %v", path, err))
	}
	return Parse(data)
}

// Parse decodes and validates a runtime document
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("invalid runtime config: %v", err))
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	if err := validation.Struct(c); err != nil {
		return err
	}

	seen := map[string]bool{}
	for _, t := range c.Types {
		if seen[t.Name] {
			return errors.ValidationError(fmt.Sprintf("type %q declared twice", t.Name))
		}
		seen[t.Name] = true
	}
	for _, cust := range c.Customers {
		for _, t := range cust.Types {
			if !seen[t] {
				return errors.ValidationError(fmt.Sprintf("customer %q uses undeclared type %q", cust.Name, t))
			}
		}
	}
	return nil
}

func (c *Config) room(parts ...string) string {
	name := c.Prefix
	for _, p := range parts {
		name += "." + p
	}
	return name
}

// SourcesRoom collects the events of every source
func (c *Config) SourcesRoom() string { return c.room("sources") }

// SourceRoom is where a source writes its raw events
func (c *Config) SourceRoom(name string) string { return c.room("source", name) }

func (c *Config) TypesRoom() string { return c.room("types") }

func (c *Config) TypeRoom(name string) string { return c.room("type", name) }

func (c *Config) CustomerRoom(name string) string { return c.room("customer", name) }

// Sessions returns the session requests the document describes, sources
// first, then types, then customers, each in declaration order.
func (c *Config) Sessions() ([]roomgraph.Request, error) {
	var out []roomgraph.Request

	for _, s := range c.Sources {
		if !s.Sanitized {
			continue
		}
		out = append(out, roomgraph.Request{
			Source:      c.SourceRoom(s.Name),
			Destination: c.SourcesRoom(),
			Rule:        rules.MatchAll(),
			Options:     withOrigin(s.Options, "source", s.Name),
		})
	}

	for _, t := range c.Types {
		out = append(out,
			roomgraph.Request{
				Source:      c.SourcesRoom(),
				Destination: c.TypeRoom(t.Name),
				Rule:        rules.Contains(rules.Eq("type", t.Name)),
				Options:     withOrigin(nil, "type", t.Name),
			},
			roomgraph.Request{
				Source:      c.TypeRoom(t.Name),
				Destination: c.TypesRoom(),
				Rule:        rules.MatchAll(),
				Options:     withOrigin(nil, "type", t.Name),
			},
		)
	}

	for _, cust := range c.Customers {
		if len(cust.ASNs) == 0 {
			continue
		}
		rule, err := rules.ParseASNNetblocks(cust.ASNs)
		if err != nil {
			return nil, errors.ValidationError(fmt.Sprintf("customer %q: %v", cust.Name, err))
		}

		sources := []string{c.TypesRoom()}
		if cust.Types != nil {
			sources = sources[:0]
			for _, t := range cust.Types {
				sources = append(sources, c.TypeRoom(t))
			}
		}
		for _, src := range sources {
			out = append(out, roomgraph.Request{
				Source:      src,
				Destination: c.CustomerRoom(cust.Name),
				Rule:        rule,
				Options:     withOrigin(cust.Options, "customer", cust.Name),
			})
		}
	}
	return out, nil
}

// withOrigin copies options and records which declaration produced the session
func withOrigin(options map[string]string, kind, name string) map[string]string {
	out := make(map[string]string, len(options)+1)
	for k, v := range options {
		out[k] = v
	}
	out["runtime"] = kind + ":" + name
	return out
}

// Starter runs sessions; roomgraph.Service implements it
type Starter interface {
	Start(ctx context.Context, req roomgraph.Request) (*roomgraph.Session, error)
	Stop(ctx context.Context, id string) error
}

// Apply starts every request in order. On failure the sessions already
// started are stopped again and the error is returned.
func Apply(ctx context.Context, svc Starter, reqs []roomgraph.Request, logger logging.Logger) ([]*roomgraph.Session, error) {
	if logger == nil {
		logger = logging.Component("runtime")
	}

	started := make([]*roomgraph.Session, 0, len(reqs))
	for _, req := range reqs {
		session, err := svc.Start(ctx, req)
		if err != nil {
			for i := len(started) - 1; i >= 0; i-- {
				if stopErr := svc.Stop(ctx, started[i].ID()); stopErr != nil {
					logger.Warn("Failed to stop runtime session during rollback",
						logging.String("session_id", started[i].ID()),
						logging.Err(stopErr),
					)
				}
			}
			return nil, fmt.Errorf("runtime session %s -> %s: %w", req.Source, req.Destination, err)
		}
		started = append(started, session)
	}

	logger.Info("Runtime sessions started", logging.Int("sessions", len(started)))
	return started, nil
}
