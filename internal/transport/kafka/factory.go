package kafka

import (
	"roomgraph/internal/common/errors"
	"roomgraph/internal/transport"
)

type Factory struct{}

func (Factory) Create(config transport.Config) (transport.Transport, error) {
	c, ok := config.(*Config)
	if !ok {
		return nil, errors.ConfigError("invalid config type for kafka transport")
	}
	return NewTransport(c)
}

func (Factory) GetType() string { return "kafka" }
