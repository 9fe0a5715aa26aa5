// Package base holds the pieces shared by transport implementations: naming,
// logging and configuration, plus a Subscription that turns a receive loop
// into a closable message channel.
package base

import (
	"fmt"
	"sync"

	"roomgraph/internal/common/errors"
	"roomgraph/internal/common/logging"
	"roomgraph/internal/transport"
)

// BaseTransport handles the concerns every transport shares
type BaseTransport struct {
	name   string
	logger logging.Logger
	config transport.Config

	mu     sync.RWMutex
	closed bool
}

// NewBaseTransport validates config and sets up a logger tagged with the
// transport name.
func NewBaseTransport(name string, config transport.Config) (*BaseTransport, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("invalid %s config: %v", name, err))
	}

	logger := logging.GetGlobalLogger().WithFields(
		logging.String("transport", name),
		logging.String("connection", config.GetConnectionString()),
	)

	return &BaseTransport{
		name:   name,
		config: config,
		logger: logger,
	}, nil
}

func (b *BaseTransport) Name() string { return b.name }

func (b *BaseTransport) Logger() logging.Logger { return b.logger }

func (b *BaseTransport) Config() transport.Config { return b.config }

// MarkClosed flags the transport closed. It returns false if it already was.
func (b *BaseTransport) MarkClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.closed = true
	return true
}

// CheckOpen returns a connection error once the transport is closed
func (b *BaseTransport) CheckOpen() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errors.ConnectionError(b.name+" transport is closed", nil)
	}
	return nil
}

// StandardHealthCheck reports an uninitialised client
func StandardHealthCheck(client interface{}, transportType string) error {
	if client == nil {
		return errors.ConnectionError(transportType+" client not initialized", nil)
	}
	return nil
}

// HeaderConverter normalises transport specific header representations
type HeaderConverter struct{}

// ToStringMap converts various header formats to a string map
func (HeaderConverter) ToStringMap(headers interface{}) map[string]string {
	result := make(map[string]string)

	switch h := headers.(type) {
	case map[string]string:
		for k, v := range h {
			result[k] = v
		}
	case map[string]interface{}:
		for k, v := range h {
			if b, ok := v.([]byte); ok {
				result[k] = string(b)
				continue
			}
			result[k] = fmt.Sprintf("%v", v)
		}
	}
	return result
}

// ToInterfaceMap converts string headers for clients that want interface values
func (HeaderConverter) ToInterfaceMap(headers map[string]string) map[string]interface{} {
	result := make(map[string]interface{}, len(headers))
	for k, v := range headers {
		result[k] = v
	}
	return result
}
