// Package circuitbreaker guards calls to external services with Sony's gobreaker
package circuitbreaker

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"roomgraph/internal/common/errors"
	"roomgraph/internal/common/logging"
)

// Config holds the configuration for a circuit breaker
type Config struct {
	// MaxFailures is the number of consecutive failures that opens the circuit
	MaxFailures int
	// Timeout is how long the circuit stays open before going half-open
	Timeout time.Duration
	// MaxConcurrentRequests is the number of requests allowed while half-open
	MaxConcurrentRequests int
	// Interval clears the counts of a closed circuit; zero never clears them
	Interval time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxFailures:           5,
		Timeout:               60 * time.Second,
		MaxConcurrentRequests: 1,
		Interval:              time.Minute,
	}
}

// PollingConfig is for feeds polling external services
var PollingConfig = Config{
	MaxFailures:           3,
	Timeout:               5 * time.Minute,
	MaxConcurrentRequests: 1,
}

func (c Config) Validate() error {
	if c.MaxFailures <= 0 {
		return fmt.Errorf("MaxFailures must be positive, got %d", c.MaxFailures)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("Timeout must be positive, got %v", c.Timeout)
	}
	if c.MaxConcurrentRequests <= 0 {
		return fmt.Errorf("MaxConcurrentRequests must be positive, got %d", c.MaxConcurrentRequests)
	}
	return nil
}

// State represents the current state of the circuit breaker
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Stats is a snapshot of a breaker's counters. gobreaker starts a new
// generation with zeroed counts on every state change, so the counts only
// cover the current state. Trips counts every opening and TrippedAfter
// keeps the consecutive failures that last tripped a closed circuit.
type Stats struct {
	Name                string `json:"name"`
	State               string `json:"state"`
	Failures            int    `json:"failures"`
	Successes           int    `json:"successes"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	Trips               int    `json:"trips"`
	TrippedAfter        int    `json:"tripped_after"`
}

// Breaker wraps a gobreaker.CircuitBreaker
type Breaker struct {
	name    string
	breaker *gobreaker.CircuitBreaker
	logger  logging.Logger

	trips        atomic.Int64
	trippedAfter atomic.Int64
}

// New creates a breaker. An invalid config falls back to DefaultConfig.
func New(name string, config Config, logger logging.Logger) *Breaker {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if err := config.Validate(); err != nil {
		logger.Warn("Invalid circuit breaker config, using defaults",
			logging.String("breaker", name),
			logging.Err(err),
		)
		config = DefaultConfig()
	}

	b := &Breaker{name: name, logger: logger}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(config.MaxConcurrentRequests),
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures < uint32(config.MaxFailures) {
				return false
			}
			b.trippedAfter.Store(int64(counts.ConsecutiveFailures))
			return true
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				b.trips.Add(1)
			}
			logger.Info("Circuit breaker state changed",
				logging.String("breaker", name),
				logging.String("from", from.String()),
				logging.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			// Bad input is the caller's fault, not the service's
			return err == nil || errors.IsType(err, errors.ErrTypeValidation) || errors.IsType(err, errors.ErrTypeNotFound)
		},
	}

	b.breaker = gobreaker.NewCircuitBreaker(settings)
	return b
}

// Execute runs fn unless the circuit is open. A cancelled ctx is returned
// without calling fn and without counting as a failure.
func (b *Breaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})

	switch err {
	case gobreaker.ErrOpenState:
		return errors.InternalError(fmt.Sprintf("circuit breaker '%s' is open", b.name), err)
	case gobreaker.ErrTooManyRequests:
		return errors.InternalError(fmt.Sprintf("circuit breaker '%s' has too many requests", b.name), err)
	}
	return err
}

// IsOpenError reports whether err was returned because the circuit rejected the call
func IsOpenError(err error) bool {
	return stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests)
}

func (b *Breaker) Name() string { return b.name }

func (b *Breaker) State() State {
	switch b.breaker.State() {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

func (b *Breaker) Stats() Stats {
	counts := b.breaker.Counts()
	return Stats{
		Name:                b.name,
		State:               b.State().String(),
		Failures:            int(counts.TotalFailures),
		Successes:           int(counts.TotalSuccesses),
		ConsecutiveFailures: int(counts.ConsecutiveFailures),
		Trips:               int(b.trips.Load()),
		TrippedAfter:        int(b.trippedAfter.Load()),
	}
}
