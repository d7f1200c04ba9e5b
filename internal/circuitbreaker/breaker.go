// Package circuitbreaker wraps Sony's gobreaker behind a small
// application-facing interface used to protect the remote cache
// connection.
package circuitbreaker

import (
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"lettercast/internal/common/logging"
)

// ErrOpen is returned when the breaker short-circuits a call without
// attempting any I/O.
var ErrOpen = fmt.Errorf("circuit breaker is open")

// Config holds the configuration for a circuit breaker
type Config struct {
	// MaxFailures is the number of consecutive failures that opens the circuit
	MaxFailures int
	// Cooldown is how long the circuit stays open before allowing a probe
	Cooldown time.Duration
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() Config {
	return Config{
		MaxFailures: 5,
		Cooldown:    60 * time.Second,
	}
}

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	if c.MaxFailures <= 0 {
		return fmt.Errorf("MaxFailures must be positive, got %d", c.MaxFailures)
	}
	if c.Cooldown <= 0 {
		return fmt.Errorf("Cooldown must be positive, got %v", c.Cooldown)
	}
	return nil
}

// Breaker adapts gobreaker to the connection manager's needs: open after
// N consecutive failures, stay open for the cooldown window, then allow
// exactly one half-open probe.
type Breaker struct {
	name    string
	breaker *gobreaker.CircuitBreaker
	logger  logging.Logger
}

// New creates a circuit breaker with the given name and configuration.
func New(name string, config Config, logger logging.Logger) *Breaker {
	if err := config.Validate(); err != nil {
		if logger != nil {
			logger.Warn("Invalid circuit breaker config, using defaults",
				logging.Field{Key: "error", Value: err.Error()},
				logging.Field{Key: "name", Value: name},
			)
		}
		config = DefaultConfig()
	}

	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1, // single half-open probe
		Interval:    0, // consecutive failures never auto-clear while closed
		Timeout:     config.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(config.MaxFailures)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("Circuit breaker state changed",
				logging.Field{Key: "breaker", Value: name},
				logging.Field{Key: "from", Value: from.String()},
				logging.Field{Key: "to", Value: to.String()},
			)
		},
	}

	return &Breaker{
		name:    name,
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

// Execute runs fn under the breaker. When the circuit is open (or a
// half-open probe is already in flight) it returns ErrOpen without
// calling fn.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})

	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return ErrOpen
	}
	return err
}

// ConsecutiveFailures returns the current consecutive failure count.
func (b *Breaker) ConsecutiveFailures() int {
	return int(b.breaker.Counts().ConsecutiveFailures)
}

// State returns the current breaker state as a string.
func (b *Breaker) State() string {
	return b.breaker.State().String()
}

// Open reports whether the breaker is currently rejecting calls.
func (b *Breaker) Open() bool {
	return b.breaker.State() == gobreaker.StateOpen
}
