// Package redis owns the lifecycle of the connection to the remote
// cache tier. It hands out a live client or nil, never an error: a
// degraded remote cache must look like a cache miss to callers, not a
// failure. Degradation is observable only through Health() and the
// absorbed-error counter.
package redis

import (
	"context"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"lettercast/internal/circuitbreaker"
	"lettercast/internal/common/errors"
	"lettercast/internal/common/logging"
	"lettercast/internal/common/utils"
)

// Config holds connection settings for the remote cache tier.
type Config struct {
	Address  string
	Username string
	Password string
	DB       int

	ConnectTimeout time.Duration
	CommandTimeout time.Duration
	PingTimeout    time.Duration
	HealthInterval time.Duration

	// MaxConnectRetries bounds the dial attempts within one connect;
	// ConnectRetryDelay seeds the backoff between them.
	MaxConnectRetries int
	ConnectRetryDelay time.Duration

	BreakerThreshold  int
	BreakerCooldown   time.Duration
	ReconnectCooldown time.Duration
}

// DefaultConfig returns a configuration suitable for a local Redis.
func DefaultConfig() *Config {
	return &Config{
		Address:           "localhost:6379",
		ConnectTimeout:    5 * time.Second,
		CommandTimeout:    2 * time.Second,
		PingTimeout:       time.Second,
		HealthInterval:    30 * time.Second,
		MaxConnectRetries: 3,
		ConnectRetryDelay: 500 * time.Millisecond,
		BreakerThreshold:  5,
		BreakerCooldown:   60 * time.Second,
		ReconnectCooldown: 5 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Address == "" {
		c.Address = def.Address
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = def.CommandTimeout
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = def.PingTimeout
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = def.HealthInterval
	}
	if c.MaxConnectRetries <= 0 {
		c.MaxConnectRetries = def.MaxConnectRetries
	}
	if c.ConnectRetryDelay <= 0 {
		c.ConnectRetryDelay = def.ConnectRetryDelay
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = def.BreakerThreshold
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = def.BreakerCooldown
	}
	if c.ReconnectCooldown <= 0 {
		c.ReconnectCooldown = def.ReconnectCooldown
	}
}

// Health is a point-in-time snapshot of the connection state.
type Health struct {
	Healthy             bool      `json:"healthy"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastCheckedAt       time.Time `json:"last_checked_at"`
	LastError           string    `json:"last_error,omitempty"`
	BreakerState        string    `json:"breaker_state"`
	ErrorsAbsorbed      uint64    `json:"errors_absorbed"`
}

// Manager provides a connected client handle or nil, never erroring and
// never blocking callers unbounded.
type Manager struct {
	config  *Config
	logger  logging.Logger
	breaker *circuitbreaker.Breaker

	mu          sync.Mutex
	client      *redis.Client
	connecting  bool
	lastAttempt time.Time
	lastChecked time.Time
	lastError   string

	errorsAbsorbed uint64

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewManager creates a connection manager. It does not connect; the
// first GetClient call does.
func NewManager(config *Config, logger logging.Logger) (*Manager, error) {
	if config == nil {
		return nil, errors.ConfigError("redis config is required")
	}
	config.applyDefaults()

	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	m := &Manager{
		config: config,
		logger: logger,
		breaker: circuitbreaker.New("redis", circuitbreaker.Config{
			MaxFailures: config.BreakerThreshold,
			Cooldown:    config.BreakerCooldown,
		}, logger),
		stopCh: make(chan struct{}),
	}

	go m.monitor()

	return m, nil
}

// GetClient returns a live client handle, or nil when the remote cache
// is unavailable. If a connect attempt is already in flight it waits a
// bounded time for that attempt and returns whatever is available.
func (m *Manager) GetClient() *redis.Client {
	m.mu.Lock()
	if m.client != nil {
		client := m.client
		m.mu.Unlock()
		return client
	}

	if m.connecting {
		m.mu.Unlock()
		return m.waitForConnect()
	}

	// Reconnect cooldown prevents hot-looping on transient failures,
	// independent of the circuit breaker.
	if !m.lastAttempt.IsZero() && time.Since(m.lastAttempt) < m.config.ReconnectCooldown {
		m.mu.Unlock()
		return nil
	}

	m.connecting = true
	m.lastAttempt = time.Now()
	m.mu.Unlock()

	err := m.breaker.Execute(m.connect)

	m.mu.Lock()
	m.connecting = false
	m.lastChecked = time.Now()
	if err != nil {
		if err != circuitbreaker.ErrOpen {
			m.lastError = err.Error()
			atomic.AddUint64(&m.errorsAbsorbed, 1)
			m.logger.Warn("Remote cache connect failed",
				logging.Field{Key: "address", Value: m.config.Address},
				logging.Field{Key: "error", Value: err.Error()},
			)
		}
		m.mu.Unlock()
		return nil
	}
	m.lastError = ""
	client := m.client
	m.mu.Unlock()
	return client
}

// waitForConnect polls for an in-flight connect attempt to settle,
// bounded by the connect timeout, then returns whatever is available.
func (m *Manager) waitForConnect() *redis.Client {
	deadline := time.Now().Add(m.config.ConnectTimeout)
	for time.Now().Before(deadline) {
		time.Sleep(25 * time.Millisecond)
		m.mu.Lock()
		if !m.connecting {
			client := m.client
			m.mu.Unlock()
			return client
		}
		m.mu.Unlock()
	}
	return nil
}

// connect dials the server and verifies the connection with a ping
// before declaring it usable. The dial-and-verify cycle retries with
// backoff up to MaxConnectRetries; the breaker sees the whole cycle as
// one attempt. Any failure tears down the partial client.
func (m *Manager) connect() error {
	var client *redis.Client
	err := utils.RetryWithBackoff(context.Background(), utils.RetryConfig{
		MaxAttempts:   m.config.MaxConnectRetries,
		InitialDelay:  m.config.ConnectRetryDelay,
		MaxDelay:      m.config.ConnectTimeout,
		BackoffFactor: 2.0,
	}, func() error {
		candidate := redis.NewClient(&redis.Options{
			Addr:        m.config.Address,
			Username:    m.config.Username,
			Password:    m.config.Password,
			DB:          m.config.DB,
			DialTimeout: m.config.ConnectTimeout,
			MaxRetries:  -1, // retry policy lives in this manager, not the driver
		})

		pingErr := utils.WithTimeout("redis ping", m.config.PingTimeout, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), m.config.PingTimeout)
			defer cancel()
			return candidate.Ping(ctx).Err()
		})
		if pingErr != nil {
			candidate.Close()
			return pingErr
		}
		client = candidate
		return nil
	})
	if err != nil {
		return errors.ConnectionError("redis connection verification failed", err)
	}

	m.mu.Lock()
	m.client = client
	m.mu.Unlock()

	m.logger.Info("Connected to remote cache",
		logging.Field{Key: "address", Value: m.config.Address},
	)
	return nil
}

// recordFailure routes an operation failure through the same path as a
// connect failure: count it, remember it, and drop the client on
// connection-class errors so the next GetClient reconnects.
func (m *Manager) recordFailure(err error) {
	atomic.AddUint64(&m.errorsAbsorbed, 1)

	m.mu.Lock()
	m.lastError = err.Error()
	m.lastChecked = time.Now()
	client := m.client
	teardown := isConnectionError(err)
	if teardown {
		m.client = nil
	}
	m.mu.Unlock()

	if teardown && client != nil {
		client.Close()
	}
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.IsType(err, errors.ErrTypeTimeout) || errors.IsType(err, errors.ErrTypeConnection) {
		return true
	}
	if _, ok := err.(net.Error); ok {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "i/o timeout") ||
		strings.Contains(msg, "client is closed")
}

// monitor pings the server on a fixed interval while a client exists.
// Success resets the failure counter through the breaker; failure goes
// through the shared failure path.
func (m *Manager) monitor() {
	ticker := time.NewTicker(m.config.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.mu.Lock()
			client := m.client
			m.mu.Unlock()
			if client == nil {
				continue
			}

			err := m.breaker.Execute(func() error {
				return utils.WithTimeout("redis health ping", m.config.PingTimeout, func() error {
					ctx, cancel := context.WithTimeout(context.Background(), m.config.PingTimeout)
					defer cancel()
					return client.Ping(ctx).Err()
				})
			})

			m.mu.Lock()
			m.lastChecked = time.Now()
			m.mu.Unlock()

			if err != nil && err != circuitbreaker.ErrOpen {
				m.logger.Warn("Remote cache health check failed",
					logging.Field{Key: "error", Value: err.Error()},
				)
				m.recordFailure(errors.ConnectionError("health check failed", err))
			}
		}
	}
}

// Health returns a snapshot of connection health.
func (m *Manager) Health() Health {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Health{
		Healthy:             m.client != nil && !m.breaker.Open(),
		ConsecutiveFailures: m.breaker.ConsecutiveFailures(),
		LastCheckedAt:       m.lastChecked,
		LastError:           m.lastError,
		BreakerState:        m.breaker.State(),
		ErrorsAbsorbed:      atomic.LoadUint64(&m.errorsAbsorbed),
	}
}

// ErrorsAbsorbed returns the number of failures swallowed so far.
func (m *Manager) ErrorsAbsorbed() uint64 {
	return atomic.LoadUint64(&m.errorsAbsorbed)
}

// Shutdown stops the health monitor and disconnects within the bound of
// the provided context.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stopOnce.Do(func() { close(m.stopCh) })

	m.mu.Lock()
	client := m.client
	m.client = nil
	m.mu.Unlock()

	if client == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- client.Close() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return errors.TimeoutError("redis disconnect")
	}
}
