// Package config provides configuration management for the lettercast
// delivery backend. It loads configuration from environment variables
// with sensible defaults and validates it so the process fails fast on
// operator errors instead of degrading at runtime.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//   - PUBLIC_BASE_URL: Base URL used in tracking and unsubscribe links
//
// Redis Configuration:
//   - REDIS_HOST: Redis host (default: localhost)
//   - REDIS_PORT: Redis port (default: 6379)
//   - REDIS_USERNAME: Redis username (optional)
//   - REDIS_PASSWORD: Redis password (optional)
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_CONNECT_TIMEOUT: Dial timeout (default: 5s)
//   - REDIS_COMMAND_TIMEOUT: Per-command timeout (default: 2s)
//   - REDIS_PING_TIMEOUT: Verification ping timeout (default: 1s)
//   - REDIS_HEALTH_INTERVAL: Background health probe interval (default: 30s)
//   - REDIS_MAX_CONNECT_RETRIES: Dial attempts per connect cycle (default: 3)
//   - REDIS_CONNECT_RETRY_DELAY: Initial backoff between dial attempts (default: 500ms)
//   - REDIS_BREAKER_THRESHOLD: Consecutive failures before the circuit opens (default: 5)
//   - REDIS_BREAKER_COOLDOWN: Open-circuit cooldown window (default: 60s)
//   - REDIS_RECONNECT_COOLDOWN: Minimum interval between connect attempts (default: 5s)
//
// Cache Configuration:
//   - CACHE_NAMESPACE: Key namespace prefix (default: lettercast)
//   - CACHE_LOCAL_MAX_ENTRIES: Local fallback tier size budget (default: 1000)
//   - CACHE_SWEEP_INTERVAL: Expired-entry sweep interval (default: 1m)
//   - CACHE_DEFAULT_TTL: Default entry TTL (default: 5m)
//
// Database Configuration:
//   - DATABASE_TYPE: "sqlite" or "postgres" (default: sqlite)
//   - DATABASE_PATH: SQLite database file path (default: ./lettercast.db)
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_DB, POSTGRES_USER,
//     POSTGRES_PASSWORD, POSTGRES_SSL_MODE: PostgreSQL settings
//
// SMTP Configuration:
//   - SMTP_ENABLED: Enable outbound email (default: false)
//   - SMTP_HOST, SMTP_PORT, SMTP_USERNAME, SMTP_PASSWORD
//   - SMTP_FROM: Sender address (required when enabled)
//   - SMTP_FROM_NAME: Sender display name
//   - SMTP_USE_TLS: STARTTLS (default: true)
//   - SMTP_USE_SSL: Implicit TLS (default: false)
//   - SMTP_SKIP_VERIFY: Skip TLS certificate verification (default: false)
//
// Delivery Queue:
//   - QUEUE_BATCH_SIZE: Jobs dispatched concurrently per batch (default: 1)
//   - QUEUE_BATCH_DELAY: Delay between batches (default: 10s)
//   - QUEUE_MAX_ATTEMPTS: Send attempts per job (default: 3)
//   - QUEUE_RETRY_DELAY: Delay between attempts for one job (default: 60s)
//
// Delivery Tracking:
//   - UNSUBSCRIBE_SECRET: JWT signing secret for unsubscribe tokens
//     (required, minimum 32 characters)
//   - TRACKER_RETENTION_AGE: Age after which records are purged (default: 2160h)
//   - TRACKER_RETENTION_BATCH: Delete batch size (default: 500)
//   - TRACKER_RETENTION_SCHEDULE: Cron spec for the cleanup job (default: "0 4 * * *")
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration values for the lettercast backend.
// Load it with Load() and call Validate() before use.
type Config struct {
	// Application settings
	Port          string
	LogLevel      string
	PublicBaseURL string

	// Redis configuration
	RedisHost              string
	RedisPort              string
	RedisUsername          string
	RedisPassword          string
	RedisDB                int
	RedisConnectTimeout    time.Duration
	RedisCommandTimeout    time.Duration
	RedisPingTimeout       time.Duration
	RedisHealthInterval    time.Duration
	RedisMaxConnectRetries int
	RedisConnectRetryDelay time.Duration
	RedisBreakerThreshold  int
	RedisBreakerCooldown   time.Duration
	RedisReconnectCooldown time.Duration

	// Cache configuration
	CacheNamespace       string
	CacheLocalMaxEntries int
	CacheSweepInterval   time.Duration
	CacheDefaultTTL      time.Duration

	// Database configuration
	DatabaseType     string
	DatabasePath     string
	PostgresHost     string
	PostgresPort     string
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string

	// SMTP configuration
	SMTPEnabled    bool
	SMTPHost       string
	SMTPPort       string
	SMTPUsername   string
	SMTPPassword   string
	SMTPFrom       string
	SMTPFromName   string
	SMTPUseTLS     bool
	SMTPUseSSL     bool
	SMTPSkipVerify bool

	// Delivery queue tuning
	QueueBatchSize   int
	QueueBatchDelay  time.Duration
	QueueMaxAttempts int
	QueueRetryDelay  time.Duration

	// Delivery tracking
	UnsubscribeSecret        string
	TrackerRetentionAge      time.Duration
	TrackerRetentionBatch    int
	TrackerRetentionSchedule string
}

// Load creates a new Config with values from environment variables.
// It does not validate; call Validate() on the result.
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),

		RedisHost:              getEnv("REDIS_HOST", "localhost"),
		RedisPort:              getEnv("REDIS_PORT", "6379"),
		RedisUsername:          getEnv("REDIS_USERNAME", ""),
		RedisPassword:          getEnv("REDIS_PASSWORD", ""),
		RedisDB:                getIntEnv("REDIS_DB", 0),
		RedisConnectTimeout:    getDurationEnv("REDIS_CONNECT_TIMEOUT", 5*time.Second),
		RedisCommandTimeout:    getDurationEnv("REDIS_COMMAND_TIMEOUT", 2*time.Second),
		RedisPingTimeout:       getDurationEnv("REDIS_PING_TIMEOUT", time.Second),
		RedisHealthInterval:    getDurationEnv("REDIS_HEALTH_INTERVAL", 30*time.Second),
		RedisMaxConnectRetries: getIntEnv("REDIS_MAX_CONNECT_RETRIES", 3),
		RedisConnectRetryDelay: getDurationEnv("REDIS_CONNECT_RETRY_DELAY", 500*time.Millisecond),
		RedisBreakerThreshold:  getIntEnv("REDIS_BREAKER_THRESHOLD", 5),
		RedisBreakerCooldown:   getDurationEnv("REDIS_BREAKER_COOLDOWN", 60*time.Second),
		RedisReconnectCooldown: getDurationEnv("REDIS_RECONNECT_COOLDOWN", 5*time.Second),

		CacheNamespace:       getEnv("CACHE_NAMESPACE", "lettercast"),
		CacheLocalMaxEntries: getIntEnv("CACHE_LOCAL_MAX_ENTRIES", 1000),
		CacheSweepInterval:   getDurationEnv("CACHE_SWEEP_INTERVAL", time.Minute),
		CacheDefaultTTL:      getDurationEnv("CACHE_DEFAULT_TTL", 5*time.Minute),

		DatabaseType:     getEnv("DATABASE_TYPE", "sqlite"),
		DatabasePath:     getEnv("DATABASE_PATH", "./lettercast.db"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDB:       getEnv("POSTGRES_DB", "lettercast"),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),

		SMTPEnabled:    getBoolEnv("SMTP_ENABLED", false),
		SMTPHost:       getEnv("SMTP_HOST", ""),
		SMTPPort:       getEnv("SMTP_PORT", "587"),
		SMTPUsername:   getEnv("SMTP_USERNAME", ""),
		SMTPPassword:   getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:       getEnv("SMTP_FROM", ""),
		SMTPFromName:   getEnv("SMTP_FROM_NAME", ""),
		SMTPUseTLS:     getBoolEnv("SMTP_USE_TLS", true),
		SMTPUseSSL:     getBoolEnv("SMTP_USE_SSL", false),
		SMTPSkipVerify: getBoolEnv("SMTP_SKIP_VERIFY", false),

		QueueBatchSize:   getIntEnv("QUEUE_BATCH_SIZE", 1),
		QueueBatchDelay:  getDurationEnv("QUEUE_BATCH_DELAY", 10*time.Second),
		QueueMaxAttempts: getIntEnv("QUEUE_MAX_ATTEMPTS", 3),
		QueueRetryDelay:  getDurationEnv("QUEUE_RETRY_DELAY", 60*time.Second),

		UnsubscribeSecret:        getEnv("UNSUBSCRIBE_SECRET", ""),
		TrackerRetentionAge:      getDurationEnv("TRACKER_RETENTION_AGE", 90*24*time.Hour),
		TrackerRetentionBatch:    getIntEnv("TRACKER_RETENTION_BATCH", 500),
		TrackerRetentionSchedule: getEnv("TRACKER_RETENTION_SCHEDULE", "0 4 * * *"),
	}
}

// RedisAddress returns the host:port address for the Redis server.
func (c *Config) RedisAddress() string {
	return c.RedisHost + ":" + c.RedisPort
}

// Validate checks that the configuration is complete and consistent.
// Missing credentials and out-of-range values are operator errors, so
// this returns an error rather than degrading at runtime.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT must not be empty")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("PORT must be a number, got %q", c.Port)
	}

	if c.RedisHost == "" {
		return fmt.Errorf("REDIS_HOST must not be empty")
	}
	if c.RedisDB < 0 || c.RedisDB > 15 {
		return fmt.Errorf("REDIS_DB must be between 0 and 15, got %d", c.RedisDB)
	}
	if c.RedisBreakerThreshold <= 0 {
		return fmt.Errorf("REDIS_BREAKER_THRESHOLD must be positive, got %d", c.RedisBreakerThreshold)
	}
	if c.RedisMaxConnectRetries <= 0 {
		return fmt.Errorf("REDIS_MAX_CONNECT_RETRIES must be positive, got %d", c.RedisMaxConnectRetries)
	}

	if c.CacheLocalMaxEntries <= 0 {
		return fmt.Errorf("CACHE_LOCAL_MAX_ENTRIES must be positive, got %d", c.CacheLocalMaxEntries)
	}

	switch c.DatabaseType {
	case "sqlite":
		if c.DatabasePath == "" {
			return fmt.Errorf("DATABASE_PATH is required for sqlite")
		}
	case "postgres":
		if c.PostgresHost == "" || c.PostgresDB == "" || c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_HOST, POSTGRES_DB and POSTGRES_USER are required for postgres")
		}
	default:
		return fmt.Errorf("unsupported database type: %s", c.DatabaseType)
	}

	if c.SMTPEnabled {
		if c.SMTPHost == "" {
			return fmt.Errorf("SMTP_HOST is required when SMTP is enabled")
		}
		if c.SMTPFrom == "" {
			return fmt.Errorf("SMTP_FROM is required when SMTP is enabled")
		}
	}

	if c.QueueBatchSize <= 0 {
		return fmt.Errorf("QUEUE_BATCH_SIZE must be positive, got %d", c.QueueBatchSize)
	}
	if c.QueueMaxAttempts <= 0 {
		return fmt.Errorf("QUEUE_MAX_ATTEMPTS must be positive, got %d", c.QueueMaxAttempts)
	}

	if len(c.UnsubscribeSecret) < 32 {
		return fmt.Errorf("UNSUBSCRIBE_SECRET must be at least 32 characters")
	}

	if c.TrackerRetentionBatch <= 0 {
		return fmt.Errorf("TRACKER_RETENTION_BATCH must be positive, got %d", c.TrackerRetentionBatch)
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getBoolEnv(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getIntEnv(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
