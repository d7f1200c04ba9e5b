package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func validConfig() *Config {
	cfg := Load()
	cfg.UnsubscribeSecret = testSecret
	return cfg
}

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "localhost:6379", cfg.RedisAddress())
	assert.Equal(t, 3, cfg.RedisMaxConnectRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.RedisConnectRetryDelay)
	assert.Equal(t, 5, cfg.RedisBreakerThreshold)
	assert.Equal(t, 60*time.Second, cfg.RedisBreakerCooldown)
	assert.Equal(t, 5*time.Second, cfg.RedisReconnectCooldown)
	assert.Equal(t, 1000, cfg.CacheLocalMaxEntries)
	assert.Equal(t, 5*time.Minute, cfg.CacheDefaultTTL)
	assert.Equal(t, "sqlite", cfg.DatabaseType)
	assert.Equal(t, 1, cfg.QueueBatchSize)
	assert.Equal(t, 10*time.Second, cfg.QueueBatchDelay)
	assert.Equal(t, 3, cfg.QueueMaxAttempts)
	assert.Equal(t, 60*time.Second, cfg.QueueRetryDelay)
	assert.Equal(t, 90*24*time.Hour, cfg.TrackerRetentionAge)
	assert.Equal(t, 500, cfg.TrackerRetentionBatch)
	assert.False(t, cfg.SMTPEnabled)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("REDIS_HOST", "redis.internal")
	t.Setenv("REDIS_BREAKER_THRESHOLD", "8")
	t.Setenv("REDIS_BREAKER_COOLDOWN", "30s")
	t.Setenv("QUEUE_BATCH_SIZE", "10")
	t.Setenv("SMTP_ENABLED", "true")

	cfg := Load()
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "redis.internal:6379", cfg.RedisAddress())
	assert.Equal(t, 8, cfg.RedisBreakerThreshold)
	assert.Equal(t, 30*time.Second, cfg.RedisBreakerCooldown)
	assert.Equal(t, 10, cfg.QueueBatchSize)
	assert.True(t, cfg.SMTPEnabled)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("REDIS_BREAKER_THRESHOLD", "lots")
	t.Setenv("QUEUE_BATCH_DELAY", "soon")
	t.Setenv("SMTP_ENABLED", "yep")

	cfg := Load()
	assert.Equal(t, 5, cfg.RedisBreakerThreshold)
	assert.Equal(t, 10*time.Second, cfg.QueueBatchDelay)
	assert.False(t, cfg.SMTPEnabled)
}

func TestValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		require.NoError(t, validConfig().Validate())
	})

	t.Run("non-numeric port", func(t *testing.T) {
		cfg := validConfig()
		cfg.Port = "http"
		assert.Error(t, cfg.Validate())
	})

	t.Run("redis db out of range", func(t *testing.T) {
		cfg := validConfig()
		cfg.RedisDB = 16
		assert.Error(t, cfg.Validate())
	})

	t.Run("breaker threshold must be positive", func(t *testing.T) {
		cfg := validConfig()
		cfg.RedisBreakerThreshold = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("connect retries must be positive", func(t *testing.T) {
		cfg := validConfig()
		cfg.RedisMaxConnectRetries = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("unknown database type", func(t *testing.T) {
		cfg := validConfig()
		cfg.DatabaseType = "oracle"
		assert.Error(t, cfg.Validate())
	})

	t.Run("postgres requires credentials", func(t *testing.T) {
		cfg := validConfig()
		cfg.DatabaseType = "postgres"
		cfg.PostgresUser = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("smtp enabled requires host and from", func(t *testing.T) {
		cfg := validConfig()
		cfg.SMTPEnabled = true
		cfg.SMTPHost = "smtp.example.com"
		cfg.SMTPFrom = ""
		assert.Error(t, cfg.Validate())

		cfg.SMTPFrom = "news@example.com"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("queue tuning must be positive", func(t *testing.T) {
		cfg := validConfig()
		cfg.QueueBatchSize = 0
		assert.Error(t, cfg.Validate())

		cfg = validConfig()
		cfg.QueueMaxAttempts = -1
		assert.Error(t, cfg.Validate())
	})

	t.Run("unsubscribe secret length", func(t *testing.T) {
		cfg := validConfig()
		cfg.UnsubscribeSecret = "short"
		assert.Error(t, cfg.Validate())
	})

	t.Run("retention batch must be positive", func(t *testing.T) {
		cfg := validConfig()
		cfg.TrackerRetentionBatch = 0
		assert.Error(t, cfg.Validate())
	})
}
