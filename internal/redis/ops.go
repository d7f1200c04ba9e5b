package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"lettercast/internal/circuitbreaker"
	"lettercast/internal/common/utils"
)

// Wrapped remote operations. Every call is raced against the command
// timeout and run under the circuit breaker; failures are absorbed and
// surface to callers only as a miss / no-op.

// Get fetches a key. The second return is false on miss or when the
// remote tier is unavailable.
func (m *Manager) Get(ctx context.Context, key string) (string, bool) {
	client := m.GetClient()
	if client == nil {
		return "", false
	}

	var value string
	var found bool
	err := m.breaker.Execute(func() error {
		return utils.WithTimeout("redis get", m.config.CommandTimeout, func() error {
			opCtx, cancel := context.WithTimeout(ctx, m.config.CommandTimeout)
			defer cancel()
			val, err := client.Get(opCtx, key).Result()
			if err == redis.Nil {
				return nil // a miss is a successful operation
			}
			if err != nil {
				return err
			}
			value = val
			found = true
			return nil
		})
	})
	if err != nil {
		if err != circuitbreaker.ErrOpen {
			m.recordFailure(err)
		}
		return "", false
	}
	return value, found
}

// Set writes a key with a TTL. Returns false when the write was dropped.
func (m *Manager) Set(ctx context.Context, key, value string, ttl time.Duration) bool {
	client := m.GetClient()
	if client == nil {
		return false
	}

	err := m.breaker.Execute(func() error {
		return utils.WithTimeout("redis set", m.config.CommandTimeout, func() error {
			opCtx, cancel := context.WithTimeout(ctx, m.config.CommandTimeout)
			defer cancel()
			return client.Set(opCtx, key, value, ttl).Err()
		})
	})
	if err != nil {
		if err != circuitbreaker.ErrOpen {
			m.recordFailure(err)
		}
		return false
	}
	return true
}

// Delete removes a single key. Returns false when the delete was dropped.
func (m *Manager) Delete(ctx context.Context, key string) bool {
	return m.DeleteMany(ctx, []string{key})
}

// DeleteMany removes a set of keys in one round trip.
func (m *Manager) DeleteMany(ctx context.Context, keys []string) bool {
	if len(keys) == 0 {
		return true
	}
	client := m.GetClient()
	if client == nil {
		return false
	}

	err := m.breaker.Execute(func() error {
		return utils.WithTimeout("redis del", m.config.CommandTimeout, func() error {
			opCtx, cancel := context.WithTimeout(ctx, m.config.CommandTimeout)
			defer cancel()
			return client.Del(opCtx, keys...).Err()
		})
	})
	if err != nil {
		if err != circuitbreaker.ErrOpen {
			m.recordFailure(err)
		}
		return false
	}
	return true
}

// ScanKeys returns all keys matching a Redis glob pattern, or nil when
// the remote tier is unavailable.
func (m *Manager) ScanKeys(ctx context.Context, pattern string) []string {
	client := m.GetClient()
	if client == nil {
		return nil
	}

	var keys []string
	err := m.breaker.Execute(func() error {
		return utils.WithTimeout("redis scan", m.config.CommandTimeout, func() error {
			opCtx, cancel := context.WithTimeout(ctx, m.config.CommandTimeout)
			defer cancel()
			iter := client.Scan(opCtx, 0, pattern, 0).Iterator()
			for iter.Next(opCtx) {
				keys = append(keys, iter.Val())
			}
			return iter.Err()
		})
	})
	if err != nil {
		if err != circuitbreaker.ErrOpen {
			m.recordFailure(err)
		}
		return nil
	}
	return keys
}
