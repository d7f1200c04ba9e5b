// Package cache presents a single logical cache over two tiers: the
// remote Redis tier (primary, reached through the connection manager)
// and a bounded in-process fallback tier. The remote tier may vanish at
// any time; callers only ever see hits and misses.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"lettercast/internal/common/logging"
	"lettercast/internal/common/utils"
	"lettercast/internal/redis"
)

// Config holds cache manager settings.
type Config struct {
	// Namespace prefixes every logical key before it touches either tier
	Namespace string
	// LocalMaxEntries bounds the fallback tier
	LocalMaxEntries int
	// SweepInterval is how often expired local entries are purged
	SweepInterval time.Duration
	// DefaultTTL applies when Set is called with a non-positive TTL
	DefaultTTL time.Duration
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		Namespace:       "lettercast",
		LocalMaxEntries: 1000,
		SweepInterval:   time.Minute,
		DefaultTTL:      5 * time.Minute,
	}
}

// Stats holds observable cache counters. Counters increase
// monotonically until ResetStats.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Errors    uint64 `json:"errors"`
	LocalSize int    `json:"local_size"`
}

// Manager is the public caching facade.
type Manager struct {
	config Config
	remote *redis.Manager
	local  *localStore
	logger logging.Logger

	hits   uint64
	misses uint64
	errors uint64

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewManager creates a cache manager and starts its background sweep.
func NewManager(config Config, remote *redis.Manager, logger logging.Logger) *Manager {
	def := DefaultConfig()
	if config.Namespace == "" {
		config.Namespace = def.Namespace
	}
	if config.LocalMaxEntries <= 0 {
		config.LocalMaxEntries = def.LocalMaxEntries
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = def.SweepInterval
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = def.DefaultTTL
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	m := &Manager{
		config: config,
		remote: remote,
		local:  newLocalStore(config.LocalMaxEntries),
		logger: logger,
		stopCh: make(chan struct{}),
	}

	go m.sweep()

	return m
}

func (m *Manager) namespaced(key string) string {
	return m.config.Namespace + ":" + key
}

// Get looks up a key, remote tier first. A remote hit is mirrored into
// the local tier so a later remote outage can still serve it. Returns
// false on miss; dest is only written on a hit.
func (m *Manager) Get(ctx context.Context, key string, dest interface{}) bool {
	nsKey := m.namespaced(key)

	if raw, ok := m.remote.Get(ctx, nsKey); ok {
		if err := json.Unmarshal([]byte(raw), dest); err != nil {
			atomic.AddUint64(&m.errors, 1)
			m.logger.Warn("Cache entry failed to decode",
				logging.Field{Key: "key", Value: key},
				logging.Field{Key: "error", Value: err.Error()},
			)
		} else {
			m.local.set(nsKey, raw, m.config.DefaultTTL)
			atomic.AddUint64(&m.hits, 1)
			return true
		}
	}

	if raw, ok := m.local.get(nsKey); ok {
		if err := json.Unmarshal([]byte(raw), dest); err != nil {
			atomic.AddUint64(&m.errors, 1)
			m.local.delete(nsKey)
		} else {
			atomic.AddUint64(&m.hits, 1)
			return true
		}
	}

	atomic.AddUint64(&m.misses, 1)
	return false
}

// Set writes the local tier synchronously so this process always sees
// its own writes, then writes the remote tier best-effort in the
// background. A remote failure never fails the caller.
func (m *Manager) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		ttl = m.config.DefaultTTL
	}

	raw, err := json.Marshal(value)
	if err != nil {
		atomic.AddUint64(&m.errors, 1)
		m.logger.Warn("Cache value failed to encode",
			logging.Field{Key: "key", Value: key},
			logging.Field{Key: "error", Value: err.Error()},
		)
		return
	}

	nsKey := m.namespaced(key)
	m.local.set(nsKey, string(raw), ttl)

	go func() {
		m.remote.Set(context.Background(), nsKey, string(raw), ttl)
	}()
}

// Delete removes an exact key from both tiers. The remote delete is
// best-effort.
func (m *Manager) Delete(ctx context.Context, key string) {
	nsKey := m.namespaced(key)
	m.local.delete(nsKey)
	m.remote.Delete(ctx, nsKey)
}

// DeletePattern removes every key matching the glob from both tiers.
// Locally the glob is compiled to a regexp; remotely it becomes a
// server-side SCAN + DEL.
func (m *Manager) DeletePattern(ctx context.Context, pattern string) {
	nsPattern := m.namespaced(pattern)

	re, err := utils.CompileGlob(nsPattern)
	if err != nil {
		atomic.AddUint64(&m.errors, 1)
		m.logger.Warn("Invalid cache pattern",
			logging.Field{Key: "pattern", Value: pattern},
			logging.Field{Key: "error", Value: err.Error()},
		)
		return
	}
	m.local.deletePattern(re)

	if keys := m.remote.ScanKeys(ctx, nsPattern); len(keys) > 0 {
		m.remote.DeleteMany(ctx, keys)
	}
}

// Clear empties the local tier and pattern-deletes the namespace
// remotely.
func (m *Manager) Clear(ctx context.Context) {
	m.local.clear()
	if keys := m.remote.ScanKeys(ctx, m.config.Namespace+":*"); len(keys) > 0 {
		m.remote.DeleteMany(ctx, keys)
	}
}

// Stats returns hit/miss/error counters and the local tier size.
func (m *Manager) Stats() Stats {
	return Stats{
		Hits:      atomic.LoadUint64(&m.hits),
		Misses:    atomic.LoadUint64(&m.misses),
		Errors:    atomic.LoadUint64(&m.errors),
		LocalSize: m.local.size(),
	}
}

// ResetStats zeroes the counters.
func (m *Manager) ResetStats() {
	atomic.StoreUint64(&m.hits, 0)
	atomic.StoreUint64(&m.misses, 0)
	atomic.StoreUint64(&m.errors, 0)
}

// sweep proactively purges expired local entries on a fixed interval,
// independent of access patterns.
func (m *Manager) sweep() {
	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			if removed := m.local.purgeExpired(); removed > 0 {
				m.logger.Debug("Cache sweep purged expired entries",
					logging.Field{Key: "removed", Value: removed},
				)
			}
		}
	}
}

// Close stops the background sweep.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}
