package cache

import (
	"regexp"
	"sync"
	"time"
)

type localEntry struct {
	value     string
	expiresAt time.Time
}

// localStore is the in-process fallback tier: a bounded map with
// per-entry TTL and insertion-order FIFO eviction. FIFO rather than LRU
// is intentional; this tier is a fallback, not the primary cache, so
// simplicity wins over hit-rate.
type localStore struct {
	mu         sync.Mutex
	maxEntries int
	entries    map[string]localEntry
	order      []string
}

func newLocalStore(maxEntries int) *localStore {
	return &localStore{
		maxEntries: maxEntries,
		entries:    make(map[string]localEntry),
	}
}

// get returns the value for key, lazily evicting it when expired.
func (s *localStore) get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return "", false
	}
	if time.Now().After(entry.expiresAt) {
		s.remove(key)
		return "", false
	}
	return entry.value, true
}

// set stores a value. Overwriting an existing key keeps its original
// insertion position.
func (s *localStore) set(key, value string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[key]; !exists {
		s.order = append(s.order, key)
	}
	s.entries[key] = localEntry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}

	if len(s.entries) > s.maxEntries {
		s.purgeExpiredLocked()
		for len(s.entries) > s.maxEntries && len(s.order) > 0 {
			s.remove(s.order[0])
		}
	}
}

// delete removes an exact key.
func (s *localStore) delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(key)
}

// deletePattern removes every key matching the compiled glob and
// returns how many were removed.
func (s *localStore) deletePattern(re *regexp.Regexp) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key := range s.entries {
		if re.MatchString(key) {
			s.remove(key)
			removed++
		}
	}
	return removed
}

// purgeExpired removes all expired entries and returns the count.
func (s *localStore) purgeExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.purgeExpiredLocked()
}

func (s *localStore) purgeExpiredLocked() int {
	now := time.Now()
	removed := 0
	for key, entry := range s.entries {
		if now.After(entry.expiresAt) {
			s.remove(key)
			removed++
		}
	}
	return removed
}

func (s *localStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *localStore) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]localEntry)
	s.order = nil
}

// remove must be called with the lock held.
func (s *localStore) remove(key string) {
	if _, ok := s.entries[key]; !ok {
		return
	}
	delete(s.entries, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}
