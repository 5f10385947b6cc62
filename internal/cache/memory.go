package cache

import (
	"context"
	"sync"
	"time"
)

// Default sizing for the in-memory tier.
const (
	DefaultMaxEntries = 1000
	DefaultMemoryTTL  = time.Hour
)

// MemoryCache is an in-memory cache with per-entry TTLs and LRU eviction
// under capacity pressure. Every Get first purges expired entries; every Set
// evicts at most one entry, the one with the oldest access time. The linear
// victim scan keeps insertion O(capacity) in the worst case.
type MemoryCache struct {
	mu         sync.Mutex
	items      map[string]*Entry
	maxEntries int
	defaultTTL time.Duration
	now        func() time.Time
}

// NewMemoryCache creates a memory cache bounded to maxEntries items. Values
// of zero or less select the defaults.
func NewMemoryCache(maxEntries int, defaultTTL time.Duration) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultMemoryTTL
	}
	return &MemoryCache{
		items:      make(map[string]*Entry),
		maxEntries: maxEntries,
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// Get retrieves a value, refreshing its access time on a hit. Expired entries
// are purged before the lookup; a lookup past expiry is a miss.
func (m *MemoryCache) Get(_ context.Context, key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.purgeExpired()

	entry, ok := m.items[key]
	if !ok {
		return nil, false
	}
	entry.AccessedAt = m.now()
	return entry.Value, true
}

// Set stores a value with the given TTL, evicting the least recently used
// entry first when the cache is at capacity. A non-positive ttl selects the
// cache default.
func (m *MemoryCache) Set(_ context.Context, key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.purgeExpired()

	if _, exists := m.items[key]; !exists && len(m.items) >= m.maxEntries {
		m.evictOldest()
	}

	now := m.now()
	m.items[key] = &Entry{
		Value:      value,
		CreatedAt:  now,
		AccessedAt: now,
		ExpiresAt:  now.Add(ttl),
	}
}

// Delete removes a value from the cache.
func (m *MemoryCache) Delete(_ context.Context, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.items, key)
}

// Clear removes all values from the cache.
func (m *MemoryCache) Clear(_ context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = make(map[string]*Entry)
}

// Len returns the number of resident entries, including any not yet purged.
func (m *MemoryCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.items)
}

// Stats reports current size against capacity.
func (m *MemoryCache) Stats() (size, maxEntries int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.items), m.maxEntries
}

// purgeExpired drops every entry whose TTL has elapsed. Caller holds mu.
func (m *MemoryCache) purgeExpired() {
	now := m.now()
	for key, entry := range m.items {
		if entry.expired(now) {
			delete(m.items, key)
		}
	}
}

// evictOldest removes the single entry with the oldest access time. Caller
// holds mu.
func (m *MemoryCache) evictOldest() {
	var victim string
	var oldest time.Time
	for key, entry := range m.items {
		if victim == "" || entry.AccessedAt.Before(oldest) {
			victim = key
			oldest = entry.AccessedAt
		}
	}
	if victim != "" {
		delete(m.items, victim)
	}
}

var _ Cache = (*MemoryCache)(nil)
