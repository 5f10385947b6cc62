package cache

import (
	"context"
	"time"
)

// Hybrid composes a fast in-memory tier over a persistent one. Reads check
// memory first, then the persistent tier; a persistent hit is promoted back
// into memory. Writes populate both tiers. Two processes sharing the same
// persistent store may hold divergent views; there is no cross-process
// coherency.
type Hybrid struct {
	memory     Cache
	persistent Cache
	memoryTTL  time.Duration
}

// NewHybrid composes the two tiers. memoryTTL bounds how long promoted and
// written entries stay in the memory tier.
func NewHybrid(memory, persistent Cache, memoryTTL time.Duration) *Hybrid {
	if memoryTTL <= 0 {
		memoryTTL = DefaultMemoryTTL
	}
	return &Hybrid{
		memory:     memory,
		persistent: persistent,
		memoryTTL:  memoryTTL,
	}
}

// Get checks the memory tier, then the persistent tier, promoting persistent
// hits into memory.
func (h *Hybrid) Get(ctx context.Context, key string) (any, bool) {
	if value, ok := h.memory.Get(ctx, key); ok {
		return value, true
	}
	value, ok := h.persistent.Get(ctx, key)
	if !ok {
		return nil, false
	}
	h.memory.Set(ctx, key, value, h.memoryTTL)
	return value, true
}

// Set populates both tiers. The ttl applies to the persistent tier; the
// memory tier uses the hybrid's memory TTL.
func (h *Hybrid) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	h.memory.Set(ctx, key, value, h.memoryTTL)
	h.persistent.Set(ctx, key, value, ttl)
}

// Delete removes the key from both tiers.
func (h *Hybrid) Delete(ctx context.Context, key string) {
	h.memory.Delete(ctx, key)
	h.persistent.Delete(ctx, key)
}

// Clear empties both tiers.
func (h *Hybrid) Clear(ctx context.Context) {
	h.memory.Clear(ctx)
	h.persistent.Clear(ctx)
}

var _ Cache = (*Hybrid)(nil)
