// Package cache provides the caching tiers used to amortize repeated parses
// of the same BI file: an in-memory TTL+LRU cache, persistent file and SQLite
// backends, and a hybrid composition of the two.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Cache is the contract shared by every tier. A miss is reported through the
// boolean return, never through an error.
type Cache interface {
	Get(ctx context.Context, key string) (any, bool)
	Set(ctx context.Context, key string, value any, ttl time.Duration)
	Delete(ctx context.Context, key string)
	Clear(ctx context.Context)
}

// ComputeKey generates a cache key from content using SHA-256.
func ComputeKey(content []byte) string {
	hash := sha256.Sum256(content)
	return hex.EncodeToString(hash[:16]) // use first 128 bits
}

// ComputeKeyWithPrefix generates a cache key with a prefix.
func ComputeKeyWithPrefix(prefix string, content []byte) string {
	return fmt.Sprintf("%s:%s", prefix, ComputeKey(content))
}

// KeyFromArgs derives a stable cache key from a prefix and call arguments.
// Arguments are JSON-encoded in order, so any two calls with equal arguments
// map to the same key.
func KeyFromArgs(prefix string, args ...any) (string, error) {
	encoded, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("cache: encode key args: %w", err)
	}
	return ComputeKeyWithPrefix(prefix, encoded), nil
}

// Entry represents a cached value with bookkeeping timestamps.
type Entry struct {
	Value      any
	CreatedAt  time.Time
	AccessedAt time.Time
	ExpiresAt  time.Time
}

// expired reports whether the entry's TTL has elapsed at the given instant.
func (e *Entry) expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}
