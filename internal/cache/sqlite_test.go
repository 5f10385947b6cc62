package cache

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestSQLiteCache(t *testing.T) *SQLiteCache {
	t.Helper()
	c, err := NewSQLiteCache(filepath.Join(t.TempDir(), "cache.db"), time.Hour)
	if err != nil {
		t.Fatalf("NewSQLiteCache returned error: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSQLiteCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestSQLiteCache(t)

	c.Set(ctx, "key", []byte("payload"), time.Hour)

	val, ok := c.Get(ctx, "key")
	if !ok {
		t.Fatal("expected hit")
	}
	if !bytes.Equal(val.([]byte), []byte("payload")) {
		t.Errorf("Get() = %q, want payload", val)
	}
}

func TestSQLiteCache_Expiry(t *testing.T) {
	ctx := context.Background()
	c := newTestSQLiteCache(t)

	c.Set(ctx, "key", []byte("payload"), time.Minute)
	c.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	if _, ok := c.Get(ctx, "key"); ok {
		t.Error("expected miss after expiry")
	}
}

func TestSQLiteCache_Overwrite(t *testing.T) {
	ctx := context.Background()
	c := newTestSQLiteCache(t)

	c.Set(ctx, "key", []byte("first"), time.Hour)
	c.Set(ctx, "key", []byte("second"), time.Hour)

	val, ok := c.Get(ctx, "key")
	if !ok || string(val.([]byte)) != "second" {
		t.Errorf("Get() = %v, %v, want second", val, ok)
	}
}

func TestSQLiteCache_Cleanup(t *testing.T) {
	ctx := context.Background()
	c := newTestSQLiteCache(t)

	c.Set(ctx, "stale", []byte("old"), time.Minute)
	c.Set(ctx, "fresh", []byte("new"), 10*time.Hour)

	c.now = func() time.Time { return time.Now().Add(time.Hour) }

	if removed := c.Cleanup(ctx); removed != 1 {
		t.Errorf("Cleanup() = %d, want 1", removed)
	}
	if _, ok := c.Get(ctx, "fresh"); !ok {
		t.Error("expected fresh entry to survive")
	}
}
