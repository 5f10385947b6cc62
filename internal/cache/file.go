package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// File permission constants for cache operations.
const (
	cacheDirPerm  = 0o750 // Directory permissions: rwxr-x---
	cacheFilePerm = 0o600 // File permissions: rw-------
)

// DefaultMaxAge is how long persistent entries stay valid.
const DefaultMaxAge = 24 * time.Hour

const cacheFileExt = ".cache"

// FileCache is a persistent cache tier keeping one file per key under a
// directory. Entries expire by file modification time exceeding the
// configured max age; the Set ttl argument is ignored. Values are stored as
// serialized bytes and returned as []byte: a non-[]byte value is
// JSON-encoded on write, and callers decode hits themselves.
type FileCache struct {
	baseDir string
	maxAge  time.Duration
	now     func() time.Time
}

// NewFileCache creates a file-backed cache rooted at baseDir. A non-positive
// maxAge selects the default. An unusable directory is a configuration
// error reported immediately.
func NewFileCache(baseDir string, maxAge time.Duration) (*FileCache, error) {
	if err := os.MkdirAll(baseDir, cacheDirPerm); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &FileCache{
		baseDir: baseDir,
		maxAge:  maxAge,
		now:     time.Now,
	}, nil
}

// Get retrieves the serialized value for key. An entry older than the max
// age is removed and reported as a miss. A read failure is a miss that
// leaves the file in place: expiry is definitive, a failed read may be a
// transient I/O problem.
func (f *FileCache) Get(_ context.Context, key string) (any, bool) {
	path := f.keyToPath(key)

	info, err := os.Stat(path)
	if err != nil {
		return nil, false
	}
	if f.now().Sub(info.ModTime()) > f.maxAge {
		_ = os.Remove(path)
		return nil, false
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, false
	}
	return data, true
}

// Set stores a value, serializing non-[]byte values as JSON. Failures are
// swallowed: a write problem degrades to a future miss. The ttl argument is
// unused; expiry is governed by file age.
func (f *FileCache) Set(_ context.Context, key string, value any, _ time.Duration) {
	data, err := encodeValue(value)
	if err != nil {
		return
	}

	path := f.keyToPath(key)
	tempFile := path + ".tmp"
	if err := os.WriteFile(tempFile, data, cacheFilePerm); err != nil {
		return
	}
	_ = os.Rename(tempFile, path)
}

// Delete removes a value from the cache.
func (f *FileCache) Delete(_ context.Context, key string) {
	_ = os.Remove(f.keyToPath(key))
}

// Clear removes all cache files.
func (f *FileCache) Clear(_ context.Context) {
	entries, err := os.ReadDir(f.baseDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), cacheFileExt) {
			continue
		}
		_ = os.Remove(filepath.Join(f.baseDir, entry.Name()))
	}
}

// Cleanup removes expired cache files and returns how many were deleted.
func (f *FileCache) Cleanup() int {
	entries, err := os.ReadDir(f.baseDir)
	if err != nil {
		return 0
	}

	removed := 0
	now := f.now()
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), cacheFileExt) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) > f.maxAge {
			if os.Remove(filepath.Join(f.baseDir, entry.Name())) == nil {
				removed++
			}
		}
	}
	return removed
}

// keyToPath converts a cache key to a file path. Keys are hashed so any key
// is a safe filename.
func (f *FileCache) keyToPath(key string) string {
	return filepath.Join(f.baseDir, ComputeKey([]byte(key))+cacheFileExt)
}

func encodeValue(value any) ([]byte, error) {
	if data, ok := value.([]byte); ok {
		return data, nil
	}
	return json.Marshal(value)
}

var _ Cache = (*FileCache)(nil)
