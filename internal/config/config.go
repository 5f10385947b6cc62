// Package config loads and validates the bi-catalyst configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/electwix/bi-catalyst/internal/archive"
	"github.com/electwix/bi-catalyst/internal/fileset"
	"github.com/electwix/bi-catalyst/internal/render"
	"github.com/electwix/bi-catalyst/internal/retry"
)

// Backend identifies the persistent cache implementation to use.
type Backend string

const (
	// BackendFile stores cache entries as files under the cache dir.
	BackendFile Backend = "file"
	// BackendSQLite stores cache entries in a SQLite database.
	BackendSQLite Backend = "sqlite"
)

var validBackends = map[Backend]struct{}{
	BackendFile:   {},
	BackendSQLite: {},
}

// Duration unmarshals TOML strings like "90s" or "24h".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// CacheConfig captures the [cache] TOML table.
type CacheConfig struct {
	Enabled          *bool    `toml:"enabled"`
	Dir              string   `toml:"dir"`
	Backend          Backend  `toml:"backend"`
	MemoryTTL        Duration `toml:"memory_ttl"`
	MaxAge           Duration `toml:"max_age"`
	MemoryMaxEntries int      `toml:"memory_max_entries"`
}

// LimitsConfig captures the [limits] TOML table.
type LimitsConfig struct {
	MaxArchiveSize   int64   `toml:"max_archive_size"`
	MaxExtractedSize int64   `toml:"max_extracted_size"`
	MaxMembers       int     `toml:"max_members"`
	MaxRatio         float64 `toml:"max_ratio"`
}

// RenderConfig captures the [render] TOML table.
type RenderConfig struct {
	MaxStringLength int `toml:"max_string_length"`
}

// RetryConfig captures the [retry] TOML table.
type RetryConfig struct {
	MaxRetries   int      `toml:"max_retries"`
	InitialDelay Duration `toml:"initial_delay"`
	Multiplier   float64  `toml:"multiplier"`
}

// Config mirrors the expected bi-catalyst TOML schema.
type Config struct {
	Inputs  []string     `toml:"inputs"`
	Out     string       `toml:"out"`
	Formats []string     `toml:"formats"`
	Workers int          `toml:"workers"`
	Cache   CacheConfig  `toml:"cache"`
	Limits  LimitsConfig `toml:"limits"`
	Render  RenderConfig `toml:"render"`
	Retry   RetryConfig  `toml:"retry"`
}

// CachePlan is the normalized cache configuration forwarded to the pipeline.
type CachePlan struct {
	Enabled          bool
	Dir              string
	Backend          Backend
	MemoryTTL        time.Duration
	MaxAge           time.Duration
	MemoryMaxEntries int
}

// JobPlan is the fully-resolved configuration used by downstream stages.
type JobPlan struct {
	Inputs          []string
	Out             string
	Formats         []render.Format
	Workers         int
	Cache           CachePlan
	Limits          archive.Limits
	MaxStringLength int
	Retry           retry.Policy
}

// LoadOptions tunes config loading behavior.
type LoadOptions struct {
	Strict   bool
	Resolver *fileset.Resolver
}

// Result wraps a loaded job plan alongside any non-fatal warnings.
type Result struct {
	Plan     JobPlan
	Warnings []string
}

// DefaultWorkers bounds concurrent file processing when unset.
const DefaultWorkers = 4

// Load reads, validates, and resolves a bi-catalyst configuration file.
func Load(path string, opts LoadOptions) (Result, error) {
	var res Result

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return res, fmt.Errorf("read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return res, fmt.Errorf("%s: %w", path, err)
	}

	unknownKeys, err := collectUnknownKeys(data)
	if err != nil {
		return res, fmt.Errorf("%s: %w", path, err)
	}
	if len(unknownKeys) > 0 {
		slices.Sort(unknownKeys)
		message := fmt.Sprintf("%s: unknown configuration keys: %s", path, strings.Join(unknownKeys, ", "))
		if opts.Strict {
			return res, errors.New(message)
		}
		res.Warnings = append(res.Warnings, message)
	}

	for _, table := range []string{"cache", "limits", "render", "retry"} {
		tableUnknown, err := collectUnknownTableKeys(data, table)
		if err != nil {
			return res, fmt.Errorf("%s: %w", path, err)
		}
		if len(tableUnknown) == 0 {
			continue
		}
		slices.Sort(tableUnknown)
		message := fmt.Sprintf("%s: unknown %s keys: %s", path, table, strings.Join(tableUnknown, ", "))
		if opts.Strict {
			return res, errors.New(message)
		}
		res.Warnings = append(res.Warnings, message)
	}

	out, err := resolveOut(path, cfg.Out)
	if err != nil {
		return res, err
	}

	formats, err := render.ParseFormats(strings.Join(cfg.Formats, ","))
	if err != nil {
		return res, fmt.Errorf("%s: %w", path, err)
	}

	baseDir := filepath.Dir(path)

	var resolver fileset.Resolver
	if opts.Resolver != nil {
		resolver = *opts.Resolver
	} else {
		resolver, err = fileset.NewOSResolver(baseDir)
		if err != nil {
			return res, fmt.Errorf("%s: %w", path, err)
		}
	}

	inputs, err := resolvePatterns(resolver, "inputs", cfg.Inputs)
	if err != nil {
		return res, fmt.Errorf("%s: %w", path, err)
	}

	cachePlan, err := resolveCache(path, baseDir, cfg.Cache)
	if err != nil {
		return res, err
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	res.Plan = JobPlan{
		Inputs:          inputs,
		Out:             out,
		Formats:         formats,
		Workers:         workers,
		Cache:           cachePlan,
		Limits:          resolveLimits(cfg.Limits),
		MaxStringLength: cfg.Render.MaxStringLength,
		Retry: retry.Policy{
			MaxRetries:   cfg.Retry.MaxRetries,
			InitialDelay: time.Duration(cfg.Retry.InitialDelay),
			Multiplier:   cfg.Retry.Multiplier,
		},
	}

	return res, nil
}

func collectUnknownKeys(data []byte) ([]string, error) {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	known := map[string]struct{}{
		"inputs":  {},
		"out":     {},
		"formats": {},
		"workers": {},
		"cache":   {},
		"limits":  {},
		"render":  {},
		"retry":   {},
	}

	unknown := make([]string, 0)
	for key := range raw {
		if _, ok := known[key]; !ok {
			unknown = append(unknown, key)
		}
	}

	return unknown, nil
}

var knownTableKeys = map[string]map[string]struct{}{
	"cache": {
		"enabled":            {},
		"dir":                {},
		"backend":            {},
		"memory_ttl":         {},
		"max_age":            {},
		"memory_max_entries": {},
	},
	"limits": {
		"max_archive_size":   {},
		"max_extracted_size": {},
		"max_members":        {},
		"max_ratio":          {},
	},
	"render": {
		"max_string_length": {},
	},
	"retry": {
		"max_retries":   {},
		"initial_delay": {},
		"multiplier":    {},
	},
}

func collectUnknownTableKeys(data []byte, table string) ([]string, error) {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	record, ok := raw[table].(map[string]any)
	if !ok {
		return nil, nil
	}
	known := knownTableKeys[table]
	unknown := make([]string, 0)
	for key := range record {
		if _, ok := known[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	return unknown, nil
}

func resolveOut(path, out string) (string, error) {
	if out == "" {
		return "", fmt.Errorf("%s: out is required", path)
	}
	if filepath.IsAbs(out) {
		return out, nil
	}

	cleaned := filepath.Clean(out)
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: out must not traverse upwards", path)
	}

	baseDir := filepath.Dir(path)
	return filepath.Join(baseDir, cleaned), nil
}

func resolveCache(path, baseDir string, cfg CacheConfig) (CachePlan, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = BackendFile
	}
	if _, ok := validBackends[backend]; !ok {
		return CachePlan{}, fmt.Errorf("%s: unsupported cache backend %q", path, cfg.Backend)
	}

	dir := cfg.Dir
	if dir == "" {
		dir = ".bi-catalyst-cache"
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(baseDir, dir)
	}

	enabled := cfg.Enabled == nil || *cfg.Enabled

	return CachePlan{
		Enabled:          enabled,
		Dir:              dir,
		Backend:          backend,
		MemoryTTL:        time.Duration(cfg.MemoryTTL),
		MaxAge:           time.Duration(cfg.MaxAge),
		MemoryMaxEntries: cfg.MemoryMaxEntries,
	}, nil
}

func resolveLimits(cfg LimitsConfig) archive.Limits {
	limits := archive.DefaultLimits()
	if cfg.MaxArchiveSize > 0 {
		limits.MaxArchiveSize = cfg.MaxArchiveSize
	}
	if cfg.MaxExtractedSize > 0 {
		limits.MaxExtractedSize = cfg.MaxExtractedSize
	}
	if cfg.MaxMembers > 0 {
		limits.MaxMembers = cfg.MaxMembers
	}
	if cfg.MaxRatio > 0 {
		limits.MaxCompressionRatio = cfg.MaxRatio
	}
	return limits
}

func resolvePatterns(resolver fileset.Resolver, field string, patterns []string) ([]string, error) {
	paths, err := resolver.Resolve(patterns)
	if err != nil {
		switch {
		case errors.Is(err, fileset.ErrNoPatterns):
			return nil, fmt.Errorf("%s must include at least one pattern", field)
		default:
			var noMatchErr fileset.NoMatchError
			if errors.As(err, &noMatchErr) {
				return nil, fmt.Errorf("%s patterns matched no files: %s", field, strings.Join(noMatchErr.Patterns, ", "))
			}

			var patternErr fileset.PatternError
			if errors.As(err, &patternErr) {
				return nil, fmt.Errorf("%s: invalid glob pattern %q: %w", field, patternErr.Pattern, patternErr.Err)
			}

			return nil, fmt.Errorf("%s: %w", field, err)
		}
	}

	return paths, nil
}
