// Package pipeline orchestrates the documentation run: resolve inputs,
// parse each BI file through the cache, stream-optimize the metadata, and
// render output documents.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/electwix/bi-catalyst/internal/archive"
	"github.com/electwix/bi-catalyst/internal/cache"
	"github.com/electwix/bi-catalyst/internal/config"
	"github.com/electwix/bi-catalyst/internal/fileset"
	"github.com/electwix/bi-catalyst/internal/logging"
	"github.com/electwix/bi-catalyst/internal/model"
	"github.com/electwix/bi-catalyst/internal/parser"
	"github.com/electwix/bi-catalyst/internal/render"
	"github.com/electwix/bi-catalyst/internal/retry"
	"github.com/electwix/bi-catalyst/internal/stream"
)

// Environment captures external dependencies used by the pipeline.
type Environment struct {
	FSResolver func(string) (fileset.Resolver, error)
	Logger     logging.Logger
	Writer     Writer
	PowerBI    parser.Parser // injectable Power BI parser
	Tableau    parser.Parser // injectable Tableau parser
	Cache      cache.Cache   // injectable cache; nil builds one from the plan
	Processor  *stream.Processor
}

// Writer writes rendered documents to persistent storage.
type Writer interface {
	WriteFile(path string, data []byte) error
}

// Pipeline orchestrates input resolution, parsing, and rendering.
type Pipeline struct {
	Env Environment
}

// FileResult records the outcome for one input file.
type FileResult struct {
	Input    string
	Kind     parser.Kind
	Outputs  []string
	Skipped  []string
	Err      error
	Duration time.Duration
}

// Summary captures per-file results and diagnostics collected during a run.
type Summary struct {
	RunID     string
	Results   []FileResult
	Warnings  []string
	Succeeded int
	Failed    int
}

// RunOptions configures a pipeline execution.
type RunOptions struct {
	ConfigPath   string
	Inputs       []string
	OutOverride  string
	Formats      string
	Workers      int
	NoCache      bool
	DryRun       bool
	StrictConfig bool
}

// WriteError wraps failures encountered while writing rendered documents.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// NewOSWriter returns a Writer that performs atomic writes on the local filesystem.
func NewOSWriter() Writer {
	return &osWriter{perm: 0o644}
}

type osWriter struct {
	perm fs.FileMode
}

func (w *osWriter) WriteFile(path string, data []byte) error {
	if path == "" {
		return errors.New("pipeline: empty path")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".bi-catalyst-")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpName)
		}
		_ = tmp.Close()
	}()
	if w.perm != 0 {
		if err := tmp.Chmod(w.perm); err != nil {
			return fmt.Errorf("chmod temp file: %w", err)
		}
	}
	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	success = true
	return nil
}

// Run executes the pipeline according to the provided options. Per-file
// parse and render failures are recorded in the summary and processing
// continues; startup problems (config, cache, output dir) fail the run.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (Summary, error) {
	summary := Summary{RunID: uuid.NewString()}

	log := p.Env.Logger
	if log == nil {
		log = logging.NewNopLogger()
	}

	plan, warnings, err := p.buildPlan(opts)
	if err != nil {
		return summary, err
	}
	summary.Warnings = warnings
	for _, warning := range warnings {
		log.Warn(warning)
	}

	if !opts.DryRun {
		if err := os.MkdirAll(plan.Out, 0o750); err != nil {
			return summary, fmt.Errorf("prepare output dir %s: %w", plan.Out, err)
		}
	}

	parseCache, closeCache, err := p.buildCache(plan, opts.NoCache)
	if err != nil {
		return summary, err
	}
	defer closeCache()

	validator := archive.NewValidator(plan.Limits)
	powerBI := p.Env.PowerBI
	if powerBI == nil {
		powerBI = parser.NewPowerBI(validator, log)
	}
	tableau := p.Env.Tableau
	if tableau == nil {
		tableau = parser.NewTableau(validator, log)
	}

	processor := p.Env.Processor
	if processor == nil {
		processor = stream.NewProcessor(stream.DefaultBatchSize, stream.DefaultMaxMemoryBytes, log)
	}

	writer := p.Env.Writer
	if writer == nil {
		writer = NewOSWriter()
	}

	// The memoizer's ttl reaches the persistent tier; the hybrid's memory
	// tier applies its own memory TTL regardless.
	cacheTTL := plan.Cache.MaxAge
	if cacheTTL <= 0 {
		cacheTTL = cache.DefaultMaxAge
	}
	parsePBIX := memoizedParse(parseCache, "parse:pbix", cacheTTL, powerBI)
	parseTWB := memoizedParse(parseCache, "parse:twb", cacheTTL, tableau)

	runner := &fileRunner{
		plan:      plan,
		log:       log,
		writer:    writer,
		processor: processor,
		parsePBIX: parsePBIX,
		parseTWB:  parseTWB,
		dryRun:    opts.DryRun,
	}

	results := make([]FileResult, len(plan.Inputs))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(plan.Workers)

	for i, input := range plan.Inputs {
		group.Go(func() error {
			results[i] = runner.process(groupCtx, input)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return summary, err
	}

	summary.Results = results
	for _, result := range results {
		if result.Err != nil {
			summary.Failed++
		} else {
			summary.Succeeded++
		}
	}

	log.Info("run complete", "run_id", summary.RunID,
		"succeeded", summary.Succeeded, "failed", summary.Failed)
	return summary, nil
}

// buildPlan loads the config file when one is given, otherwise assembles a
// plan from direct inputs. CLI options override config values either way.
func (p *Pipeline) buildPlan(opts RunOptions) (config.JobPlan, []string, error) {
	var (
		plan     config.JobPlan
		warnings []string
	)

	if opts.ConfigPath != "" {
		absConfigPath, err := filepath.Abs(opts.ConfigPath)
		if err != nil {
			return plan, nil, fmt.Errorf("resolve config path: %w", err)
		}

		loadOpts := config.LoadOptions{Strict: opts.StrictConfig}
		if p.Env.FSResolver != nil {
			resolver, err := p.Env.FSResolver(filepath.Dir(absConfigPath))
			if err != nil {
				return plan, nil, err
			}
			loadOpts.Resolver = &resolver
		}

		result, err := config.Load(absConfigPath, loadOpts)
		if err != nil {
			return plan, nil, err
		}
		plan = result.Plan
		warnings = result.Warnings
	} else {
		if len(opts.Inputs) == 0 {
			return plan, nil, errors.New("no inputs: provide -input patterns or a config file")
		}

		resolverFn := p.Env.FSResolver
		if resolverFn == nil {
			resolverFn = fileset.NewOSResolver
		}
		resolver, err := resolverFn(".")
		if err != nil {
			return plan, nil, err
		}
		inputs, err := resolver.Resolve(opts.Inputs)
		if err != nil {
			return plan, nil, err
		}

		plan = config.JobPlan{
			Inputs:  inputs,
			Out:     "docs",
			Formats: []render.Format{render.FormatMarkdown},
			Workers: config.DefaultWorkers,
			Cache: config.CachePlan{
				Enabled: true,
				Dir:     ".bi-catalyst-cache",
				Backend: config.BackendFile,
			},
			Limits: archive.DefaultLimits(),
		}
	}

	if opts.OutOverride != "" {
		plan.Out = filepath.Clean(opts.OutOverride)
	}
	if opts.Formats != "" {
		formats, err := render.ParseFormats(opts.Formats)
		if err != nil {
			return plan, nil, err
		}
		plan.Formats = formats
	}
	if opts.Workers > 0 {
		plan.Workers = opts.Workers
	}
	if plan.Workers <= 0 {
		plan.Workers = config.DefaultWorkers
	}
	return plan, warnings, nil
}

// buildCache assembles the configured cache tiers. With caching disabled a
// memory-only cache still backs the memoizer within the run.
func (p *Pipeline) buildCache(plan config.JobPlan, noCache bool) (cache.Cache, func(), error) {
	if p.Env.Cache != nil {
		return p.Env.Cache, func() {}, nil
	}

	maxEntries := plan.Cache.MemoryMaxEntries
	if maxEntries <= 0 {
		maxEntries = cache.DefaultMaxEntries
	}
	memoryTTL := plan.Cache.MemoryTTL
	if memoryTTL <= 0 {
		memoryTTL = cache.DefaultMemoryTTL
	}
	memory := cache.NewMemoryCache(maxEntries, memoryTTL)

	if noCache || !plan.Cache.Enabled {
		return memory, func() {}, nil
	}

	maxAge := plan.Cache.MaxAge
	if maxAge <= 0 {
		maxAge = cache.DefaultMaxAge
	}

	switch plan.Cache.Backend {
	case config.BackendSQLite:
		if err := os.MkdirAll(plan.Cache.Dir, 0o750); err != nil {
			return nil, nil, fmt.Errorf("prepare cache dir %s: %w", plan.Cache.Dir, err)
		}
		persistent, err := cache.NewSQLiteCache(filepath.Join(plan.Cache.Dir, "bi-catalyst.db"), maxAge)
		if err != nil {
			return nil, nil, fmt.Errorf("open cache database: %w", err)
		}
		return cache.NewHybrid(memory, persistent, memoryTTL), func() { _ = persistent.Close() }, nil
	default:
		persistent, err := cache.NewFileCache(plan.Cache.Dir, maxAge)
		if err != nil {
			return nil, nil, fmt.Errorf("open cache dir: %w", err)
		}
		return cache.NewHybrid(memory, persistent, memoryTTL), func() {}, nil
	}
}

func memoizedParse(c cache.Cache, prefix string, ttl time.Duration, pr parser.Parser) cache.Func[model.Metadata] {
	return cache.Memoize(c, prefix, ttl, func(ctx context.Context, path string) (model.Metadata, error) {
		md, err := pr.Parse(ctx, path)
		if err != nil {
			return model.Metadata{}, err
		}
		return *md, nil
	})
}

// fileRunner carries the per-run state shared by worker goroutines.
type fileRunner struct {
	plan      config.JobPlan
	log       logging.Logger
	writer    Writer
	processor *stream.Processor
	parsePBIX cache.Func[model.Metadata]
	parseTWB  cache.Func[model.Metadata]
	dryRun    bool

	mu sync.Mutex // serializes skip-unchanged reads against writes
}

// process runs one input file through parse, optimize, render, and write.
func (r *fileRunner) process(ctx context.Context, input string) FileResult {
	start := time.Now()
	result := FileResult{Input: input, Kind: parser.Detect(input)}
	defer func() { result.Duration = time.Since(start) }()

	log := r.log.With("file", filepath.Base(input))

	parse, ok := r.parseFor(result.Kind)
	if !ok {
		result.Err = parser.UnsupportedFormatError{Path: input}
		log.Error("unsupported input", "error", result.Err)
		return result
	}

	var md model.Metadata
	parseErr := retry.Do(ctx, r.plan.Retry, func(ctx context.Context) error {
		var err error
		md, err = parse(ctx, input)
		return err
	})
	if parseErr != nil {
		result.Err = parseErr
		log.Error("parse failed", "error", parseErr)
		return result
	}

	if err := r.optimize(ctx, &md); err != nil {
		result.Err = err
		return result
	}

	if err := ctx.Err(); err != nil {
		result.Err = err
		return result
	}

	files, err := render.Files(&md, r.plan.Formats, baseName(input))
	if err != nil {
		result.Err = err
		log.Error("render failed", "error", err)
		return result
	}

	for _, file := range files {
		dest := filepath.Join(r.plan.Out, file.Path)
		if r.dryRun {
			result.Outputs = append(result.Outputs, dest)
			continue
		}
		wrote, err := r.writeUnlessUnchanged(dest, file.Content)
		if err != nil {
			result.Err = &WriteError{Path: dest, Err: err}
			log.Error("write failed", "path", dest, "error", err)
			return result
		}
		if wrote {
			result.Outputs = append(result.Outputs, dest)
		} else {
			result.Skipped = append(result.Skipped, dest)
		}
	}

	log.Info("documented", "outputs", len(result.Outputs), "skipped", len(result.Skipped))
	return result
}

func (r *fileRunner) parseFor(kind parser.Kind) (cache.Func[model.Metadata], bool) {
	switch kind {
	case parser.KindPowerBI:
		return r.parsePBIX, true
	case parser.KindTableauWorkbook, parser.KindTableauPackaged:
		return r.parseTWB, true
	default:
		return nil, false
	}
}

func (r *fileRunner) optimize(ctx context.Context, md *model.Metadata) error {
	var err error
	if md.Tables, err = r.processor.Tables(ctx, md.Tables); err != nil {
		return err
	}
	if md.Measures, err = r.processor.Measures(ctx, md.Measures); err != nil {
		return err
	}
	if md.Relationships, err = r.processor.Relationships(ctx, md.Relationships); err != nil {
		return err
	}
	stream.Optimize(md, r.plan.MaxStringLength)
	return nil
}

// writeUnlessUnchanged compares against the existing file and skips the
// write when content is identical, reporting whether a write happened.
func (r *fileRunner) writeUnlessUnchanged(dest string, content []byte) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, err := os.ReadFile(dest); err == nil && bytes.Equal(existing, content) {
		return false, nil
	}
	if err := r.writer.WriteFile(dest, content); err != nil {
		return false, err
	}
	return true, nil
}

func baseName(input string) string {
	base := filepath.Base(input)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
