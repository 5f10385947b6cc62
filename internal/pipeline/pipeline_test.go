package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/electwix/bi-catalyst/internal/cache"
	"github.com/electwix/bi-catalyst/internal/fileset"
	"github.com/electwix/bi-catalyst/internal/model"
	"github.com/electwix/bi-catalyst/internal/parser"
)

const testSchema = `{
  "model": {
    "tables": [
      {"name": "Sales", "columns": [{"name": "ID", "dataType": "int64"}],
       "measures": [{"name": "Total", "expression": "SUM(Sales[ID])"}]}
    ]
  }
}`

const testWorkbook = `<?xml version='1.0' encoding='utf-8'?>
<workbook>
  <datasources>
    <datasource name='ds' caption='Sales DS'>
      <connection class='sqlserver' server='srv' dbname='salesdb'/>
      <column name='[Amount]' caption='Amount' datatype='real' role='measure'/>
    </datasource>
  </datasources>
  <worksheets>
    <worksheet name='Overview'/>
  </worksheets>
</workbook>`

func writeInputs(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("DataModelSchema")
	if err != nil {
		t.Fatalf("zip create: %v", err)
	}
	if _, err := w.Write([]byte(testSchema)); err != nil {
		t.Fatalf("zip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sales.pbix"), buf.Bytes(), 0o600); err != nil {
		t.Fatalf("write pbix: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "finance.twb"), []byte(testWorkbook), 0o600); err != nil {
		t.Fatalf("write twb: %v", err)
	}
	return dir
}

func newTestPipeline(dir string, writer Writer) *Pipeline {
	return &Pipeline{Env: Environment{
		FSResolver: func(string) (fileset.Resolver, error) {
			return fileset.NewOSResolver(dir)
		},
		Writer: writer,
		Cache:  cache.NewMemoryCache(100, time.Hour),
	}}
}

func TestRun_DocumentsAllInputs(t *testing.T) {
	t.Parallel()

	dir := writeInputs(t)
	writer := &MemoryWriter{}
	p := newTestPipeline(dir, writer)

	summary, err := p.Run(context.Background(), RunOptions{
		Inputs:      []string{"*.pbix", "*.twb"},
		OutOverride: filepath.Join(dir, "docs"),
		Formats:     "markdown,json",
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if summary.Succeeded != 2 || summary.Failed != 0 {
		t.Fatalf("summary = %d succeeded, %d failed", summary.Succeeded, summary.Failed)
	}
	if writer.FileCount() != 4 {
		t.Errorf("wrote %d files, want 4", writer.FileCount())
	}

	md, ok := writer.GetFile(filepath.Join(dir, "docs", "sales.md"))
	if !ok {
		t.Fatal("sales.md not written")
	}
	if !strings.Contains(string(md), "# sales.pbix") {
		t.Errorf("sales.md content:\n%s", md)
	}
	if _, ok := writer.GetFile(filepath.Join(dir, "docs", "finance.json")); !ok {
		t.Error("finance.json not written")
	}
}

func TestRun_ContinuesPastFailedFiles(t *testing.T) {
	t.Parallel()

	dir := writeInputs(t)
	if err := os.WriteFile(filepath.Join(dir, "broken.pbix"), []byte("not a zip"), 0o600); err != nil {
		t.Fatalf("write broken file: %v", err)
	}

	writer := &MemoryWriter{}
	p := newTestPipeline(dir, writer)

	summary, err := p.Run(context.Background(), RunOptions{
		Inputs:      []string{"*.pbix", "*.twb"},
		OutOverride: filepath.Join(dir, "docs"),
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if summary.Succeeded != 2 || summary.Failed != 1 {
		t.Fatalf("summary = %d succeeded, %d failed", summary.Succeeded, summary.Failed)
	}
	for _, result := range summary.Results {
		if filepath.Base(result.Input) == "broken.pbix" && result.Err == nil {
			t.Error("broken file should carry an error")
		}
	}
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	t.Parallel()

	dir := writeInputs(t)
	writer := &MemoryWriter{}
	p := newTestPipeline(dir, writer)

	summary, err := p.Run(context.Background(), RunOptions{
		Inputs:      []string{"*.twb"},
		OutOverride: filepath.Join(dir, "docs"),
		DryRun:      true,
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if writer.FileCount() != 0 {
		t.Errorf("dry run wrote %d files", writer.FileCount())
	}
	if len(summary.Results) != 1 || len(summary.Results[0].Outputs) != 1 {
		t.Errorf("dry run should still report outputs: %+v", summary.Results)
	}
}

type countingParser struct {
	inner parser.Parser
	calls atomic.Int64
}

func (c *countingParser) Parse(ctx context.Context, path string) (*model.Metadata, error) {
	c.calls.Add(1)
	return c.inner.Parse(ctx, path)
}

func TestRun_MemoizesParses(t *testing.T) {
	t.Parallel()

	dir := writeInputs(t)
	counting := &countingParser{inner: parser.NewPowerBI(nil, nil)}

	shared := cache.NewMemoryCache(100, time.Hour)
	p := &Pipeline{Env: Environment{
		FSResolver: func(string) (fileset.Resolver, error) {
			return fileset.NewOSResolver(dir)
		},
		Writer:  &MemoryWriter{},
		Cache:   shared,
		PowerBI: counting,
	}}

	opts := RunOptions{
		Inputs:      []string{"*.pbix"},
		OutOverride: filepath.Join(dir, "docs"),
	}
	for range 2 {
		if _, err := p.Run(context.Background(), opts); err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	}

	if got := counting.calls.Load(); got != 1 {
		t.Errorf("parser invoked %d times, want 1 (second run should hit cache)", got)
	}
}

type ttlRecordingCache struct {
	cache.Cache
	mu   sync.Mutex
	ttls []time.Duration
}

func (c *ttlRecordingCache) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	c.mu.Lock()
	c.ttls = append(c.ttls, ttl)
	c.mu.Unlock()
	c.Cache.Set(ctx, key, value, ttl)
}

func TestRun_CacheEntriesCarryMaxAgeTTL(t *testing.T) {
	t.Parallel()

	dir := writeInputs(t)
	recording := &ttlRecordingCache{Cache: cache.NewMemoryCache(100, time.Hour)}
	p := &Pipeline{Env: Environment{
		FSResolver: func(string) (fileset.Resolver, error) {
			return fileset.NewOSResolver(dir)
		},
		Writer: &MemoryWriter{},
		Cache:  recording,
	}}

	if _, err := p.Run(context.Background(), RunOptions{
		Inputs:      []string{"*.pbix"},
		OutOverride: filepath.Join(dir, "docs"),
	}); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	recording.mu.Lock()
	defer recording.mu.Unlock()
	if len(recording.ttls) == 0 {
		t.Fatal("no cache writes recorded")
	}
	for _, ttl := range recording.ttls {
		if ttl != cache.DefaultMaxAge {
			t.Errorf("cache entry ttl = %v, want persistent max age %v", ttl, cache.DefaultMaxAge)
		}
	}
}

func TestRun_SkipsUnchangedOutputs(t *testing.T) {
	t.Parallel()

	dir := writeInputs(t)
	out := filepath.Join(dir, "docs")
	p := newTestPipeline(dir, nil) // nil writer selects the atomic OS writer

	opts := RunOptions{Inputs: []string{"*.twb"}, OutOverride: out}

	first, err := p.Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("first Run returned error: %v", err)
	}
	if len(first.Results[0].Outputs) != 1 || len(first.Results[0].Skipped) != 0 {
		t.Fatalf("first run results = %+v", first.Results[0])
	}

	second, err := p.Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("second Run returned error: %v", err)
	}
	if len(second.Results[0].Skipped) != 1 || len(second.Results[0].Outputs) != 0 {
		t.Errorf("second run should skip unchanged output: %+v", second.Results[0])
	}
}

func TestRun_ConfigDriven(t *testing.T) {
	t.Parallel()

	dir := writeInputs(t)
	configPath := filepath.Join(dir, "bi-catalyst.toml")
	configBody := `
inputs = ["*.pbix"]
out = "docs"
formats = ["markdown"]

[cache]
enabled = false
`
	if err := os.WriteFile(configPath, []byte(configBody), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	writer := &MemoryWriter{}
	p := &Pipeline{Env: Environment{Writer: writer}}

	summary, err := p.Run(context.Background(), RunOptions{ConfigPath: configPath})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if summary.Succeeded != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if _, ok := writer.GetFile(filepath.Join(dir, "docs", "sales.md")); !ok {
		t.Error("sales.md not written from config-driven run")
	}
}

func TestRun_NoInputsFails(t *testing.T) {
	t.Parallel()

	p := &Pipeline{Env: Environment{Writer: &MemoryWriter{}}}
	if _, err := p.Run(context.Background(), RunOptions{}); err == nil {
		t.Fatal("expected error when no inputs and no config")
	}
}

func TestRun_UnsupportedInputFails(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	writer := &MemoryWriter{}
	p := newTestPipeline(dir, writer)

	summary, err := p.Run(context.Background(), RunOptions{
		Inputs:      []string{"*.txt"},
		OutOverride: filepath.Join(dir, "docs"),
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if summary.Failed != 1 {
		t.Errorf("summary = %+v", summary)
	}
}
