package stream

import (
	"context"
	"fmt"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"

	"github.com/electwix/bi-catalyst/internal/model"
)

func TestChunks(t *testing.T) {
	t.Parallel()

	items := make([]int, 250)
	for i := range items {
		items[i] = i
	}

	var sizes []int
	total := 0
	for chunk := range Chunks(items, 100) {
		sizes = append(sizes, len(chunk))
		for _, v := range chunk {
			if v != total {
				t.Fatalf("chunk item = %d, want %d (order broken)", v, total)
			}
			total++
		}
	}

	if diff := cmp.Diff([]int{100, 100, 50}, sizes); diff != "" {
		t.Errorf("chunk sizes mismatch (-want +got):\n%s", diff)
	}
	if total != 250 {
		t.Errorf("saw %d items, want 250", total)
	}
}

func TestChunks_EarlyBreak(t *testing.T) {
	t.Parallel()

	seen := 0
	for range Chunks(make([]int, 50), 10) {
		seen++
		if seen == 2 {
			break
		}
	}
	if seen != 2 {
		t.Errorf("saw %d chunks, want 2", seen)
	}
}

func TestProcessor_TablesComputesColumnCounts(t *testing.T) {
	t.Parallel()

	p := NewProcessor(DefaultBatchSize, DefaultMaxMemoryBytes, nil)
	tables := []model.Table{
		{Name: "Sales", Columns: []model.Column{
			{Name: "ID"},
			{Name: "Internal", IsHidden: true},
			{Name: "Amount"},
		}},
		{Name: "Empty"},
	}

	got, err := p.Tables(context.Background(), tables)
	if err != nil {
		t.Fatalf("Tables returned error: %v", err)
	}

	if got[0].ColumnCount != 3 || got[0].HiddenColumns != 1 {
		t.Errorf("Sales counts = %d/%d, want 3/1", got[0].ColumnCount, got[0].HiddenColumns)
	}
	if got[1].ColumnCount != 0 {
		t.Errorf("Empty ColumnCount = %d, want 0", got[1].ColumnCount)
	}
}

func TestProcessor_MeasuresComputesExpressionMetrics(t *testing.T) {
	t.Parallel()

	p := NewProcessor(DefaultBatchSize, DefaultMaxMemoryBytes, nil)
	measures := []model.Measure{
		{Name: "Total", Expression: "SUM(Sales[Amount])"},
		{Name: "Filtered", Expression: "CALCULATE(SUM(Sales[Amount]), Sales[Year] = 2024)"},
	}

	got, err := p.Measures(context.Background(), measures)
	if err != nil {
		t.Fatalf("Measures returned error: %v", err)
	}

	if got[0].HasComplexLogic {
		t.Error("plain SUM flagged as complex")
	}
	if !got[1].HasComplexLogic {
		t.Error("CALCULATE not flagged as complex")
	}
	if got[0].ExpressionLength != len(measures[0].Expression) {
		t.Errorf("ExpressionLength = %d, want %d", got[0].ExpressionLength, len(measures[0].Expression))
	}
}

func TestProcessor_BatchingPreservesOrderAndCount(t *testing.T) {
	t.Parallel()

	p := NewProcessor(100, DefaultMaxMemoryBytes, nil)
	rels := make([]model.Relationship, 250)
	for i := range rels {
		rels[i] = model.Relationship{FromTable: fmt.Sprintf("t%03d", i)}
	}

	got, err := p.Relationships(context.Background(), rels)
	if err != nil {
		t.Fatalf("Relationships returned error: %v", err)
	}

	if len(got) != 250 {
		t.Fatalf("got %d outputs, want 250", len(got))
	}
	for i, r := range got {
		if r.FromTable != fmt.Sprintf("t%03d", i) {
			t.Fatalf("output %d = %s, order broken", i, r.FromTable)
		}
	}
}

func TestProcessor_MemoryPressureHalvesBatches(t *testing.T) {
	t.Parallel()

	p := NewProcessor(40, 1, nil)
	batches := 0
	p.sample = func() uint64 {
		batches++
		return 2 // always over the 1-byte ceiling
	}

	rels := make([]model.Relationship, 100)
	got, err := p.Relationships(context.Background(), rels)
	if err != nil {
		t.Fatalf("Relationships returned error: %v", err)
	}

	if len(got) != 100 {
		t.Errorf("got %d outputs, want 100 (halving must not drop work)", len(got))
	}
	// 40 + 20 + 10 + 10 + 10 + 10 items, one sample per batch.
	if batches != 6 {
		t.Errorf("sampled %d batches, want 6 (40,20,10,10,10,10)", batches)
	}
}

func TestProcessor_ContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewProcessor(10, DefaultMaxMemoryBytes, nil)
	if _, err := p.Relationships(ctx, make([]model.Relationship, 5)); err == nil {
		t.Fatal("expected error from canceled context")
	}
}

func TestOptimize(t *testing.T) {
	t.Parallel()

	long := make([]byte, 1200)
	for i := range long {
		long[i] = 'x'
	}

	md := &model.Metadata{
		File: "report.pbix",
		Type: model.TypePowerBI,
		Measures: []model.Measure{
			{Name: "Big", Expression: string(long)},
		},
		PowerQuery: map[string]string{},
		Tables:     []model.Table{},
	}

	Optimize(md, 1000)

	expr := md.Measures[0].Expression
	if len(expr) != 1000+len("... [truncated]") {
		t.Errorf("expression length = %d after truncation", len(expr))
	}
	if md.PowerQuery != nil {
		t.Error("empty PowerQuery map not pruned")
	}
	if md.Tables != nil {
		t.Error("empty Tables slice not pruned")
	}
}

func TestTruncate_ShortStringUnchanged(t *testing.T) {
	t.Parallel()

	if got := Truncate("short", 1000); got != "short" {
		t.Errorf("Truncate() = %q, want unchanged", got)
	}
}

func TestTruncate_RuneBoundary(t *testing.T) {
	t.Parallel()

	// Byte 10 lands inside the three-byte rune 世; the cut must back up.
	got := Truncate("123456789世界", 10)
	if want := "123456789... [truncated]"; got != want {
		t.Errorf("Truncate() = %q, want %q", got, want)
	}
	if !utf8.ValidString(got) {
		t.Errorf("Truncate() produced invalid UTF-8: %q", got)
	}
}

func TestOptimize_KeepsExpressionsValidUTF8(t *testing.T) {
	t.Parallel()

	md := &model.Metadata{
		File: "report.pbix",
		Type: model.TypePowerBI,
		Measures: []model.Measure{
			{Name: "Big", Expression: "123456789世界"},
		},
	}

	Optimize(md, 10)

	if got := md.Measures[0].Expression; !utf8.ValidString(got) {
		t.Errorf("truncated expression is not valid UTF-8: %q", got)
	}
}
