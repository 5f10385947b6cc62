// Package stream processes metadata collections in bounded batches. Memory
// sampling between batches is advisory: when heap usage crosses the
// configured ceiling the batch size is halved (never below MinBatchSize),
// but no work is dropped and no error is raised.
package stream

import (
	"context"
	"iter"
	"runtime"

	"github.com/electwix/bi-catalyst/internal/expr"
	"github.com/electwix/bi-catalyst/internal/logging"
	"github.com/electwix/bi-catalyst/internal/model"
)

const (
	// DefaultBatchSize is the starting batch size.
	DefaultBatchSize = 100
	// MinBatchSize is the floor batch halving never crosses.
	MinBatchSize = 10
	// DefaultMaxMemoryBytes is the advisory heap ceiling (500 MiB).
	DefaultMaxMemoryBytes = 500 * 1024 * 1024
)

// Chunks partitions items into fixed-size slices, lazily. The final chunk
// may be shorter. Chunks are subslices of items, not copies.
func Chunks[T any](items []T, size int) iter.Seq[[]T] {
	if size < 1 {
		size = 1
	}
	return func(yield func([]T) bool) {
		for start := 0; start < len(items); start += size {
			end := min(start+size, len(items))
			if !yield(items[start:end]) {
				return
			}
		}
	}
}

// Processor applies per-item transforms over metadata collections in
// batches, shrinking the batch size under memory pressure.
type Processor struct {
	batchSize int
	maxMemory uint64
	log       logging.Logger

	// sample reports current heap usage; replaced in tests.
	sample func() uint64
}

// NewProcessor creates a Processor. Non-positive arguments fall back to the
// defaults; a nil logger is replaced with a no-op one.
func NewProcessor(batchSize int, maxMemoryBytes uint64, log logging.Logger) *Processor {
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	if maxMemoryBytes == 0 {
		maxMemoryBytes = DefaultMaxMemoryBytes
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Processor{
		batchSize: batchSize,
		maxMemory: maxMemoryBytes,
		log:       log,
		sample:    heapInUse,
	}
}

func heapInUse() uint64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return stats.HeapAlloc
}

// Tables returns the tables with column counts filled in. Order is
// preserved; every input yields exactly one output.
func (p *Processor) Tables(ctx context.Context, tables []model.Table) ([]model.Table, error) {
	return process(ctx, p, tables, func(t model.Table) (model.Table, error) {
		t.ColumnCount = len(t.Columns)
		hidden := 0
		for _, col := range t.Columns {
			if col.IsHidden {
				hidden++
			}
		}
		t.HiddenColumns = hidden
		return t, nil
	})
}

// Measures returns the measures with expression metrics filled in.
func (p *Processor) Measures(ctx context.Context, measures []model.Measure) ([]model.Measure, error) {
	return process(ctx, p, measures, func(m model.Measure) (model.Measure, error) {
		m.ExpressionLength = len(m.Expression)
		m.HasComplexLogic = expr.IsComplex(m.Expression)
		return m, nil
	})
}

// Relationships passes relationships through the batching machinery
// unchanged, preserving order.
func (p *Processor) Relationships(ctx context.Context, rels []model.Relationship) ([]model.Relationship, error) {
	return process(ctx, p, rels, func(r model.Relationship) (model.Relationship, error) {
		return r, nil
	})
}

// process walks items in batches of the processor's current size, halving
// the size after any batch during which heap usage crossed the ceiling. A
// transform error aborts the whole call. Halving restarts the chunking over
// the remaining items at the reduced size.
func process[T any](ctx context.Context, p *Processor, items []T, fn func(T) (T, error)) ([]T, error) {
	out := make([]T, 0, len(items))
	size := p.batchSize

	remaining := items
	for len(remaining) > 0 {
		halved := false
		for batch := range Chunks(remaining, size) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			for _, it := range batch {
				transformed, err := fn(it)
				if err != nil {
					return nil, err
				}
				out = append(out, transformed)
			}
			remaining = remaining[len(batch):]

			if p.sample() > p.maxMemory && size > MinBatchSize {
				size = max(size/2, MinBatchSize)
				p.log.Debug("memory pressure, batch size reduced", "batch_size", size)
				halved = true
				break
			}
		}
		if !halved {
			break
		}
	}
	return out, nil
}
