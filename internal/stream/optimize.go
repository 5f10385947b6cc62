package stream

import (
	"unicode/utf8"

	"github.com/electwix/bi-catalyst/internal/model"
)

// DefaultMaxStringLength bounds long text fields after optimization.
const DefaultMaxStringLength = 1000

const truncationMarker = "... [truncated]"

// Optimize trims a metadata document for output: long free-text fields
// (queries, expressions, calculations) are truncated with a marker and
// empty collections are nilled out so they are omitted from encoding.
// The document is modified in place.
func Optimize(md *model.Metadata, maxStringLen int) {
	if md == nil {
		return
	}
	if maxStringLen < 1 {
		maxStringLen = DefaultMaxStringLength
	}

	for i := range md.DataSources {
		ds := &md.DataSources[i]
		ds.Query = Truncate(ds.Query, maxStringLen)
		ds.Connection = Truncate(ds.Connection, maxStringLen)
		for j := range ds.Fields {
			ds.Fields[j].Calculation = Truncate(ds.Fields[j].Calculation, maxStringLen)
		}
	}
	for i := range md.Measures {
		md.Measures[i].Expression = Truncate(md.Measures[i].Expression, maxStringLen)
	}
	for i := range md.CalculatedColumns {
		md.CalculatedColumns[i].Expression = Truncate(md.CalculatedColumns[i].Expression, maxStringLen)
	}
	for i := range md.CalculatedFields {
		md.CalculatedFields[i].Calculation = Truncate(md.CalculatedFields[i].Calculation, maxStringLen)
	}
	for key, val := range md.PowerQuery {
		md.PowerQuery[key] = Truncate(val, maxStringLen)
	}

	md.DataSources = pruneSlice(md.DataSources)
	md.Tables = pruneSlice(md.Tables)
	md.Relationships = pruneSlice(md.Relationships)
	md.Measures = pruneSlice(md.Measures)
	md.CalculatedColumns = pruneSlice(md.CalculatedColumns)
	md.CalculatedFields = pruneSlice(md.CalculatedFields)
	md.Worksheets = pruneSlice(md.Worksheets)
	md.Dashboards = pruneSlice(md.Dashboards)
	md.Parameters = pruneSlice(md.Parameters)
	md.Pages = pruneSlice(md.Pages)
	if len(md.PowerQuery) == 0 {
		md.PowerQuery = nil
	}
	if len(md.FieldUsage) == 0 {
		md.FieldUsage = nil
	}
}

// Truncate caps s at maxLen bytes of original text plus a marker. The cut
// backs up to a rune boundary so the result stays valid UTF-8.
func Truncate(s string, maxLen int) string {
	if maxLen < 1 || len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + truncationMarker
}

func pruneSlice[T any](s []T) []T {
	if len(s) == 0 {
		return nil
	}
	return s
}
