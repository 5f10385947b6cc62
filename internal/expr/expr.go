// Package expr scans DAX and Tableau calculation text for field references
// and function calls. It is a lenient scanner, not a full expression parser:
// everything it does not recognize is skipped, so malformed calculations
// still yield whatever references can be found.
package expr

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// FieldRef is one field reference found in calculation text: [Field] or
// Table[Column] or 'Table Name'[Column].
type FieldRef struct {
	Table  string
	Column string
}

// Analysis is the scan result for one calculation.
type Analysis struct {
	Fields    []FieldRef
	Functions []string
}

// Function names that mark an expression as having complex logic.
var complexFunctions = map[string]bool{
	"CALCULATE": true,
	"FILTER":    true,
	"SUMX":      true,
	"AVERAGEX":  true,
}

type calculation struct {
	Items []*item `parser:"@@*"`
}

type item struct {
	Call  *funcCall `parser:"  @@"`
	Ref   *fieldRef `parser:"| @@"`
	Other string    `parser:"| @Ident | @Quoted | @Bracketed | @String | @Number | @Punct | @Any"`
}

type funcCall struct {
	Name string `parser:"@Ident \"(\""`
}

type fieldRef struct {
	Table  string `parser:"(@Ident | @Quoted)?"`
	Column string `parser:"@Bracketed"`
}

var calcLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Whitespace", Pattern: `[ \t\r\n]+`},
	{Name: "Comment", Pattern: `//[^\n]*`},
	{Name: "String", Pattern: `"[^"]*"`},
	{Name: "Quoted", Pattern: `'[^'\r\n]*'`},
	{Name: "Bracketed", Pattern: `\[[^\]\r\n]*\]`},
	{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_.]*`},
	{Name: "Number", Pattern: `-?[0-9]+(\.[0-9]+)?`},
	{Name: "Punct", Pattern: `[-+*/=<>,.;:&%!^{}()|@?#$~\\]`},
	{Name: "Any", Pattern: `.`},
})

var calcParser = participle.MustBuild[calculation](
	participle.Lexer(calcLexer),
	participle.Elide("Whitespace", "Comment"),
	participle.UseLookahead(2),
)

// Analyze scans calculation text and returns the field references and
// function-call names it contains, in order of appearance.
func Analyze(text string) (Analysis, error) {
	var analysis Analysis
	if strings.TrimSpace(text) == "" {
		return analysis, nil
	}

	parsed, err := calcParser.ParseString("", text)
	if err != nil {
		return analysis, fmt.Errorf("scan calculation: %w", err)
	}

	for _, it := range parsed.Items {
		switch {
		case it.Call != nil:
			analysis.Functions = append(analysis.Functions, it.Call.Name)
		case it.Ref != nil:
			analysis.Fields = append(analysis.Fields, FieldRef{
				Table:  strings.Trim(it.Ref.Table, "'"),
				Column: strings.Trim(it.Ref.Column, "[]"),
			})
		}
	}
	return analysis, nil
}

// IsComplex reports whether the calculation calls any of CALCULATE, FILTER,
// SUMX or AVERAGEX. When the text cannot be scanned it falls back to a
// case-insensitive substring check so a lexer gap never hides complexity.
func IsComplex(text string) bool {
	analysis, err := Analyze(text)
	if err != nil {
		upper := strings.ToUpper(text)
		for name := range complexFunctions {
			if strings.Contains(upper, name) {
				return true
			}
		}
		return false
	}
	for _, name := range analysis.Functions {
		if complexFunctions[strings.ToUpper(name)] {
			return true
		}
	}
	return false
}
