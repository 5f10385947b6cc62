// Package parser extracts metadata documents from BI files. Detection is by
// extension; each parser is best-effort and records what it could not read
// as processing warnings rather than failing the whole file.
package parser

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/electwix/bi-catalyst/internal/model"
)

// Kind identifies a supported BI file format.
type Kind int

// Supported file kinds.
const (
	KindUnknown Kind = iota
	KindPowerBI
	KindTableauWorkbook
	KindTableauPackaged
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindPowerBI:
		return "powerbi"
	case KindTableauWorkbook:
		return "tableau-workbook"
	case KindTableauPackaged:
		return "tableau-packaged"
	default:
		return "unknown"
	}
}

// Detect classifies a path by its lowercased extension.
func Detect(path string) Kind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pbix":
		return KindPowerBI
	case ".twb":
		return KindTableauWorkbook
	case ".twbx":
		return KindTableauPackaged
	default:
		return KindUnknown
	}
}

// Parser extracts a metadata document from one BI file.
type Parser interface {
	Parse(ctx context.Context, path string) (*model.Metadata, error)
}

// UnsupportedFormatError reports a path no parser handles.
type UnsupportedFormatError struct {
	Path string
}

// Error implements the error interface.
func (e UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported file format: %s", e.Path)
}

// ParseError reports a file that could not be parsed.
type ParseError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e ParseError) Unwrap() error { return e.Err }
