package parser

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/electwix/bi-catalyst/internal/archive"
	"github.com/electwix/bi-catalyst/internal/logging"
	"github.com/electwix/bi-catalyst/internal/model"
)

// Archive members a .pbix carries.
const (
	pbixLayoutMember = "Report/Layout"
	pbixSchemaMember = "DataModelSchema"
)

// mCodeSnippetLen bounds the connection text derived from a Power Query.
const mCodeSnippetLen = 200

// PowerBI parses .pbix containers. The binary DataModel member is never
// decoded; extraction works over the JSON members of the archive.
type PowerBI struct {
	validator *archive.Validator
	log       logging.Logger
}

// NewPowerBI creates a PowerBI parser. A nil logger is replaced with a
// no-op one.
func NewPowerBI(validator *archive.Validator, log logging.Logger) *PowerBI {
	if validator == nil {
		validator = archive.NewValidator(archive.DefaultLimits())
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &PowerBI{validator: validator, log: log}
}

// Parse validates the container and extracts metadata from its JSON
// members. A missing Layout or DataModelSchema is a warning, not an error;
// a container failing security validation is.
func (p *PowerBI) Parse(ctx context.Context, path string) (*model.Metadata, error) {
	p.log.Info("parsing Power BI file", "file", filepath.Base(path))

	if _, err := p.validator.ValidateArchive(path); err != nil {
		return nil, err
	}

	reader, err := zip.OpenReader(path)
	if err != nil {
		return nil, ParseError{Path: path, Err: err}
	}
	defer reader.Close()

	md := &model.Metadata{
		File:     filepath.Base(path),
		Type:     model.TypePowerBI,
		FilePath: path,
	}
	var warnings []string

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if raw, ok := readZipMember(&reader.Reader, pbixLayoutMember); ok {
		pages, err := parseLayout(raw)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("layout unreadable: %v", err))
			p.log.Warn("layout member unreadable", "file", md.File, "error", err)
		} else {
			md.Pages = pages
		}
	} else {
		warnings = append(warnings, "no Report/Layout member")
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if raw, ok := readZipMember(&reader.Reader, pbixSchemaMember); ok {
		if err := p.applyDataModelSchema(md, raw); err != nil {
			warnings = append(warnings, fmt.Sprintf("data model schema unreadable: %v", err))
			p.log.Warn("schema member unreadable", "file", md.File, "error", err)
		}
	} else {
		warnings = append(warnings, "no DataModelSchema member")
	}

	md.DataSources = dataSourcesFromQueries(md.PowerQuery)
	if len(warnings) > 0 {
		md.Processing = &model.Processing{Warnings: warnings}
	}

	p.log.Info("Power BI extraction complete", "file", md.File,
		"tables", len(md.Tables), "measures", len(md.Measures),
		"relationships", len(md.Relationships), "pages", len(md.Pages))
	return md, nil
}

// --- Report/Layout ---

type layoutDoc struct {
	Sections []layoutSection `json:"sections"`
}

type layoutSection struct {
	DisplayName      string            `json:"displayName"`
	VisualContainers []visualContainer `json:"visualContainers"`
}

type visualContainer struct {
	Config json.RawMessage `json:"config"`
}

type visualConfig struct {
	SingleVisual struct {
		VisualType  string                    `json:"visualType"`
		Projections map[string][]visualColumn `json:"projections"`
	} `json:"singleVisual"`
}

type visualColumn struct {
	QueryRef string `json:"queryRef"`
}

func parseLayout(raw []byte) ([]model.Page, error) {
	text, err := decodeMemberText(raw)
	if err != nil {
		return nil, err
	}

	var doc layoutDoc
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("decode layout JSON: %w", err)
	}

	pages := make([]model.Page, 0, len(doc.Sections))
	for i, section := range doc.Sections {
		name := section.DisplayName
		if name == "" {
			name = fmt.Sprintf("Page %d", i+1)
		}

		visuals := make([]model.Visual, 0, len(section.VisualContainers))
		for _, container := range section.VisualContainers {
			if visual, ok := parseVisual(container.Config); ok {
				visuals = append(visuals, visual)
			}
		}
		pages = append(pages, model.Page{Name: name, Visuals: visuals})
	}
	return pages, nil
}

func parseVisual(raw json.RawMessage) (model.Visual, bool) {
	if len(raw) == 0 {
		return model.Visual{}, false
	}
	// The config value is usually a string holding JSON, occasionally an
	// object directly.
	if raw[0] == '"' {
		var embedded string
		if err := json.Unmarshal(raw, &embedded); err != nil {
			return model.Visual{}, false
		}
		raw = json.RawMessage(embedded)
	}

	var config visualConfig
	if err := json.Unmarshal(raw, &config); err != nil {
		return model.Visual{}, false
	}

	visualType := config.SingleVisual.VisualType
	if visualType == "" {
		visualType = "Unknown"
	}

	var fields []string
	for _, projection := range config.SingleVisual.Projections {
		for _, column := range projection {
			if column.QueryRef != "" {
				fields = append(fields, column.QueryRef)
			}
		}
	}

	return model.Visual{
		Type:   visualType,
		Title:  visualType + " Visual",
		Fields: fields,
	}, true
}

// --- DataModelSchema ---

// textLines accepts a JSON string or an array of line strings.
type textLines string

func (t *textLines) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '[' {
		var lines []string
		if err := json.Unmarshal(data, &lines); err != nil {
			return err
		}
		*t = textLines(strings.Join(lines, "\n"))
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*t = textLines(s)
	return nil
}

type dataModelSchema struct {
	Model struct {
		Tables        []dmsTable        `json:"tables"`
		Relationships []dmsRelationship `json:"relationships"`
		Expressions   []dmsExpression   `json:"expressions"`
	} `json:"model"`
}

type dmsTable struct {
	Name       string         `json:"name"`
	IsHidden   bool           `json:"isHidden"`
	Columns    []dmsColumn    `json:"columns"`
	Measures   []dmsMeasure   `json:"measures"`
	Partitions []dmsPartition `json:"partitions"`
}

type dmsColumn struct {
	Name        string    `json:"name"`
	DataType    string    `json:"dataType"`
	Type        string    `json:"type"`
	IsHidden    bool      `json:"isHidden"`
	Description string    `json:"description"`
	Expression  textLines `json:"expression"`
}

type dmsMeasure struct {
	Name          string    `json:"name"`
	Expression    textLines `json:"expression"`
	FormatString  string    `json:"formatString"`
	Description   string    `json:"description"`
	DisplayFolder string    `json:"displayFolder"`
	IsHidden      bool      `json:"isHidden"`
}

type dmsPartition struct {
	Name   string `json:"name"`
	Source struct {
		Type       string    `json:"type"`
		Expression textLines `json:"expression"`
	} `json:"source"`
}

type dmsRelationship struct {
	FromTable              string `json:"fromTable"`
	FromColumn             string `json:"fromColumn"`
	ToTable                string `json:"toTable"`
	ToColumn               string `json:"toColumn"`
	FromCardinality        string `json:"fromCardinality"`
	ToCardinality          string `json:"toCardinality"`
	CrossFilteringBehavior string `json:"crossFilteringBehavior"`
	IsActive               *bool  `json:"isActive"`
}

func (p *PowerBI) applyDataModelSchema(md *model.Metadata, raw []byte) error {
	text, err := decodeMemberText(raw)
	if err != nil {
		return err
	}

	var schema dataModelSchema
	if err := json.Unmarshal([]byte(text), &schema); err != nil {
		return fmt.Errorf("decode data model schema: %w", err)
	}

	queries := make(map[string]string)
	for _, table := range schema.Model.Tables {
		columns := make([]model.Column, 0, len(table.Columns))
		for _, col := range table.Columns {
			if col.Type == "calculated" {
				md.CalculatedColumns = append(md.CalculatedColumns, model.CalculatedColumn{
					Name:        col.Name,
					Table:       table.Name,
					Expression:  string(col.Expression),
					DataType:    col.DataType,
					Description: col.Description,
				})
				continue
			}
			columns = append(columns, model.Column{
				Name:        col.Name,
				DataType:    col.DataType,
				IsHidden:    col.IsHidden,
				Description: col.Description,
			})
		}
		md.Tables = append(md.Tables, model.Table{Name: table.Name, Columns: columns})

		for _, measure := range table.Measures {
			md.Measures = append(md.Measures, model.Measure{
				Name:          measure.Name,
				Table:         table.Name,
				Expression:    string(measure.Expression),
				FormatString:  measure.FormatString,
				Description:   measure.Description,
				DisplayFolder: measure.DisplayFolder,
				IsHidden:      measure.IsHidden,
			})
		}
		for _, partition := range table.Partitions {
			if partition.Source.Type == "m" && partition.Source.Expression != "" {
				queries[table.Name] = string(partition.Source.Expression)
			}
		}
	}

	for _, rel := range schema.Model.Relationships {
		from, to := rel.FromCardinality, rel.ToCardinality
		if from == "" {
			from = "many"
		}
		if to == "" {
			to = "one"
		}
		cardinality := from + "-to-" + to
		active := rel.IsActive == nil || *rel.IsActive
		md.Relationships = append(md.Relationships, model.Relationship{
			FromTable:            rel.FromTable,
			FromColumn:           rel.FromColumn,
			ToTable:              rel.ToTable,
			ToColumn:             rel.ToColumn,
			Cardinality:          cardinality,
			IsActive:             active,
			CrossFilterDirection: rel.CrossFilteringBehavior,
		})
	}

	for _, expression := range schema.Model.Expressions {
		if expression.Expression != "" {
			queries[expression.Name] = string(expression.Expression)
		}
	}
	if len(queries) > 0 {
		md.PowerQuery = queries
	}
	return nil
}

type dmsExpression struct {
	Name       string    `json:"name"`
	Kind       string    `json:"kind"`
	Expression textLines `json:"expression"`
}

// dataSourcesFromQueries derives source descriptors from Power Query text.
// Without any query the model gets a single generic entry.
func dataSourcesFromQueries(queries map[string]string) []model.DataSource {
	names := make([]string, 0, len(queries))
	for name := range queries {
		names = append(names, name)
	}
	sort.Strings(names)

	sources := make([]model.DataSource, 0, len(names))
	for _, name := range names {
		query := queries[name]
		sources = append(sources, model.DataSource{
			Name:       name,
			Type:       mCodeSourceType(query),
			Connection: mCodeSnippet(query),
			Query:      query,
		})
	}
	if len(sources) == 0 {
		return []model.DataSource{{
			Name:       "Data Model",
			Type:       "Imported Data",
			Connection: "Data imported into model",
		}}
	}
	return sources
}

func mCodeSourceType(mCode string) string {
	switch {
	case strings.Contains(mCode, "Sql.Database"):
		return "SQL Server"
	case strings.Contains(mCode, "Excel.Workbook"):
		return "Excel"
	case strings.Contains(mCode, "Web.Contents"):
		return "Web"
	case strings.Contains(mCode, "Csv.Document"):
		return "CSV"
	default:
		return "Other"
	}
}

func mCodeSnippet(mCode string) string {
	if len(mCode) > mCodeSnippetLen {
		return mCode[:mCodeSnippetLen] + "..."
	}
	return mCode
}

// --- member decoding ---

func readZipMember(reader *zip.Reader, name string) ([]byte, bool) {
	for _, file := range reader.File {
		if file.Name != name {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, false
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, false
		}
		return data, true
	}
	return nil, false
}

// decodeMemberText decodes a JSON member as UTF-8, falling back to UTF-16LE
// (the Layout member's usual encoding), and strips the control characters
// Power BI leaves embedded in layout JSON.
func decodeMemberText(raw []byte) (string, error) {
	if len(raw) >= 2 && raw[0] == 0xFF && raw[1] == 0xFE {
		return scrubControlChars(decodeUTF16LE(raw[2:])), nil
	}
	if utf8.Valid(raw) && !looksUTF16LE(raw) {
		return scrubControlChars(string(raw)), nil
	}
	if len(raw)%2 == 0 {
		return scrubControlChars(decodeUTF16LE(raw)), nil
	}
	return "", fmt.Errorf("member is neither UTF-8 nor UTF-16LE")
}

// looksUTF16LE detects BOM-less UTF-16LE ASCII text by its NUL high bytes.
func looksUTF16LE(raw []byte) bool {
	if len(raw) < 4 || len(raw)%2 != 0 {
		return false
	}
	zeros := 0
	limit := min(len(raw), 64)
	for i := 1; i < limit; i += 2 {
		if raw[i] == 0 {
			zeros++
		}
	}
	return zeros > limit/4
}

func decodeUTF16LE(raw []byte) string {
	units := make([]uint16, 0, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		units = append(units, uint16(raw[i])|uint16(raw[i+1])<<8)
	}
	return string(utf16.Decode(units))
}

var controlCharReplacer = strings.NewReplacer("\x00", "", "\x1c", "", "\x1d", "", "\x19", "")

func scrubControlChars(s string) string {
	return controlCharReplacer.Replace(s)
}
