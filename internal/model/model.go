// Package model defines the metadata document extracted from BI files.
// Field names follow the document layout emitted in JSON and YAML output.
package model

import "time"

// Known values for Metadata.Type.
const (
	TypePowerBI = "Power BI"
	TypeTableau = "Tableau"
)

// Metadata is the full extraction result for one BI file.
type Metadata struct {
	File     string `json:"file" yaml:"file"`
	Type     string `json:"type" yaml:"type"`
	FilePath string `json:"file_path" yaml:"file_path"`

	DataSources       []DataSource       `json:"data_sources,omitempty" yaml:"data_sources,omitempty"`
	Tables            []Table            `json:"tables,omitempty" yaml:"tables,omitempty"`
	Relationships     []Relationship     `json:"relationships,omitempty" yaml:"relationships,omitempty"`
	Measures          []Measure          `json:"measures,omitempty" yaml:"measures,omitempty"`
	CalculatedColumns []CalculatedColumn `json:"calculated_columns,omitempty" yaml:"calculated_columns,omitempty"`
	CalculatedFields  []CalculatedField  `json:"calculated_fields,omitempty" yaml:"calculated_fields,omitempty"`
	Worksheets        []Worksheet        `json:"worksheets,omitempty" yaml:"worksheets,omitempty"`
	Dashboards        []Dashboard        `json:"dashboards,omitempty" yaml:"dashboards,omitempty"`
	Parameters        []Parameter        `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	PowerQuery        map[string]string  `json:"power_query,omitempty" yaml:"power_query,omitempty"`
	Pages             []Page             `json:"visualizations,omitempty" yaml:"visualizations,omitempty"`
	FieldUsage        map[string][]string `json:"field_usage,omitempty" yaml:"field_usage,omitempty"`

	Processing *Processing `json:"processing,omitempty" yaml:"processing,omitempty"`
}

// DataSource describes where a report's data comes from. Power BI sources
// carry Type/Connection/Query derived from Power Query; Tableau sources
// carry Connections and Fields from the workbook XML.
type DataSource struct {
	Name        string       `json:"name" yaml:"name"`
	Caption     string       `json:"caption,omitempty" yaml:"caption,omitempty"`
	Type        string       `json:"type,omitempty" yaml:"type,omitempty"`
	Connection  string       `json:"connection,omitempty" yaml:"connection,omitempty"`
	Query       string       `json:"query,omitempty" yaml:"query,omitempty"`
	Connections []Connection `json:"connections,omitempty" yaml:"connections,omitempty"`
	Fields      []Field      `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// Connection is one Tableau datasource connection.
type Connection struct {
	Server   string `json:"server,omitempty" yaml:"server,omitempty"`
	Database string `json:"database,omitempty" yaml:"database,omitempty"`
	Type     string `json:"connection_type,omitempty" yaml:"connection_type,omitempty"`
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Port     string `json:"port,omitempty" yaml:"port,omitempty"`
}

// Field is one Tableau datasource field.
type Field struct {
	Name         string   `json:"name" yaml:"name"`
	Caption      string   `json:"caption,omitempty" yaml:"caption,omitempty"`
	DataType     string   `json:"datatype,omitempty" yaml:"datatype,omitempty"`
	Role         string   `json:"role,omitempty" yaml:"role,omitempty"`
	Type         string   `json:"type,omitempty" yaml:"type,omitempty"`
	IsCalculated bool     `json:"is_calculated" yaml:"is_calculated"`
	Calculation  string   `json:"calculation,omitempty" yaml:"calculation,omitempty"`
	Description  string   `json:"description,omitempty" yaml:"description,omitempty"`
	Worksheets   []string `json:"worksheets,omitempty" yaml:"worksheets,omitempty"`
}

// Table groups columns extracted from the data model. ColumnCount and
// HiddenColumns are filled in by the streaming optimizer, not the parsers.
type Table struct {
	Name          string   `json:"name" yaml:"name"`
	Columns       []Column `json:"columns" yaml:"columns"`
	RowCount      *int64   `json:"row_count,omitempty" yaml:"row_count,omitempty"`
	ColumnCount   int      `json:"column_count,omitempty" yaml:"column_count,omitempty"`
	HiddenColumns int      `json:"hidden_columns,omitempty" yaml:"hidden_columns,omitempty"`
}

// Column is one table column.
type Column struct {
	Name        string `json:"name" yaml:"name"`
	DataType    string `json:"data_type" yaml:"data_type"`
	IsHidden    bool   `json:"is_hidden" yaml:"is_hidden"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Relationship links two model tables.
type Relationship struct {
	FromTable            string `json:"from_table" yaml:"from_table"`
	FromColumn           string `json:"from_column" yaml:"from_column"`
	ToTable              string `json:"to_table" yaml:"to_table"`
	ToColumn             string `json:"to_column" yaml:"to_column"`
	Cardinality          string `json:"cardinality,omitempty" yaml:"cardinality,omitempty"`
	IsActive             bool   `json:"is_active" yaml:"is_active"`
	CrossFilterDirection string `json:"cross_filter_direction,omitempty" yaml:"cross_filter_direction,omitempty"`
}

// Measure is one DAX measure. ExpressionLength and HasComplexLogic are
// filled in by the streaming optimizer.
type Measure struct {
	Name             string `json:"name" yaml:"name"`
	Table            string `json:"table,omitempty" yaml:"table,omitempty"`
	Expression       string `json:"expression" yaml:"expression"`
	FormatString     string `json:"format_string,omitempty" yaml:"format_string,omitempty"`
	Description      string `json:"description,omitempty" yaml:"description,omitempty"`
	DisplayFolder    string `json:"display_folder,omitempty" yaml:"display_folder,omitempty"`
	IsHidden         bool   `json:"is_hidden" yaml:"is_hidden"`
	ExpressionLength int    `json:"expression_length,omitempty" yaml:"expression_length,omitempty"`
	HasComplexLogic  bool   `json:"has_complex_logic,omitempty" yaml:"has_complex_logic,omitempty"`
}

// CalculatedColumn is a DAX calculated column.
type CalculatedColumn struct {
	Name        string `json:"name" yaml:"name"`
	Table       string `json:"table,omitempty" yaml:"table,omitempty"`
	Expression  string `json:"expression" yaml:"expression"`
	DataType    string `json:"data_type,omitempty" yaml:"data_type,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// CalculatedField is a Tableau calculated field.
type CalculatedField struct {
	Name           string   `json:"name" yaml:"name"`
	DataSource     string   `json:"datasource,omitempty" yaml:"datasource,omitempty"`
	Calculation    string   `json:"calculation" yaml:"calculation"`
	DataType       string   `json:"datatype,omitempty" yaml:"datatype,omitempty"`
	Role           string   `json:"role,omitempty" yaml:"role,omitempty"`
	Description    string   `json:"description,omitempty" yaml:"description,omitempty"`
	WorksheetsUsed []string `json:"worksheets_used,omitempty" yaml:"worksheets_used,omitempty"`
}

// Worksheet is one Tableau worksheet.
type Worksheet struct {
	Name           string   `json:"name" yaml:"name"`
	DataSource     string   `json:"data_source,omitempty" yaml:"data_source,omitempty"`
	FieldsUsed     []string `json:"fields_used,omitempty" yaml:"fields_used,omitempty"`
	Filters        []string `json:"filters,omitempty" yaml:"filters,omitempty"`
	ParametersUsed []string `json:"parameters_used,omitempty" yaml:"parameters_used,omitempty"`
}

// Dashboard is one Tableau dashboard.
type Dashboard struct {
	Name       string            `json:"name" yaml:"name"`
	Worksheets []string          `json:"worksheets,omitempty" yaml:"worksheets,omitempty"`
	Objects    []DashboardObject `json:"objects,omitempty" yaml:"objects,omitempty"`
}

// DashboardObject is one object placed on a dashboard.
type DashboardObject struct {
	Type string `json:"type" yaml:"type"`
	Name string `json:"name" yaml:"name"`
}

// Parameter is a Tableau workbook parameter.
type Parameter struct {
	Name            string   `json:"name" yaml:"name"`
	DataType        string   `json:"datatype,omitempty" yaml:"datatype,omitempty"`
	DefaultValue    string   `json:"default_value,omitempty" yaml:"default_value,omitempty"`
	AllowableValues []string `json:"allowable_values,omitempty" yaml:"allowable_values,omitempty"`
	Description     string   `json:"description,omitempty" yaml:"description,omitempty"`
}

// Page is one Power BI report page with its visuals.
type Page struct {
	Name    string   `json:"page" yaml:"page"`
	Visuals []Visual `json:"visuals" yaml:"visuals"`
}

// Visual is one visual container on a report page.
type Visual struct {
	Type   string   `json:"type" yaml:"type"`
	Title  string   `json:"title,omitempty" yaml:"title,omitempty"`
	Fields []string `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// Processing records how the document was produced.
type Processing struct {
	RunID    string        `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	ParsedAt time.Time     `json:"parsed_at" yaml:"parsed_at"`
	Duration time.Duration `json:"duration_ns,omitempty" yaml:"duration_ns,omitempty"`
	CacheHit bool          `json:"cache_hit" yaml:"cache_hit"`
	Warnings []string      `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}
