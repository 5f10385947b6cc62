// Package render turns metadata documents into Markdown, JSON, and YAML
// output files.
package render

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/electwix/bi-catalyst/internal/model"
)

const powerBITemplate = `# {{.File}}

**Type:** {{.Type}}
**File Path:** {{code .FilePath}}

## Data Sources
{{range .DataSources}}
### {{.Name}}

- **Type:** {{.Type}}
- **Connection:** {{code .Connection}}
{{end}}
{{- if .Tables}}
## Tables
{{range .Tables}}
### {{.Name}}{{if .ColumnCount}} ({{.ColumnCount}} columns{{if .HiddenColumns}}, {{.HiddenColumns}} hidden{{end}}){{end}}

| Column | Type | Hidden | Description |
| --- | --- | --- | --- |
{{- range .Columns}}
| {{.Name}} | {{.DataType}} | {{if .IsHidden}}yes{{else}}no{{end}} | {{.Description}} |
{{- end}}
{{end}}
{{- end}}
{{- if .Relationships}}
## Relationships

| From | To | Cardinality | Active | Cross Filter |
| --- | --- | --- | --- | --- |
{{- range .Relationships}}
| {{.FromTable}}[{{.FromColumn}}] | {{.ToTable}}[{{.ToColumn}}] | {{.Cardinality}} | {{if .IsActive}}yes{{else}}no{{end}} | {{.CrossFilterDirection}} |
{{- end}}
{{end}}
{{- if .Measures}}
## Measures
{{range .Measures}}
### {{.Name}}

- **Table:** {{.Table}}
{{- if .FormatString}}
- **Format:** {{code .FormatString}}
{{- end}}
{{- if .DisplayFolder}}
- **Folder:** {{.DisplayFolder}}
{{- end}}
{{- if .HasComplexLogic}}
- **Complex logic:** yes
{{- end}}

` + "```dax\n{{.Expression}}\n```" + `
{{end}}
{{- end}}
{{- if .CalculatedColumns}}
## Calculated Columns
{{range .CalculatedColumns}}
### {{.Table}}.{{.Name}}

` + "```dax\n{{.Expression}}\n```" + `
{{end}}
{{- end}}
{{- if .Pages}}
## Report Pages
{{range .Pages}}
### {{.Name}}
{{range .Visuals}}
- **{{.Type}}**{{if .Fields}}: {{join .Fields ", "}}{{end}}
{{- end}}
{{end}}
{{- end}}
{{- if .PowerQuery}}
## Power Query
{{range $name, $query := .PowerQuery}}
### {{$name}}

` + "```m\n{{$query}}\n```" + `
{{end}}
{{- end}}
`

const tableauTemplate = `# {{.File}}

**Type:** {{.Type}}
**File Path:** {{code .FilePath}}

## Data Sources
{{range .DataSources}}
### {{.Name}}
{{range .Connections}}
- **Connection:** {{.Type}}{{if .Server}} on {{code .Server}}{{end}}{{if .Database}} ({{.Database}}){{end}}
{{- end}}
{{- if .Fields}}

| Field | Type | Role | Calculated |
| --- | --- | --- | --- |
{{- range .Fields}}
| {{.Caption}} | {{.DataType}} | {{.Role}} | {{if .IsCalculated}}yes{{else}}no{{end}} |
{{- end}}
{{- end}}
{{end}}
{{- if .CalculatedFields}}
## Calculated Fields
{{range .CalculatedFields}}
### {{.Name}}

- **Data Source:** {{.DataSource}}
{{- if .WorksheetsUsed}}
- **Used in:** {{join .WorksheetsUsed ", "}}
{{- end}}

` + "```text\n{{.Calculation}}\n```" + `
{{end}}
{{- end}}
{{- if .Worksheets}}
## Worksheets
{{range .Worksheets}}
### {{.Name}}
{{if .DataSource}}
- **Data Source:** {{.DataSource}}
{{- end}}
{{- if .FieldsUsed}}
- **Fields:** {{join .FieldsUsed ", "}}
{{- end}}
{{- if .Filters}}
- **Filters:** {{join .Filters ", "}}
{{- end}}
{{end}}
{{- end}}
{{- if .Dashboards}}
## Dashboards
{{range .Dashboards}}
### {{.Name}}
{{if .Worksheets}}
- **Worksheets:** {{join .Worksheets ", "}}
{{- end}}
{{end}}
{{- end}}
{{- if .Parameters}}
## Parameters

| Name | Type | Default | Allowed Values |
| --- | --- | --- | --- |
{{- range .Parameters}}
| {{.Name}} | {{.DataType}} | {{.DefaultValue}} | {{join .AllowableValues ", "}} |
{{- end}}
{{end}}
`

const genericTemplate = `# {{.File}}

**Type:** {{.Type}}
**File Path:** {{code .FilePath}}

## Summary

- **Data Sources:** {{len .DataSources}}
- **Tables:** {{len .Tables}}
- **Measures:** {{len .Measures}}
- **Worksheets:** {{len .Worksheets}}
`

var templateFuncs = template.FuncMap{
	"join": strings.Join,
	"code": func(s string) string {
		if s == "" {
			return ""
		}
		return "`" + s + "`"
	},
}

var (
	powerBITmpl = template.Must(template.New("powerbi").Funcs(templateFuncs).Parse(powerBITemplate))
	tableauTmpl = template.Must(template.New("tableau").Funcs(templateFuncs).Parse(tableauTemplate))
	genericTmpl = template.Must(template.New("generic").Funcs(templateFuncs).Parse(genericTemplate))
)

// Markdown renders a metadata document as cleaned Markdown, choosing the
// layout by document type.
func Markdown(md *model.Metadata) (string, error) {
	tmpl := genericTmpl
	switch md.Type {
	case model.TypePowerBI:
		tmpl = powerBITmpl
	case model.TypeTableau:
		tmpl = tableauTmpl
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, md); err != nil {
		return "", fmt.Errorf("render markdown for %s: %w", md.File, err)
	}
	return Clean(buf.String()), nil
}
