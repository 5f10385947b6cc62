package parser

import (
	"context"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/electwix/bi-catalyst/internal/archive"
	"github.com/electwix/bi-catalyst/internal/logging"
	"github.com/electwix/bi-catalyst/internal/model"
)

// parametersDatasource is the reserved datasource Tableau stores workbook
// parameters under.
const parametersDatasource = "Parameters"

// Tableau parses .twb workbooks and .twbx packaged workbooks.
type Tableau struct {
	validator *archive.Validator
	log       logging.Logger
}

// NewTableau creates a Tableau parser. A nil logger is replaced with a
// no-op one.
func NewTableau(validator *archive.Validator, log logging.Logger) *Tableau {
	if validator == nil {
		validator = archive.NewValidator(archive.DefaultLimits())
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Tableau{validator: validator, log: log}
}

// Parse extracts metadata from a Tableau workbook. Packaged workbooks are
// validated as archives first, then the embedded .twb is extracted into a
// temporary directory that is removed before returning.
func (t *Tableau) Parse(ctx context.Context, path string) (*model.Metadata, error) {
	t.log.Info("parsing Tableau file", "file", filepath.Base(path))

	workbookPath := path
	if Detect(path) == KindTableauPackaged {
		extracted, cleanup, err := t.extractWorkbook(path)
		if err != nil {
			return nil, err
		}
		defer cleanup()
		workbookPath = extracted
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(workbookPath)
	if err != nil {
		return nil, ParseError{Path: path, Err: err}
	}

	var workbook twbWorkbook
	if err := xml.Unmarshal(data, &workbook); err != nil {
		return nil, ParseError{Path: path, Err: fmt.Errorf("decode workbook XML: %w", err)}
	}

	md := &model.Metadata{
		File:     filepath.Base(path),
		Type:     model.TypeTableau,
		FilePath: path,
	}
	t.applyWorkbook(md, &workbook)

	t.log.Info("Tableau extraction complete", "file", md.File,
		"data_sources", len(md.DataSources), "worksheets", len(md.Worksheets),
		"dashboards", len(md.Dashboards), "calculated_fields", len(md.CalculatedFields))
	return md, nil
}

// extractWorkbook pulls the first .twb member out of a packaged workbook.
func (t *Tableau) extractWorkbook(path string) (string, func(), error) {
	members, err := t.validator.ValidateArchive(path)
	if err != nil {
		return "", nil, err
	}

	var workbookMember string
	for _, member := range members {
		if strings.EqualFold(filepath.Ext(member.Name), ".twb") {
			workbookMember = member.Name
			break
		}
	}
	if workbookMember == "" {
		return "", nil, ParseError{Path: path, Err: fmt.Errorf("no .twb member in packaged workbook")}
	}

	dir, cleanup, err := archive.TempDir("bi-catalyst-twbx-")
	if err != nil {
		return "", nil, err
	}

	extracted, err := t.validator.Extract(path, workbookMember, dir, []string{".twb"})
	if err != nil {
		cleanup()
		return "", nil, err
	}
	return extracted, cleanup, nil
}

// --- workbook XML ---

type twbWorkbook struct {
	DataSources []twbDatasource `xml:"datasources>datasource"`
	Worksheets  []twbWorksheet  `xml:"worksheets>worksheet"`
	Dashboards  []twbDashboard  `xml:"dashboards>dashboard"`
}

type twbDatasource struct {
	Name        string          `xml:"name,attr"`
	Caption     string          `xml:"caption,attr"`
	Connections []twbConnection `xml:"connection"`
	Columns     []twbColumn     `xml:"column"`
}

type twbConnection struct {
	Class    string `xml:"class,attr"`
	Server   string `xml:"server,attr"`
	DBName   string `xml:"dbname,attr"`
	Username string `xml:"username,attr"`
	Port     string `xml:"port,attr"`
}

type twbColumn struct {
	Name        string          `xml:"name,attr"`
	Caption     string          `xml:"caption,attr"`
	Datatype    string          `xml:"datatype,attr"`
	Role        string          `xml:"role,attr"`
	Type        string          `xml:"type,attr"`
	Value       string          `xml:"value,attr"`
	Calculation *twbCalculation `xml:"calculation"`
	Description string          `xml:"desc>formatted-text>run"`
	Members     []twbMember     `xml:"members>member"`
}

type twbMember struct {
	Value string `xml:"value,attr"`
}

type twbCalculation struct {
	Formula string `xml:"formula,attr"`
}

type twbWorksheet struct {
	Name         string          `xml:"name,attr"`
	Dependencies []twbDependency `xml:"table>view>datasource-dependencies"`
	Filters      []twbFilter     `xml:"table>view>filter"`
}

type twbDependency struct {
	Datasource string      `xml:"datasource,attr"`
	Columns    []twbColumn `xml:"column"`
}

type twbFilter struct {
	Column string `xml:"column,attr"`
}

type twbDashboard struct {
	Name  string    `xml:"name,attr"`
	Zones []twbZone `xml:"zones>zone"`
}

type twbZone struct {
	Name  string    `xml:"name,attr"`
	Zones []twbZone `xml:"zone"`
}

func (t *Tableau) applyWorkbook(md *model.Metadata, workbook *twbWorkbook) {
	fieldUsage := make(map[string][]string)

	for _, ds := range workbook.DataSources {
		if ds.Name == parametersDatasource || ds.Caption == parametersDatasource {
			md.Parameters = append(md.Parameters, parametersFromColumns(ds.Columns)...)
			continue
		}

		source := model.DataSource{
			Name:    displayName(ds.Name, ds.Caption),
			Caption: ds.Caption,
		}
		for _, conn := range ds.Connections {
			source.Connections = append(source.Connections, model.Connection{
				Server:   conn.Server,
				Database: conn.DBName,
				Type:     conn.Class,
				Username: conn.Username,
				Port:     conn.Port,
			})
		}
		for _, col := range ds.Columns {
			field := fieldFromColumn(col)
			source.Fields = append(source.Fields, field)

			if field.IsCalculated {
				md.CalculatedFields = append(md.CalculatedFields, model.CalculatedField{
					Name:        field.Name,
					DataSource:  source.Name,
					Calculation: field.Calculation,
					DataType:    field.DataType,
					Role:        field.Role,
					Description: field.Description,
				})
			}
		}
		md.DataSources = append(md.DataSources, source)
	}

	for _, ws := range workbook.Worksheets {
		worksheet := model.Worksheet{Name: ws.Name}
		for _, dep := range ws.Dependencies {
			if worksheet.DataSource == "" {
				worksheet.DataSource = dep.Datasource
			}
			for _, col := range dep.Columns {
				name := trimFieldName(col.Name)
				worksheet.FieldsUsed = append(worksheet.FieldsUsed, name)
				fieldUsage[name] = append(fieldUsage[name], ws.Name)
			}
		}
		for _, filter := range ws.Filters {
			worksheet.Filters = append(worksheet.Filters, trimFieldName(filter.Column))
		}
		md.Worksheets = append(md.Worksheets, worksheet)
	}

	worksheetNames := make(map[string]bool, len(md.Worksheets))
	for _, ws := range md.Worksheets {
		worksheetNames[ws.Name] = true
	}
	for _, dashboard := range workbook.Dashboards {
		board := model.Dashboard{Name: dashboard.Name}
		for _, zone := range flattenZones(dashboard.Zones) {
			if zone.Name == "" {
				continue
			}
			if worksheetNames[zone.Name] {
				board.Worksheets = append(board.Worksheets, zone.Name)
				board.Objects = append(board.Objects, model.DashboardObject{Type: "worksheet", Name: zone.Name})
			} else {
				board.Objects = append(board.Objects, model.DashboardObject{Type: "object", Name: zone.Name})
			}
		}
		md.Dashboards = append(md.Dashboards, board)
	}

	if len(fieldUsage) > 0 {
		for name := range fieldUsage {
			sort.Strings(fieldUsage[name])
		}
		md.FieldUsage = fieldUsage

		// Back-fill worksheet membership onto calculated fields.
		for i := range md.CalculatedFields {
			md.CalculatedFields[i].WorksheetsUsed = fieldUsage[md.CalculatedFields[i].Name]
		}
	}
}

func fieldFromColumn(col twbColumn) model.Field {
	name := trimFieldName(col.Name)
	field := model.Field{
		Name:        name,
		Caption:     col.Caption,
		DataType:    orUnknown(col.Datatype),
		Role:        orUnknown(col.Role),
		Type:        orUnknown(col.Type),
		Description: strings.TrimSpace(col.Description),
	}
	if field.Caption == "" {
		field.Caption = name
	}
	if col.Calculation != nil && col.Calculation.Formula != "" {
		field.IsCalculated = true
		field.Calculation = col.Calculation.Formula
	}
	return field
}

func parametersFromColumns(columns []twbColumn) []model.Parameter {
	params := make([]model.Parameter, 0, len(columns))
	for _, col := range columns {
		name := col.Caption
		if name == "" {
			name = trimFieldName(col.Name)
		}
		var allowable []string
		for _, member := range col.Members {
			allowable = append(allowable, member.Value)
		}
		params = append(params, model.Parameter{
			Name:            name,
			DataType:        orUnknown(col.Datatype),
			DefaultValue:    col.Value,
			AllowableValues: allowable,
			Description:     strings.TrimSpace(col.Description),
		})
	}
	return params
}

func flattenZones(zones []twbZone) []twbZone {
	var flat []twbZone
	for _, zone := range zones {
		flat = append(flat, zone)
		flat = append(flat, flattenZones(zone.Zones)...)
	}
	return flat
}

// trimFieldName strips the [brackets] Tableau wraps internal names in.
func trimFieldName(name string) string {
	return strings.Trim(name, "[]")
}

func displayName(name, caption string) string {
	if caption != "" {
		return caption
	}
	return name
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
