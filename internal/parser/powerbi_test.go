package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/electwix/bi-catalyst/internal/archive"
	"github.com/electwix/bi-catalyst/internal/model"
)

const testLayout = `{"sections":[{"displayName":"Overview","visualContainers":[` +
	`{"config":"{\"singleVisual\":{\"visualType\":\"barChart\",\"projections\":{\"Values\":[{\"queryRef\":\"Sales.Amount\"}]}}}"}]}]}`

const testSchema = `{
  "model": {
    "tables": [
      {
        "name": "Sales",
        "columns": [
          {"name": "ID", "dataType": "int64"},
          {"name": "Internal", "dataType": "string", "isHidden": true},
          {"name": "Margin", "dataType": "double", "type": "calculated",
           "expression": ["Sales[Amount] -", "Sales[Cost]"]}
        ],
        "measures": [
          {"name": "Total Sales",
           "expression": ["CALCULATE(", "  SUM(Sales[Amount])", ")"],
           "formatString": "#,0.00"}
        ],
        "partitions": [
          {"name": "Sales-p1",
           "source": {"type": "m",
             "expression": "let Source = Sql.Database(\"srv\", \"db\") in Source"}}
        ]
      },
      {"name": "Dates", "columns": [{"name": "Date", "dataType": "dateTime"}]}
    ],
    "relationships": [
      {"fromTable": "Sales", "fromColumn": "DateKey",
       "toTable": "Dates", "toColumn": "Date",
       "crossFilteringBehavior": "bothDirections"}
    ]
  }
}`

func writePBIX(t *testing.T, members map[string][]byte) string {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range members {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}

	path := filepath.Join(t.TempDir(), "report.pbix")
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

// encodeUTF16LE renders s the way Power BI writes the Layout member:
// UTF-16LE with a BOM.
func encodeUTF16LE(s string) []byte {
	out := []byte{0xFF, 0xFE}
	for _, r := range s {
		out = append(out, byte(r), byte(r>>8))
	}
	return out
}

func TestPowerBI_ParseFullContainer(t *testing.T) {
	t.Parallel()

	path := writePBIX(t, map[string][]byte{
		"Report/Layout":   encodeUTF16LE(testLayout),
		"DataModelSchema": []byte(testSchema),
	})

	p := NewPowerBI(nil, nil)
	md, err := p.Parse(context.Background(), path)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	if md.Type != model.TypePowerBI || md.File != "report.pbix" {
		t.Errorf("header = %s/%s", md.Type, md.File)
	}

	wantTables := []model.Table{
		{Name: "Sales", Columns: []model.Column{
			{Name: "ID", DataType: "int64"},
			{Name: "Internal", DataType: "string", IsHidden: true},
		}},
		{Name: "Dates", Columns: []model.Column{
			{Name: "Date", DataType: "dateTime"},
		}},
	}
	if diff := cmp.Diff(wantTables, md.Tables); diff != "" {
		t.Errorf("tables mismatch (-want +got):\n%s", diff)
	}

	if len(md.CalculatedColumns) != 1 || md.CalculatedColumns[0].Name != "Margin" {
		t.Fatalf("calculated columns = %+v", md.CalculatedColumns)
	}
	if md.CalculatedColumns[0].Expression != "Sales[Amount] -\nSales[Cost]" {
		t.Errorf("calculated expression = %q", md.CalculatedColumns[0].Expression)
	}

	if len(md.Measures) != 1 {
		t.Fatalf("measures = %+v", md.Measures)
	}
	measure := md.Measures[0]
	if measure.Name != "Total Sales" || measure.Table != "Sales" || measure.FormatString != "#,0.00" {
		t.Errorf("measure = %+v", measure)
	}

	wantRels := []model.Relationship{{
		FromTable: "Sales", FromColumn: "DateKey",
		ToTable: "Dates", ToColumn: "Date",
		Cardinality: "many-to-one", IsActive: true,
		CrossFilterDirection: "bothDirections",
	}}
	if diff := cmp.Diff(wantRels, md.Relationships); diff != "" {
		t.Errorf("relationships mismatch (-want +got):\n%s", diff)
	}

	if len(md.Pages) != 1 || md.Pages[0].Name != "Overview" {
		t.Fatalf("pages = %+v", md.Pages)
	}
	visual := md.Pages[0].Visuals[0]
	if visual.Type != "barChart" || len(visual.Fields) != 1 || visual.Fields[0] != "Sales.Amount" {
		t.Errorf("visual = %+v", visual)
	}

	if len(md.DataSources) != 1 {
		t.Fatalf("data sources = %+v", md.DataSources)
	}
	if md.DataSources[0].Type != "SQL Server" || md.DataSources[0].Name != "Sales" {
		t.Errorf("data source = %+v", md.DataSources[0])
	}
}

func TestPowerBI_LayoutControlCharsScrubbed(t *testing.T) {
	t.Parallel()

	// Interleave the control characters Power BI leaves in layout JSON.
	dirty := "\x00" + `{"sections":` + "\x1d" + `[{"displayName":"P1","visualContainers":[]}]}` + "\x19"
	path := writePBIX(t, map[string][]byte{
		"Report/Layout": []byte(dirty),
	})

	p := NewPowerBI(nil, nil)
	md, err := p.Parse(context.Background(), path)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if len(md.Pages) != 1 || md.Pages[0].Name != "P1" {
		t.Errorf("pages = %+v", md.Pages)
	}
}

func TestPowerBI_MissingMembersFallBack(t *testing.T) {
	t.Parallel()

	path := writePBIX(t, map[string][]byte{
		"Metadata": []byte("{}"),
	})

	p := NewPowerBI(nil, nil)
	md, err := p.Parse(context.Background(), path)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	if len(md.DataSources) != 1 || md.DataSources[0].Name != "Data Model" {
		t.Errorf("expected generic data source, got %+v", md.DataSources)
	}
	if md.Processing == nil || len(md.Processing.Warnings) != 2 {
		t.Errorf("expected warnings for both missing members, got %+v", md.Processing)
	}
}

func TestPowerBI_SecurityViolationAborts(t *testing.T) {
	t.Parallel()

	path := writePBIX(t, map[string][]byte{
		"../escape": []byte("x"),
	})

	p := NewPowerBI(nil, nil)
	_, err := p.Parse(context.Background(), path)

	var traversal archive.PathTraversalError
	if !errors.As(err, &traversal) {
		t.Fatalf("Parse error = %v, want PathTraversalError", err)
	}
}

func TestPowerBI_CorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "broken.pbix")
	if err := os.WriteFile(path, []byte("not a zip"), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	p := NewPowerBI(nil, nil)
	if _, err := p.Parse(context.Background(), path); err == nil {
		t.Fatal("expected error for corrupt container")
	}
}
