// Package rankingstest builds keyword ranking exports for tests.
package rankingstest

import (
	"fmt"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/angelmondragon/rankings-ingest/internal/rankings"
)

// Row is one keyword row. Metrics is keyed by fixed column header, Ranks by date header
// as it appears in Sheet.DateHeaders (formatted with fmt.Sprint).
type Row struct {
	ASIN    string
	SKU     string
	Title   string
	Keyword string
	Tracked string
	Metrics map[string]any
	Ranks   map[string]any
}

// Sheet describes one worksheet. DateHeaders are written after the fixed columns; use
// strings for text headers and numbers for Excel serial dates.
type Sheet struct {
	DateHeaders []any
	Rows        []Row
	OmitColumns []string
}

// Build renders an export with the Organic and Sponsored sheets.
func Build(organic, sponsored Sheet) ([]byte, error) {
	return BuildSheets(map[string]Sheet{
		rankings.SheetOrganic:   organic,
		rankings.SheetSponsored: sponsored,
	}, rankings.SheetOrganic, rankings.SheetSponsored)
}

// MustBuild is Build for tests.
func MustBuild(tb testing.TB, organic, sponsored Sheet) []byte {
	tb.Helper()
	payload, err := Build(organic, sponsored)
	if err != nil {
		tb.Fatalf("build workbook: %v", err)
	}
	return payload
}

// BuildSheets renders the named sheets in order.
func BuildSheets(sheets map[string]Sheet, order ...string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	for i, name := range order {
		sheet, ok := sheets[name]
		if !ok {
			return nil, fmt.Errorf("sheet %q not described", name)
		}
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), name); err != nil {
				return nil, err
			}
		} else if _, err := f.NewSheet(name); err != nil {
			return nil, err
		}
		if err := writeSheet(f, name, sheet); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeSheet(f *excelize.File, name string, sheet Sheet) error {
	omit := map[string]bool{}
	for _, col := range sheet.OmitColumns {
		omit[col] = true
	}
	columns := []string{}
	for _, col := range rankings.FixedColumns {
		if !omit[col] {
			columns = append(columns, col)
		}
	}

	header := make([]any, 0, len(columns)+len(sheet.DateHeaders))
	for _, col := range columns {
		header = append(header, col)
	}
	header = append(header, sheet.DateHeaders...)
	if err := f.SetSheetRow(name, "A1", &header); err != nil {
		return err
	}

	for i, row := range sheet.Rows {
		values := make([]any, 0, len(header))
		for _, col := range columns {
			values = append(values, fixedValue(row, col))
		}
		for _, h := range sheet.DateHeaders {
			v, ok := row.Ranks[fmt.Sprint(h)]
			if !ok {
				v = ""
			}
			values = append(values, v)
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(name, cell, &values); err != nil {
			return err
		}
	}
	return nil
}

func fixedValue(row Row, col string) any {
	switch col {
	case rankings.ColASIN:
		return row.ASIN
	case rankings.ColSKU:
		return row.SKU
	case rankings.ColTitle:
		return row.Title
	case rankings.ColKeyword:
		return row.Keyword
	case rankings.ColTracked:
		return row.Tracked
	}
	if v, ok := row.Metrics[col]; ok {
		return v
	}
	return ""
}

// ShoeRack returns a three-keyword export where "shoe rack" appears in both sheets with
// spend 10 (Sponsored) and 12 (Organic), organic rank 15 and sponsored rank 97+ on
// 2026-01-05.
func ShoeRack(tb testing.TB) []byte {
	tb.Helper()
	dates := []any{"2026-01-05", "2026-01-04"}
	organic := Sheet{
		DateHeaders: dates,
		Rows: []Row{
			{ASIN: "B00SHOE01", SKU: "RACK-1", Title: "Bamboo shoe rack", Keyword: "shoe rack", Tracked: "Yes",
				Metrics: map[string]any{rankings.ColSpent: 12, rankings.ColSales: 240.5, rankings.ColOrders: 4, rankings.ColClicks: 31},
				Ranks:   map[string]any{"2026-01-05": 15, "2026-01-04": 18}},
			{ASIN: "B00SHOE01", SKU: "RACK-1", Title: "Bamboo shoe rack", Keyword: "shoe organizer", Tracked: "No",
				Metrics: map[string]any{rankings.ColSpent: 0},
				Ranks:   map[string]any{"2026-01-05": "42"}},
		},
	}
	sponsored := Sheet{
		DateHeaders: dates,
		Rows: []Row{
			{ASIN: "b00shoe01", SKU: "RACK-1", Title: "Bamboo shoe rack", Keyword: " Shoe Rack ", Tracked: "Yes",
				Metrics: map[string]any{rankings.ColSpent: 10, rankings.ColSales: 99, rankings.ColOrders: 1},
				Ranks:   map[string]any{"2026-01-05": "97+"}},
			{ASIN: "B00SHOE02", SKU: "RACK-2", Title: "Metal shoe rack", Keyword: "entryway bench", Tracked: "No",
				Metrics: map[string]any{rankings.ColSpent: 3.25},
				Ranks:   map[string]any{"2026-01-04": 7}},
		},
	}
	return MustBuild(tb, organic, sponsored)
}
