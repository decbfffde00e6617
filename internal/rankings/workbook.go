package rankings

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	pkgerrors "github.com/angelmondragon/rankings-ingest/pkg/errors"
)

const (
	SheetOrganic   = "Organic"
	SheetSponsored = "Sponsored"
)

// Fixed column headers present in both sheets of the export.
const (
	ColASIN             = "ASIN"
	ColSKU              = "SKU"
	ColTitle            = "Title"
	ColKeyword          = "Keyword"
	ColTracked          = "Tracked"
	ColSales            = "Sales"
	ColACOS             = "ACOS"
	ColConversion       = "Conversion"
	ColSpent            = "Spent"
	ColOrders           = "Orders"
	ColUnits            = "Units"
	ColClicks           = "Clicks"
	ColQueryVolume      = "Query Volume"
	ColConversionDelta  = "Conversion Delta"
	ColMarketConversion = "Market Conversion"
	ColASINConversion   = "Asin Conversion"
	ColPurchaseShare    = "Purchase Share"
)

// FixedColumns lists the headers every sheet must carry, in export order.
var FixedColumns = []string{
	ColASIN, ColSKU, ColTitle, ColKeyword, ColTracked,
	ColSales, ColACOS, ColConversion, ColSpent, ColOrders,
	ColUnits, ColClicks, ColQueryVolume, ColConversionDelta,
	ColMarketConversion, ColASINConversion, ColPurchaseShare,
}

// Excel serial numbers accepted as date headers: 2000-01-01 through 2099-12-31.
const (
	minSerialDate = 36526
	maxSerialDate = 73050
)

var headerDateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"01/02/2006",
	"1/2/2006",
}

// DateColumn is a date-labelled rank column of one sheet.
type DateColumn struct {
	Date   time.Time
	Index  int
	Header string
}

// Sheet is one decoded worksheet: fixed column positions, date columns sorted by date,
// and the raw data rows below the header.
type Sheet struct {
	Name    string
	columns map[string]int
	Dates   []DateColumn
	Rows    [][]string
}

// Cell returns the trimmed value of a fixed column in row, or "" past the row's end.
func (s *Sheet) Cell(row []string, column string) string {
	idx, ok := s.columns[column]
	if !ok {
		return ""
	}
	return cellAt(row, idx)
}

func cellAt(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// Workbook holds both sheets of an export.
type Workbook struct {
	Organic   *Sheet
	Sponsored *Sheet
}

// Dates returns the union of both sheets' date columns, ascending.
func (w *Workbook) Dates() []time.Time {
	seen := map[time.Time]struct{}{}
	out := []time.Time{}
	for _, sheet := range []*Sheet{w.Organic, w.Sponsored} {
		if sheet == nil {
			continue
		}
		for _, dc := range sheet.Dates {
			if _, ok := seen[dc.Date]; ok {
				continue
			}
			seen[dc.Date] = struct{}{}
			out = append(out, dc.Date)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// ReadWorkbook decodes an xlsx export. A missing sheet, an empty sheet or a missing fixed
// column is a PARSE_ERROR.
func ReadWorkbook(payload []byte) (*Workbook, error) {
	if len(payload) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeParse, "empty workbook payload")
	}
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeParse, err, "open workbook")
	}
	defer f.Close()

	present := map[string]bool{}
	for _, name := range f.GetSheetList() {
		present[name] = true
	}

	wb := &Workbook{}
	for _, name := range []string{SheetOrganic, SheetSponsored} {
		if !present[name] {
			return nil, pkgerrors.Newf(pkgerrors.CodeParse, "sheet %q not found (have %s)", name, strings.Join(f.GetSheetList(), ", "))
		}
		rows, err := f.GetRows(name, excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeParse, err, fmt.Sprintf("read sheet %s", name))
		}
		sheet, err := decodeSheet(name, rows)
		if err != nil {
			return nil, err
		}
		if name == SheetOrganic {
			wb.Organic = sheet
		} else {
			wb.Sponsored = sheet
		}
	}
	return wb, nil
}

func decodeSheet(name string, rows [][]string) (*Sheet, error) {
	if len(rows) == 0 {
		return nil, pkgerrors.Newf(pkgerrors.CodeParse, "sheet %s has no header row", name)
	}

	sheet := &Sheet{Name: name, columns: make(map[string]int, len(FixedColumns))}
	byHeader := map[string]int{}
	for i, raw := range rows[0] {
		header := strings.TrimSpace(raw)
		if header == "" {
			continue
		}
		if _, dup := byHeader[strings.ToLower(header)]; !dup {
			byHeader[strings.ToLower(header)] = i
		}
	}

	missing := []string{}
	fixed := map[int]bool{}
	for _, col := range FixedColumns {
		idx, ok := byHeader[strings.ToLower(col)]
		if !ok {
			missing = append(missing, col)
			continue
		}
		sheet.columns[col] = idx
		fixed[idx] = true
	}
	if len(missing) > 0 {
		return nil, pkgerrors.Newf(pkgerrors.CodeParse, "sheet %s missing columns: %s", name, strings.Join(missing, ", "))
	}

	seen := map[time.Time]string{}
	for i, raw := range rows[0] {
		if fixed[i] {
			continue
		}
		header := strings.TrimSpace(raw)
		date, ok := ParseHeaderDate(header)
		if !ok {
			continue
		}
		if prev, dup := seen[date]; dup {
			return nil, pkgerrors.Newf(pkgerrors.CodeParse, "sheet %s has duplicate date columns %q and %q", name, prev, header)
		}
		seen[date] = header
		sheet.Dates = append(sheet.Dates, DateColumn{Date: date, Index: i, Header: header})
	}
	sort.Slice(sheet.Dates, func(i, j int) bool { return sheet.Dates[i].Date.Before(sheet.Dates[j].Date) })

	sheet.Rows = rows[1:]
	return sheet, nil
}

// ParseHeaderDate recognizes a date column header and normalizes it to a UTC calendar date.
func ParseHeaderDate(header string) (time.Time, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return time.Time{}, false
	}
	for _, layout := range headerDateLayouts {
		if t, err := time.Parse(layout, header); err == nil {
			return CalendarDate(t), true
		}
	}
	if serial, err := strconv.ParseFloat(header, 64); err == nil {
		if serial >= minSerialDate && serial <= maxSerialDate {
			if t, err := excelize.ExcelDateToTime(serial, false); err == nil {
				return CalendarDate(t), true
			}
		}
	}
	return time.Time{}, false
}

// CalendarDate truncates t to midnight UTC of its own calendar day.
func CalendarDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
