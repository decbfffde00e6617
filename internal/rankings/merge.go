package rankings

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/rankings-ingest/pkg/errors"
)

// MaxTitleLength bounds stored product titles, in characters.
const MaxTitleLength = 500

// Identity is the normalized (ASIN, keyword) pair a KeywordRecord is keyed by within a
// marketplace.
type Identity struct {
	ASIN    string
	Keyword string
}

// NewIdentity upper-cases the ASIN and lower-cases the keyword, both trimmed.
func NewIdentity(asin, keyword string) Identity {
	return Identity{
		ASIN:    strings.ToUpper(strings.TrimSpace(asin)),
		Keyword: strings.ToLower(strings.TrimSpace(keyword)),
	}
}

func (i Identity) String() string { return i.ASIN + "/" + i.Keyword }

func (i Identity) less(o Identity) bool {
	if i.ASIN != o.ASIN {
		return i.ASIN < o.ASIN
	}
	return i.Keyword < o.Keyword
}

// Metrics is the per-period metric set of a keyword. It is always replaced as a unit.
type Metrics struct {
	Sales            decimal.NullDecimal
	ACOS             decimal.NullDecimal
	Conversion       decimal.NullDecimal
	Spent            decimal.NullDecimal
	ConversionDelta  decimal.NullDecimal
	MarketConversion decimal.NullDecimal
	ASINConversion   decimal.NullDecimal
	PurchaseShare    decimal.NullDecimal
	Orders           *int64
	Units            *int64
	Clicks           *int64
	QueryVolume      *int64
}

// KeywordRecord is one deduplicated keyword ready for upsert.
type KeywordRecord struct {
	Identity      Identity
	MarketplaceID uuid.UUID
	KeywordText   string
	SKU           *string
	Title         *string
	Tracked       bool
	Metrics       Metrics
	Source        string
	PeriodStart   *time.Time
	PeriodEnd     *time.Time
}

// RankRecord merges the organic and sponsored observations of one identity on one date.
type RankRecord struct {
	Identity  Identity
	Date      time.Time
	Organic   Outcome
	Sponsored Outcome
}

// Warning is a non-fatal problem found while merging.
type Warning struct {
	Code    pkgerrors.Code
	Sheet   string
	Row     int
	Column  string
	Message string
}

func (w Warning) String() string {
	if w.Column != "" {
		return fmt.Sprintf("%s %s row %d column %s: %s", w.Code, w.Sheet, w.Row, w.Column, w.Message)
	}
	return fmt.Sprintf("%s %s row %d: %s", w.Code, w.Sheet, w.Row, w.Message)
}

// Stats summarizes one merge.
type Stats struct {
	KeywordsParsed   int
	KeywordsKept     int
	KeywordsFiltered int
	RankEntries      int
	RanksFiltered    int
	OrganicCells     int
	SponsoredCells   int
	RowsSkipped      int
	DecodeWarnings   int
	MetricWarnings   int
	DateCount        int
}

// MergeResult is the output of Merger.Merge.
type MergeResult struct {
	Keywords []KeywordRecord
	Ranks    []RankRecord
	Dates    []time.Time
	Warnings []Warning
	Stats    Stats
}

// DateFrom returns the first date column, or the zero time when there are none.
func (r MergeResult) DateFrom() time.Time {
	if len(r.Dates) == 0 {
		return time.Time{}
	}
	return r.Dates[0]
}

// DateTo returns the last date column, or the zero time when there are none.
func (r MergeResult) DateTo() time.Time {
	if len(r.Dates) == 0 {
		return time.Time{}
	}
	return r.Dates[len(r.Dates)-1]
}

// MergerOptions tunes Merge.
type MergerOptions struct {
	// TrackedOrSpendOnly keeps only keywords that are tracked or have spend above zero.
	TrackedOrSpendOnly bool
}

// Merger reconciles the Organic and Sponsored sheets into keyword and rank records.
type Merger struct {
	opts MergerOptions
}

func NewMerger(opts MergerOptions) *Merger {
	return &Merger{opts: opts}
}

type parsedRow struct {
	line   int
	record KeywordRecord
	ranks  map[time.Time]Outcome
}

type rankKey struct {
	identity Identity
	date     time.Time
}

// Merge builds one KeywordRecord per identity (Organic metrics win over Sponsored) and one
// RankRecord per (identity, date) carrying both sides.
func (m *Merger) Merge(wb *Workbook, marketplaceID uuid.UUID) (MergeResult, error) {
	if wb == nil || wb.Organic == nil || wb.Sponsored == nil {
		return MergeResult{}, pkgerrors.New(pkgerrors.CodeValidation, "workbook with both sheets is required")
	}
	if marketplaceID == uuid.Nil {
		return MergeResult{}, pkgerrors.New(pkgerrors.CodeValidation, "marketplace id is required")
	}

	result := MergeResult{Dates: wb.Dates()}
	result.Stats.DateCount = len(result.Dates)
	var periodStart, periodEnd *time.Time
	if len(result.Dates) > 0 {
		start, end := result.DateFrom(), result.DateTo()
		periodStart, periodEnd = &start, &end
	}

	sponsored := m.parseSheet(wb.Sponsored, marketplaceID, &result)
	organic := m.parseSheet(wb.Organic, marketplaceID, &result)

	// Sponsored first so Organic overwrites on overlap.
	keywords := map[Identity]KeywordRecord{}
	for _, rows := range [][]parsedRow{sponsored, organic} {
		for _, row := range rows {
			rec := row.record
			rec.PeriodStart, rec.PeriodEnd = periodStart, periodEnd
			keywords[rec.Identity] = rec
		}
	}
	result.Stats.KeywordsParsed = len(keywords)

	ranks := map[rankKey]*RankRecord{}
	for _, side := range []struct {
		rows    []parsedRow
		organic bool
	}{{organic, true}, {sponsored, false}} {
		for _, row := range side.rows {
			for date, outcome := range row.ranks {
				key := rankKey{identity: row.record.Identity, date: date}
				rec, ok := ranks[key]
				if !ok {
					rec = &RankRecord{Identity: key.identity, Date: date}
					ranks[key] = rec
				}
				if side.organic {
					rec.Organic = outcome
				} else {
					rec.Sponsored = outcome
				}
			}
		}
	}

	for identity, rec := range keywords {
		if m.opts.TrackedOrSpendOnly && !keepKeyword(rec) {
			delete(keywords, identity)
			result.Stats.KeywordsFiltered++
		}
	}
	result.Stats.KeywordsKept = len(keywords)

	result.Keywords = make([]KeywordRecord, 0, len(keywords))
	for _, rec := range keywords {
		result.Keywords = append(result.Keywords, rec)
	}
	sort.Slice(result.Keywords, func(i, j int) bool {
		return result.Keywords[i].Identity.less(result.Keywords[j].Identity)
	})

	result.Ranks = make([]RankRecord, 0, len(ranks))
	for key, rec := range ranks {
		if _, kept := keywords[key.identity]; !kept {
			result.Stats.RanksFiltered++
			continue
		}
		result.Ranks = append(result.Ranks, *rec)
	}
	sort.Slice(result.Ranks, func(i, j int) bool {
		a, b := result.Ranks[i], result.Ranks[j]
		if a.Identity != b.Identity {
			return a.Identity.less(b.Identity)
		}
		return a.Date.Before(b.Date)
	})
	result.Stats.RankEntries = len(result.Ranks)
	return result, nil
}

func keepKeyword(rec KeywordRecord) bool {
	if rec.Tracked {
		return true
	}
	return rec.Metrics.Spent.Valid && rec.Metrics.Spent.Decimal.IsPositive()
}

// parseSheet decodes every data row of sheet. Rows without an ASIN or keyword are dropped
// with a warning. Unparsable metric cells become null and undecodable rank cells are
// skipped, each with a warning; the row itself is kept.
func (m *Merger) parseSheet(sheet *Sheet, marketplaceID uuid.UUID, result *MergeResult) []parsedRow {
	out := make([]parsedRow, 0, len(sheet.Rows))
	for i, row := range sheet.Rows {
		line := i + 2 // 1-based, after the header
		asin := sheet.Cell(row, ColASIN)
		keyword := sheet.Cell(row, ColKeyword)
		if asin == "" && keyword == "" && rowIsBlank(row) {
			continue
		}
		if asin == "" || keyword == "" {
			result.Warnings = append(result.Warnings, Warning{
				Code: pkgerrors.CodeMalformedRow, Sheet: sheet.Name, Row: line,
				Message: "blank ASIN or keyword",
			})
			result.Stats.RowsSkipped++
			continue
		}

		metrics, issues := parseMetrics(sheet, row)
		for _, issue := range issues {
			result.Warnings = append(result.Warnings, Warning{
				Code: pkgerrors.CodeDecode, Sheet: sheet.Name, Row: line, Column: issue.column,
				Message: issue.err.Error(),
			})
			result.Stats.MetricWarnings++
		}

		rec := KeywordRecord{
			Identity:      NewIdentity(asin, keyword),
			MarketplaceID: marketplaceID,
			KeywordText:   keyword,
			SKU:           optionalString(sheet.Cell(row, ColSKU)),
			Title:         optionalString(truncate(sheet.Cell(row, ColTitle), MaxTitleLength)),
			Tracked:       strings.EqualFold(sheet.Cell(row, ColTracked), "yes"),
			Metrics:       metrics,
			Source:        sheet.Name,
		}

		parsed := parsedRow{line: line, record: rec, ranks: map[time.Time]Outcome{}}
		for _, dc := range sheet.Dates {
			raw := cellAt(row, dc.Index)
			if raw == "" {
				continue
			}
			outcome, err := DecodeRank(raw)
			if err != nil {
				result.Warnings = append(result.Warnings, Warning{
					Code: pkgerrors.CodeDecode, Sheet: sheet.Name, Row: line, Column: dc.Header,
					Message: err.Error(),
				})
				result.Stats.DecodeWarnings++
				continue
			}
			if outcome.IsNoData() {
				continue
			}
			parsed.ranks[dc.Date] = outcome
			if sheet.Name == SheetOrganic {
				result.Stats.OrganicCells++
			} else {
				result.Stats.SponsoredCells++
			}
		}
		out = append(out, parsed)
	}
	return out
}

type metricIssue struct {
	column string
	err    error
}

func parseMetrics(sheet *Sheet, row []string) (Metrics, []metricIssue) {
	var (
		m      Metrics
		issues []metricIssue
	)
	decimals := []struct {
		column string
		dst    *decimal.NullDecimal
	}{
		{ColSales, &m.Sales},
		{ColACOS, &m.ACOS},
		{ColConversion, &m.Conversion},
		{ColSpent, &m.Spent},
		{ColConversionDelta, &m.ConversionDelta},
		{ColMarketConversion, &m.MarketConversion},
		{ColASINConversion, &m.ASINConversion},
		{ColPurchaseShare, &m.PurchaseShare},
	}
	for _, d := range decimals {
		v, err := parseDecimal(sheet.Cell(row, d.column))
		if err != nil {
			issues = append(issues, metricIssue{column: d.column, err: err})
			continue
		}
		*d.dst = v
	}

	counts := []struct {
		column string
		dst    **int64
	}{
		{ColOrders, &m.Orders},
		{ColUnits, &m.Units},
		{ColClicks, &m.Clicks},
		{ColQueryVolume, &m.QueryVolume},
	}
	for _, c := range counts {
		v, err := parseCount(sheet.Cell(row, c.column))
		if err != nil {
			issues = append(issues, metricIssue{column: c.column, err: err})
			continue
		}
		*c.dst = v
	}
	return m, issues
}

func isBlankMetric(raw string) bool {
	return raw == "" || raw == "-"
}

func normalizeNumber(raw string) string {
	raw = strings.ReplaceAll(raw, ",", "")
	return strings.TrimPrefix(raw, "$")
}

func parseDecimal(raw string) (decimal.NullDecimal, error) {
	if isBlankMetric(raw) {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(normalizeNumber(raw))
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("not a number: %q", raw)
	}
	return decimal.NewNullDecimal(d), nil
}

func parseCount(raw string) (*int64, error) {
	if isBlankMetric(raw) {
		return nil, nil
	}
	d, err := decimal.NewFromString(normalizeNumber(raw))
	if err != nil {
		return nil, fmt.Errorf("not a number: %q", raw)
	}
	// fractional counts truncate toward zero
	n := d.IntPart()
	return &n, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:max]))
}

func rowIsBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
