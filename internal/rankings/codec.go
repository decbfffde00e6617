package rankings

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	pkgerrors "github.com/angelmondragon/rankings-ingest/pkg/errors"
)

// OutOfRangeMarker trails the boundary value of a rank cell, e.g. "97+".
const OutOfRangeMarker = "+"

// OutcomeKind classifies a decoded rank cell.
type OutcomeKind int

const (
	NoData OutcomeKind = iota
	Position
	OutOfRange
)

func (k OutcomeKind) String() string {
	switch k {
	case NoData:
		return "no_data"
	case Position:
		return "position"
	case OutOfRange:
		return "out_of_range"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome is one rank observation. Value holds the position for Position and the
// boundary for OutOfRange; it is zero for NoData.
type Outcome struct {
	Kind  OutcomeKind
	Value int
}

func PositionAt(n int) Outcome { return Outcome{Kind: Position, Value: n} }

func Beyond(boundary int) Outcome { return Outcome{Kind: OutOfRange, Value: boundary} }

func (o Outcome) IsNoData() bool { return o.Kind == NoData }

// Column returns the storage encoding: the rank (nil for NoData) and the out-of-range flag.
func (o Outcome) Column() (*int, bool) {
	switch o.Kind {
	case Position:
		v := o.Value
		return &v, false
	case OutOfRange:
		v := o.Value
		return &v, true
	default:
		return nil, false
	}
}

// OutcomeFromColumn reverses Column.
func OutcomeFromColumn(rank *int, outOfRange bool) Outcome {
	if rank == nil {
		return Outcome{}
	}
	if outOfRange {
		return Beyond(*rank)
	}
	return PositionAt(*rank)
}

func (o Outcome) String() string {
	switch o.Kind {
	case Position:
		return strconv.Itoa(o.Value)
	case OutOfRange:
		return strconv.Itoa(o.Value) + OutOfRangeMarker
	default:
		return ""
	}
}

// numeric cells come back from the workbook as "15" or "15.0"
var integralFloat = regexp.MustCompile(`^[+-]?\d+\.0+$`)

// DecodeRank turns one raw cell value into an Outcome. Values that are neither blank,
// an integer, nor an integer followed by the marker yield a DECODE_WARNING error.
func DecodeRank(raw string) (Outcome, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return Outcome{}, nil
	}

	if body, ok := strings.CutSuffix(value, OutOfRangeMarker); ok {
		n, err := parseInteger(strings.TrimSpace(body))
		if err != nil {
			return Outcome{}, decodeError(raw)
		}
		return Beyond(n), nil
	}

	n, err := parseInteger(value)
	if err != nil {
		return Outcome{}, decodeError(raw)
	}
	return PositionAt(n), nil
}

func parseInteger(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("empty")
	}
	if integralFloat.MatchString(s) {
		s = s[:strings.IndexByte(s, '.')]
	}
	// rank columns are int4
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func decodeError(raw string) error {
	return pkgerrors.Newf(pkgerrors.CodeDecode, "undecodable rank value %q", raw)
}
