package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind is the inferred type of a cell value.
type Kind uint8

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindBool
	KindString
)

// String returns the kind name used in previews and logs.
func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	default:
		return "null"
	}
}

// Value is a single typed cell.
type Value struct {
	Kind  Kind
	Int   int64
	Float float64
	Bool  bool
	Str   string
}

// Null is the missing value.
var Null = Value{Kind: KindNull}

// IntValue returns an integer cell.
func IntValue(i int64) Value { return Value{Kind: KindInt, Int: i} }

// FloatValue returns a float cell.
func FloatValue(f float64) Value { return Value{Kind: KindFloat, Float: f} }

// BoolValue returns a boolean cell.
func BoolValue(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// StringValue returns a text cell.
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }

// String renders the value for display. Null renders as an empty string.
func (v Value) String() string {
	switch v.Kind {
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindBool:
		if v.Bool {
			return "True"
		}
		return "False"
	case KindString:
		return v.Str
	default:
		return ""
	}
}

// Row is one table row. Label is the row's index label: its position in the
// parsed file. Sampling keeps the label of the source row.
type Row struct {
	Label  int
	Values []Value
}

// Table is an ordered sequence of rows sharing one column set.
// Every row holds exactly len(Columns) values, in column order.
type Table struct {
	Columns []string
	Kinds   []Kind
	Rows    []Row
}

// NumRows returns the row count.
func (t *Table) NumRows() int { return len(t.Rows) }

// NumColumns returns the column count.
func (t *Table) NumColumns() int { return len(t.Columns) }

// Slice returns a table sharing columns with t and holding rows [from, to).
func (t *Table) Slice(from, to int) *Table {
	if to > len(t.Rows) {
		to = len(t.Rows)
	}
	if from > to {
		from = to
	}
	return &Table{Columns: t.Columns, Kinds: t.Kinds, Rows: t.Rows[from:to]}
}

// FileInfo describes an uploaded file.
type FileInfo struct {
	Name        string
	ContentType string
	Size        int64
}

// SizeKB formats the size the way the file details block shows it.
func (f FileInfo) SizeKB() string {
	return fmt.Sprintf("%.2f KB", float64(f.Size)/1024)
}

// Orientation selects the JSON shape produced by a conversion.
type Orientation string

const (
	OrientRecords Orientation = "records"
	OrientSplit   Orientation = "split"
	OrientIndex   Orientation = "index"
)

// Orientations lists the selectable shapes in display order.
var Orientations = []Orientation{OrientRecords, OrientSplit, OrientIndex}

// ParseOrientation accepts "records", "split" or "index" in any case.
func ParseOrientation(s string) (Orientation, error) {
	o := Orientation(strings.ToLower(strings.TrimSpace(s)))
	switch o {
	case OrientRecords, OrientSplit, OrientIndex:
		return o, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidOrientation, s)
}

// Label returns the display label ("Records", "Split", "Index").
func (o Orientation) Label() string {
	switch o {
	case OrientRecords:
		return "Records"
	case OrientSplit:
		return "Split"
	case OrientIndex:
		return "Index"
	}
	return string(o)
}

// Help returns the one-line description shown next to the selector.
func (o Orientation) Help() string {
	switch o {
	case OrientRecords:
		return "list of dictionaries"
	case OrientSplit:
		return "keys and values separate"
	case OrientIndex:
		return "dictionary with index as key"
	}
	return ""
}

// Progress is a conversion status update.
type Progress struct {
	Fraction float64 `json:"fraction"`
	Message  string  `json:"message"`
	Done     bool    `json:"done"`
	Error    string  `json:"error,omitempty"`
}

// Percent returns the progress as a percentage (0-100).
func (p Progress) Percent() int {
	if p.Fraction >= 1 {
		return 100
	}
	if p.Fraction <= 0 {
		return 0
	}
	return int(p.Fraction * 100)
}

// ProgressFunc receives progress updates at batch boundaries.
type ProgressFunc func(Progress)

// ConvertOptions are the user-selected conversion settings.
type ConvertOptions struct {
	Orientation Orientation

	// UseFullDataset disables sampling. Sampling is only honoured when the
	// table is larger than the sample offer threshold.
	UseFullDataset bool
	SampleSize     int

	// Seed makes sampling deterministic when set.
	Seed *uint64
}

// ConversionStatus is the lifecycle state of a conversion.
type ConversionStatus string

const (
	StatusRunning  ConversionStatus = "running"
	StatusComplete ConversionStatus = "complete"
	StatusFailed   ConversionStatus = "failed"
)

// HistoryEntry is one conversion log record. Only metadata is kept; table
// contents and JSON output are never stored.
type HistoryEntry struct {
	ID          string        `json:"id"`
	SessionID   string        `json:"sessionId"`
	FileName    string        `json:"fileName"`
	FileSize    int64         `json:"fileSize"`
	Rows        int           `json:"rows"`
	Columns     int           `json:"columns"`
	Orientation Orientation   `json:"orientation"`
	Sampled     bool          `json:"sampled"`
	SampleSize  int           `json:"sampleSize,omitempty"`
	OutputBytes int           `json:"outputBytes"`
	Truncated   bool          `json:"truncated"`
	Duration    time.Duration `json:"durationNs"`
	Status      string        `json:"status"`
	Error       string        `json:"error,omitempty"`
	IPAddress   string        `json:"ipAddress,omitempty"`
	UserAgent   string        `json:"userAgent,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
}
