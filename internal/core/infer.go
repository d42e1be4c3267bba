package core

import (
	"math"
	"strconv"
	"strings"
)

// nullMarkers are the cell texts read as missing values.
var nullMarkers = map[string]struct{}{
	"":         {},
	"#N/A":     {},
	"#N/A N/A": {},
	"#NA":      {},
	"-1.#IND":  {},
	"-1.#QNAN": {},
	"-NaN":     {},
	"-nan":     {},
	"1.#IND":   {},
	"1.#QNAN":  {},
	"<NA>":     {},
	"N/A":      {},
	"NA":       {},
	"NULL":     {},
	"NaN":      {},
	"None":     {},
	"n/a":      {},
	"nan":      {},
	"null":     {},
}

// IsNullMarker reports whether s is read as a missing value.
func IsNullMarker(s string) bool {
	_, ok := nullMarkers[s]
	return ok
}

// buildTable infers a kind per column over all records and converts the
// cells. Records must all hold len(columns) fields.
func buildTable(columns []string, records [][]string) *Table {
	t := &Table{
		Columns: columns,
		Kinds:   make([]Kind, len(columns)),
		Rows:    make([]Row, len(records)),
	}

	for c := range columns {
		t.Kinds[c] = inferKind(records, c)
	}

	for i, rec := range records {
		values := make([]Value, len(columns))
		for c, cell := range rec {
			values[c] = convertCell(cell, t.Kinds[c])
		}
		t.Rows[i] = Row{Label: i, Values: values}
	}

	return t
}

// inferKind picks the narrowest kind every non-null cell of the column
// parses as. An int column with missing values is read as float, since
// integers have no null.
func inferKind(records [][]string, col int) Kind {
	isInt, isFloat, isBool := true, true, true
	seen, missing := false, false

	for _, rec := range records {
		cell := rec[col]
		if IsNullMarker(cell) {
			missing = true
			continue
		}
		seen = true

		s := strings.TrimSpace(cell)
		if isInt {
			_, ok := parseInt(s)
			isInt = ok
		}
		if isFloat {
			_, ok := parseFloat(s)
			isFloat = ok
		}
		if isBool {
			_, ok := parseBool(s)
			isBool = ok
		}
		if !isInt && !isFloat && !isBool {
			return KindString
		}
	}

	switch {
	case !seen:
		return KindNull
	case isInt && missing:
		return KindFloat
	case isInt:
		return KindInt
	case isFloat:
		return KindFloat
	case isBool:
		return KindBool
	}
	return KindString
}

// convertCell converts one cell to the column's kind. The kind must have
// been inferred from the same column.
func convertCell(cell string, kind Kind) Value {
	if IsNullMarker(cell) {
		return Null
	}

	s := strings.TrimSpace(cell)
	switch kind {
	case KindInt:
		i, _ := parseInt(s)
		return IntValue(i)
	case KindFloat:
		f, _ := parseFloat(s)
		return FloatValue(f)
	case KindBool:
		b, _ := parseBool(s)
		return BoolValue(b)
	case KindNull:
		return Null
	}
	return StringValue(cell)
}

func parseInt(s string) (int64, bool) {
	i, err := strconv.ParseInt(s, 10, 64)
	return i, err == nil
}

// parseFloat accepts decimal notation only. Hex floats and infinities are
// not numbers here.
func parseFloat(s string) (float64, bool) {
	if s == "" || strings.ContainsAny(s, "xX_") {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// boolMarkers are the only spellings read as booleans.
var boolMarkers = map[string]bool{
	"true":  true,
	"True":  true,
	"TRUE":  true,
	"false": false,
	"False": false,
	"FALSE": false,
}

func parseBool(s string) (bool, bool) {
	b, ok := boolMarkers[s]
	return b, ok
}
