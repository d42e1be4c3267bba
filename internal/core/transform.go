package core

// transform.go reshapes a Table into one of the JSON orientations.
//
// Index conversions of large tables run in fixed-size batches. Each batch
// becomes a partial IndexDoc; partials are merged in order, and a pause
// between batches lets progress reach subscribers. Both paths produce the
// same document.

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

const (
	// DefaultIndexBatchThreshold is the row count above which Index runs in batches.
	DefaultIndexBatchThreshold = 5000

	// DefaultIndexBatchRows is the rows per Index batch.
	DefaultIndexBatchRows = 1000

	// DefaultBatchPause is the pause after each Index batch.
	DefaultBatchPause = 100 * time.Millisecond
)

// MessageComplete is the final progress message of every conversion.
const MessageComplete = "Conversion complete!"

// Document is a converted table ready for serialization.
type Document interface {
	// Len is the number of top-level entries (records, rows or keys).
	Len() int

	appendJSON(w *jsonWriter) error
}

// RecordsDoc is a list of row objects.
type RecordsDoc struct {
	Columns []string
	Rows    [][]Value
}

func (d *RecordsDoc) Len() int { return len(d.Rows) }

func (d *RecordsDoc) appendJSON(w *jsonWriter) error {
	w.byte('[')
	for i, values := range d.Rows {
		if i > 0 {
			w.byte(',')
		}
		if err := w.object(d.Columns, values); err != nil {
			return err
		}
	}
	w.byte(']')
	return nil
}

// SplitDoc keeps column names, row labels and row values apart.
type SplitDoc struct {
	Columns []string
	Index   []int
	Data    [][]Value
}

func (d *SplitDoc) Len() int { return len(d.Data) }

func (d *SplitDoc) appendJSON(w *jsonWriter) error {
	w.raw(`{"columns":[`)
	for i, c := range d.Columns {
		if i > 0 {
			w.byte(',')
		}
		if err := w.string(c); err != nil {
			return err
		}
	}

	w.raw(`],"index":[`)
	for i, label := range d.Index {
		if i > 0 {
			w.byte(',')
		}
		w.int(int64(label))
	}

	w.raw(`],"data":[`)
	for i, values := range d.Data {
		if i > 0 {
			w.byte(',')
		}
		w.byte('[')
		for j, v := range values {
			if j > 0 {
				w.byte(',')
			}
			if err := w.value(v); err != nil {
				return err
			}
		}
		w.byte(']')
	}
	w.raw(`]}`)
	return nil
}

// IndexDoc maps row labels to row objects, in insertion order.
type IndexDoc struct {
	Columns []string
	Keys    []string
	Rows    [][]Value

	seen map[string]struct{}
}

// NewIndexDoc returns an empty IndexDoc for the given columns.
func NewIndexDoc(columns []string, capacity int) *IndexDoc {
	return &IndexDoc{
		Columns: columns,
		Keys:    make([]string, 0, capacity),
		Rows:    make([][]Value, 0, capacity),
		seen:    make(map[string]struct{}, capacity),
	}
}

func (d *IndexDoc) Len() int { return len(d.Keys) }

// Add appends one entry. A key already present is an error.
func (d *IndexDoc) Add(key string, values []Value) error {
	if d.seen == nil {
		d.seen = make(map[string]struct{})
	}
	if _, dup := d.seen[key]; dup {
		return fmt.Errorf("%w: duplicate index key %q", ErrConversion, key)
	}
	d.seen[key] = struct{}{}
	d.Keys = append(d.Keys, key)
	d.Rows = append(d.Rows, values)
	return nil
}

// Merge appends other's entries after d's.
func (d *IndexDoc) Merge(other *IndexDoc) error {
	for i, key := range other.Keys {
		if err := d.Add(key, other.Rows[i]); err != nil {
			return err
		}
	}
	return nil
}

func (d *IndexDoc) appendJSON(w *jsonWriter) error {
	w.byte('{')
	for i, key := range d.Keys {
		if i > 0 {
			w.byte(',')
		}
		if err := w.string(key); err != nil {
			return err
		}
		w.byte(':')
		if err := w.object(d.Columns, d.Rows[i]); err != nil {
			return err
		}
	}
	w.byte('}')
	return nil
}

// TransformOptions tune the batched Index path. Zero values use the
// defaults; a negative BatchPause disables the pause.
type TransformOptions struct {
	BatchThreshold int
	BatchRows      int
	BatchPause     time.Duration
	Progress       ProgressFunc
}

func (o TransformOptions) withDefaults() TransformOptions {
	if o.BatchThreshold <= 0 {
		o.BatchThreshold = DefaultIndexBatchThreshold
	}
	if o.BatchRows <= 0 {
		o.BatchRows = DefaultIndexBatchRows
	}
	if o.BatchPause == 0 {
		o.BatchPause = DefaultBatchPause
	}
	return o
}

func (o TransformOptions) report(p Progress) {
	if o.Progress != nil {
		o.Progress(p)
	}
}

// Transform converts t to the requested orientation. A final progress
// update with MessageComplete is sent on success.
func Transform(ctx context.Context, t *Table, orient Orientation, opts TransformOptions) (Document, error) {
	opts = opts.withDefaults()

	var (
		doc Document
		err error
	)
	switch orient {
	case OrientRecords:
		doc = toRecords(t)
		opts.report(Progress{Fraction: 1})
	case OrientSplit:
		doc = toSplit(t)
		opts.report(Progress{Fraction: 1})
	case OrientIndex:
		if t.NumRows() > opts.BatchThreshold {
			doc, err = toIndexBatched(ctx, t, opts)
		} else {
			doc, err = toIndex(t)
			opts.report(Progress{Fraction: 1})
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidOrientation, string(orient))
	}
	if err != nil {
		return nil, err
	}

	opts.report(Progress{Fraction: 1, Message: MessageComplete, Done: true})
	return doc, nil
}

func toRecords(t *Table) *RecordsDoc {
	d := &RecordsDoc{Columns: t.Columns, Rows: make([][]Value, len(t.Rows))}
	for i, row := range t.Rows {
		d.Rows[i] = row.Values
	}
	return d
}

func toSplit(t *Table) *SplitDoc {
	d := &SplitDoc{
		Columns: t.Columns,
		Index:   make([]int, len(t.Rows)),
		Data:    make([][]Value, len(t.Rows)),
	}
	for i, row := range t.Rows {
		d.Index[i] = row.Label
		d.Data[i] = row.Values
	}
	return d
}

func toIndex(t *Table) (*IndexDoc, error) {
	d := NewIndexDoc(t.Columns, len(t.Rows))
	for _, row := range t.Rows {
		if err := d.Add(strconv.Itoa(row.Label), row.Values); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// toIndexBatched converts t in batches of opts.BatchRows rows, reporting
// "Processing chunk i/total..." after each one.
func toIndexBatched(ctx context.Context, t *Table, opts TransformOptions) (*IndexDoc, error) {
	n := t.NumRows()
	total := (n + opts.BatchRows - 1) / opts.BatchRows
	merged := NewIndexDoc(t.Columns, n)
	opts.report(Progress{Message: "Processing large dataset in chunks..."})

	for i := 0; i < n; i += opts.BatchRows {
		part, err := toIndex(t.Slice(i, i+opts.BatchRows))
		if err != nil {
			return nil, err
		}
		if err := merged.Merge(part); err != nil {
			return nil, err
		}

		opts.report(Progress{
			Fraction: min(float64(i+opts.BatchRows)/float64(n), 1),
			Message:  fmt.Sprintf("Processing chunk %d/%d...", i/opts.BatchRows+1, total),
		})

		if err := pause(ctx, opts.BatchPause); err != nil {
			return nil, err
		}
	}

	return merged, nil
}

// pause sleeps for d or until ctx is done.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
