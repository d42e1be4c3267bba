package core

// ingest.go turns an uploaded CSV stream into a Table.
//
// Small files are parsed in one pass. Files above the large-file threshold
// are read in batches of raw records so progress can be reported while the
// upload is parsed; the batches are joined in order before type inference
// runs, so both paths produce the same table.

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
)

const (
	// DefaultWarnFileSize is the size above which a slow-conversion warning is shown.
	DefaultWarnFileSize int64 = 5 * 1024 * 1024

	// DefaultLargeFileSize is the size above which the file is read in batches.
	DefaultLargeFileSize int64 = 10 * 1024 * 1024

	// DefaultReadBatchRows is the number of records per batch for large files.
	DefaultReadBatchRows = 100000

	// ctxCheckRows is how often the single-pass reader checks for cancellation.
	ctxCheckRows = 10000
)

// WarningLargeFile is shown for files above the warn threshold.
const WarningLargeFile = "Large file detected. Conversion might take some time."

// IngestOptions tune how an upload is parsed. Zero values use the defaults.
type IngestOptions struct {
	MaxSize   int64 // Reject declared sizes above this (0 = no limit)
	WarnSize  int64
	LargeSize int64
	BatchRows int

	// Progress is called after each batch on the batched path.
	Progress ProgressFunc
}

func (o IngestOptions) withDefaults() IngestOptions {
	if o.WarnSize <= 0 {
		o.WarnSize = DefaultWarnFileSize
	}
	if o.LargeSize <= 0 {
		o.LargeSize = DefaultLargeFileSize
	}
	if o.BatchRows <= 0 {
		o.BatchRows = DefaultReadBatchRows
	}
	return o
}

// IngestResult is a parsed upload.
type IngestResult struct {
	Table     *Table
	Warnings  []string
	Batches   int   // 0 when the file was parsed in one pass
	BytesRead int64 // Bytes consumed from the source, BOM included
}

// csvMIMETypes are the content types browsers send for CSV files.
var csvMIMETypes = map[string]struct{}{
	"text/csv":                    {},
	"application/csv":             {},
	"text/comma-separated-values": {},
	"application/vnd.ms-excel":    {},
	"text/plain":                  {},
}

// CheckFileType reports ErrNotCSV unless the file has a .csv extension or a
// CSV-like content type.
func CheckFileType(info FileInfo) error {
	if strings.EqualFold(filepath.Ext(info.Name), ".csv") {
		return nil
	}

	mediaType, _, err := mime.ParseMediaType(info.ContentType)
	if err == nil {
		if _, ok := csvMIMETypes[strings.ToLower(mediaType)]; ok {
			return nil
		}
	}

	return fmt.Errorf("%w: %s (%s)", ErrNotCSV, info.Name, info.ContentType)
}

// Ingest parses r into a Table. size is the declared upload size in bytes
// and selects the read strategy; pass 0 when unknown.
//
// On failure no table is returned. Parse failures are *ParseError values
// wrapping ErrInvalidCSV or ErrEncoding.
func Ingest(ctx context.Context, r io.Reader, size int64, opts IngestOptions) (*IngestResult, error) {
	opts = opts.withDefaults()

	if opts.MaxSize > 0 && size > opts.MaxSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d bytes", ErrFileTooLarge, size, opts.MaxSize)
	}

	src, counter := WrapForStreaming(r, size)

	cr := csv.NewReader(src)
	cr.FieldsPerRecord = 0 // header sets the expected field count

	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrEmptyFile
	}
	if err != nil {
		return nil, wrapParseError(err)
	}
	columns := normalizeHeader(header)

	result := &IngestResult{}
	if size > opts.WarnSize {
		result.Warnings = append(result.Warnings, WarningLargeFile)
	}

	var records [][]string
	if size > opts.LargeSize {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("File is larger than %s; reading in chunks of %d rows.", formatMB(opts.LargeSize), opts.BatchRows))
		records, result.Batches, err = readBatched(ctx, cr, counter, opts)
	} else {
		records, err = readAll(ctx, cr)
	}
	if err != nil {
		return nil, err
	}

	result.Table = buildTable(columns, records)
	result.BytesRead = counter.BytesRead
	return result, nil
}

// readAll parses every remaining record in one pass.
func readAll(ctx context.Context, cr *csv.Reader) ([][]string, error) {
	var records [][]string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return nil, wrapParseError(err)
		}
		records = append(records, rec)

		if len(records)%ctxCheckRows == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
	}
}

// readBatched parses records opts.BatchRows at a time and appends each
// batch to the accumulator in order.
func readBatched(ctx context.Context, cr *csv.Reader, counter *CountingReader, opts IngestOptions) ([][]string, int, error) {
	var (
		records [][]string
		batches int
	)

	for {
		if err := ctx.Err(); err != nil {
			return nil, batches, err
		}

		batch, err := readBatch(cr, opts.BatchRows)
		if err != nil {
			return nil, batches, err
		}
		if len(batch) == 0 {
			return records, batches, nil
		}

		records = append(records, batch...)
		batches++

		if opts.Progress != nil {
			opts.Progress(Progress{
				Fraction: float64(counter.Progress()) / 100,
				Message:  fmt.Sprintf("Loading chunk %d (%d rows read)...", batches, len(records)),
			})
		}

		if len(batch) < opts.BatchRows {
			return records, batches, nil
		}
	}
}

// readBatch reads up to n records. A short batch means the input is exhausted.
func readBatch(cr *csv.Reader, n int) ([][]string, error) {
	batch := make([][]string, 0, min(n, 1024))
	for len(batch) < n {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, wrapParseError(err)
		}
		batch = append(batch, rec)
	}
	return batch, nil
}

// wrapParseError converts csv and reader failures into *ParseError.
func wrapParseError(err error) error {
	if errors.Is(err, ErrEncoding) {
		return &ParseError{Err: err, kind: ErrEncoding}
	}

	var pe *csv.ParseError
	if errors.As(err, &pe) {
		line := pe.Line
		if line == 0 {
			line = pe.StartLine
		}
		return &ParseError{Line: line, Err: pe.Err, kind: ErrInvalidCSV}
	}

	return &ParseError{Err: err, kind: ErrInvalidCSV}
}

// normalizeHeader names empty header cells "Unnamed: <i>" and renames
// repeated names to "x.1", "x.2", and so on.
func normalizeHeader(header []string) []string {
	columns := make([]string, len(header))
	counts := make(map[string]int, len(header))

	for i, name := range header {
		if name == "" {
			name = fmt.Sprintf("Unnamed: %d", i)
		}

		cur := counts[name]
		for cur > 0 {
			counts[name] = cur + 1
			name = fmt.Sprintf("%s.%d", name, cur)
			cur = counts[name]
		}
		columns[i] = name
		counts[name] = cur + 1
	}

	return columns
}

func formatMB(n int64) string {
	return fmt.Sprintf("%d MB", n/(1024*1024))
}
