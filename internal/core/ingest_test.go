package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ingestString(t *testing.T, csv string) *IngestResult {
	t.Helper()
	result, err := Ingest(context.Background(), strings.NewReader(csv), int64(len(csv)), IngestOptions{})
	require.NoError(t, err)
	return result
}

func TestIngest_Basic(t *testing.T) {
	result := ingestString(t, "a,b\n1,x\n2,y\n")
	table := result.Table

	assert.Equal(t, []string{"a", "b"}, table.Columns)
	assert.Equal(t, []Kind{KindInt, KindString}, table.Kinds)
	require.Equal(t, 2, table.NumRows())
	assert.Equal(t, 0, table.Rows[0].Label)
	assert.Equal(t, 1, table.Rows[1].Label)
	assert.Equal(t, []Value{IntValue(1), StringValue("x")}, table.Rows[0].Values)
	assert.Empty(t, result.Warnings)
	assert.Zero(t, result.Batches)
}

func TestIngest_TypeInference(t *testing.T) {
	csv := "int,float,bool,text,mixed,empty,hex\n" +
		"1,1.5,true,hello,1,,0x10\n" +
		"-2,2,FALSE,world,x,NA,0x20\n" +
		"NA,,True,NULL,2.5,,0x30\n"

	table := ingestString(t, csv).Table

	assert.Equal(t, []Kind{KindFloat, KindFloat, KindBool, KindString, KindString, KindNull, KindString}, table.Kinds)

	assert.Equal(t, FloatValue(-2), table.Rows[1].Values[0])
	assert.Equal(t, Null, table.Rows[2].Values[0])
	assert.Equal(t, FloatValue(2), table.Rows[1].Values[1])
	assert.Equal(t, Null, table.Rows[2].Values[1])
	assert.Equal(t, BoolValue(false), table.Rows[1].Values[2])
	assert.Equal(t, BoolValue(true), table.Rows[2].Values[2])
	assert.Equal(t, Null, table.Rows[2].Values[3])
	assert.Equal(t, StringValue("1"), table.Rows[0].Values[4])
	assert.Equal(t, Null, table.Rows[0].Values[5])
	assert.Equal(t, StringValue("0x10"), table.Rows[0].Values[6])
}

func TestIngest_IntColumnWithMissingValuesIsFloat(t *testing.T) {
	table := ingestString(t, "a,b\n1,3\n,4\n").Table

	assert.Equal(t, []Kind{KindFloat, KindInt}, table.Kinds)
	assert.Equal(t, FloatValue(1), table.Rows[0].Values[0])
	assert.Equal(t, Null, table.Rows[1].Values[0])
}

func TestIngest_BoolSpellings(t *testing.T) {
	tests := []struct {
		cells string
		want  Kind
	}{
		{"true\nFalse\nTRUE", KindBool},
		{"false\nFALSE\nTrue", KindBool},
		{"true\ntRuE", KindString},
		{"yes\nno", KindString},
	}

	for _, tt := range tests {
		t.Run(tt.cells, func(t *testing.T) {
			table := ingestString(t, "v\n"+tt.cells+"\n").Table
			assert.Equal(t, tt.want, table.Kinds[0])
		})
	}
}

func TestIngest_InfinityStaysText(t *testing.T) {
	table := ingestString(t, "v\n1.5\ninf\n").Table
	assert.Equal(t, KindString, table.Kinds[0])
	assert.Equal(t, StringValue("inf"), table.Rows[1].Values[0])
}

func TestNormalizeHeader(t *testing.T) {
	tests := []struct {
		name   string
		header []string
		want   []string
	}{
		{"unique", []string{"a", "b"}, []string{"a", "b"}},
		{"duplicates", []string{"a", "a", "a"}, []string{"a", "a.1", "a.2"}},
		{"empty cells", []string{"", "b", ""}, []string{"Unnamed: 0", "b", "Unnamed: 2"}},
		{"collision with mangled name", []string{"a", "a.1", "a"}, []string{"a", "a.1", "a.2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeHeader(tt.header))
		})
	}
}

func TestIngest_SkipsBOM(t *testing.T) {
	table := ingestString(t, "\xEF\xBB\xBFid,name\n1,x\n").Table
	assert.Equal(t, []string{"id", "name"}, table.Columns)
}

func TestIngest_HeaderOnly(t *testing.T) {
	table := ingestString(t, "a,b\n").Table
	assert.Equal(t, []string{"a", "b"}, table.Columns)
	assert.Zero(t, table.NumRows())
}

func TestIngest_Errors(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		sentinel error
		line     int
	}{
		{"empty file", "", ErrEmptyFile, 0},
		{"inconsistent field count", "a,b\n1,2\n3,4,5\n", ErrInvalidCSV, 3},
		{"unterminated quote", "a,b\n1,\"x\n", ErrInvalidCSV, 0},
		{"bare quote", "a,b\n1,x\"y\n", ErrInvalidCSV, 2},
		{"invalid utf-8", "a,b\n1,caf\xe9\n", ErrEncoding, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Ingest(context.Background(), strings.NewReader(tt.input), int64(len(tt.input)), IngestOptions{})
			require.Error(t, err)
			assert.Nil(t, result)
			assert.True(t, errors.Is(err, tt.sentinel), "got %v", err)

			if tt.line > 0 {
				var pe *ParseError
				require.True(t, errors.As(err, &pe))
				assert.Equal(t, tt.line, pe.Line)
			}
		})
	}
}

func TestIngest_FileTooLarge(t *testing.T) {
	_, err := Ingest(context.Background(), strings.NewReader("a\n1\n"), 1000, IngestOptions{MaxSize: 10})
	assert.ErrorIs(t, err, ErrFileTooLarge)
}

func TestIngest_Warnings(t *testing.T) {
	csv := "a\n1\n"

	result, err := Ingest(context.Background(), strings.NewReader(csv), 50, IngestOptions{WarnSize: 10, LargeSize: 100})
	require.NoError(t, err)
	assert.Equal(t, []string{WarningLargeFile}, result.Warnings)

	result, err = Ingest(context.Background(), strings.NewReader(csv), 500, IngestOptions{WarnSize: 10, LargeSize: 100})
	require.NoError(t, err)
	require.Len(t, result.Warnings, 2)
	assert.Contains(t, result.Warnings[1], "reading in chunks")
}

func TestIngest_BatchedMatchesSinglePass(t *testing.T) {
	var b strings.Builder
	b.WriteString("id,score,name\n")
	for i := 0; i < 2500; i++ {
		fmt.Fprintf(&b, "%d,%d.5,name%d\n", i, i, i)
	}
	csv := b.String()

	single, err := Ingest(context.Background(), strings.NewReader(csv), int64(len(csv)), IngestOptions{})
	require.NoError(t, err)

	var updates []Progress
	batched, err := Ingest(context.Background(), strings.NewReader(csv), int64(len(csv)), IngestOptions{
		LargeSize: 1,
		BatchRows: 1000,
		Progress:  func(p Progress) { updates = append(updates, p) },
	})
	require.NoError(t, err)

	assert.Equal(t, 3, batched.Batches)
	assert.Len(t, updates, 3)
	assert.Equal(t, single.Table, batched.Table)
	assert.Equal(t, int64(len(csv)), batched.BytesRead)
}

func TestIngest_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	csv := "a\n1\n2\n"
	_, err := Ingest(ctx, strings.NewReader(csv), int64(len(csv)), IngestOptions{LargeSize: 1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCheckFileType(t *testing.T) {
	tests := []struct {
		name    string
		info    FileInfo
		wantErr bool
	}{
		{"csv extension", FileInfo{Name: "data.csv", ContentType: "application/octet-stream"}, false},
		{"upper-case extension", FileInfo{Name: "DATA.CSV"}, false},
		{"csv mime type", FileInfo{Name: "export", ContentType: "text/csv; charset=utf-8"}, false},
		{"excel mime type", FileInfo{Name: "export", ContentType: "application/vnd.ms-excel"}, false},
		{"json file", FileInfo{Name: "data.json", ContentType: "application/json"}, true},
		{"no type", FileInfo{Name: "image.png"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckFileType(tt.info)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNotCSV)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
