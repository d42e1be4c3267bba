package core

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBOMSkippingReader(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{
			name:     "file with BOM",
			input:    append([]byte{0xEF, 0xBB, 0xBF}, []byte("hello,world")...),
			expected: "hello,world",
		},
		{
			name:     "file without BOM",
			input:    []byte("hello,world"),
			expected: "hello,world",
		},
		{
			name:     "empty file",
			input:    []byte{},
			expected: "",
		},
		{
			name:     "only BOM",
			input:    []byte{0xEF, 0xBB, 0xBF},
			expected: "",
		},
		{
			name:     "partial BOM at start",
			input:    []byte{0xEF, 0xBB, 'a', 'b', 'c'},
			expected: string([]byte{0xEF, 0xBB, 'a', 'b', 'c'}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := io.ReadAll(NewBOMSkippingReader(bytes.NewReader(tt.input)))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestUTF8ValidatingReader(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		want    string
		wantErr bool
	}{
		{name: "valid ASCII", input: []byte("hello,world"), want: "hello,world"},
		{name: "valid multibyte", input: []byte("größe,€,日本"), want: "größe,€,日本"},
		{name: "empty input", input: []byte{}, want: ""},
		{name: "invalid single byte", input: []byte{'h', 'e', 0x80, 'l', 'o'}, wantErr: true},
		{name: "truncated sequence at EOF", input: []byte{'a', 0xE2, 0x82}, wantErr: true},
		{name: "latin-1 encoded file", input: []byte("caf\xe9,1\n"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := io.ReadAll(NewUTF8ValidatingReader(bytes.NewReader(tt.input)))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrEncoding))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(result))
		})
	}
}

func TestUTF8ValidatingReader_SplitSequences(t *testing.T) {
	// One byte per read forces every multi-byte rune across read boundaries.
	input := strings.Repeat("€a日b", 50)

	result, err := io.ReadAll(NewUTF8ValidatingReader(iotest.OneByteReader(strings.NewReader(input))))
	require.NoError(t, err)
	assert.Equal(t, input, string(result))
}

func TestUTF8ValidatingReader_ReportsOffset(t *testing.T) {
	input := append([]byte(strings.Repeat("x", 10)), 0xFF)

	_, err := io.ReadAll(NewUTF8ValidatingReader(bytes.NewReader(input)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "byte 10")
}

func TestCountingReader(t *testing.T) {
	input := strings.Repeat("x", 1000)
	reader := NewCountingReader(strings.NewReader(input), int64(len(input)))

	buf := make([]byte, 100)
	totalRead := 0
	for {
		n, err := reader.Read(buf)
		totalRead += n
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}

	assert.Equal(t, len(input), totalRead)
	assert.Equal(t, int64(len(input)), reader.BytesRead)
	assert.Equal(t, 100, reader.Progress())
}

func TestCountingReader_UnknownTotal(t *testing.T) {
	reader := NewCountingReader(strings.NewReader("abc"), 0)
	_, _ = io.ReadAll(reader)
	assert.Equal(t, 0, reader.Progress())
}

func TestWrapForStreaming(t *testing.T) {
	input := append([]byte{0xEF, 0xBB, 0xBF}, []byte("a,b\n1,2\n")...)

	reader, counter := WrapForStreaming(bytes.NewReader(input), int64(len(input)))
	result, err := io.ReadAll(reader)
	require.NoError(t, err)

	assert.Equal(t, "a,b\n1,2\n", string(result))
	assert.Equal(t, int64(len(input)), counter.BytesRead)
}
