package core

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerialize_Indented(t *testing.T) {
	doc, err := Transform(context.Background(), exampleTable(t), OrientRecords, TransformOptions{})
	require.NoError(t, err)

	out, err := Serialize(doc)
	require.NoError(t, err)

	want := `[
  {
    "a": 1,
    "b": "x"
  },
  {
    "a": 2,
    "b": "y"
  }
]`
	assert.Equal(t, want, string(out))
}

func TestSerialize_EmptyTable(t *testing.T) {
	table := ingestString(t, "a,b\n").Table

	records, err := Transform(context.Background(), table, OrientRecords, TransformOptions{})
	require.NoError(t, err)
	out, err := Serialize(records)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(out))

	index, err := Transform(context.Background(), table, OrientIndex, TransformOptions{})
	require.NoError(t, err)
	out, err = Serialize(index)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(out))
}

func TestDownloadName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"data.csv", "data.json"},
		{"sales.2024.csv", "sales.json"},
		{"report", "report.json"},
		{".hidden.csv", "data.json"},
		{"", "data.json"},
		{`C:\Users\me\export.csv`, "export.json"},
		{"dir/sub/file.csv", "file.json"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, DownloadName(tt.in))
		})
	}
}

func TestNewArtifact_Small(t *testing.T) {
	text := []byte(`{"a": 1}`)
	a := NewArtifact("input.csv", text, 0)

	assert.Equal(t, "input.json", a.FileName)
	assert.False(t, a.Truncated)
	assert.Equal(t, string(text), a.Preview())
	assert.Empty(t, a.preview, "untruncated text is not copied")
	assert.Equal(t, len(text), a.Size())
}

func TestNewArtifact_Truncates(t *testing.T) {
	text := []byte(strings.Repeat("é", 30))
	a := NewArtifact("big.csv", text, 10)

	require.True(t, a.Truncated)
	assert.Equal(t, strings.Repeat("é", 10)+TruncationSuffix, a.Preview())
	assert.Equal(t, 10+utf8.RuneCountInString(TruncationSuffix), utf8.RuneCountInString(a.Preview()))
	// The download keeps the full text.
	assert.Equal(t, text, a.Text)
}

func TestNewArtifact_ExactlyAtLimit(t *testing.T) {
	a := NewArtifact("x.csv", []byte(strings.Repeat("x", 10)), 10)
	assert.False(t, a.Truncated)
}

func TestArtifact_DataURIRoundTrip(t *testing.T) {
	doc, err := Transform(context.Background(), exampleTable(t), OrientSplit, TransformOptions{})
	require.NoError(t, err)
	text, err := Serialize(doc)
	require.NoError(t, err)

	a := NewArtifact("example.csv", text, 0)
	uri := a.DataURI()

	const prefix = "data:application/json;base64,"
	require.True(t, strings.HasPrefix(uri, prefix))

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(uri, prefix))
	require.NoError(t, err)
	assert.Equal(t, text, decoded)
}
