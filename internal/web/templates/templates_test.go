package templates

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/JonMunkholm/csv2json/internal/core"
	"github.com/a-h/templ"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func renderString(t *testing.T, c templ.Component) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, c.Render(context.Background(), &buf))
	return buf.String()
}

func TestErrorAlert_Escapes(t *testing.T) {
	out := renderString(t, ErrorAlert("<script>", core.FormatHint, "FILE002"))

	assert.Contains(t, out, "&lt;script&gt;")
	assert.NotContains(t, out, "<script>")
	assert.Contains(t, out, core.FormatHint)
	assert.Contains(t, out, "(FILE002)")
}

func TestUploadPage(t *testing.T) {
	out := renderString(t, UploadPage(nil))
	assert.True(t, strings.HasPrefix(out, "<!DOCTYPE html>"))
	assert.Contains(t, out, `enctype="multipart/form-data"`)
	assert.Contains(t, out, "<footer>")
	assert.NotContains(t, out, `class="alert alert-error"`)

	withErr := renderString(t, UploadPage(&core.UserMessage{Message: "bad", Action: "fix it", Code: "FILE002"}))
	assert.Contains(t, withErr, `class="alert alert-error"`)
}

func TestLayout_RendersChildren(t *testing.T) {
	out := renderString(t, ErrorPage(core.UserMessage{Message: "gone", Code: "SES001"}, 404))

	assert.Contains(t, out, "<title>Error | CSV to JSON Converter</title>")
	assert.Contains(t, out, `<script src="`+HTMXSource+`"></script>`)
	assert.Contains(t, out, `content="{&#34;responseHandling&#34;`)
	assert.Contains(t, out, "HTTP 404")
	assert.Less(t, strings.Index(out, "gone"), strings.Index(out, "<footer>"))
}

func TestOptionsForm(t *testing.T) {
	session := &core.Session{ID: "s1", Table: &core.Table{}}

	out := renderString(t, OptionsForm(session, core.ConvertOptions{Orientation: core.OrientSplit}))

	assert.Contains(t, out, `action="/session/s1/convert" hx-post="/session/s1/convert"`)
	assert.Contains(t, out, `value="split" checked>`)
	assert.NotContains(t, out, `value="records" checked`)
	assert.NotContains(t, out, `name="sample_size"`)
}

func TestPreviewTable(t *testing.T) {
	p := core.Preview{
		Columns:      []string{"a", "b"},
		Kinds:        []string{"int", "string"},
		Labels:       []int{0, 1},
		Rows:         [][]string{{"1", "x"}, {"2", "<y>"}},
		TotalRows:    10,
		TotalColumns: 2,
	}

	out := renderString(t, PreviewTable(p))

	assert.Contains(t, out, `<th>a <span class="muted">int</span></th>`)
	assert.Contains(t, out, "<tr><th>1</th><td>2</td><td>&lt;y&gt;</td></tr>")
	assert.Contains(t, out, "Showing 2 of 10 rows")
}

func TestResultView_Truncated(t *testing.T) {
	text := []byte(strings.Repeat("a", 20))
	artifact := core.NewArtifact("data.csv", text, 5)

	out := renderString(t, ResultView(ResultParams{
		Conversion: core.ConversionSnapshot{
			ID:          "c1",
			SessionID:   "s1",
			Orientation: core.OrientRecords,
			Status:      core.StatusComplete,
			Progress:    core.Progress{Fraction: 1, Message: core.MessageComplete, Done: true},
			Rows:        3,
		},
		Artifact: artifact,
	}))

	assert.Contains(t, out, "preview below is truncated")
	assert.Contains(t, out, "aaaaa\n... (truncated)")
	assert.Contains(t, out, artifact.DataURI())
	assert.Contains(t, out, `href="/api/conversions/c1/download"`)
}

func TestResultView_Failed(t *testing.T) {
	msg := core.MapError(core.ErrConversion)

	out := renderString(t, ResultView(ResultParams{
		Conversion: core.ConversionSnapshot{
			ID:        "c1",
			SessionID: "s1",
			Status:    core.StatusFailed,
			Error:     &msg,
		},
	}))

	assert.Contains(t, out, "alert-error")
	assert.NotContains(t, out, "data:application/json")
}

func TestProgressView(t *testing.T) {
	out := renderString(t, ProgressView(core.ConversionSnapshot{
		ID:          "abc",
		FileName:    "big.csv",
		Orientation: core.OrientIndex,
		Status:      core.StatusRunning,
		Progress:    core.Progress{Fraction: 0.5, Message: "Processing chunk 3/6..."},
	}))

	assert.Contains(t, out, `id="progress-abc"`)
	assert.Contains(t, out, `value="50"`)
	assert.Contains(t, out, `var id = "abc";`)
	assert.Contains(t, out, "Processing chunk 3/6...")
}
