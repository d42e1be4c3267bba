package core

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"unicode/utf8"
)

// DefaultTruncateChars is the viewer limit in characters.
const DefaultTruncateChars = 500000

// TruncationSuffix marks a cut-off viewer preview.
const TruncationSuffix = "\n... (truncated)"

// Compact returns doc as compact JSON with keys in document order.
func Compact(doc Document) ([]byte, error) {
	w := newJSONWriter()
	if err := doc.appendJSON(w); err != nil {
		if errors.Is(err, ErrConversion) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrConversion, err)
	}
	return w.Bytes(), nil
}

// Serialize returns doc as JSON indented by two spaces, with no trailing
// newline.
func Serialize(doc Document) ([]byte, error) {
	compact, err := Compact(doc)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	out.Grow(len(compact) * 2)
	if err := json.Indent(&out, compact, "", "  "); err != nil {
		return nil, fmt.Errorf("%w: indent: %w", ErrConversion, err)
	}
	return out.Bytes(), nil
}

// Artifact is the result of a conversion: the full JSON text plus the
// preview shown in the viewer.
type Artifact struct {
	FileName  string // Download name, "<basename>.json"
	Text      []byte
	Truncated bool

	preview string // set only when Truncated
}

// NewArtifact builds the artifact for JSON text converted from the upload
// named sourceName. limit <= 0 uses DefaultTruncateChars.
func NewArtifact(sourceName string, text []byte, limit int) *Artifact {
	if limit <= 0 {
		limit = DefaultTruncateChars
	}

	a := &Artifact{
		FileName: DownloadName(sourceName),
		Text:     text,
	}
	a.preview, a.Truncated = truncateRunes(text, limit)
	return a
}

// Preview returns the viewer text: the full text, or its first runes plus
// TruncationSuffix when the artifact is truncated.
func (a *Artifact) Preview() string {
	if !a.Truncated {
		return string(a.Text)
	}
	return a.preview
}

// Size returns the length of the full text in bytes.
func (a *Artifact) Size() int { return len(a.Text) }

// DataURI returns the full text as a base64 data URI for a download link.
func (a *Artifact) DataURI() string {
	return "data:application/json;base64," + base64.StdEncoding.EncodeToString(a.Text)
}

// DownloadName derives the download file name from an upload name: the part
// of the base name before the first "." plus ".json". An empty stem gives
// "data.json".
func DownloadName(sourceName string) string {
	base := path.Base(strings.ReplaceAll(sourceName, `\`, "/"))
	stem, _, _ := strings.Cut(base, ".")
	if stem == "" || stem == "/" {
		return "data.json"
	}
	return stem + ".json"
}

// truncateRunes returns the first limit runes of text plus TruncationSuffix,
// or false when text has at most limit runes.
func truncateRunes(text []byte, limit int) (string, bool) {
	if len(text) <= limit || utf8.RuneCount(text) <= limit {
		return "", false
	}

	cut := 0
	for i := 0; i < limit; i++ {
		_, size := utf8.DecodeRune(text[cut:])
		cut += size
	}
	return string(text[:cut]) + TruncationSuffix, true
}
