package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"unicode/utf16"
	"unicode/utf8"
)

// jsonWriter builds compact JSON with keys in insertion order. Strings and
// floats go through a shared encoder so quoting matches encoding/json;
// non-ASCII text is escaped to \uXXXX.
type jsonWriter struct {
	buf     bytes.Buffer
	scratch bytes.Buffer
	enc     *json.Encoder
}

func newJSONWriter() *jsonWriter {
	w := &jsonWriter{}
	w.enc = json.NewEncoder(&w.scratch)
	w.enc.SetEscapeHTML(false)
	return w
}

func (w *jsonWriter) byte(c byte) { w.buf.WriteByte(c) }

func (w *jsonWriter) raw(s string) { w.buf.WriteString(s) }

func (w *jsonWriter) string(s string) error {
	w.scratch.Reset()
	if err := w.enc.Encode(s); err != nil {
		return err
	}
	appendASCII(&w.buf, bytes.TrimSuffix(w.scratch.Bytes(), []byte{'\n'}))
	return nil
}

func (w *jsonWriter) int(i int64) {
	w.buf.Write(strconv.AppendInt(w.buf.AvailableBuffer(), i, 10))
}

// floatDecimals is the number of decimal places floats are rounded to.
const floatDecimals = 10

// float writes f rounded to floatDecimals places. Integral values keep a
// trailing ".0".
func (w *jsonWriter) float(f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("%w: %v is not representable in JSON", ErrConversion, f)
	}
	f = roundDecimals(f, floatDecimals)
	w.scratch.Reset()
	if err := w.enc.Encode(f); err != nil {
		return err
	}
	out := bytes.TrimSuffix(w.scratch.Bytes(), []byte{'\n'})
	w.buf.Write(out)
	if !bytes.ContainsAny(out, ".eE") {
		w.buf.WriteString(".0")
	}
	return nil
}

// roundDecimals rounds f to n decimal places.
func roundDecimals(f float64, n int) float64 {
	r, err := strconv.ParseFloat(strconv.FormatFloat(f, 'f', n, 64), 64)
	if err != nil {
		return f
	}
	return r
}

func (w *jsonWriter) value(v Value) error {
	switch v.Kind {
	case KindInt:
		w.int(v.Int)
	case KindFloat:
		return w.float(v.Float)
	case KindBool:
		w.raw(strconv.FormatBool(v.Bool))
	case KindString:
		return w.string(v.Str)
	default:
		w.raw("null")
	}
	return nil
}

// object writes {"k":v,...} for parallel keys and values.
func (w *jsonWriter) object(keys []string, values []Value) error {
	w.byte('{')
	for i, k := range keys {
		if i > 0 {
			w.byte(',')
		}
		if err := w.string(k); err != nil {
			return err
		}
		w.byte(':')
		if err := w.value(values[i]); err != nil {
			return err
		}
	}
	w.byte('}')
	return nil
}

func (w *jsonWriter) Bytes() []byte { return w.buf.Bytes() }

// appendASCII copies encoded JSON into dst, escaping runes >= 0x80.
// Runes outside the BMP become a UTF-16 surrogate pair.
func appendASCII(dst *bytes.Buffer, encoded []byte) {
	for len(encoded) > 0 {
		c := encoded[0]
		if c < utf8.RuneSelf {
			dst.WriteByte(c)
			encoded = encoded[1:]
			continue
		}
		r, size := utf8.DecodeRune(encoded)
		encoded = encoded[size:]
		if r1, r2 := utf16.EncodeRune(r); r1 != utf8.RuneError {
			fmt.Fprintf(dst, `\u%04x\u%04x`, r1, r2)
			continue
		}
		fmt.Fprintf(dst, `\u%04x`, r)
	}
}
