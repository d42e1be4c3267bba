package core

// streaming.go provides the io.Reader wrappers applied to an upload before
// it reaches the CSV parser:
//
//   - BOMSkippingReader: Removes a leading UTF-8 BOM (0xEF 0xBB 0xBF)
//   - UTF8ValidatingReader: Fails with ErrEncoding on invalid UTF-8
//   - CountingReader: Tracks bytes read for progress reporting
//
// Use WrapForStreaming to apply all of them in the correct order.

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// BOMSkippingReader wraps an io.Reader and skips the UTF-8 BOM if present.
// The BOM is commonly added by spreadsheet exports on Windows.
type BOMSkippingReader struct {
	r       *bufio.Reader
	checked bool
}

// NewBOMSkippingReader creates a new BOM-skipping reader.
func NewBOMSkippingReader(r io.Reader) *BOMSkippingReader {
	return &BOMSkippingReader{r: bufio.NewReader(r)}
}

// Read implements io.Reader. The first call drops the BOM.
func (b *BOMSkippingReader) Read(p []byte) (int, error) {
	if !b.checked {
		b.checked = true
		head, err := b.r.Peek(len(utf8BOM))
		if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
			return 0, err
		}
		if bytes.Equal(head, utf8BOM) {
			if _, err := b.r.Discard(len(utf8BOM)); err != nil {
				return 0, err
			}
		}
	}
	return b.r.Read(p)
}

// UTF8ValidatingReader passes bytes through unchanged and returns an error
// wrapping ErrEncoding at the first invalid UTF-8 sequence.
//
// A multi-byte sequence split across two reads is held back until the next
// read completes it, so memory use stays O(buffer size).
type UTF8ValidatingReader struct {
	reader io.Reader

	// Leftover bytes from the previous read that start a multi-byte sequence
	pending []byte
	offset  int64
	err     error
}

// NewUTF8ValidatingReader creates a new validating reader.
func NewUTF8ValidatingReader(r io.Reader) *UTF8ValidatingReader {
	return &UTF8ValidatingReader{
		reader:  r,
		pending: make([]byte, 0, utf8.UTFMax),
	}
}

// Read implements io.Reader.
func (v *UTF8ValidatingReader) Read(p []byte) (int, error) {
	if v.err != nil {
		return 0, v.err
	}
	if len(p) < utf8.UTFMax {
		// Too small to guarantee progress with held-back bytes.
		return 0, io.ErrShortBuffer
	}

	offset := copy(p, v.pending)
	v.pending = v.pending[:0]

	n, err := v.reader.Read(p[offset:])
	n += offset
	atEOF := err == io.EOF

	if isAllASCII(p[:n]) {
		v.offset += int64(n)
		return n, err
	}

	valid := n
	if !atEOF {
		if trailing := incompleteTrailingBytes(p[:n]); trailing > 0 {
			valid = n - trailing
			v.pending = append(v.pending, p[valid:n]...)
		}
	}

	if pos := invalidUTF8Offset(p[:valid]); pos >= 0 {
		v.err = fmt.Errorf("%w: invalid UTF-8 at byte %d", ErrEncoding, v.offset+int64(pos))
		v.offset += int64(pos)
		return pos, v.err
	}

	v.offset += int64(valid)
	if valid == 0 && err == nil {
		// All bytes were held back; ask the caller to read again.
		return 0, nil
	}
	return valid, err
}

// isAllASCII returns true if all bytes are ASCII (< 128).
func isAllASCII(data []byte) bool {
	for _, b := range data {
		if b >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// invalidUTF8Offset returns the offset of the first invalid sequence, or -1.
func invalidUTF8Offset(data []byte) int {
	for i := 0; i < len(data); {
		if data[i] < utf8.RuneSelf {
			i++
			continue
		}
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size == 1 {
			return i
		}
		i += size
	}
	return -1
}

// incompleteTrailingBytes returns the number of bytes at the end of data
// that start a multi-byte UTF-8 sequence which has not been completed yet.
func incompleteTrailingBytes(data []byte) int {
	for i := 1; i <= utf8.UTFMax-1 && i <= len(data); i++ {
		b := data[len(data)-i]
		if b >= 0xC0 {
			if i < runeLen(b) {
				return i
			}
			return 0
		}
		// Anything other than a continuation byte ends the search
		if b&0xC0 != 0x80 {
			return 0
		}
	}
	return 0
}

// runeLen returns the expected length of a UTF-8 sequence starting with byte b.
func runeLen(b byte) int {
	switch {
	case b < 0x80:
		return 1
	case b < 0xC0:
		return 0 // continuation byte
	case b < 0xE0:
		return 2
	case b < 0xF0:
		return 3
	default:
		return 4
	}
}

// CountingReader wraps an io.Reader to track bytes read.
type CountingReader struct {
	reader    io.Reader
	BytesRead int64
	Total     int64 // If known (0 if unknown)
}

// NewCountingReader creates a counting reader with optional total size.
func NewCountingReader(r io.Reader, total int64) *CountingReader {
	return &CountingReader{
		reader: r,
		Total:  total,
	}
}

// Read implements io.Reader.
func (r *CountingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.BytesRead += int64(n)
	return n, err
}

// Progress returns the read progress as a percentage (0-100).
// Returns 0 if total is unknown.
func (r *CountingReader) Progress() int {
	if r.Total <= 0 {
		return 0
	}
	pct := int(r.BytesRead * 100 / r.Total)
	if pct > 100 {
		return 100
	}
	return pct
}

// WrapForStreaming wraps a reader with byte counting, BOM skipping and
// UTF-8 validation. Counting sits closest to the source so BytesRead
// matches the declared upload size.
func WrapForStreaming(r io.Reader, totalSize int64) (io.Reader, *CountingReader) {
	counter := NewCountingReader(r, totalSize)
	return NewUTF8ValidatingReader(NewBOMSkippingReader(counter)), counter
}
