package core

import (
	"sync"
	"time"
)

// Session is one uploaded file and the conversions run against it.
// The table is parsed once at upload and never modified.
type Session struct {
	ID        string
	File      FileInfo
	Table     *Table
	Warnings  []string
	Batches   int
	CreatedAt time.Time

	mu       sync.Mutex
	lastUsed time.Time
	options  ConvertOptions
	current  *Conversion
}

// SampleOffered reports whether the options form shows sampling controls.
func (s *Session) SampleOffered() bool {
	return SampleOffered(s.Table.NumRows())
}

// SampleBounds returns the sample slider bounds for this table.
func (s *Session) SampleBounds() (lo, hi, def int) {
	return SampleBounds(s.Table.NumRows())
}

// Preview returns the first n rows for display.
func (s *Session) Preview(n int) Preview {
	return NewPreview(s.Table, n)
}

// Options returns the options of the most recent conversion. Before the
// first conversion it returns the form defaults.
func (s *Session) Options() ConvertOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.options
}

// Current returns the most recent conversion, or nil.
func (s *Session) Current() *Conversion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastUsed = now
	s.mu.Unlock()
}

// idleSince returns the last time the session was used. A session with a
// running conversion is treated as in use.
func (s *Session) idleSince(now time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && s.current.Status() == StatusRunning {
		return now
	}
	return s.lastUsed
}

// begin replaces the session's conversion with c unless one is running.
// It returns the replaced conversion, if any.
func (s *Session) begin(c *Conversion, now time.Time) (*Conversion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil && s.current.Status() == StatusRunning {
		return nil, ErrConversionRunning
	}
	prev := s.current
	s.current = c
	s.options = c.Options
	s.lastUsed = now
	return prev, nil
}
