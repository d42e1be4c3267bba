package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/JonMunkholm/csv2json/internal/logging"
	"github.com/google/uuid"
)

// DefaultConversionTimeout bounds a single conversion.
const DefaultConversionTimeout = 10 * time.Minute

// DefaultSessionTTL is how long an idle session is kept.
const DefaultSessionTTL = 30 * time.Minute

// ServiceConfig holds the pipeline settings. Zero values use the defaults
// of each stage.
type ServiceConfig struct {
	Ingest            IngestOptions
	Transform         TransformOptions
	PreviewRows       int
	TruncateChars     int
	SessionTTL        time.Duration
	MaxConcurrent     int
	MaxWait           time.Duration
	ConversionTimeout time.Duration
}

// Observer receives pipeline events. The metrics package implements it.
type Observer interface {
	ObserveUpload(status string, bytes int64, rows int, elapsed time.Duration)
	ObserveConversion(orientation, status string, rows, outputBytes int, elapsed time.Duration)
	SetActiveSessions(n int)
	SetActiveConversions(n int)
}

type nopObserver struct{}

func (nopObserver) ObserveUpload(string, int64, int, time.Duration) {}

func (nopObserver) ObserveConversion(string, string, int, int, time.Duration) {}

func (nopObserver) SetActiveSessions(int) {}

func (nopObserver) SetActiveConversions(int) {}

// Service owns the in-memory sessions and runs conversions against them.
type Service struct {
	cfg      ServiceConfig
	limiter  *ConversionLimiter
	history  HistoryStore
	observer Observer
	now      func() time.Time

	mu          sync.RWMutex
	sessions    map[string]*Session
	conversions map[string]*Conversion

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewService creates a Service. A nil history or observer disables that
// concern.
func NewService(cfg ServiceConfig, history HistoryStore, observer Observer) *Service {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if cfg.ConversionTimeout <= 0 {
		cfg.ConversionTimeout = DefaultConversionTimeout
	}
	if cfg.PreviewRows <= 0 {
		cfg.PreviewRows = DefaultPreviewRows
	}
	if history == nil {
		history = NopHistoryStore{}
	}
	if observer == nil {
		observer = nopObserver{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cfg:         cfg,
		limiter:     NewConversionLimiter(cfg.MaxConcurrent, cfg.MaxWait),
		history:     history,
		observer:    observer,
		now:         time.Now,
		sessions:    make(map[string]*Session),
		conversions: make(map[string]*Conversion),
		baseCtx:     ctx,
		cancel:      cancel,
	}
}

// PreviewRows returns the configured preview length.
func (s *Service) PreviewRows() int { return s.cfg.PreviewRows }

// CreateSession validates and parses an upload and stores it as a new
// session. Nothing is stored on failure.
func (s *Service) CreateSession(ctx context.Context, info FileInfo, r io.Reader) (*Session, error) {
	start := s.now()

	if err := CheckFileType(info); err != nil {
		s.observer.ObserveUpload("rejected", info.Size, 0, s.now().Sub(start))
		return nil, err
	}

	opts := s.cfg.Ingest
	if opts.Progress == nil {
		logger := logging.WithFields(ctx, "file", info.Name, "size", info.Size)
		opts.Progress = func(p Progress) {
			logger.Info("ingest progress", "percent", p.Percent(), "message", p.Message)
		}
	}

	result, err := Ingest(ctx, r, info.Size, opts)
	if err != nil {
		s.observer.ObserveUpload("failed", info.Size, 0, s.now().Sub(start))
		return nil, fmt.Errorf("ingest %s: %w", info.Name, err)
	}

	session := &Session{
		ID:        uuid.New().String(),
		File:      info,
		Table:     result.Table,
		Warnings:  result.Warnings,
		Batches:   result.Batches,
		CreatedAt: start,
		lastUsed:  start,
		options:   ConvertOptions{Orientation: OrientRecords, UseFullDataset: true},
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	active := len(s.sessions)
	s.mu.Unlock()

	s.observer.ObserveUpload("ok", result.BytesRead, result.Table.NumRows(), s.now().Sub(start))
	s.observer.SetActiveSessions(active)
	return session, nil
}

// Session looks up a session by ID and marks it as used.
func (s *Service) Session(id string) (*Session, error) {
	s.mu.RLock()
	session, ok := s.sessions[id]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	session.touch(s.now())
	return session, nil
}

// DeleteSession forgets a session and its finished conversions.
func (s *Service) DeleteSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteSessionLocked(id)
	s.observer.SetActiveSessions(len(s.sessions))
}

func (s *Service) deleteSessionLocked(id string) {
	delete(s.sessions, id)
	for convID, conv := range s.conversions {
		if conv.SessionID == id && conv.Status() != StatusRunning {
			delete(s.conversions, convID)
		}
	}
}

// StartConversion starts converting the session's table and returns
// immediately. Use SubscribeProgress or Result to follow it.
//
// It fails with ErrConversionRunning if the session already has a running
// conversion, and with ErrTooManyConversions if no slot frees up in time.
func (s *Service) StartConversion(ctx context.Context, sessionID string, opts ConvertOptions) (*Conversion, error) {
	session, err := s.Session(sessionID)
	if err != nil {
		return nil, err
	}

	orient, err := ParseOrientation(string(opts.Orientation))
	if err != nil {
		return nil, err
	}
	opts.Orientation = orient

	sampling := session.SampleOffered() && !opts.UseFullDataset
	if sampling {
		lo, hi, _ := session.SampleBounds()
		if opts.SampleSize < lo || opts.SampleSize > hi {
			return nil, fmt.Errorf("%w: %d not in [%d, %d]", ErrSampleSize, opts.SampleSize, lo, hi)
		}
	} else {
		opts.UseFullDataset = true
		opts.SampleSize = 0
	}

	conv := newConversion(uuid.New().String(), session, opts, s.now())
	prev, err := session.begin(conv, s.now())
	if err != nil {
		return nil, err
	}

	// A session keeps one artifact; the new run replaces the last one.
	s.mu.Lock()
	if prev != nil {
		delete(s.conversions, prev.ID)
	}
	s.conversions[conv.ID] = conv
	s.mu.Unlock()

	if err := s.limiter.Acquire(ctx); err != nil {
		conv.finish(nil, err, 0)
		return nil, err
	}
	s.observer.SetActiveConversions(s.limiter.ActiveCount())

	ip, ua := ClientFromContext(ctx)
	logger := logging.WithFields(ctx, "session_id", session.ID, "conversion_id", conv.ID)
	logger.Info("conversion started",
		"orientation", opts.Orientation,
		"rows", session.Table.NumRows(),
		"sample_size", opts.SampleSize,
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.limiter.Release()
			s.observer.SetActiveConversions(s.limiter.ActiveCount())
		}()
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic in conversion", "panic", r)
				conv.finish(nil, fmt.Errorf("%w: internal error: %v", ErrConversion, r), s.now().Sub(conv.StartedAt))
			}
		}()

		artifact, err := s.runConversion(session, conv)
		elapsed := s.now().Sub(conv.StartedAt)
		conv.finish(artifact, err, elapsed)

		s.recordConversion(session, conv, ip, ua, logger)
		s.dropOrphaned(session, conv)
	}()

	return conv, nil
}

// dropOrphaned forgets a finished conversion whose session was removed while
// it ran.
func (s *Service) dropOrphaned(session *Session, conv *Conversion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[session.ID] != session {
		delete(s.conversions, conv.ID)
	}
}

// runConversion samples, transforms and serializes the session's table.
func (s *Service) runConversion(session *Session, conv *Conversion) (*Artifact, error) {
	ctx, cancel := context.WithTimeout(s.baseCtx, s.cfg.ConversionTimeout)
	defer cancel()

	opts := conv.Options
	table := session.Table
	if !opts.UseFullDataset {
		conv.setProgress(Progress{Message: fmt.Sprintf("Sampling %d rows...", opts.SampleSize)})
		sampled, err := Sample(table, opts.SampleSize, NewSampleRand(opts.Seed))
		if err != nil {
			return nil, err
		}
		table = sampled
	}
	conv.setInput(table.NumRows(), !opts.UseFullDataset)

	topts := s.cfg.Transform
	topts.Progress = func(p Progress) {
		// The final update is sent by finish once the artifact exists.
		if !p.Done {
			conv.setProgress(p)
		}
	}

	doc, err := Transform(ctx, table, opts.Orientation, topts)
	if err != nil {
		return nil, err
	}

	text, err := Serialize(doc)
	if err != nil {
		return nil, err
	}

	return NewArtifact(session.File.Name, text, s.cfg.TruncateChars), nil
}

// recordConversion logs the outcome and writes a history entry.
func (s *Service) recordConversion(session *Session, conv *Conversion, ip, ua string, logger *slog.Logger) {
	snap := conv.Snapshot()
	elapsed := time.Duration(snap.DurationMs) * time.Millisecond

	s.observer.ObserveConversion(string(snap.Orientation), string(snap.Status), snap.Rows, snap.OutputBytes, elapsed)

	entry := HistoryEntry{
		ID:          conv.ID,
		SessionID:   session.ID,
		FileName:    session.File.Name,
		FileSize:    session.File.Size,
		Rows:        snap.Rows,
		Columns:     session.Table.NumColumns(),
		Orientation: snap.Orientation,
		Sampled:     snap.Sampled,
		SampleSize:  conv.Options.SampleSize,
		OutputBytes: snap.OutputBytes,
		Truncated:   snap.Truncated,
		Duration:    elapsed,
		Status:      string(snap.Status),
		IPAddress:   ip,
		UserAgent:   ua,
		CreatedAt:   conv.StartedAt,
	}

	if err := conv.Err(); err != nil {
		entry.Error = err.Error()
		logger.Warn("conversion failed", "error", err, "duration_ms", snap.DurationMs)
	} else {
		logger.Info("conversion complete",
			"rows", snap.Rows,
			"output_bytes", snap.OutputBytes,
			"truncated", snap.Truncated,
			"duration_ms", snap.DurationMs,
		)
	}

	if !s.history.Enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.history.Record(ctx, entry); err != nil {
		logger.Error("failed to record conversion history", "error", err)
	}
}

// Conversion returns a conversion without blocking.
func (s *Service) Conversion(id string) (*Conversion, error) {
	s.mu.RLock()
	conv, ok := s.conversions[id]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConversionNotFound, id)
	}
	return conv, nil
}

// SubscribeProgress returns a channel of progress updates. The channel is
// closed after the final update.
func (s *Service) SubscribeProgress(id string) (<-chan Progress, error) {
	conv, err := s.Conversion(id)
	if err != nil {
		return nil, err
	}
	return conv.subscribe(), nil
}

// Result blocks until the conversion finishes or ctx ends.
func (s *Service) Result(ctx context.Context, id string) (*Artifact, error) {
	conv, err := s.Conversion(id)
	if err != nil {
		return nil, err
	}

	select {
	case <-conv.Done():
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := conv.Err(); err != nil {
		return nil, err
	}
	return conv.Artifact(), nil
}

// LimiterStatus reports conversion slot usage.
func (s *Service) LimiterStatus() LimiterStatus {
	return s.limiter.Status()
}

// HistoryEnabled reports whether conversions are being logged.
func (s *Service) HistoryEnabled() bool {
	return s.history.Enabled()
}

// History returns the most recent conversion log entries.
func (s *Service) History(ctx context.Context, limit int) ([]HistoryEntry, error) {
	return s.history.Recent(ctx, limit)
}

// SweepExpired removes sessions idle for longer than the session TTL and
// returns how many were removed.
func (s *Service) SweepExpired() int {
	now := s.now()
	cutoff := now.Add(-s.cfg.SessionTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, session := range s.sessions {
		if session.idleSince(now).Before(cutoff) {
			s.deleteSessionLocked(id)
			removed++
		}
	}
	if removed > 0 {
		s.observer.SetActiveSessions(len(s.sessions))
	}
	return removed
}

// SessionCount returns the number of stored sessions.
func (s *Service) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Shutdown waits for running conversions to finish. When ctx ends first,
// the remaining conversions are cancelled.
func (s *Service) Shutdown(ctx context.Context) error {
	err := s.limiter.WaitForDrain(ctx)
	s.cancel()
	s.wg.Wait()
	return err
}
