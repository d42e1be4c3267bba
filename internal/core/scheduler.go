package core

// scheduler.go runs the background maintenance jobs:
//  1. Remove sessions that have been idle longer than the session TTL
//  2. Delete conversion history older than the retention period
//
// Both loops are long-running and stop when their context is cancelled.
// A failed run is logged and retried on the next tick.

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often expired sessions are removed.
const DefaultSweepInterval = time.Minute

// PruneConfig holds configuration for the history pruner.
type PruneConfig struct {
	RetentionDays int           // Days of history to keep (default: 30)
	CheckInterval time.Duration // How often to run (default: 24h)
}

// StartSessionSweeper removes expired sessions every interval until ctx
// is cancelled.
func (s *Service) StartSessionSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	slog.Info("session sweeper started", "interval", interval, "ttl", s.cfg.SessionTTL)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("session sweeper stopped")
			return
		case <-ticker.C:
			if n := s.SweepExpired(); n > 0 {
				slog.Info("expired sessions removed", "count", n, "remaining", s.SessionCount())
			}
		}
	}
}

// StartHistoryPruner deletes old history entries. It runs immediately on
// start, then every CheckInterval.
func (s *Service) StartHistoryPruner(ctx context.Context, cfg PruneConfig) {
	if !s.history.Enabled() {
		return
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 24 * time.Hour
	}

	slog.Info("history pruner started",
		"retention_days", cfg.RetentionDays,
		"interval", cfg.CheckInterval,
	)

	s.runPruneJob(ctx, cfg)

	ticker := time.NewTicker(cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("history pruner stopped")
			return
		case <-ticker.C:
			s.runPruneJob(ctx, cfg)
		}
	}
}

// runPruneJob performs one prune cycle.
func (s *Service) runPruneJob(ctx context.Context, cfg PruneConfig) {
	start := time.Now()
	cutoff := s.now().AddDate(0, 0, -cfg.RetentionDays)

	pruned, err := s.history.Prune(ctx, cutoff)
	if err != nil {
		slog.Error("history prune failed", "error", err)
		return
	}
	slog.Info("pruned conversion history",
		"entries_pruned", pruned,
		"cutoff", cutoff.Format(time.RFC3339),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
