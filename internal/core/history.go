package core

// history.go keeps an optional log of conversions in Postgres.
//
// Only metadata is stored: file name, sizes, counts, orientation and timing.
// Table contents and JSON output never leave the process. The log is
// enabled when a database URL is configured; otherwise NopHistoryStore
// is used.

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// DefaultHistoryLimit is the number of entries returned when no limit is given.
const DefaultHistoryLimit = 50

// HistoryStore records finished conversions.
type HistoryStore interface {
	Record(ctx context.Context, entry HistoryEntry) error
	Recent(ctx context.Context, limit int) ([]HistoryEntry, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
	Enabled() bool
}

// NopHistoryStore discards entries.
type NopHistoryStore struct{}

func (NopHistoryStore) Record(context.Context, HistoryEntry) error { return nil }

func (NopHistoryStore) Recent(context.Context, int) ([]HistoryEntry, error) { return nil, nil }

func (NopHistoryStore) Prune(context.Context, time.Time) (int64, error) { return 0, nil }

func (NopHistoryStore) Enabled() bool { return false }

// DBTX is the subset of *pgxpool.Pool used by PGHistoryStore.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PGHistoryStore writes history to the conversion_history table.
type PGHistoryStore struct {
	db DBTX
}

// NewPGHistoryStore returns a store backed by db, typically a *pgxpool.Pool.
func NewPGHistoryStore(db DBTX) *PGHistoryStore {
	return &PGHistoryStore{db: db}
}

const historySchema = `
CREATE TABLE IF NOT EXISTS conversion_history (
	id           UUID PRIMARY KEY,
	session_id   UUID NOT NULL,
	file_name    TEXT NOT NULL,
	file_size    BIGINT NOT NULL,
	row_count    INTEGER NOT NULL,
	column_count INTEGER NOT NULL,
	orientation  TEXT NOT NULL,
	sampled      BOOLEAN NOT NULL DEFAULT FALSE,
	sample_size  INTEGER,
	output_bytes BIGINT NOT NULL DEFAULT 0,
	truncated    BOOLEAN NOT NULL DEFAULT FALSE,
	duration_ms  INTEGER NOT NULL,
	status       TEXT NOT NULL,
	error        TEXT,
	ip_address   INET,
	user_agent   TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS conversion_history_created_at_idx
	ON conversion_history (created_at DESC);`

// EnsureSchema creates the history table if it does not exist.
func (s *PGHistoryStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, historySchema); err != nil {
		return fmt.Errorf("create history schema: %w", err)
	}
	return nil
}

func (s *PGHistoryStore) Enabled() bool { return true }

// Record inserts one entry. A missing ID or timestamp is filled in.
func (s *PGHistoryStore) Record(ctx context.Context, e HistoryEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO conversion_history (
			id, session_id, file_name, file_size, row_count, column_count, orientation,
			sampled, sample_size, output_bytes, truncated, duration_ms, status,
			error, ip_address, user_agent, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		e.ID, e.SessionID, e.FileName, e.FileSize, e.Rows, e.Columns, string(e.Orientation),
		e.Sampled, toPgInt4(e.SampleSize), e.OutputBytes, e.Truncated, e.Duration.Milliseconds(), e.Status,
		toPgText(e.Error), parseIP(e.IPAddress), toPgText(e.UserAgent), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	return nil
}

// Recent returns the newest entries first.
func (s *PGHistoryStore) Recent(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, session_id, file_name, file_size, row_count, column_count, orientation,
			sampled, sample_size, output_bytes, truncated, duration_ms, status,
			error, ip_address, user_agent, created_at
		FROM conversion_history
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0, limit)
	for rows.Next() {
		entry, err := scanHistoryRow(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history rows: %w", err)
	}
	return entries, nil
}

// Prune deletes entries created before the cutoff.
func (s *PGHistoryStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM conversion_history WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanHistoryRow(rows pgx.Rows) (HistoryEntry, error) {
	var (
		e          HistoryEntry
		id         pgtype.UUID
		sessionID  pgtype.UUID
		orient     string
		sampleSize pgtype.Int4
		durationMs int32
		errText    pgtype.Text
		ipAddress  *netip.Addr
		userAgent  pgtype.Text
	)

	if err := rows.Scan(
		&id, &sessionID, &e.FileName, &e.FileSize, &e.Rows, &e.Columns, &orient,
		&e.Sampled, &sampleSize, &e.OutputBytes, &e.Truncated, &durationMs, &e.Status,
		&errText, &ipAddress, &userAgent, &e.CreatedAt,
	); err != nil {
		return HistoryEntry{}, fmt.Errorf("scan history row: %w", err)
	}

	e.ID = uuidString(id)
	e.SessionID = uuidString(sessionID)
	e.Orientation = Orientation(orient)
	e.SampleSize = int(sampleSize.Int32)
	e.Duration = time.Duration(durationMs) * time.Millisecond
	e.Error = errText.String
	e.UserAgent = userAgent.String
	if ipAddress != nil {
		e.IPAddress = ipAddress.String()
	}
	return e, nil
}

func toPgText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func toPgInt4(i int) pgtype.Int4 {
	return pgtype.Int4{Int32: int32(i), Valid: i > 0}
}

func uuidString(u pgtype.UUID) string {
	if !u.Valid {
		return ""
	}
	return uuid.UUID(u.Bytes).String()
}

// parseIP strips a port and parses the address. Unparseable input is stored
// as NULL.
func parseIP(s string) *netip.Addr {
	if s == "" {
		return nil
	}
	host := s
	if h, _, err := net.SplitHostPort(s); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return nil
	}
	return &addr
}
