package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryHistory is an in-process HistoryStore for tests.
type memoryHistory struct {
	mu      sync.Mutex
	entries []HistoryEntry
}

func (m *memoryHistory) Record(_ context.Context, e HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memoryHistory) Recent(_ context.Context, limit int) ([]HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]HistoryEntry, 0, len(m.entries))
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.entries[i])
	}
	return out, nil
}

func (m *memoryHistory) Prune(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.entries[:0]
	var pruned int64
	for _, e := range m.entries {
		if e.CreatedAt.Before(before) {
			pruned++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return pruned, nil
}

func (m *memoryHistory) Enabled() bool { return true }

func newTestService(t *testing.T, cfg ServiceConfig, history HistoryStore) *Service {
	t.Helper()
	svc := NewService(cfg, history, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return svc
}

func uploadCSV(t *testing.T, svc *Service, name, csv string) *Session {
	t.Helper()
	info := FileInfo{Name: name, ContentType: "text/csv", Size: int64(len(csv))}
	session, err := svc.CreateSession(context.Background(), info, strings.NewReader(csv))
	require.NoError(t, err)
	return session
}

func largeCSV(rows int) string {
	var b strings.Builder
	b.WriteString("id,name\n")
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&b, "%d,row%d\n", i, i)
	}
	return b.String()
}

func TestService_ConvertExample(t *testing.T) {
	history := &memoryHistory{}
	svc := newTestService(t, ServiceConfig{}, history)

	session := uploadCSV(t, svc, "example.csv", exampleCSV)
	assert.Equal(t, 2, session.Table.NumRows())
	assert.False(t, session.SampleOffered())

	ctx := ContextWithClient(context.Background(), "203.0.113.9", "test-agent")
	conv, err := svc.StartConversion(ctx, session.ID, ConvertOptions{Orientation: "Index"})
	require.NoError(t, err)

	artifact, err := svc.Result(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "example.json", artifact.FileName)
	assert.Contains(t, string(artifact.Text), `"0": {`)

	snap := conv.Snapshot()
	assert.Equal(t, StatusComplete, snap.Status)
	assert.Equal(t, OrientIndex, snap.Orientation)
	assert.Equal(t, MessageComplete, snap.Progress.Message)
	assert.Nil(t, snap.Error)

	// The history entry is written after the conversion completes.
	require.Eventually(t, func() bool {
		entries, _ := svc.History(context.Background(), 10)
		return len(entries) == 1
	}, time.Second, 10*time.Millisecond)

	entries, err := svc.History(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, "example.csv", entries[0].FileName)
	assert.Equal(t, 2, entries[0].Rows)
	assert.Equal(t, "203.0.113.9", entries[0].IPAddress)
	assert.Equal(t, "complete", entries[0].Status)
}

func TestService_LogsBatchedIngestProgress(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	svc := newTestService(t, ServiceConfig{
		Ingest: IngestOptions{LargeSize: 10, BatchRows: 100},
	}, nil)
	session := uploadCSV(t, svc, "big.csv", largeCSV(250))

	assert.Equal(t, 3, session.Batches)
	out := buf.String()
	assert.Equal(t, 3, strings.Count(out, `"msg":"ingest progress"`))
	assert.Contains(t, out, `"file":"big.csv"`)
	assert.Contains(t, out, "Loading chunk 3 (250 rows read)...")
}

func TestService_MalformedUploadStoresNothing(t *testing.T) {
	svc := newTestService(t, ServiceConfig{}, nil)

	csv := "a,b\n1,2\n3,4,5\n"
	info := FileInfo{Name: "bad.csv", ContentType: "text/csv", Size: int64(len(csv))}
	session, err := svc.CreateSession(context.Background(), info, strings.NewReader(csv))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidCSV)
	assert.Nil(t, session)
	assert.Zero(t, svc.SessionCount())
}

func TestService_RejectsNonCSV(t *testing.T) {
	svc := newTestService(t, ServiceConfig{}, nil)

	info := FileInfo{Name: "photo.png", ContentType: "image/png", Size: 3}
	_, err := svc.CreateSession(context.Background(), info, strings.NewReader("abc"))
	assert.ErrorIs(t, err, ErrNotCSV)
}

func TestService_SessionNotFound(t *testing.T) {
	svc := newTestService(t, ServiceConfig{}, nil)

	_, err := svc.Session("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = svc.StartConversion(context.Background(), "missing", ConvertOptions{Orientation: OrientRecords})
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = svc.Conversion("missing")
	assert.ErrorIs(t, err, ErrConversionNotFound)
}

func TestService_ValidatesOptions(t *testing.T) {
	svc := newTestService(t, ServiceConfig{}, nil)
	session := uploadCSV(t, svc, "big.csv", largeCSV(2000))

	_, err := svc.StartConversion(context.Background(), session.ID, ConvertOptions{Orientation: "table"})
	assert.ErrorIs(t, err, ErrInvalidOrientation)

	_, err = svc.StartConversion(context.Background(), session.ID, ConvertOptions{Orientation: OrientRecords, SampleSize: 50})
	assert.ErrorIs(t, err, ErrSampleSize)
}

func TestService_SamplingConversion(t *testing.T) {
	svc := newTestService(t, ServiceConfig{}, nil)
	session := uploadCSV(t, svc, "big.csv", largeCSV(2000))
	require.True(t, session.SampleOffered())

	seed := uint64(7)
	conv, err := svc.StartConversion(context.Background(), session.ID, ConvertOptions{
		Orientation: OrientSplit,
		SampleSize:  150,
		Seed:        &seed,
	})
	require.NoError(t, err)

	_, err = svc.Result(context.Background(), conv.ID)
	require.NoError(t, err)

	snap := conv.Snapshot()
	assert.True(t, snap.Sampled)
	assert.Equal(t, 150, snap.Rows)
}

func TestService_SmallTableIgnoresSampleSize(t *testing.T) {
	svc := newTestService(t, ServiceConfig{}, nil)
	session := uploadCSV(t, svc, "example.csv", exampleCSV)

	conv, err := svc.StartConversion(context.Background(), session.ID, ConvertOptions{
		Orientation: OrientRecords,
		SampleSize:  500,
	})
	require.NoError(t, err)

	_, err = svc.Result(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.False(t, conv.Snapshot().Sampled)
	assert.True(t, conv.Options.UseFullDataset)
}

func TestService_ProgressSubscription(t *testing.T) {
	svc := newTestService(t, ServiceConfig{
		Transform: TransformOptions{BatchPause: 20 * time.Millisecond},
	}, nil)
	session := uploadCSV(t, svc, "big.csv", largeCSV(6000))

	conv, err := svc.StartConversion(context.Background(), session.ID, ConvertOptions{Orientation: OrientIndex, UseFullDataset: true})
	require.NoError(t, err)

	updates, err := svc.SubscribeProgress(conv.ID)
	require.NoError(t, err)

	var last Progress
	count := 0
	for p := range updates {
		last = p
		count++
	}

	assert.Greater(t, count, 1)
	assert.Equal(t, Progress{Fraction: 1, Message: MessageComplete, Done: true}, last)
}

func TestService_SubscribeAfterCompletion(t *testing.T) {
	svc := newTestService(t, ServiceConfig{}, nil)
	session := uploadCSV(t, svc, "example.csv", exampleCSV)

	conv, err := svc.StartConversion(context.Background(), session.ID, ConvertOptions{Orientation: OrientRecords})
	require.NoError(t, err)
	<-conv.Done()

	updates, err := svc.SubscribeProgress(conv.ID)
	require.NoError(t, err)

	p, ok := <-updates
	require.True(t, ok)
	assert.True(t, p.Done)

	_, ok = <-updates
	assert.False(t, ok)
}

func TestService_OneConversionPerSession(t *testing.T) {
	svc := newTestService(t, ServiceConfig{
		Transform: TransformOptions{BatchPause: 50 * time.Millisecond},
	}, nil)
	session := uploadCSV(t, svc, "big.csv", largeCSV(6000))

	first, err := svc.StartConversion(context.Background(), session.ID, ConvertOptions{Orientation: OrientIndex, UseFullDataset: true})
	require.NoError(t, err)

	_, err = svc.StartConversion(context.Background(), session.ID, ConvertOptions{Orientation: OrientRecords, UseFullDataset: true})
	assert.ErrorIs(t, err, ErrConversionRunning)

	<-first.Done()

	second, err := svc.StartConversion(context.Background(), session.ID, ConvertOptions{Orientation: OrientRecords, UseFullDataset: true})
	require.NoError(t, err)
	<-second.Done()

	assert.Equal(t, second, session.Current())
	assert.Equal(t, OrientRecords, session.Options().Orientation)
}

func TestService_NewRunReplacesPreviousConversion(t *testing.T) {
	svc := newTestService(t, ServiceConfig{}, nil)
	session := uploadCSV(t, svc, "example.csv", exampleCSV)
	ctx := context.Background()

	first, err := svc.StartConversion(ctx, session.ID, ConvertOptions{Orientation: OrientRecords})
	require.NoError(t, err)
	_, err = svc.Result(ctx, first.ID)
	require.NoError(t, err)

	second, err := svc.StartConversion(ctx, session.ID, ConvertOptions{Orientation: OrientSplit})
	require.NoError(t, err)
	_, err = svc.Result(ctx, second.ID)
	require.NoError(t, err)

	_, err = svc.Conversion(first.ID)
	assert.ErrorIs(t, err, ErrConversionNotFound)

	got, err := svc.Conversion(second.ID)
	require.NoError(t, err)
	assert.Equal(t, second, got)
}

func TestService_ConversionOfDeletedSessionIsDropped(t *testing.T) {
	svc := newTestService(t, ServiceConfig{
		Transform: TransformOptions{BatchPause: 20 * time.Millisecond},
	}, nil)
	session := uploadCSV(t, svc, "big.csv", largeCSV(6000))

	conv, err := svc.StartConversion(context.Background(), session.ID, ConvertOptions{Orientation: OrientIndex, UseFullDataset: true})
	require.NoError(t, err)

	svc.DeleteSession(session.ID)
	// Still reachable while running.
	_, err = svc.Conversion(conv.ID)
	require.NoError(t, err)

	<-conv.Done()
	assert.Eventually(t, func() bool {
		_, err := svc.Conversion(conv.ID)
		return errors.Is(err, ErrConversionNotFound)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestService_TooManyConversions(t *testing.T) {
	svc := newTestService(t, ServiceConfig{
		MaxConcurrent: 1,
		MaxWait:       20 * time.Millisecond,
		Transform:     TransformOptions{BatchPause: 50 * time.Millisecond},
	}, nil)
	slow := uploadCSV(t, svc, "big.csv", largeCSV(6000))
	other := uploadCSV(t, svc, "example.csv", exampleCSV)

	running, err := svc.StartConversion(context.Background(), slow.ID, ConvertOptions{Orientation: OrientIndex, UseFullDataset: true})
	require.NoError(t, err)

	_, err = svc.StartConversion(context.Background(), other.ID, ConvertOptions{Orientation: OrientRecords})
	assert.ErrorIs(t, err, ErrTooManyConversions)
	assert.Equal(t, StatusFailed, other.Current().Status())

	<-running.Done()
}

func TestService_ShutdownCancelsRunningConversion(t *testing.T) {
	svc := NewService(ServiceConfig{
		Transform: TransformOptions{BatchPause: time.Second},
	}, nil, nil)
	session := uploadCSV(t, svc, "big.csv", largeCSV(6000))

	conv, err := svc.StartConversion(context.Background(), session.ID, ConvertOptions{Orientation: OrientIndex, UseFullDataset: true})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = svc.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Equal(t, StatusFailed, conv.Status())
	assert.ErrorIs(t, conv.Err(), context.Canceled)
}

func TestService_SweepExpired(t *testing.T) {
	svc := newTestService(t, ServiceConfig{SessionTTL: time.Minute}, nil)

	now := time.Now()
	svc.now = func() time.Time { return now }

	old := uploadCSV(t, svc, "old.csv", exampleCSV)
	conv, err := svc.StartConversion(context.Background(), old.ID, ConvertOptions{Orientation: OrientRecords})
	require.NoError(t, err)
	<-conv.Done()

	now = now.Add(45 * time.Second)
	fresh := uploadCSV(t, svc, "fresh.csv", exampleCSV)

	now = now.Add(30 * time.Second)
	assert.Equal(t, 1, svc.SweepExpired())

	_, err = svc.Session(old.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = svc.Conversion(conv.ID)
	assert.ErrorIs(t, err, ErrConversionNotFound)

	_, err = svc.Session(fresh.ID)
	assert.NoError(t, err)
}

func TestService_HistoryPruner(t *testing.T) {
	history := &memoryHistory{entries: []HistoryEntry{
		{ID: "old", CreatedAt: time.Now().AddDate(0, 0, -40)},
		{ID: "new", CreatedAt: time.Now()},
	}}
	svc := newTestService(t, ServiceConfig{}, history)

	svc.runPruneJob(context.Background(), PruneConfig{RetentionDays: 30})

	entries, err := svc.History(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "new", entries[0].ID)
}
