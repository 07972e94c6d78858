package cleanup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/devsync/internal/revocation"
)

// mockPurger はPurgerのモック実装。
type mockPurger struct {
	mu      sync.Mutex
	calls   int
	lastNow time.Time
	purgeFn func(ctx context.Context, now time.Time) (int, error)
}

func (m *mockPurger) Purge(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	m.calls++
	m.lastNow = now
	m.mu.Unlock()
	if m.purgeFn != nil {
		return m.purgeFn(ctx, now)
	}
	return 0, nil
}

func (m *mockPurger) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

var _ Purger = (*mockPurger)(nil)
var _ Purger = (*revocation.MemoryStore)(nil)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// findLogField はJSONログ行から指定キーを持つ最初のエントリの値を返す。
func findLogField(buf *bytes.Buffer, key string) (any, bool) {
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if v, ok := entry[key]; ok {
			return v, true
		}
	}
	return nil, false
}

func TestNewCleanupJob_DefaultInterval(t *testing.T) {
	job := NewCleanupJob(&mockPurger{}, nil, 0)

	if job.Interval != DefaultInterval {
		t.Errorf("Interval = %v, want %v", job.Interval, DefaultInterval)
	}
}

func TestCleanupJob_Run_PassesCurrentTime(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockPurger{}
	job := NewCleanupJob(mock, newTestLogger(&buf), time.Minute)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	job.now = func() time.Time { return fixed }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	if mock.callCount() != 1 {
		t.Fatalf("Purge calls = %d, want 1", mock.callCount())
	}
	if !mock.lastNow.Equal(fixed) {
		t.Errorf("Purge now = %v, want %v", mock.lastNow, fixed)
	}
}

func TestCleanupJob_Run_LogsDeletedCount(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockPurger{purgeFn: func(context.Context, time.Time) (int, error) {
		return 42, nil
	}}
	job := NewCleanupJob(mock, newTestLogger(&buf), time.Minute)

	_ = job.Run(context.Background())

	count, ok := findLogField(&buf, "deleted_count")
	if !ok || count != float64(42) {
		t.Errorf("ログに deleted_count=42 が記録されていない。ログ出力: %s", buf.String())
	}
	if _, ok := findLogField(&buf, "duration_ms"); !ok {
		t.Errorf("ログに duration_ms が記録されていない。ログ出力: %s", buf.String())
	}
}

func TestCleanupJob_Run_ReturnsAndLogsError(t *testing.T) {
	var buf bytes.Buffer
	storeErr := errors.New("redis: connection refused")
	mock := &mockPurger{purgeFn: func(context.Context, time.Time) (int, error) {
		return 0, storeErr
	}}
	job := NewCleanupJob(mock, newTestLogger(&buf), time.Minute)

	err := job.Run(context.Background())
	if !errors.Is(err, storeErr) {
		t.Fatalf("Run() error = %v, want wrapped %v", err, storeErr)
	}
	if !strings.Contains(buf.String(), "ERROR") {
		t.Errorf("エラー時にERRORレベルのログが記録されていない。ログ出力: %s", buf.String())
	}
}

// TestCleanupJob_Run_RemovesExpiredEntries は実際のMemoryStoreで
// 期限切れエントリのみが削除されることを検証する。
func TestCleanupJob_Run_RemovesExpiredEntries(t *testing.T) {
	var buf bytes.Buffer
	store := revocation.NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	if err := store.Invalidate(ctx, "expired-token", now.Add(-time.Minute)); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if err := store.Invalidate(ctx, "live-token", now.Add(time.Hour)); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}

	job := NewCleanupJob(store, newTestLogger(&buf), time.Minute)
	job.now = func() time.Time { return now }

	if err := job.Run(ctx); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	if store.Len() != 1 {
		t.Errorf("Len = %d, want 1", store.Len())
	}
	if revoked, _ := store.IsRevoked(ctx, "live-token"); !revoked {
		t.Error("有効期限内の無効化エントリは残るべき")
	}
}

func TestCleanupJob_Start_RunsImmediatelyAndStopsOnCancel(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockPurger{}
	job := NewCleanupJob(mock, newTestLogger(&buf), 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for mock.callCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if mock.callCount() < 2 {
		t.Fatalf("Purge calls = %d, want at least 2", mock.callCount())
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after context cancellation")
	}
}

func TestCleanupJob_Start_ContinuesAfterError(t *testing.T) {
	mock := &mockPurger{purgeFn: func(context.Context, time.Time) (int, error) {
		return 0, errors.New("transient")
	}}
	job := NewCleanupJob(mock, slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil)), 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go job.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for mock.callCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if mock.callCount() < 3 {
		t.Errorf("Purge calls = %d, want at least 3 despite errors", mock.callCount())
	}
}
