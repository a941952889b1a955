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

	"github.com/hitoshi/hwledger/internal/model"
	"github.com/hitoshi/hwledger/internal/repository"
)

// mockPurger はPurgerのモック実装。
type mockPurger struct {
	mu      sync.Mutex
	calls   int
	before  time.Time
	deleted int64
	err     error
}

func (m *mockPurger) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.before = before
	return m.deleted, m.err
}

func (m *mockPurger) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func TestCleanupJob_Run_UsesCurrentTime(t *testing.T) {
	var buf bytes.Buffer
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	purger := &mockPurger{deleted: 3}

	job := NewCleanupJob(purger, newTestLogger(&buf))
	job.now = func() time.Time { return fixed }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !purger.before.Equal(fixed) {
		t.Errorf("before = %v, want %v", purger.before, fixed)
	}

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("ログのJSON解析に失敗: %v", err)
	}
	if entry["deleted_count"] != float64(3) {
		t.Errorf("deleted_count = %v, want 3", entry["deleted_count"])
	}
}

func TestCleanupJob_Run_Error(t *testing.T) {
	var buf bytes.Buffer
	purger := &mockPurger{err: errors.New("connection refused")}

	job := NewCleanupJob(purger, newTestLogger(&buf))
	err := job.Run(context.Background())

	if err == nil {
		t.Fatal("エラーが返されるべき")
	}
	if !strings.Contains(buf.String(), "connection refused") {
		t.Errorf("エラーがログに出力されていない: %s", buf.String())
	}
}

func TestCleanupJob_Run_WithMemoryRepo(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRevokedTokenRepo()
	now := time.Now()

	tokens := []model.RevokedToken{
		{TokenID: "expired", Username: "alice", ExpiresAt: now.Add(-time.Hour), RevokedAt: now.Add(-2 * time.Hour)},
		{TokenID: "live", Username: "bob", ExpiresAt: now.Add(time.Hour), RevokedAt: now},
	}
	for i := range tokens {
		if err := repo.Revoke(ctx, &tokens[i]); err != nil {
			t.Fatalf("Revoke: %v", err)
		}
	}

	var buf bytes.Buffer
	if err := NewCleanupJob(repo, newTestLogger(&buf)).Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if revoked, _ := repo.IsRevoked(ctx, "expired"); revoked {
		t.Error("期限切れの失効レコードは削除されるべき")
	}
	if revoked, _ := repo.IsRevoked(ctx, "live"); !revoked {
		t.Error("有効期限内の失効レコードは残るべき")
	}
}

func TestNewScheduler_InvalidSchedule(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockPurger{}, newTestLogger(&buf))

	if _, err := NewScheduler(job, "not a cron", newTestLogger(&buf)); err == nil {
		t.Fatal("不正なcron式はエラーになるべき")
	}
}

func TestScheduler_Start_RunsImmediatelyAndStops(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)
	purger := &mockPurger{}
	job := NewCleanupJob(purger, logger)

	s, err := NewScheduler(job, "", logger)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for purger.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("起動直後に1回実行されるべき")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("コンテキストのキャンセル後に停止するべき")
	}
}
