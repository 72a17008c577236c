package waiter

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentchatbus/agentchatbus/internal/bus/models"
	sqliterepo "github.com/agentchatbus/agentchatbus/internal/bus/repository/sqlite"
	"github.com/agentchatbus/agentchatbus/internal/common/logger"
	"github.com/agentchatbus/agentchatbus/internal/db"
	eventbus "github.com/agentchatbus/agentchatbus/internal/events/bus"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *sqliterepo.Repository, eventbus.EventBus) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	pool, err := db.Open(dbPath, 0)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = pool.Close() })

	repo, err := sqliterepo.NewWithDB(pool.Writer(), pool.Reader())
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "console", OutputPath: "stdout"})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	bus := eventbus.NewMemoryEventBus(log)

	return New(repo, bus, log), repo, bus
}

func post(t *testing.T, repo *sqliterepo.Repository, threadID, content string) *models.Message {
	t.Helper()
	ctx := context.Background()
	seq, err := repo.NextSeq(ctx)
	if err != nil {
		t.Fatalf("NextSeq failed: %v", err)
	}
	msg := &models.Message{
		ID:        "m-" + content,
		ThreadID:  threadID,
		Author:    "tester",
		Role:      models.RoleUser,
		Content:   content,
		Seq:       seq,
		CreatedAt: time.Now().UTC(),
	}
	if err := repo.InsertMessage(ctx, msg); err != nil {
		t.Fatalf("InsertMessage failed: %v", err)
	}
	return msg
}

func TestWaitReturnsExistingMessagesImmediately(t *testing.T) {
	coord, repo, _ := newTestCoordinator(t)
	ctx := context.Background()

	thread, _, err := repo.CreateThread(ctx, "ready", nil, "")
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}
	post(t, repo, thread.ID, "already here")

	msgs, err := coord.Wait(ctx, thread.ID, 0, 5*time.Second)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "already here" {
		t.Errorf("expected the existing message, got %d messages", len(msgs))
	}
}

func TestWaitZeroTimeoutReturnsEmpty(t *testing.T) {
	coord, repo, _ := newTestCoordinator(t)
	ctx := context.Background()

	thread, _, err := repo.CreateThread(ctx, "quiet", nil, "")
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}

	start := time.Now()
	msgs, err := coord.Wait(ctx, thread.ID, 0, 0)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected empty result, got %d messages", len(msgs))
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("expected immediate return, took %v", elapsed)
	}
}

func TestWaitTimesOutEmpty(t *testing.T) {
	coord, repo, _ := newTestCoordinator(t)
	ctx := context.Background()

	thread, _, err := repo.CreateThread(ctx, "silent", nil, "")
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}

	msgs, err := coord.Wait(ctx, thread.ID, 0, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected empty result on timeout, got %d messages", len(msgs))
	}
}

func TestWaitWakesOnNewMessage(t *testing.T) {
	coord, repo, bus := newTestCoordinator(t)
	ctx := context.Background()

	thread, _, err := repo.CreateThread(ctx, "busy", nil, "")
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}

	type result struct {
		msgs []*models.Message
		err  error
	}
	done := make(chan result, 1)
	go func() {
		msgs, err := coord.Wait(ctx, thread.ID, 0, 10*time.Second)
		done <- result{msgs, err}
	}()

	time.Sleep(100 * time.Millisecond)
	msg := post(t, repo, thread.ID, "wake up")
	if err := bus.Publish(ctx, "bus."+models.EventMsgNew, eventbus.NewEvent(models.EventMsgNew, "test", map[string]interface{}{
		"thread_id": thread.ID,
		"seq":       msg.Seq,
	})); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("Wait failed: %v", r.err)
		}
		if len(r.msgs) != 1 || r.msgs[0].Content != "wake up" {
			t.Errorf("expected the new message, got %d messages", len(r.msgs))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("wait did not wake after publish")
	}
}

func TestWaitIgnoresOtherThreads(t *testing.T) {
	coord, repo, bus := newTestCoordinator(t)
	ctx := context.Background()

	watched, _, err := repo.CreateThread(ctx, "watched", nil, "")
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}
	other, _, err := repo.CreateThread(ctx, "other", nil, "")
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}

	done := make(chan []*models.Message, 1)
	go func() {
		msgs, _ := coord.Wait(ctx, watched.ID, 0, 300*time.Millisecond)
		done <- msgs
	}()

	time.Sleep(50 * time.Millisecond)
	msg := post(t, repo, other.ID, "elsewhere")
	_ = bus.Publish(ctx, "bus."+models.EventMsgNew, eventbus.NewEvent(models.EventMsgNew, "test", map[string]interface{}{
		"thread_id": other.ID,
		"seq":       msg.Seq,
	}))

	select {
	case msgs := <-done:
		if len(msgs) != 0 {
			t.Errorf("expected empty result for watched thread, got %d messages", len(msgs))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("wait did not return")
	}
}

func TestWaitCancellation(t *testing.T) {
	coord, repo, _ := newTestCoordinator(t)

	thread, _, err := repo.CreateThread(context.Background(), "cancelled", nil, "")
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := coord.Wait(ctx, thread.ID, 0, 30*time.Second)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("wait did not stop after cancellation")
	}
}
