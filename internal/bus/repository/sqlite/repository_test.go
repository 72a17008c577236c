package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentchatbus/agentchatbus/internal/bus/models"
	"github.com/agentchatbus/agentchatbus/internal/common/errdefs"
	"github.com/agentchatbus/agentchatbus/internal/db"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	pool, err := db.Open(dbPath, 0)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = pool.Close() })

	repo, err := NewWithDB(pool.Writer(), pool.Reader())
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	return repo
}

func TestRepository_SeqMonotonic(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	var prev int64
	for i := 0; i < 10; i++ {
		seq, err := repo.NextSeq(ctx)
		if err != nil {
			t.Fatalf("NextSeq failed: %v", err)
		}
		if seq <= prev {
			t.Fatalf("seq not monotonic: %d after %d", seq, prev)
		}
		prev = seq
	}

	current, err := repo.CurrentSeq(ctx)
	if err != nil {
		t.Fatalf("CurrentSeq failed: %v", err)
	}
	if current != prev {
		t.Errorf("expected current seq %d, got %d", prev, current)
	}
}

func TestRepository_ThreadCreateIdempotentByTopic(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	first, created, err := repo.CreateThread(ctx, "deploy-pipeline", nil, "")
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}
	if !created {
		t.Fatal("expected first create to report created=true")
	}

	second, created, err := repo.CreateThread(ctx, "deploy-pipeline", nil, "")
	if err != nil {
		t.Fatalf("second CreateThread failed: %v", err)
	}
	if created {
		t.Error("expected second create to report created=false")
	}
	if second.ID != first.ID {
		t.Errorf("expected same thread id, got %s and %s", first.ID, second.ID)
	}

	threads, err := repo.ListThreads(ctx, "", false)
	if err != nil {
		t.Fatalf("ListThreads failed: %v", err)
	}
	if len(threads) != 1 {
		t.Errorf("expected exactly one thread, got %d", len(threads))
	}
}

func TestRepository_ThreadLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	thread, _, err := repo.CreateThread(ctx, "lifecycle", map[string]interface{}{"origin": "test"}, "be brief")
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}

	got, err := repo.GetThread(ctx, thread.ID)
	if err != nil {
		t.Fatalf("GetThread failed: %v", err)
	}
	if got.Status != models.ThreadStatusDiscuss {
		t.Errorf("expected status discuss, got %s", got.Status)
	}
	if got.SystemPrompt != "be brief" {
		t.Errorf("expected system prompt to round-trip, got %q", got.SystemPrompt)
	}
	if got.Metadata["origin"] != "test" {
		t.Errorf("expected metadata to round-trip, got %v", got.Metadata)
	}

	if err := repo.SetThreadState(ctx, thread.ID, string(models.ThreadStatusImplement)); err != nil {
		t.Fatalf("SetThreadState failed: %v", err)
	}

	// Close twice; the second close refreshes summary and closed_at.
	if err := repo.CloseThread(ctx, thread.ID, "first summary"); err != nil {
		t.Fatalf("CloseThread failed: %v", err)
	}
	if err := repo.CloseThread(ctx, thread.ID, "final summary"); err != nil {
		t.Fatalf("second CloseThread failed: %v", err)
	}
	got, err = repo.GetThread(ctx, thread.ID)
	if err != nil {
		t.Fatalf("GetThread failed: %v", err)
	}
	if got.Status != models.ThreadStatusClosed {
		t.Errorf("expected status closed, got %s", got.Status)
	}
	if got.Summary != "final summary" {
		t.Errorf("expected refreshed summary, got %q", got.Summary)
	}
	if got.ClosedAt == nil {
		t.Error("expected closed_at to be set")
	}
}

func TestRepository_ArchiveUnarchive(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	thread, _, err := repo.CreateThread(ctx, "archive-me", nil, "")
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}

	if err := repo.ArchiveThread(ctx, thread.ID); err != nil {
		t.Fatalf("ArchiveThread failed: %v", err)
	}

	// Archived threads are excluded from the default listing.
	threads, err := repo.ListThreads(ctx, "", false)
	if err != nil {
		t.Fatalf("ListThreads failed: %v", err)
	}
	if len(threads) != 0 {
		t.Errorf("expected archived thread hidden, got %d threads", len(threads))
	}

	threads, err = repo.ListThreads(ctx, string(models.ThreadStatusArchived), false)
	if err != nil {
		t.Fatalf("ListThreads by status failed: %v", err)
	}
	if len(threads) != 1 {
		t.Fatalf("expected archived thread in status listing, got %d", len(threads))
	}

	if err := repo.UnarchiveThread(ctx, thread.ID); err != nil {
		t.Fatalf("UnarchiveThread failed: %v", err)
	}
	got, err := repo.GetThread(ctx, thread.ID)
	if err != nil {
		t.Fatalf("GetThread failed: %v", err)
	}
	if got.Status != models.ThreadStatusDiscuss {
		t.Errorf("expected status discuss after unarchive, got %s", got.Status)
	}

	// archive; unarchive; archive leaves status archived.
	if err := repo.ArchiveThread(ctx, thread.ID); err != nil {
		t.Fatalf("re-archive failed: %v", err)
	}
	got, _ = repo.GetThread(ctx, thread.ID)
	if got.Status != models.ThreadStatusArchived {
		t.Errorf("expected status archived, got %s", got.Status)
	}
}

func TestRepository_ThreadNotFound(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.GetThread(ctx, "missing")
	if !errors.Is(err, errdefs.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := repo.SetThreadState(ctx, "missing", "done"); !errors.Is(err, errdefs.ErrNotFound) {
		t.Errorf("expected ErrNotFound from SetThreadState, got %v", err)
	}
	if _, err := repo.DeleteThread(ctx, "missing"); !errors.Is(err, errdefs.ErrNotFound) {
		t.Errorf("expected ErrNotFound from DeleteThread, got %v", err)
	}
}

func postMessage(t *testing.T, repo *Repository, threadID, author, content string) *models.Message {
	t.Helper()
	ctx := context.Background()
	seq, err := repo.NextSeq(ctx)
	if err != nil {
		t.Fatalf("NextSeq failed: %v", err)
	}
	msg := &models.Message{
		ID:         author + "-" + content,
		ThreadID:   threadID,
		Author:     author,
		AuthorName: author,
		Role:       models.RoleUser,
		Content:    content,
		Seq:        seq,
		CreatedAt:  time.Now().UTC(),
	}
	if err := repo.InsertMessage(ctx, msg); err != nil {
		t.Fatalf("InsertMessage failed: %v", err)
	}
	return msg
}

func TestRepository_MessagesOrderedBySeq(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	thread, _, err := repo.CreateThread(ctx, "ordered", nil, "")
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}

	m1 := postMessage(t, repo, thread.ID, "alice", "one")
	m2 := postMessage(t, repo, thread.ID, "bob", "two")
	m3 := postMessage(t, repo, thread.ID, "alice", "three")

	msgs, err := repo.ListMessages(ctx, thread.ID, 0, 100)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if !(msgs[0].Seq < msgs[1].Seq && msgs[1].Seq < msgs[2].Seq) {
		t.Errorf("expected ascending seq, got %d %d %d", msgs[0].Seq, msgs[1].Seq, msgs[2].Seq)
	}

	// after_seq excludes everything up to and including the cursor.
	msgs, err = repo.ListMessages(ctx, thread.ID, m2.Seq, 100)
	if err != nil {
		t.Fatalf("ListMessages after seq failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Seq != m3.Seq {
		t.Errorf("expected only the last message, got %d messages", len(msgs))
	}

	// limit=0 returns no stored rows.
	msgs, err = repo.ListMessages(ctx, thread.ID, 0, 0)
	if err != nil {
		t.Fatalf("ListMessages limit=0 failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected no messages with limit=0, got %d", len(msgs))
	}

	latest, err := repo.LatestSeq(ctx, thread.ID)
	if err != nil {
		t.Fatalf("LatestSeq failed: %v", err)
	}
	if latest != m3.Seq {
		t.Errorf("expected latest seq %d, got %d", m3.Seq, latest)
	}
	_ = m1
}

func TestRepository_DeleteThreadCascades(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	thread, _, err := repo.CreateThread(ctx, "doomed", nil, "")
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}
	postMessage(t, repo, thread.ID, "alice", "one")
	postMessage(t, repo, thread.ID, "bob", "two")

	receipt, err := repo.DeleteThread(ctx, thread.ID)
	if err != nil {
		t.Fatalf("DeleteThread failed: %v", err)
	}
	if receipt.MessageCount != 2 {
		t.Errorf("expected receipt for 2 messages, got %d", receipt.MessageCount)
	}
	if receipt.Topic != "doomed" {
		t.Errorf("expected topic in receipt, got %q", receipt.Topic)
	}

	if _, err := repo.GetThread(ctx, thread.ID); !errors.Is(err, errdefs.ErrNotFound) {
		t.Errorf("expected thread gone, got %v", err)
	}
	msgs, err := repo.ListMessages(ctx, thread.ID, 0, 100)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected messages gone, got %d", len(msgs))
	}
}

func TestRepository_AgentNameDisambiguation(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	a1, err := repo.RegisterAgent(ctx, "Cursor", "GPT-4", "", nil, "")
	if err != nil {
		t.Fatalf("RegisterAgent failed: %v", err)
	}
	if a1.Name != "Cursor (GPT-4)" {
		t.Errorf("expected base name, got %q", a1.Name)
	}

	a2, err := repo.RegisterAgent(ctx, "Cursor", "GPT-4", "", nil, "")
	if err != nil {
		t.Fatalf("second RegisterAgent failed: %v", err)
	}
	if a2.Name != "Cursor (GPT-4) 2" {
		t.Errorf("expected suffix 2, got %q", a2.Name)
	}

	a3, err := repo.RegisterAgent(ctx, "Cursor", "GPT-4", "", nil, "")
	if err != nil {
		t.Fatalf("third RegisterAgent failed: %v", err)
	}
	if a3.Name != "Cursor (GPT-4) 3" {
		t.Errorf("expected suffix 3, got %q", a3.Name)
	}

	if a1.Token == a2.Token {
		t.Error("expected distinct tokens per agent")
	}
}

func TestRepository_AgentBlankIdentity(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	agent, err := repo.RegisterAgent(ctx, "", "", "", nil, "")
	if err != nil {
		t.Fatalf("RegisterAgent failed: %v", err)
	}
	if agent.Name != "Unknown IDE (Unknown Model)" {
		t.Errorf("expected placeholder identity, got %q", agent.Name)
	}
	if agent.AliasSource != models.AliasSourceAuto {
		t.Errorf("expected auto alias, got %q", agent.AliasSource)
	}
}

func TestRepository_AgentTokenGating(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	agent, err := repo.RegisterAgent(ctx, "Zed", "Claude", "", nil, "")
	if err != nil {
		t.Fatalf("RegisterAgent failed: %v", err)
	}

	if err := repo.HeartbeatAgent(ctx, agent.ID, "wrong-token"); !errors.Is(err, errdefs.ErrAuthFailed) {
		t.Errorf("expected ErrAuthFailed for wrong token, got %v", err)
	}
	if err := repo.HeartbeatAgent(ctx, "no-such-agent", agent.Token); !errors.Is(err, errdefs.ErrAuthFailed) {
		t.Errorf("expected ErrAuthFailed for unknown id, got %v", err)
	}
	if err := repo.HeartbeatAgent(ctx, agent.ID, agent.Token); err != nil {
		t.Errorf("expected heartbeat to succeed, got %v", err)
	}
}

func TestRepository_UnregisterKeepsRowForResume(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	agent, err := repo.RegisterAgent(ctx, "Cline", "Sonnet", "", nil, "helper")
	if err != nil {
		t.Fatalf("RegisterAgent failed: %v", err)
	}

	if err := repo.UnregisterAgent(ctx, agent.ID, agent.Token); err != nil {
		t.Fatalf("UnregisterAgent failed: %v", err)
	}

	resumed, err := repo.ResumeAgent(ctx, agent.ID, agent.Token, 30*time.Second)
	if err != nil {
		t.Fatalf("ResumeAgent failed: %v", err)
	}
	if resumed.Name != agent.Name {
		t.Errorf("expected name preserved, got %q", resumed.Name)
	}
	if resumed.DisplayName != "helper" {
		t.Errorf("expected display name preserved, got %q", resumed.DisplayName)
	}
	if !resumed.IsOnline {
		t.Error("expected resumed agent to be online")
	}
	if resumed.LastActivity != models.ActivityResume {
		t.Errorf("expected resume activity, got %q", resumed.LastActivity)
	}
}

func TestRepository_MarkMsgWaitDoesNotTouchHeartbeat(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	agent, err := repo.RegisterAgent(ctx, "Cursor", "GPT-4", "", nil, "")
	if err != nil {
		t.Fatalf("RegisterAgent failed: %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	if err := repo.MarkMsgWait(ctx, agent.ID, agent.Token); err != nil {
		t.Fatalf("MarkMsgWait failed: %v", err)
	}

	got, err := repo.GetAgent(ctx, agent.ID, 30*time.Second)
	if err != nil {
		t.Fatalf("GetAgent failed: %v", err)
	}
	if got.LastActivity != models.ActivityMsgWait {
		t.Errorf("expected msg_wait activity, got %q", got.LastActivity)
	}
	if !got.LastHeartbeat.Equal(agent.LastHeartbeat) {
		t.Errorf("expected heartbeat untouched, was %v now %v", agent.LastHeartbeat, got.LastHeartbeat)
	}
}

func TestRepository_OnlineDerivation(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	agent, err := repo.RegisterAgent(ctx, "Cursor", "GPT-4", "", nil, "")
	if err != nil {
		t.Fatalf("RegisterAgent failed: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	// A heartbeat window shorter than the elapsed time makes the agent offline.
	got, err := repo.GetAgent(ctx, agent.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("GetAgent failed: %v", err)
	}
	if got.IsOnline {
		t.Error("expected agent offline after heartbeat window elapsed")
	}

	got, err = repo.GetAgent(ctx, agent.ID, time.Hour)
	if err != nil {
		t.Fatalf("GetAgent failed: %v", err)
	}
	if !got.IsOnline {
		t.Error("expected agent online inside heartbeat window")
	}
}

func TestRepository_EventsSinceAndPrune(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	thread, _, err := repo.CreateThread(ctx, "events", nil, "")
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}
	postMessage(t, repo, thread.ID, "alice", "hello")

	events, err := repo.EventsSince(ctx, 0, 50)
	if err != nil {
		t.Fatalf("EventsSince failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected thread.new and msg.new events, got %d", len(events))
	}
	if events[0].EventType != models.EventThreadNew || events[1].EventType != models.EventMsgNew {
		t.Errorf("unexpected event order: %s, %s", events[0].EventType, events[1].EventType)
	}
	if events[0].ID >= events[1].ID {
		t.Errorf("expected strictly increasing event ids, got %d then %d", events[0].ID, events[1].ID)
	}

	// Resuming from a checkpoint only returns newer events.
	newer, err := repo.EventsSince(ctx, events[0].ID, 50)
	if err != nil {
		t.Fatalf("EventsSince checkpoint failed: %v", err)
	}
	if len(newer) != 1 || newer[0].ID != events[1].ID {
		t.Errorf("expected one newer event, got %d", len(newer))
	}

	// Everything is newer than a zero retention cutoff.
	deleted, err := repo.PruneEvents(ctx, 0)
	if err != nil {
		t.Fatalf("PruneEvents failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("expected 2 pruned events, got %d", deleted)
	}
	events, _ = repo.EventsSince(ctx, 0, 50)
	if len(events) != 0 {
		t.Errorf("expected empty log after prune, got %d", len(events))
	}
}

func TestRepository_SweepExpiredDiscussThreads(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	stale, _, err := repo.CreateThread(ctx, "stale", nil, "")
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}
	postMessage(t, repo, stale.ID, "alice", "old news")

	fresh, _, err := repo.CreateThread(ctx, "fresh", nil, "")
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}
	postMessage(t, repo, fresh.ID, "bob", "just now")

	// Back-date the stale thread beyond the 60 minute window.
	if err := repo.BackdateThreadActivity(ctx, stale.ID, time.Now().UTC().Add(-61*time.Minute)); err != nil {
		t.Fatalf("BackdateThreadActivity failed: %v", err)
	}

	cutoff := time.Now().UTC().Add(-60 * time.Minute)
	expired, err := repo.FindExpiredDiscussThreads(ctx, cutoff)
	if err != nil {
		t.Fatalf("FindExpiredDiscussThreads failed: %v", err)
	}
	if len(expired) != 1 || expired[0].Thread.ID != stale.ID {
		t.Fatalf("expected only the stale thread, got %d", len(expired))
	}

	if err := repo.TimeoutThread(ctx, expired[0].Thread, expired[0].LastActivity, 60); err != nil {
		t.Fatalf("TimeoutThread failed: %v", err)
	}
	got, err := repo.GetThread(ctx, stale.ID)
	if err != nil {
		t.Fatalf("GetThread failed: %v", err)
	}
	if got.Status != models.ThreadStatusClosed {
		t.Errorf("expected closed after timeout, got %s", got.Status)
	}

	// Second sweep finds nothing.
	expired, err = repo.FindExpiredDiscussThreads(ctx, cutoff)
	if err != nil {
		t.Fatalf("second sweep failed: %v", err)
	}
	if len(expired) != 0 {
		t.Errorf("expected no expired threads on second sweep, got %d", len(expired))
	}
}
