package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	logx "thalis/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Path: ":memory:"}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestTaskLifecycle(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	task := Task{
		Identity:      "ops@example.com",
		Title:         "daily digest",
		Description:   "summarize inbox",
		AssignedAgent: "scribe",
		Schedule:      "DAILY - 09:00",
		Active:        true,
	}
	if err := st.PutTask(ctx, task); err != nil {
		t.Fatalf("put: %v", err)
	}

	active, err := st.ActiveTasks(ctx)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("active count = %d, want 1", len(active))
	}
	got := active[0]
	if got.ID == "" {
		t.Fatal("expected generated id")
	}
	if got.Schedule != task.Schedule || got.AssignedAgent != task.AssignedAgent {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	now := time.Now().UTC().Truncate(time.Second)
	if err := st.TouchTaskLastRun(ctx, got.Identity, got.ID, now); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if err := st.AppendTaskResponse(ctx, got.Identity, got.ID, TaskResponse{Response: "done"}); err != nil {
		t.Fatalf("append response: %v", err)
	}
	if err := st.SetTaskActive(ctx, got.Identity, got.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	reloaded, err := st.GetTask(ctx, got.Identity, got.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if reloaded.Active {
		t.Fatal("task should be inactive")
	}
	if reloaded.LastRunAt == nil || !reloaded.LastRunAt.Equal(now) {
		t.Fatalf("last run = %v, want %v", reloaded.LastRunAt, now)
	}
	if len(reloaded.Responses) != 1 || reloaded.Responses[0].Response != "done" {
		t.Fatalf("responses = %+v", reloaded.Responses)
	}

	active, err = st.ActiveTasks(ctx)
	if err != nil {
		t.Fatalf("active after deactivate: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("active count = %d, want 0", len(active))
	}
}

func TestTaskOwnership(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	task := Task{ID: "t1", Identity: "alice@example.com", Title: "x", Active: true}
	if err := st.PutTask(ctx, task); err != nil {
		t.Fatalf("put: %v", err)
	}

	if _, err := st.GetTask(ctx, "mallory@example.com", "t1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-identity get err = %v, want ErrNotFound", err)
	}
	if err := st.SetTaskActive(ctx, "mallory@example.com", "t1", false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-identity update err = %v, want ErrNotFound", err)
	}
	got, err := st.GetTask(ctx, "alice@example.com", "t1")
	if err != nil {
		t.Fatalf("owner get: %v", err)
	}
	if !got.Active {
		t.Fatal("cross-identity update must not apply")
	}
}

func TestProgramLifecycle(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	p := Program{
		Identity:    "dev@example.com",
		Name:        "dashboard",
		Description: "status board",
		Source:      ProgramSource{HTML: "<div></div>"},
		Status:      ProgramStatusUpdate,
		Feedback:    "make it blue",
	}
	if err := st.PutProgram(ctx, p); err != nil {
		t.Fatalf("put: %v", err)
	}

	pending, err := st.PendingPrograms(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending count = %d, want 1", len(pending))
	}
	got := pending[0]

	if err := st.SetProgramStatus(ctx, got.Identity, got.ID, ProgramStatusProcessing); err != nil {
		t.Fatalf("status: %v", err)
	}
	if err := st.SetProgramFeedback(ctx, got.Identity, got.ID, ""); err != nil {
		t.Fatalf("feedback: %v", err)
	}
	if err := st.SetProgramSource(ctx, got.Identity, got.ID, ProgramSource{HTML: "<main></main>", CSS: "body{}"}); err != nil {
		t.Fatalf("source: %v", err)
	}
	if err := st.SetProgramStatus(ctx, got.Identity, got.ID, ProgramStatusReady); err != nil {
		t.Fatalf("status ready: %v", err)
	}

	reloaded, err := st.GetProgram(ctx, got.Identity, got.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if reloaded.Status != ProgramStatusReady || reloaded.Feedback != "" {
		t.Fatalf("status=%q feedback=%q", reloaded.Status, reloaded.Feedback)
	}
	if reloaded.Source.HTML != "<main></main>" || reloaded.Source.CSS != "body{}" {
		t.Fatalf("source = %+v", reloaded.Source)
	}

	pending, err = st.PendingPrograms(ctx)
	if err != nil {
		t.Fatalf("pending after ready: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending count = %d, want 0", len(pending))
	}
}

func TestConversationsAndMessages(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	id := "u@example.com"

	visible, err := st.CreateConversation(ctx, id, "notes")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	hidden, err := st.CreateConversation(ctx, id, HiddenTitlePrefix+"task_t1")
	if err != nil {
		t.Fatalf("create hidden: %v", err)
	}
	if !hidden.Hidden() || visible.Hidden() {
		t.Fatal("Hidden() misclassified conversation")
	}

	list, err := st.ListConversations(ctx, id, false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != visible.ID {
		t.Fatalf("visible list = %+v", list)
	}
	list, err = st.ListConversations(ctx, id, true)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("full list len = %d, want 2", len(list))
	}

	m1, err := st.AppendMessage(ctx, id, visible.ID, "user", "hello")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := st.AppendMessage(ctx, id, visible.ID, "assistant", "hi"); err != nil {
		t.Fatalf("append 2: %v", err)
	}
	if _, err := st.AppendMessage(ctx, "other@example.com", visible.ID, "user", "sneak"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-identity append err = %v, want ErrNotFound", err)
	}

	hist, err := st.History(ctx, id, visible.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 2 || hist[0].Content != "hello" || hist[1].Content != "hi" {
		t.Fatalf("history = %+v", hist)
	}

	if err := st.DeleteMessage(ctx, id, m1.ID); err != nil {
		t.Fatalf("delete message: %v", err)
	}
	hist, _ = st.History(ctx, id, visible.ID)
	if len(hist) != 1 {
		t.Fatalf("history after delete = %d, want 1", len(hist))
	}

	if err := st.DeleteConversation(ctx, id, visible.ID); err != nil {
		t.Fatalf("delete conversation: %v", err)
	}
	hist, err = st.History(ctx, id, visible.ID)
	if err != nil {
		t.Fatalf("history of deleted: %v", err)
	}
	if len(hist) != 0 {
		t.Fatalf("messages leaked after conversation delete: %d", len(hist))
	}
}

func TestPurgeHiddenConversations(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	id := "u@example.com"

	if _, err := st.CreateConversation(ctx, id, "keep me"); err != nil {
		t.Fatalf("create: %v", err)
	}
	h, err := st.CreateConversation(ctx, id, HiddenTitlePrefix+"aether_p1")
	if err != nil {
		t.Fatalf("create hidden: %v", err)
	}
	if _, err := st.AppendMessage(ctx, id, h.ID, "user", "context"); err != nil {
		t.Fatalf("append: %v", err)
	}

	// Nothing is older than an hour yet.
	n, err := st.PurgeHiddenConversations(ctx, time.Hour)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 0 {
		t.Fatalf("purged %d, want 0", n)
	}

	// A negative cutoff makes every hidden conversation stale.
	n, err = st.PurgeHiddenConversations(ctx, -time.Minute)
	if err != nil {
		t.Fatalf("purge stale: %v", err)
	}
	if n != 1 {
		t.Fatalf("purged %d, want 1", n)
	}

	list, err := st.ListConversations(ctx, id, true)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Title != "keep me" {
		t.Fatalf("list after purge = %+v", list)
	}
}

func TestSettings(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.PutSetting(ctx, "a@example.com", "provider", "openai"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := st.PutSetting(ctx, "a@example.com", "provider", "ollama"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if err := st.PutSetting(ctx, "b@example.com", "provider", "xai"); err != nil {
		t.Fatalf("put other: %v", err)
	}

	got, err := st.Settings(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	if got["provider"] != "ollama" {
		t.Fatalf("provider = %q, want ollama", got["provider"])
	}
	if len(got) != 1 {
		t.Fatalf("settings leaked across identities: %+v", got)
	}
}

func TestHistoryPreservesInsertionOrder(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	conv, err := st.CreateConversation(ctx, "a@example.com", "ordering")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	// A whole-second RFC3339Nano timestamp sorts after a sub-second one in
	// the same second when compared as text ("...:00Z" > "...:00.5Z"), so
	// ordering must follow insertion, not the timestamp column.
	raw := st.(*sqliteStore)
	for i, created := range []string{
		"2026-01-01T00:00:00Z",
		"2026-01-01T00:00:00.5Z",
		"2026-01-01T00:00:00.9Z",
	} {
		_, err := raw.db.ExecContext(ctx,
			`INSERT INTO messages(id, conversation_id, role, content, created_at) VALUES(?,?,?,?,?)`,
			"m"+string(rune('0'+i)), conv.ID, "user", "turn "+string(rune('0'+i)), created)
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	msgs, err := st.History(ctx, "a@example.com", conv.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("history length = %d, want 3", len(msgs))
	}
	for i, m := range msgs {
		if want := "turn " + string(rune('0'+i)); m.Content != want {
			t.Fatalf("position %d = %q, want %q", i, m.Content, want)
		}
	}
}
