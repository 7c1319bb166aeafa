package moat

import (
	"context"
	"sync"
	"testing"
	"time"

	"thalis/internal/engine"
	"thalis/internal/storage"
	logx "thalis/pkg/logx"
)

type dispatchRecorder struct {
	mu    sync.Mutex
	calls []engine.Payload
	done  chan struct{}
}

func newDispatchRecorder(expect int) *dispatchRecorder {
	r := &dispatchRecorder{done: make(chan struct{}, expect)}
	return r
}

func (r *dispatchRecorder) entry(_ context.Context, _ string, payload engine.Payload) {
	r.mu.Lock()
	r.calls = append(r.calls, payload)
	r.mu.Unlock()
	r.done <- struct{}{}
}

func (r *dispatchRecorder) wait(t *testing.T, n int) []engine.Payload {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.done:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for dispatch %d of %d", i+1, n)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]engine.Payload(nil), r.calls...)
}

func newTestMoat(t *testing.T, rec *dispatchRecorder) (*Moat, storage.Store) {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: ":memory:"}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	cat := engine.NewCatalog()
	for _, kind := range []string{engine.KindTaskRunner, engine.KindProgramUpdater} {
		if err := cat.Register(kind, rec.entry); err != nil {
			t.Fatalf("register %s: %v", kind, err)
		}
	}
	engines := engine.NewEngines(context.Background(), cat, logx.Nop())
	t.Cleanup(engines.Close)

	return New(Config{Poll: 10 * time.Millisecond}, st, engines, logx.Nop()), st
}

func TestScanTasksDispatchesDue(t *testing.T) {
	t.Parallel()
	rec := newDispatchRecorder(4)
	m, st := newTestMoat(t, rec)
	ctx := context.Background()

	due := storage.Task{
		ID: "due", Identity: "a@example.com", Title: "ping",
		AssignedAgent: "scribe", Schedule: "NOW", Active: true,
	}
	notDue := storage.Task{
		ID: "cold", Identity: "a@example.com", Title: "later",
		Schedule: "DAILY - 23:59", Active: true,
	}
	if err := st.PutTask(ctx, due); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := st.PutTask(ctx, notDue); err != nil {
		t.Fatalf("put: %v", err)
	}

	m.scanTasks(ctx)
	calls := rec.wait(t, 1)
	if len(calls) != 1 {
		t.Fatalf("dispatched %d, want 1", len(calls))
	}
	p, ok := calls[0].(engine.TaskPayload)
	if !ok || p.TaskID != "due" || p.Agent != "scribe" {
		t.Fatalf("payload = %#v", calls[0])
	}
}

func TestScanProgramsDispatchesPendingOnly(t *testing.T) {
	t.Parallel()
	rec := newDispatchRecorder(4)
	m, st := newTestMoat(t, rec)
	ctx := context.Background()

	pending := storage.Program{
		ID: "p1", Identity: "a@example.com", Name: "board",
		Status: storage.ProgramStatusUpdate, Feedback: "darker",
	}
	ready := storage.Program{
		ID: "p2", Identity: "a@example.com", Name: "done",
		Status: storage.ProgramStatusReady,
	}
	if err := st.PutProgram(ctx, pending); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := st.PutProgram(ctx, ready); err != nil {
		t.Fatalf("put: %v", err)
	}

	m.scanPrograms(ctx)
	calls := rec.wait(t, 1)
	if len(calls) != 1 {
		t.Fatalf("dispatched %d, want 1", len(calls))
	}
	p, ok := calls[0].(engine.ProgramPayload)
	if !ok || p.ProgramID != "p1" || p.Feedback != "darker" {
		t.Fatalf("payload = %#v", calls[0])
	}
}

func TestScanSkipsOwnerlessRows(t *testing.T) {
	t.Parallel()
	rec := newDispatchRecorder(4)
	m, st := newTestMoat(t, rec)
	ctx := context.Background()

	if err := st.PutTask(ctx, storage.Task{ID: "t", Identity: "", Schedule: "NOW", Title: "x", Active: true}); err != nil {
		t.Fatalf("put: %v", err)
	}
	m.scanTasks(ctx)

	select {
	case <-rec.done:
		t.Fatal("ownerless task must not dispatch")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()
	rec := newDispatchRecorder(1)
	m, _ := newTestMoat(t, rec)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(stopped)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop on cancel")
	}
}
