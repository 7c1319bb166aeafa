package eido

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"thalis/internal/eido/tools"
	"thalis/internal/provider"
	"thalis/internal/storage"
	logx "thalis/pkg/logx"
)

// scriptProvider replays canned replies and records the history it was
// handed on each call.
type scriptProvider struct {
	mu        sync.Mutex
	replies   []string
	calls     int
	histories [][]provider.Message
	err       error
}

func (p *scriptProvider) Name() string { return "script" }

func (p *scriptProvider) Generate(_ context.Context, _ string, history []provider.Message) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.histories = append(p.histories, append([]provider.Message(nil), history...))
	if p.err != nil {
		return "", p.err
	}
	if len(p.replies) == 0 {
		return "", fmt.Errorf("script exhausted")
	}
	out := p.replies[0]
	p.replies = p.replies[1:]
	return out, nil
}

func (p *scriptProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *scriptProvider) ForSettings(map[string]string) (provider.Provider, error) {
	return p, nil
}

type notifyRecorder struct {
	mu    sync.Mutex
	texts []string
}

func (n *notifyRecorder) Notify(_, _, _, text string) {
	n.mu.Lock()
	n.texts = append(n.texts, text)
	n.mu.Unlock()
}

func (n *notifyRecorder) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.texts...)
}

type runtimeFixture struct {
	store    storage.Store
	provider *scriptProvider
	notifier *notifyRecorder
	runtime  *Runtime
	convID   string
}

const testIdentity = "op@example.com"

func newRuntimeFixture(t *testing.T, cfg Config, replies ...string) *runtimeFixture {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: ":memory:"}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	agents, _ := json.Marshal(map[string]string{
		"alpha": "You are alpha, the coordinator.",
		"beta":  "You are beta, the specialist.",
	})
	for k, v := range map[string]string{
		settingDefaultAgent: "alpha",
		settingAgents:       string(agents),
		settingAgentsMode:   "on",
		settingToolsMode:    "on",
		settingOperator:     "op",
	} {
		if err := st.PutSetting(ctx, testIdentity, k, v); err != nil {
			t.Fatalf("put setting: %v", err)
		}
	}

	conv, err := st.CreateConversation(ctx, testIdentity, storage.HiddenTitlePrefix+"test")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	if _, err := st.AppendMessage(ctx, testIdentity, conv.ID, "user", "@alpha do the thing"); err != nil {
		t.Fatalf("seed message: %v", err)
	}

	reg := tools.NewRegistry()
	if err := reg.Register(tools.Calculator{}); err != nil {
		t.Fatalf("register tool: %v", err)
	}

	prov := &scriptProvider{replies: replies}
	rec := &notifyRecorder{}
	rt := New(cfg, st, prov, reg, rec, logx.Nop())
	return &runtimeFixture{store: st, provider: prov, notifier: rec, runtime: rt, convID: conv.ID}
}

func fastConfig() Config {
	return Config{RetryAttempts: 5, RetryDelay: time.Millisecond, StepBudget: 25}
}

func (f *runtimeFixture) transcript(t *testing.T) []storage.Message {
	t.Helper()
	msgs, err := f.store.History(context.Background(), testIdentity, f.convID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	return msgs
}

func assistantTurns(msgs []storage.Message) []string {
	var out []string
	for _, m := range msgs {
		if m.Role == "assistant" {
			out = append(out, m.Content)
		}
	}
	return out
}

func TestRunAwaitOperator(t *testing.T) {
	t.Parallel()
	f := newRuntimeFixture(t, fastConfig(),
		`{"response":"hi","agents":[],"functions_list":[],"next_step":"await_operator"}`)

	if err := f.runtime.Run(context.Background(), testIdentity, "alpha", f.convID); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := f.provider.callCount(); got != 1 {
		t.Fatalf("provider calls = %d, want 1 (no recursion)", got)
	}
	turns := assistantTurns(f.transcript(t))
	if len(turns) != 1 || turns[0] != "[alpha]: hi" {
		t.Fatalf("assistant turns = %q", turns)
	}
	if got := f.notifier.all(); len(got) != 1 || got[0] != "hi" {
		t.Fatalf("notifications = %q", got)
	}
}

func TestRunProviderFailureStallsAfterFiveAttempts(t *testing.T) {
	t.Parallel()
	f := newRuntimeFixture(t, fastConfig())
	f.provider.err = fmt.Errorf("backend down")

	done := make(chan error, 1)
	go func() { done <- f.runtime.Run(context.Background(), testIdentity, "alpha", f.convID) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run hung on provider failure")
	}

	if got := f.provider.callCount(); got != 5 {
		t.Fatalf("provider calls = %d, want exactly 5", got)
	}
	if turns := assistantTurns(f.transcript(t)); len(turns) != 0 {
		t.Fatalf("stalled turn left assistant messages: %q", turns)
	}
	if got := f.notifier.all(); len(got) != 0 {
		t.Fatalf("stalled turn notified: %q", got)
	}
}

func TestRunFailureSentinelStalls(t *testing.T) {
	t.Parallel()
	f := newRuntimeFixture(t, fastConfig(), "FAIL", "FAIL", "FAIL", "FAIL", "FAIL")

	if err := f.runtime.Run(context.Background(), testIdentity, "alpha", f.convID); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := f.provider.callCount(); got != 5 {
		t.Fatalf("provider calls = %d, want 5", got)
	}
	if turns := assistantTurns(f.transcript(t)); len(turns) != 0 {
		t.Fatalf("assistant turns = %q", turns)
	}
}

func TestRunSelfCorrection(t *testing.T) {
	t.Parallel()
	f := newRuntimeFixture(t, fastConfig(),
		"that is definitely not JSON",
		`{"response":"fixed","agents":[],"functions_list":[],"next_step":"await_operator"}`)

	if err := f.runtime.Run(context.Background(), testIdentity, "alpha", f.convID); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := f.provider.callCount(); got != 2 {
		t.Fatalf("provider calls = %d, want 2", got)
	}

	// The correction note must be visible to the second generate call.
	second := f.provider.histories[1]
	found := false
	for _, m := range second {
		if strings.Contains(m.Content, "valid JSON") {
			found = true
		}
	}
	if !found {
		t.Fatal("self-correction note missing from retry history")
	}

	// And gone from the durable transcript.
	for _, m := range f.transcript(t) {
		if IsInternal(m.Content) {
			t.Fatalf("internal message survived cleanup: %q", m.Content)
		}
	}
	turns := assistantTurns(f.transcript(t))
	if len(turns) != 1 || turns[0] != "[alpha]: fixed" {
		t.Fatalf("assistant turns = %q", turns)
	}
}

func TestRunPersistentlyMalformedStalls(t *testing.T) {
	t.Parallel()
	f := newRuntimeFixture(t, fastConfig(), "garbage one", "garbage two")

	if err := f.runtime.Run(context.Background(), testIdentity, "alpha", f.convID); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := f.provider.callCount(); got != 2 {
		t.Fatalf("provider calls = %d, want 2 (one correction only)", got)
	}
	if turns := assistantTurns(f.transcript(t)); len(turns) != 0 {
		t.Fatalf("assistant turns = %q", turns)
	}
}

func TestRunFencedReplyParses(t *testing.T) {
	t.Parallel()
	f := newRuntimeFixture(t, fastConfig(),
		"```json\n{\"response\":\"fenced\",\"agents\":[],\"functions_list\":[],\"next_step\":\"await_operator\"}\n```")

	if err := f.runtime.Run(context.Background(), testIdentity, "alpha", f.convID); err != nil {
		t.Fatalf("run: %v", err)
	}
	turns := assistantTurns(f.transcript(t))
	if len(turns) != 1 || turns[0] != "[alpha]: fenced" {
		t.Fatalf("assistant turns = %q", turns)
	}
}

func TestRunToolBranch(t *testing.T) {
	t.Parallel()
	f := newRuntimeFixture(t, fastConfig(),
		`{"response":"","agents":[],"functions_list":[{"function":"calculator","kwargs":{"expression":"6*7"}},{"function":"nonexistent","args":[]}],"next_step":"continue"}`,
		`{"response":"the answer is 42","agents":[],"functions_list":[],"next_step":"await_operator"}`)

	if err := f.runtime.Run(context.Background(), testIdentity, "alpha", f.convID); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := f.provider.callCount(); got != 2 {
		t.Fatalf("provider calls = %d, want 2", got)
	}

	// Second call must see both tool results as internal notes, the
	// unknown tool surfacing as failure data rather than an error. Each
	// result is preceded by its dispatch note.
	second := f.provider.histories[1]
	var sawResult, sawUnknown bool
	dispatchIdx, resultIdx := -1, -1
	for i, m := range second {
		if strings.Contains(m.Content, "executing function: calculator") {
			dispatchIdx = i
		}
		if strings.Contains(m.Content, "tool calculator result") && strings.Contains(m.Content, "42") {
			sawResult = true
			resultIdx = i
		}
		if strings.Contains(m.Content, "tool nonexistent result") && strings.Contains(m.Content, "unknown tool") {
			sawUnknown = true
		}
	}
	if !sawResult || !sawUnknown {
		t.Fatalf("tool notes missing from retry history (result=%v unknown=%v)", sawResult, sawUnknown)
	}
	if dispatchIdx == -1 || dispatchIdx >= resultIdx {
		t.Fatalf("dispatch note not before result (dispatch=%d result=%d)", dispatchIdx, resultIdx)
	}

	for _, m := range f.transcript(t) {
		if IsInternal(m.Content) {
			t.Fatalf("internal message survived cleanup: %q", m.Content)
		}
	}
	turns := assistantTurns(f.transcript(t))
	if len(turns) != 1 || turns[0] != "[alpha]: the answer is 42" {
		t.Fatalf("assistant turns = %q", turns)
	}
}

func TestRunSubAgents(t *testing.T) {
	t.Parallel()
	f := newRuntimeFixture(t, fastConfig(),
		`{"response":"delegating","agents":["beta"],"functions_list":[],"next_step":"await_operator"}`,
		`{"response":"from beta","agents":[],"functions_list":[],"next_step":"await_operator"}`)

	if err := f.runtime.Run(context.Background(), testIdentity, "alpha", f.convID); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := f.provider.callCount(); got != 2 {
		t.Fatalf("provider calls = %d, want 2 (alpha + beta)", got)
	}

	turns := assistantTurns(f.transcript(t))
	if len(turns) != 2 || turns[0] != "[alpha]: delegating" || turns[1] != "[beta]: from beta" {
		t.Fatalf("assistant turns = %q", turns)
	}

	// Beta's generation must see the note announcing its summoning.
	var summoned bool
	for _, m := range f.provider.histories[1] {
		if strings.Contains(m.Content, "summoning agent: beta") {
			summoned = true
		}
	}
	if !summoned {
		t.Fatal("summoning note missing from sub-agent history")
	}

	for _, m := range f.transcript(t) {
		if IsInternal(m.Content) {
			t.Fatalf("internal message survived cleanup: %q", m.Content)
		}
	}
}

func TestRunStepBudgetHalts(t *testing.T) {
	t.Parallel()
	cfg := fastConfig()
	cfg.StepBudget = 3
	loop := `{"response":"","agents":[],"functions_list":[],"next_step":"continue"}`
	f := newRuntimeFixture(t, cfg, loop, loop, loop, loop, loop, loop)

	done := make(chan error, 1)
	go func() { done <- f.runtime.Run(context.Background(), testIdentity, "alpha", f.convID) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("continue loop did not halt on step budget")
	}
	if got := f.provider.callCount(); got != 3 {
		t.Fatalf("provider calls = %d, want 3", got)
	}
}

func TestRunInternalResponseNotNotified(t *testing.T) {
	t.Parallel()
	f := newRuntimeFixture(t, fastConfig(),
		`{"response":"`+InternalPrefix+` scratch","agents":[],"functions_list":[],"next_step":"await_operator"}`)

	if err := f.runtime.Run(context.Background(), testIdentity, "alpha", f.convID); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := f.notifier.all(); len(got) != 0 {
		t.Fatalf("internal response was notified: %q", got)
	}
	// Internal-tagged content is also scrubbed from the transcript.
	for _, m := range f.transcript(t) {
		if strings.Contains(m.Content, "scratch") {
			t.Fatalf("internal content survived cleanup: %q", m.Content)
		}
	}
}

func TestRunUnknownAgentFallsBackToDefault(t *testing.T) {
	t.Parallel()
	f := newRuntimeFixture(t, fastConfig(),
		`{"response":"hello","agents":[],"functions_list":[],"next_step":"await_operator"}`)

	if err := f.runtime.Run(context.Background(), testIdentity, "nobody", f.convID); err != nil {
		t.Fatalf("run: %v", err)
	}
	turns := assistantTurns(f.transcript(t))
	if len(turns) != 1 || turns[0] != "[alpha]: hello" {
		t.Fatalf("assistant turns = %q", turns)
	}
}
