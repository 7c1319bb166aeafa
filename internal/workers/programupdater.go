package workers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"thalis/internal/eido"
	"thalis/internal/engine"
	"thalis/internal/gateway"
	"thalis/internal/storage"
	logx "thalis/pkg/logx"
)

type ProgramConfig struct {
	// Poll is the history polling interval while waiting for a reply.
	Poll time.Duration
	// ReplyTimeout caps the wait per facet prompt.
	ReplyTimeout time.Duration
}

func DefaultProgramConfig() ProgramConfig {
	return ProgramConfig{
		Poll:         500 * time.Millisecond,
		ReplyTimeout: 60 * time.Second,
	}
}

type facet struct {
	name string
	get  func(storage.ProgramSource) string
	set  func(*storage.ProgramSource, string)
}

var facets = []facet{
	{"HTML", func(s storage.ProgramSource) string { return s.HTML },
		func(s *storage.ProgramSource, v string) { s.HTML = v }},
	{"CSS", func(s storage.ProgramSource) string { return s.CSS },
		func(s *storage.ProgramSource, v string) { s.CSS = v }},
	{"JS", func(s storage.ProgramSource) string { return s.JS },
		func(s *storage.ProgramSource, v string) { s.JS = v }},
}

// ProgramUpdater regenerates one program's source from its feedback. Per
// facet it asks the agent for a full replacement, takes the first
// non-internal reply, and merges fenced code into the stored source.
type ProgramUpdater struct {
	store storage.Store
	gw    *gateway.Gateway
	log   logx.Logger
	cfg   ProgramConfig
}

func NewProgramUpdater(cfg ProgramConfig, store storage.Store, gw *gateway.Gateway, log logx.Logger) *ProgramUpdater {
	if cfg.Poll <= 0 {
		cfg.Poll = 500 * time.Millisecond
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = 60 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &ProgramUpdater{store: store, gw: gw, log: log, cfg: cfg}
}

func (w *ProgramUpdater) EntryPoint(ctx context.Context, identity string, payload engine.Payload) {
	p, ok := payload.(engine.ProgramPayload)
	if !ok {
		w.log.Error("program-updater got wrong payload type", logx.String("detail", payload.Describe()))
		return
	}
	if ctx.Err() != nil {
		return
	}
	log := w.log.With(logx.String("identity", identity), logx.String("program", p.ProgramID))

	program, err := w.store.GetProgram(ctx, identity, p.ProgramID)
	if err != nil {
		log.Warn("program fetch failed", logx.Err(err))
		return
	}
	feedback := program.Feedback

	if err := w.store.SetProgramStatus(ctx, identity, program.ID, storage.ProgramStatusProcessing); err != nil {
		log.Warn("status update failed", logx.Err(err))
		return
	}
	if err := w.store.SetProgramFeedback(ctx, identity, program.ID, ""); err != nil {
		log.Warn("feedback clear failed", logx.Err(err))
	}
	// Whatever happens below, the program must not stay stuck in
	// processing.
	defer func() {
		if err := w.store.SetProgramStatus(context.Background(), identity, program.ID, storage.ProgramStatusReady); err != nil {
			log.Warn("status restore failed", logx.Err(err))
		}
	}()

	conv, err := w.store.CreateConversation(ctx, identity, storage.HiddenTitlePrefix+"aether_"+program.ID)
	if err != nil {
		log.Warn("hidden conversation create failed", logx.Err(err))
		return
	}
	defer func() {
		if err := w.store.DeleteConversation(context.Background(), identity, conv.ID); err != nil {
			log.Warn("hidden conversation delete failed", logx.Err(err))
		}
	}()

	// Seed the shared context once; the facet prompts refer back to it.
	if _, err := w.store.AppendMessage(ctx, identity, conv.ID, "user", contextPrompt(program, feedback)); err != nil {
		log.Warn("context seed failed", logx.Err(err))
		return
	}

	src := program.Source
	for _, f := range facets {
		reply := w.askFacet(ctx, identity, conv.ID, f.name)
		if reply == "" {
			log.Warn("no reply for facet", logx.String("facet", f.name))
			continue
		}
		if noChanges(reply, f.name) {
			continue
		}
		f.set(&src, extractFenced(reply))
	}

	if err := w.store.SetProgramSource(ctx, identity, program.ID, src); err != nil {
		log.Warn("source update failed", logx.Err(err))
		return
	}
	log.Info("program updated")
}

func contextPrompt(p storage.Program, feedback string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are updating the program %q: %s\n\n", p.Name, p.Description)
	if feedback != "" {
		fmt.Fprintf(&b, "Operator feedback to address:\n%s\n\n", feedback)
	}
	b.WriteString("Current source follows. You will be asked for one facet at a time.\n")
	fmt.Fprintf(&b, "\n--- HTML ---\n%s\n--- CSS ---\n%s\n--- JS ---\n%s\n", p.Source.HTML, p.Source.CSS, p.Source.JS)
	return b.String()
}

func facetPrompt(name string) string {
	return fmt.Sprintf("Reply with the complete updated %s for the program above, inside a fenced code block. "+
		"If this facet needs no update, reply exactly: NO CHANGES NEEDED FOR %s", name, name)
}

// askFacet sends one facet prompt and waits for the first non-internal
// assistant reply that arrives after it. No stability window: the first
// qualifying reply wins.
func (w *ProgramUpdater) askFacet(ctx context.Context, identity, conversationID, name string) string {
	baseline := w.countReplies(ctx, identity, conversationID)
	if _, err := w.gw.Process(ctx, identity, conversationID, facetPrompt(name)); err != nil {
		w.log.Warn("facet prompt dispatch failed", logx.String("facet", name), logx.Err(err))
		return ""
	}

	deadline := time.Now().Add(w.cfg.ReplyTimeout)
	ticker := time.NewTicker(w.cfg.Poll)
	defer ticker.Stop()

	for {
		if time.Now().After(deadline) {
			return ""
		}
		select {
		case <-ctx.Done():
			return ""
		case <-ticker.C:
		}
		replies := w.replies(ctx, identity, conversationID)
		if len(replies) > baseline {
			return replies[baseline]
		}
	}
}

func (w *ProgramUpdater) countReplies(ctx context.Context, identity, conversationID string) int {
	return len(w.replies(ctx, identity, conversationID))
}

func (w *ProgramUpdater) replies(ctx context.Context, identity, conversationID string) []string {
	msgs, err := w.store.History(ctx, identity, conversationID)
	if err != nil {
		return nil
	}
	var out []string
	for _, m := range msgs {
		if m.Role == "assistant" && !eido.IsInternal(m.Content) {
			out = append(out, m.Content)
		}
	}
	return out
}

func noChanges(reply, facetName string) bool {
	up := strings.ToUpper(reply)
	return strings.Contains(up, "NO CHANGES NEEDED FOR "+strings.ToUpper(facetName)) ||
		strings.Contains(up, "NO CHANGES NEEDED")
}

// extractFenced pulls the first fenced code block out of a reply, dropping
// an "[agent]: " tag first. Without a fence the trimmed remainder is used.
func extractFenced(reply string) string {
	s := strings.TrimSpace(reply)
	if strings.HasPrefix(s, "[") {
		if i := strings.Index(s, "]: "); i > 0 {
			s = strings.TrimSpace(s[i+3:])
		}
	}

	start := strings.Index(s, "```")
	if start < 0 {
		return s
	}
	rest := s[start+3:]
	if i := strings.IndexByte(rest, '\n'); i >= 0 {
		rest = rest[i+1:]
	}
	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimRight(strings.TrimPrefix(rest, "\n"), "\n ")
}
