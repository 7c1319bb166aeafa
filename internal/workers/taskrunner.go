// Package workers implements the one-shot worker kinds the scheduler and
// gateway dispatch into registry slots.
package workers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"thalis/internal/eido"
	"thalis/internal/engine"
	"thalis/internal/gateway"
	"thalis/internal/moat"
	"thalis/internal/storage"
	logx "thalis/pkg/logx"
)

type TaskConfig struct {
	// Poll is the history polling interval while waiting for output.
	Poll time.Duration
	// Stability is how long collected output must stay unchanged before
	// the run is considered complete.
	Stability time.Duration
	// Timeout caps the whole wait.
	Timeout time.Duration
}

func DefaultTaskConfig() TaskConfig {
	return TaskConfig{
		Poll:      500 * time.Millisecond,
		Stability: 10 * time.Second,
		Timeout:   60 * time.Second,
	}
}

// TaskRunner executes one scheduled task: it opens a hidden conversation,
// directs the task's agent at it, waits for the output to settle, and
// records the merged result on the task.
type TaskRunner struct {
	store storage.Store
	gw    *gateway.Gateway
	log   logx.Logger
	cfg   TaskConfig
}

func NewTaskRunner(cfg TaskConfig, store storage.Store, gw *gateway.Gateway, log logx.Logger) *TaskRunner {
	if cfg.Poll <= 0 {
		cfg.Poll = 500 * time.Millisecond
	}
	if cfg.Stability <= 0 {
		cfg.Stability = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &TaskRunner{store: store, gw: gw, log: log, cfg: cfg}
}

func (w *TaskRunner) EntryPoint(ctx context.Context, identity string, payload engine.Payload) {
	p, ok := payload.(engine.TaskPayload)
	if !ok {
		w.log.Error("task-runner got wrong payload type", logx.String("detail", payload.Describe()))
		return
	}
	// Cancellation is honored at entry only: a started run is prevented,
	// never interrupted mid-flight.
	if ctx.Err() != nil {
		return
	}
	log := w.log.With(logx.String("identity", identity), logx.String("task", p.TaskID))

	task, err := w.store.GetTask(ctx, identity, p.TaskID)
	if err != nil {
		log.Warn("task fetch failed", logx.Err(err))
		return
	}

	// Stamp before doing work: a crash mid-run still counts as "ran" and
	// cannot trigger a retry storm on the next polls.
	if err := w.store.TouchTaskLastRun(ctx, identity, task.ID, time.Now().UTC()); err != nil {
		log.Warn("last-run stamp failed", logx.Err(err))
		return
	}

	conv, err := w.store.CreateConversation(ctx, identity, storage.HiddenTitlePrefix+"task_"+task.ID)
	if err != nil {
		log.Warn("hidden conversation create failed", logx.Err(err))
		return
	}
	defer func() {
		if err := w.store.DeleteConversation(context.Background(), identity, conv.ID); err != nil {
			log.Warn("hidden conversation delete failed", logx.Err(err))
		}
	}()

	directive := fmt.Sprintf("@%s Scheduled task %q is due. %s", task.AssignedAgent, task.Title, task.Description)
	if _, err := w.gw.Process(ctx, identity, conv.ID, directive); err != nil {
		log.Warn("task directive dispatch failed", logx.Err(err))
		return
	}

	merged := w.waitStable(ctx, identity, conv.ID)
	if merged != "" {
		if err := w.store.AppendTaskResponse(ctx, identity, task.ID, storage.TaskResponse{
			At:       time.Now().UTC(),
			Response: merged,
		}); err != nil {
			log.Warn("task response append failed", logx.Err(err))
		}
	} else {
		log.Warn("task produced no output")
	}

	if moat.OneShot(task.Schedule) {
		if err := w.store.SetTaskActive(ctx, identity, task.ID, false); err != nil {
			log.Warn("one-shot deactivate failed", logx.Err(err))
		}
	}
	log.Info("task run finished", logx.Bool("got_output", merged != ""))
}

// waitStable polls the conversation, collecting non-internal assistant
// turns, and returns them merged once the collected set has been unchanged
// for the stability window. The overall timeout wins either way.
func (w *TaskRunner) waitStable(ctx context.Context, identity, conversationID string) string {
	deadline := time.Now().Add(w.cfg.Timeout)
	var last string
	lastChange := time.Now()

	ticker := time.NewTicker(w.cfg.Poll)
	defer ticker.Stop()

	for {
		if time.Now().After(deadline) {
			return last
		}
		select {
		case <-ctx.Done():
			return last
		case <-ticker.C:
		}

		merged := w.collect(ctx, identity, conversationID)
		if merged != last {
			last = merged
			lastChange = time.Now()
			continue
		}
		if last != "" && time.Since(lastChange) >= w.cfg.Stability {
			return last
		}
	}
}

func (w *TaskRunner) collect(ctx context.Context, identity, conversationID string) string {
	msgs, err := w.store.History(ctx, identity, conversationID)
	if err != nil {
		return ""
	}
	var parts []string
	for _, m := range msgs {
		if m.Role != "assistant" || eido.IsInternal(m.Content) {
			continue
		}
		parts = append(parts, strings.TrimSpace(m.Content))
	}
	return strings.Join(parts, "\n\n")
}
