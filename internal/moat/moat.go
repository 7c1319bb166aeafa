// Package moat runs the polling scheduler. It scans the store for due tasks
// and pending programs and dispatches a worker slot for each hit.
package moat

import (
	"context"
	"time"

	"thalis/internal/engine"
	"thalis/internal/storage"
	logx "thalis/pkg/logx"
)

const defaultPoll = 5 * time.Second

type Config struct {
	// Poll is the sleep between scan cycles. Must stay under the schedule
	// cooldown or minute-granular jobs can be skipped entirely.
	Poll time.Duration
}

type Moat struct {
	store   storage.Store
	engines *engine.Engines
	log     logx.Logger
	poll    time.Duration
}

func New(cfg Config, store storage.Store, engines *engine.Engines, log logx.Logger) *Moat {
	if cfg.Poll <= 0 {
		cfg.Poll = defaultPoll
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Moat{
		store:   store,
		engines: engines,
		log:     log,
		poll:    cfg.Poll,
	}
}

// EntryPoint lets the scheduler itself occupy a worker slot.
func (m *Moat) EntryPoint(ctx context.Context, _ string, _ engine.Payload) {
	m.Run(ctx)
}

// Run polls until ctx is canceled. Scan errors are logged per cycle and per
// row; nothing inside a scan terminates the loop.
func (m *Moat) Run(ctx context.Context) {
	m.log.Info("scheduler started", logx.Duration("poll", m.poll))
	t := time.NewTimer(0)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			m.log.Info("scheduler stopped")
			return
		case <-t.C:
		}
		m.scanTasks(ctx)
		m.scanPrograms(ctx)
		t.Reset(m.poll)
	}
}

func (m *Moat) scanTasks(ctx context.Context) {
	tasks, err := m.store.ActiveTasks(ctx)
	if err != nil {
		m.log.Warn("task scan failed", logx.Err(err))
		return
	}
	now := time.Now().UTC()
	for _, t := range tasks {
		if !IsDue(t.Schedule, t.LastRunAt, now) {
			continue
		}
		if t.Identity == "" {
			m.log.Warn("task has no owner, skipping", logx.String("task", t.ID))
			continue
		}
		reg := m.engines.ForIdentity(t.Identity)
		_, err := reg.Create(engine.KindTaskRunner, engine.TaskPayload{
			TaskID: t.ID,
			Title:  t.Title,
			Agent:  t.AssignedAgent,
			Prompt: t.Description,
		})
		if err != nil {
			m.log.Warn("task dispatch failed",
				logx.String("task", t.ID),
				logx.String("identity", t.Identity),
				logx.Err(err))
			continue
		}
		m.log.Info("task dispatched",
			logx.String("task", t.ID),
			logx.String("schedule", t.Schedule))
	}
}

func (m *Moat) scanPrograms(ctx context.Context) {
	programs, err := m.store.PendingPrograms(ctx)
	if err != nil {
		m.log.Warn("program scan failed", logx.Err(err))
		return
	}
	for _, p := range programs {
		if p.Identity == "" {
			m.log.Warn("program has no owner, skipping", logx.String("program", p.ID))
			continue
		}
		reg := m.engines.ForIdentity(p.Identity)
		_, err := reg.Create(engine.KindProgramUpdater, engine.ProgramPayload{
			ProgramID: p.ID,
			Name:      p.Name,
			Feedback:  p.Feedback,
		})
		if err != nil {
			m.log.Warn("program dispatch failed",
				logx.String("program", p.ID),
				logx.String("identity", p.Identity),
				logx.Err(err))
			continue
		}
		m.log.Info("program dispatched", logx.String("program", p.ID))
	}
}
