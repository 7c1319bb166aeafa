// Package janitor runs periodic housekeeping: finished worker slots are
// pruned from the registries, stale hidden conversations are purged from
// storage and the notifier's delivery history is compacted.
package janitor

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/robfig/cron/v3"

	"thalis/internal/storage"
	logx "thalis/pkg/logx"
)

type Config struct {
	Enabled       bool
	SweepEvery    time.Duration
	HiddenMaxAge  time.Duration
	HistoryMaxAge time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		SweepEvery:    5 * time.Minute,
		HiddenMaxAge:  24 * time.Hour,
		HistoryMaxAge: 24 * time.Hour,
	}
}

// SlotPruner drops finished worker slots and reports how many were removed.
type SlotPruner interface {
	PruneAll() int
}

// HistoryCompacter discards delivery records older than cutoff.
type HistoryCompacter interface {
	CompactHistory(cutoff time.Time) int
}

type Janitor struct {
	cfg     Config
	store   storage.Store
	pruner  SlotPruner
	history HistoryCompacter
	log     logx.Logger

	c *cron.Cron
}

func New(cfg Config, store storage.Store, pruner SlotPruner, history HistoryCompacter, log logx.Logger) *Janitor {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.SweepEvery <= 0 {
		cfg.SweepEvery = 5 * time.Minute
	}
	if cfg.HiddenMaxAge <= 0 {
		cfg.HiddenMaxAge = 24 * time.Hour
	}
	if cfg.HistoryMaxAge <= 0 {
		cfg.HistoryMaxAge = 24 * time.Hour
	}
	return &Janitor{cfg: cfg, store: store, pruner: pruner, history: history, log: log}
}

// Start schedules the sweep loop. Idempotent; no-op when disabled.
func (j *Janitor) Start() error {
	if !j.cfg.Enabled {
		return nil
	}
	if j.c != nil {
		return nil
	}
	c := cron.New()
	spec := fmt.Sprintf("@every %s", j.cfg.SweepEvery)
	if _, err := c.AddFunc(spec, j.safeSweep); err != nil {
		return fmt.Errorf("janitor: schedule %q: %w", spec, err)
	}
	c.Start()
	j.c = c
	j.log.Info("janitor started", logx.Duration("every", j.cfg.SweepEvery))
	return nil
}

// Stop halts scheduling and waits for a running sweep, bounded by ctx.
func (j *Janitor) Stop(ctx context.Context) error {
	if j.c == nil {
		return nil
	}
	done := j.c.Stop().Done()
	j.c = nil
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *Janitor) safeSweep() {
	defer func() {
		if r := recover(); r != nil {
			j.log.Error("janitor sweep panicked",
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())))
		}
	}()
	j.Sweep()
}

// Sweep runs every housekeeping job once. A failing job is logged and does
// not block the others.
func (j *Janitor) Sweep() {
	if j.pruner != nil {
		if n := j.pruner.PruneAll(); n > 0 {
			j.log.Debug("pruned finished slots", logx.Int("count", n))
		}
	}
	if j.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		n, err := j.store.PurgeHiddenConversations(ctx, j.cfg.HiddenMaxAge)
		cancel()
		if err != nil {
			j.log.Warn("hidden conversation purge failed", logx.Err(err))
		} else if n > 0 {
			j.log.Info("purged stale hidden conversations", logx.Int("count", n))
		}
	}
	if j.history != nil {
		cutoff := time.Now().UTC().Add(-j.cfg.HistoryMaxAge)
		if n := j.history.CompactHistory(cutoff); n > 0 {
			j.log.Debug("compacted notification history", logx.Int("count", n))
		}
	}
}
