package app

import (
	"thalis/internal/config"
	"thalis/internal/eido"
	"thalis/internal/janitor"
	"thalis/internal/moat"
	"thalis/internal/notifier"
	"thalis/internal/storage"
	"thalis/internal/workers"
	logx "thalis/pkg/logx"
)

// Mapping helpers translate the wire config (string durations, optional
// sections) into the typed configs each service takes. Absent sections fall
// back to service defaults.

func mapLogging(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File: logx.FileConfig{
			Enabled: c.File.Enabled,
			Path:    c.File.Path,
		},
		Bus: logx.BusConfig{
			Enabled:    c.Bus.Enabled,
			MinLevel:   c.Bus.MinLevel,
			RatePerSec: c.Bus.RatePerSec,
		},
	}
}

func mapStorage(c config.StorageConfig) (storage.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", c.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Path: c.Path, BusyTimeout: busy}, nil
}

func mapScheduler(c config.SchedulerConfig) (moat.Config, error) {
	poll, err := config.ParseDurationField("scheduler.poll", c.Poll)
	if err != nil {
		return moat.Config{}, err
	}
	return moat.Config{Poll: poll}, nil
}

func mapTasks(c *config.TaskConfig) (workers.TaskConfig, error) {
	out := workers.DefaultTaskConfig()
	if c == nil {
		return out, nil
	}
	var err error
	if out.Poll, err = config.ParseDurationOrDefault("tasks.poll", c.Poll, out.Poll); err != nil {
		return out, err
	}
	if out.Stability, err = config.ParseDurationOrDefault("tasks.stability", c.Stability, out.Stability); err != nil {
		return out, err
	}
	if out.Timeout, err = config.ParseDurationOrDefault("tasks.timeout", c.Timeout, out.Timeout); err != nil {
		return out, err
	}
	return out, nil
}

func mapPrograms(c *config.ProgramConfig) (workers.ProgramConfig, error) {
	out := workers.DefaultProgramConfig()
	if c == nil {
		return out, nil
	}
	var err error
	if out.Poll, err = config.ParseDurationOrDefault("programs.poll", c.Poll, out.Poll); err != nil {
		return out, err
	}
	if out.ReplyTimeout, err = config.ParseDurationOrDefault("programs.reply_timeout", c.ReplyTimeout, out.ReplyTimeout); err != nil {
		return out, err
	}
	return out, nil
}

func mapAgent(c *config.AgentConfig) (eido.Config, error) {
	out := eido.DefaultConfig()
	if c == nil {
		return out, nil
	}
	if c.RetryAttempts > 0 {
		out.RetryAttempts = c.RetryAttempts
	}
	var err error
	if out.RetryDelay, err = config.ParseDurationOrDefault("agent.retry_delay", c.RetryDelay, out.RetryDelay); err != nil {
		return out, err
	}
	if c.StepBudget != nil {
		out.StepBudget = *c.StepBudget
	}
	return out, nil
}

func mapNotifier(c *config.NotifierConfig) (notifier.Config, error) {
	if c == nil {
		return notifier.Config{Enabled: true}, nil
	}
	out := notifier.Config{
		Enabled:         c.Enabled,
		Workers:         c.Workers,
		QueueSize:       c.QueueSize,
		RatePerSec:      c.RatePerSec,
		RetryMax:        c.RetryMax,
		DedupMaxEntries: c.DedupMaxEntries,
	}
	var err error
	if out.RetryBase, err = config.ParseDurationField("notifier.retry_base", c.RetryBase); err != nil {
		return out, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationField("notifier.retry_max_delay", c.RetryMaxDelay); err != nil {
		return out, err
	}
	if out.DedupWindow, err = config.ParseDurationField("notifier.dedup_window", c.DedupWindow); err != nil {
		return out, err
	}
	return out, nil
}

func mapJanitor(c *config.JanitorConfig) (janitor.Config, error) {
	out := janitor.DefaultConfig()
	if c == nil {
		return out, nil
	}
	out.Enabled = c.Enabled
	var err error
	if out.SweepEvery, err = config.ParseDurationOrDefault("janitor.sweep_every", c.SweepEvery, out.SweepEvery); err != nil {
		return out, err
	}
	if out.HiddenMaxAge, err = config.ParseDurationOrDefault("janitor.hidden_max_age", c.HiddenMaxAge, out.HiddenMaxAge); err != nil {
		return out, err
	}
	if out.HistoryMaxAge, err = config.ParseDurationOrDefault("janitor.history_max_age", c.HistoryMaxAge, out.HistoryMaxAge); err != nil {
		return out, err
	}
	return out, nil
}
