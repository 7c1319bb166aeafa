package config

import (
	"errors"
	"fmt"
	"strings"
)

var logLevels = map[string]bool{
	"": true, "trace": true, "debug": true, "info": true,
	"warn": true, "warning": true, "error": true,
}

// Validate checks a parsed config for structural problems: unknown log
// levels, malformed durations, missing storage path. It does not apply
// defaults; empty optional fields are fine.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if !logLevels[strings.ToLower(strings.TrimSpace(cfg.Logging.Level))] {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}
	if cfg.Logging.Bus.Enabled && !logLevels[strings.ToLower(strings.TrimSpace(cfg.Logging.Bus.MinLevel))] {
		errs = append(errs, fmt.Errorf("logging.bus.min_level: unknown level %q", cfg.Logging.Bus.MinLevel))
	}
	if strings.TrimSpace(cfg.Storage.Path) == "" {
		errs = append(errs, errors.New("storage.path is required"))
	}

	durs := []struct{ path, raw string }{
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
		{"scheduler.poll", cfg.Scheduler.Poll},
	}
	if cfg.Tasks != nil {
		durs = append(durs,
			struct{ path, raw string }{"tasks.poll", cfg.Tasks.Poll},
			struct{ path, raw string }{"tasks.stability", cfg.Tasks.Stability},
			struct{ path, raw string }{"tasks.timeout", cfg.Tasks.Timeout})
	}
	if cfg.Programs != nil {
		durs = append(durs,
			struct{ path, raw string }{"programs.poll", cfg.Programs.Poll},
			struct{ path, raw string }{"programs.reply_timeout", cfg.Programs.ReplyTimeout})
	}
	if cfg.Agent != nil {
		durs = append(durs, struct{ path, raw string }{"agent.retry_delay", cfg.Agent.RetryDelay})
		if cfg.Agent.StepBudget != nil && *cfg.Agent.StepBudget < 0 {
			errs = append(errs, errors.New("agent.step_budget must be >= 0"))
		}
	}
	if cfg.Notifier != nil {
		durs = append(durs,
			struct{ path, raw string }{"notifier.retry_base", cfg.Notifier.RetryBase},
			struct{ path, raw string }{"notifier.retry_max_delay", cfg.Notifier.RetryMaxDelay},
			struct{ path, raw string }{"notifier.dedup_window", cfg.Notifier.DedupWindow})
	}
	if cfg.Janitor != nil {
		durs = append(durs,
			struct{ path, raw string }{"janitor.sweep_every", cfg.Janitor.SweepEvery},
			struct{ path, raw string }{"janitor.hidden_max_age", cfg.Janitor.HiddenMaxAge},
			struct{ path, raw string }{"janitor.history_max_age", cfg.Janitor.HistoryMaxAge})
	}
	for _, d := range durs {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
