package config

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Tasks     *TaskConfig     `json:"tasks,omitempty"`
	Programs  *ProgramConfig  `json:"programs,omitempty"`
	Agent     *AgentConfig    `json:"agent,omitempty"`
	Notifier  *NotifierConfig `json:"notifier,omitempty"`
	Janitor   *JanitorConfig  `json:"janitor,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Bus     LoggingBus  `json:"bus"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingBus mirrors the event-bus log sink: records at or above min_level
// are published for live streaming.
type LoggingBus struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type StorageConfig struct {
	Path string `json:"path"`
	// BusyTimeout is a Go duration string (e.g. "5s").
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// SchedulerConfig controls the due-job scan loop.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type SchedulerConfig struct {
	Enabled bool   `json:"enabled"`
	Poll    string `json:"poll,omitempty"`
}

// TaskConfig controls scheduled-task execution.
//
// Defaults (when fields are omitted/zero):
//   - poll: "500ms"
//   - stability: "10s"
//   - timeout: "1m"
type TaskConfig struct {
	Poll      string `json:"poll,omitempty"`
	Stability string `json:"stability,omitempty"`
	Timeout   string `json:"timeout,omitempty"`
}

// ProgramConfig controls program regeneration runs.
type ProgramConfig struct {
	Poll         string `json:"poll,omitempty"`
	ReplyTimeout string `json:"reply_timeout,omitempty"`
}

// AgentConfig controls the recursive agent runtime.
//
// StepBudget caps protocol turns per run; 0 means unlimited.
type AgentConfig struct {
	RetryAttempts int    `json:"retry_attempts,omitempty"`
	RetryDelay    string `json:"retry_delay,omitempty"`
	StepBudget    *int   `json:"step_budget,omitempty"`
}

// NotifierConfig controls the async notification pipeline.
//
// If the whole section is omitted, the notifier defaults to enabled=true.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers,omitempty"`
	QueueSize       int    `json:"queue_size,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	RetryMax        int    `json:"retry_max,omitempty"`
	RetryBase       string `json:"retry_base,omitempty"`
	RetryMaxDelay   string `json:"retry_max_delay,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
}

type JanitorConfig struct {
	Enabled       bool   `json:"enabled"`
	SweepEvery    string `json:"sweep_every,omitempty"`
	HiddenMaxAge  string `json:"hidden_max_age,omitempty"`
	HistoryMaxAge string `json:"history_max_age,omitempty"`
}
