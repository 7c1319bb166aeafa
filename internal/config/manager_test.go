package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

const jsonDoc = `{
  "logging": {"level": "debug", "console": true, "file": {"enabled": false, "path": ""}, "bus": {"enabled": true, "min_level": "info", "rate_per_sec": 5}},
  "storage": {"path": "./data/engine.db", "busy_timeout": "5s"},
  "scheduler": {"enabled": true, "poll": "5s"},
  "tasks": {"poll": "500ms", "stability": "10s", "timeout": "1m"},
  "notifier": {"enabled": true, "workers": 2, "dedup_window": "30s"}
}`

const yamlDoc = `
logging:
  level: debug
  console: true
  file:
    enabled: false
    path: ""
  bus:
    enabled: true
    min_level: info
    rate_per_sec: 5
storage:
  path: ./data/engine.db
  busy_timeout: 5s
scheduler:
  enabled: true
  poll: 5s
tasks:
  poll: 500ms
  stability: 10s
  timeout: 1m
notifier:
  enabled: true
  workers: 2
  dedup_window: 30s
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return path
}

func TestParseJSONAndYAMLEquivalent(t *testing.T) {
	t.Parallel()
	jm := NewManager(writeFile(t, "engine.json", jsonDoc))
	ym := NewManager(writeFile(t, "engine.yaml", yamlDoc))

	jc, err := jm.Parse()
	if err != nil {
		t.Fatalf("Parse(json) error: %v", err)
	}
	yc, err := ym.Parse()
	if err != nil {
		t.Fatalf("Parse(yaml) error: %v", err)
	}
	if !reflect.DeepEqual(jc, yc) {
		t.Fatalf("json and yaml parse differ:\njson: %+v\nyaml: %+v", jc, yc)
	}
	if jc.Scheduler.Poll != "5s" || jc.Tasks.Stability != "10s" {
		t.Fatalf("unexpected parsed values: %+v", jc)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	m := NewManager(writeFile(t, "bad.json", `{"storage": {"path": "x", "flavor": "vanilla"}}`))
	if _, err := m.Parse(); err == nil {
		t.Fatal("Parse() accepted unknown field")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	m := NewManager(writeFile(t, "bad.json", `{"storage": {"path": "x"}} {"again": true}`))
	if _, err := m.Parse(); err == nil {
		t.Fatal("Parse() accepted trailing data")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		return &Config{
			Logging: LoggingConfig{Level: "info"},
			Storage: StorageConfig{Path: "./x.db"},
		}
	}
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid minimal", func(*Config) {}, false},
		{"empty level ok", func(c *Config) { c.Logging.Level = "" }, false},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, true},
		{"missing storage path", func(c *Config) { c.Storage.Path = " " }, true},
		{"bad duration", func(c *Config) { c.Scheduler.Poll = "5 bananas" }, true},
		{"negative step budget", func(c *Config) {
			n := -1
			c.Agent = &AgentConfig{StepBudget: &n}
		}, true},
		{"bad notifier window", func(c *Config) {
			c.Notifier = &NotifierConfig{DedupWindow: "soon"}
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tt.mutate(cfg)
			err := Validate(cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("x", "", 7*time.Second)
	if err != nil || d != 7*time.Second {
		t.Fatalf("ParseDurationOrDefault(empty) = %v, %v", d, err)
	}
	d, err = ParseDurationOrDefault("x", "250ms", 7*time.Second)
	if err != nil || d != 250*time.Millisecond {
		t.Fatalf("ParseDurationOrDefault(250ms) = %v, %v", d, err)
	}
	if _, err = ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("ParseDurationField accepted negative duration")
	}
}

func TestReloadPublishesAndValidates(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "engine.json", jsonDoc)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	m.SetValidator(func(_ context.Context, cfg *Config) error {
		return Validate(cfg)
	})
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	// Unchanged content must not publish.
	m.reload(context.Background())
	select {
	case <-ch:
		t.Fatal("reload published an unchanged config")
	case <-time.After(50 * time.Millisecond):
	}

	// A rejected config keeps the old one committed.
	if err := os.WriteFile(path, []byte(`{"storage": {"path": ""}}`), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	m.reload(context.Background())
	if got := m.Get(); got.Storage.Path != "./data/engine.db" {
		t.Fatalf("rejected config was committed: %+v", got)
	}

	// A valid change publishes.
	if err := os.WriteFile(path, []byte(`{"logging": {"level": "warn"}, "storage": {"path": "./other.db"}}`), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	m.reload(context.Background())
	select {
	case got := <-ch:
		if got.Storage.Path != "./other.db" || got.Logging.Level != "warn" {
			t.Fatalf("published config = %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no config published after valid change")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	m := NewManager("unused.json")
	ch := m.Subscribe(1)
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel still open after Unsubscribe")
	}
	m.Unsubscribe(ch)
}

func TestWatchStopsOnCancel(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "engine.json", jsonDoc)
	m := NewManager(path)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("Watch() error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not stop on cancel")
	}
}
