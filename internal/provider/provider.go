// Package provider selects and drives a language model backend per identity.
package provider

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Message is one ordered conversation turn sent to a backend.
type Message struct {
	Role    string
	Content string
}

// Provider generates one completion for a system prompt plus history.
type Provider interface {
	Name() string
	Generate(ctx context.Context, systemPrompt string, history []Message) (string, error)
}

// Settings keys read from the identity's stored session settings.
const (
	SettingProvider    = "provider"
	SettingAPIKey      = "api_key"
	SettingModel       = "model"
	SettingBaseURL     = "base_url"
	SettingMaxTokens   = "model_max_tokens"
	SettingTemperature = "model_temperature"
)

const defaultTimeout = 2 * time.Minute

// Params carries per-identity generation tuning. Zero values mean the
// backend's own default.
type Params struct {
	MaxTokens   int
	Temperature *float64
}

// parseParams reads tuning settings best-effort: values that don't parse
// fall back to backend defaults, matching how other optional settings are
// treated.
func parseParams(settings map[string]string) Params {
	var p Params
	if raw := strings.TrimSpace(settings[SettingMaxTokens]); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			p.MaxTokens = n
		}
	}
	if raw := strings.TrimSpace(settings[SettingTemperature]); raw != "" {
		if t, err := strconv.ParseFloat(raw, 64); err == nil && t >= 0 {
			p.Temperature = &t
		}
	}
	return p
}

// Factory builds providers from per-identity settings. Selection is a
// configuration lookup, never hardcoded per call site.
type Factory struct{}

func NewFactory() *Factory { return &Factory{} }

// ForSettings resolves the identity's configured backend.
func (f *Factory) ForSettings(settings map[string]string) (Provider, error) {
	name := strings.ToLower(strings.TrimSpace(settings[SettingProvider]))
	apiKey := strings.TrimSpace(settings[SettingAPIKey])
	model := strings.TrimSpace(settings[SettingModel])
	baseURL := strings.TrimSpace(settings[SettingBaseURL])
	params := parseParams(settings)

	switch name {
	case "", "openai":
		return NewOpenAI(apiKey, model, baseURL, params), nil
	case "ollama":
		return NewOllama(model, baseURL, params), nil
	case "xai":
		return NewXAI(apiKey, model, params), nil
	case "gemini", "google":
		return NewGemini(apiKey, model, params)
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}
