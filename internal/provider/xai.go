package provider

import "net/http"

// NewXAI builds a provider for the xAI API, which is wire-compatible with
// the OpenAI chat-completions endpoint.
func NewXAI(apiKey, model string, params Params) Provider {
	if model == "" {
		model = "grok-3-mini"
	}
	return &chatClient{
		name:       "xai",
		apiKey:     apiKey,
		baseURL:    "https://api.x.ai/v1",
		model:      model,
		params:     params,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}
