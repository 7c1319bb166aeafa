package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type ollamaClient struct {
	baseURL    string
	model      string
	params     Params
	httpClient *http.Client
}

type ollamaRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  *ollamaOptions `json:"options,omitempty"`
}

// ollamaOptions carries generation tuning; num_predict is Ollama's name for
// the output token cap.
type ollamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
}

type ollamaResponse struct {
	Message chatMessage `json:"message"`
	Error   string      `json:"error,omitempty"`
}

// NewOllama builds a provider against a local Ollama instance.
func NewOllama(model, baseURL string, params Params) Provider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3.1"
	}
	return &ollamaClient{
		baseURL:    baseURL,
		model:      model,
		params:     params,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

func (c *ollamaClient) Name() string { return "ollama" }

func (c *ollamaClient) Generate(ctx context.Context, systemPrompt string, history []Message) (string, error) {
	messages := make([]chatMessage, 0, len(history)+1)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	for _, m := range history {
		messages = append(messages, chatMessage{Role: m.Role, Content: m.Content})
	}

	var opts *ollamaOptions
	if c.params.Temperature != nil || c.params.MaxTokens > 0 {
		opts = &ollamaOptions{
			Temperature: c.params.Temperature,
			NumPredict:  c.params.MaxTokens,
		}
	}
	body, err := json.Marshal(ollamaRequest{Model: c.model, Messages: messages, Stream: false, Options: opts})
	if err != nil {
		return "", fmt.Errorf("ollama: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("ollama: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("ollama: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama: status %d: %s", resp.StatusCode, truncateBody(raw))
	}

	var out ollamaResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("ollama: decode response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("ollama: api error: %s", out.Error)
	}
	return out.Message.Content, nil
}
