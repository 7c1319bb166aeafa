package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const webBodyCap = 256 << 10

// WebFetch performs a bounded HTTP GET and returns the body as text.
type WebFetch struct {
	client *http.Client
}

func NewWebFetch() *WebFetch {
	return &WebFetch{client: &http.Client{Timeout: 30 * time.Second}}
}

func (*WebFetch) Name() string      { return "web_fetch" }
func (*WebFetch) Signature() string { return "web_fetch(url: string)" }
func (*WebFetch) Doc() string {
	return "Fetch a http(s) URL with GET and return up to 256 KiB of the body."
}

func (w *WebFetch) Invoke(ctx context.Context, _ string, args []any, kwargs map[string]any) (any, error) {
	raw, err := stringArg("url", args, kwargs, 0)
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("url must be http or https")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, webBodyCap))
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"status": resp.StatusCode,
		"body":   string(body),
	}, nil
}
