package eido

import (
	"encoding/json"
	"fmt"
	"strings"
)

// InternalPrefix tags scratch bookkeeping messages. They are appended during
// a turn and deleted again before the transcript is considered durable.
const InternalPrefix = "[**INTERNAL SYSTEM MESSAGE**]"

// FunctionCall is one requested tool invocation.
type FunctionCall struct {
	Function string         `json:"function"`
	Args     []any          `json:"args"`
	Kwargs   map[string]any `json:"kwargs"`
}

// ProtocolResponse is the structured contract every model reply must follow.
type ProtocolResponse struct {
	Response  string         `json:"response"`
	Agents    []string       `json:"agents"`
	Functions []FunctionCall `json:"functions_list"`
	NextStep  string         `json:"next_step"`
}

// Next-step directives.
const (
	NextContinue      = "continue"
	NextAwaitOperator = "await_operator"
)

// StripFence removes a surrounding markdown code fence if present, so a
// model that wraps its JSON in ```json ... ``` still parses.
func StripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		// Drop the language tag line.
		if lang := strings.TrimSpace(s[:i]); lang == "" || isFenceLang(lang) {
			s = s[i+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func isFenceLang(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}

// ParseProtocol decodes a model reply. The raw text must be a single JSON
// object: it has to start with '{' and end with '}'.
func ParseProtocol(raw string) (ProtocolResponse, error) {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
		return ProtocolResponse{}, fmt.Errorf("response is not a JSON object")
	}
	var p ProtocolResponse
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return ProtocolResponse{}, fmt.Errorf("decode protocol response: %w", err)
	}
	return p, nil
}

// IsInternal reports whether a persisted message is scratch bookkeeping.
// Both bare internal notes and agent-tagged internal content count.
func IsInternal(content string) bool {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, InternalPrefix) {
		return true
	}
	if strings.HasPrefix(s, "[") {
		if i := strings.Index(s, "]: "); i > 0 {
			return strings.HasPrefix(strings.TrimSpace(s[i+3:]), InternalPrefix)
		}
	}
	return false
}
