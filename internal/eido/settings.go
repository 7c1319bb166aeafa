package eido

import (
	"context"
	"encoding/json"
	"strings"

	"thalis/internal/storage"
)

// Settings keys stored per identity.
const (
	settingOperator     = "operator"
	settingPurpose      = "purpose"
	settingDefaultAgent = "default_agent"
	settingAgents       = "agents"
	settingAgentsMode   = "agents_mode"
	settingToolsMode    = "tools_mode"
	settingLocalMode    = "local_mode"
	settingLocalPath    = "local_path"
)

// Session is the identity's agent configuration, resolved from stored
// settings at the start of a run.
type Session struct {
	Operator     string
	Purpose      string
	DefaultAgent string
	Agents       map[string]string // name -> persona
	AgentsMode   bool
	ToolsMode    bool
	LocalMode    bool
	LocalPath    string

	// Raw settings, passed through to provider selection.
	Raw map[string]string
}

// LoadSession reads and parses the identity's settings. Missing keys fall
// back to a single default agent so a fresh identity can still converse.
func LoadSession(ctx context.Context, store storage.Store, identity string) (Session, error) {
	raw, err := store.Settings(ctx, identity)
	if err != nil {
		return Session{}, err
	}

	s := Session{
		Operator:     raw[settingOperator],
		Purpose:      raw[settingPurpose],
		DefaultAgent: raw[settingDefaultAgent],
		Agents:       map[string]string{},
		AgentsMode:   modeOn(raw[settingAgentsMode]),
		ToolsMode:    modeOn(raw[settingToolsMode]),
		LocalMode:    modeOn(raw[settingLocalMode]),
		LocalPath:    raw[settingLocalPath],
		Raw:          raw,
	}

	if v := strings.TrimSpace(raw[settingAgents]); v != "" {
		// Malformed agent config degrades to the default agent rather
		// than failing the whole run.
		_ = json.Unmarshal([]byte(v), &s.Agents)
	}
	if s.DefaultAgent == "" {
		s.DefaultAgent = "assistant"
	}
	if _, ok := s.Agents[s.DefaultAgent]; !ok {
		s.Agents[s.DefaultAgent] = "You are a helpful general-purpose assistant."
	}
	return s, nil
}

// ResolveAgent maps a requested agent name to a configured one, falling back
// to the default agent for unknown or empty names.
func (s Session) ResolveAgent(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return s.DefaultAgent
	}
	if _, ok := s.Agents[name]; ok {
		return name
	}
	for known := range s.Agents {
		if strings.EqualFold(known, name) {
			return known
		}
	}
	return s.DefaultAgent
}

func modeOn(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "on", "true", "1", "yes":
		return true
	}
	return false
}
