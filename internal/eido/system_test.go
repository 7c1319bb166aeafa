package eido

import (
	"strings"
	"testing"

	"thalis/internal/eido/tools"
)

func testSession() Session {
	return Session{
		Operator:     "op@example.com",
		Purpose:      "integration testing",
		DefaultAgent: "alpha",
		Agents: map[string]string{
			"alpha": "You are alpha, the coordinator.",
			"beta":  "You are beta, the specialist.",
		},
		AgentsMode: true,
		ToolsMode:  true,
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	t.Parallel()
	catalog := []tools.Info{
		{Name: "clock", Signature: "clock()", Doc: "Return the current UTC time."},
	}
	got := BuildSystemPrompt(testSession(), "alpha", catalog)

	for _, want := range []string{
		"You are alpha, the coordinator.",
		"op@example.com",
		"integration testing",
		"- beta:",
		"clock()",
		`"next_step"`,
		"[**INTERNAL SYSTEM MESSAGE**]",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Contains(got, "- alpha:") {
		t.Error("prompt lists the agent itself as summonable")
	}
}

func TestBuildSystemPromptToolsDisabled(t *testing.T) {
	t.Parallel()
	sess := testSession()
	sess.ToolsMode = false
	got := BuildSystemPrompt(sess, "beta", nil)

	if !strings.Contains(got, "No tools are available") {
		t.Error("missing no-tools notice")
	}
	if !strings.Contains(got, "You are beta, the specialist.") {
		t.Error("wrong persona")
	}
}

func TestResolveAgent(t *testing.T) {
	t.Parallel()
	sess := testSession()
	cases := []struct {
		in   string
		want string
	}{
		{"alpha", "alpha"},
		{"beta", "beta"},
		{"BETA", "beta"},
		{" beta ", "beta"},
		{"", "alpha"},
		{"gamma", "alpha"},
	}
	for _, tc := range cases {
		if got := sess.ResolveAgent(tc.in); got != tc.want {
			t.Errorf("ResolveAgent(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
