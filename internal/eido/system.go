package eido

import (
	"fmt"
	"sort"
	"strings"

	"thalis/internal/eido/tools"
)

const responseContract = `You must reply with a single JSON object and nothing else:
{
  "response": "<text shown to the operator, may be empty>",
  "agents": ["<agent name>", ...],
  "functions_list": [{"function": "<tool name>", "args": [...], "kwargs": {...}}, ...],
  "next_step": "continue" | "await_operator"
}
Populate at most one of "agents" and "functions_list" per turn.
Use "continue" only when you have more work to do without operator input.`

const footnotes = `Notes:
- Keep responses concise and factual.
- Never invent tool names or agent names that are not listed above.
- Messages starting with [**INTERNAL SYSTEM MESSAGE**] are system bookkeeping, not operator input.`

// BuildSystemPrompt assembles the per-turn system prompt for one agent.
func BuildSystemPrompt(sess Session, agent string, catalog []tools.Info) string {
	var b strings.Builder

	persona := sess.Agents[agent]
	if persona == "" {
		persona = sess.Agents[sess.DefaultAgent]
	}
	fmt.Fprintf(&b, "You are the agent %q.\n%s\n\n", agent, strings.TrimSpace(persona))

	if sess.Operator != "" {
		fmt.Fprintf(&b, "Your operator is %s.\n", sess.Operator)
	}
	if sess.Purpose != "" {
		fmt.Fprintf(&b, "Session purpose: %s\n", sess.Purpose)
	}
	b.WriteString("\n")

	if sess.AgentsMode {
		others := make([]string, 0, len(sess.Agents))
		for name := range sess.Agents {
			if name == agent {
				continue
			}
			others = append(others, name)
		}
		sort.Strings(others)
		if len(others) > 0 {
			b.WriteString("You can summon these agents by listing their names in \"agents\":\n")
			for _, name := range others {
				fmt.Fprintf(&b, "- %s: %s\n", name, firstLine(sess.Agents[name]))
			}
			b.WriteString("\n")
		}
	}

	if sess.ToolsMode && len(catalog) > 0 {
		b.WriteString("Available tools (call via \"functions_list\"):\n")
		for _, t := range catalog {
			fmt.Fprintf(&b, "- %s: %s\n", t.Signature, t.Doc)
		}
		b.WriteString("\n")
	} else {
		b.WriteString("No tools are available this session. Leave \"functions_list\" empty.\n\n")
	}

	b.WriteString(responseContract)
	b.WriteString("\n\n")
	b.WriteString(footnotes)
	return b.String()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:120] + "..."
	}
	return s
}
