package workers

import (
	"context"

	"thalis/internal/eido"
	"thalis/internal/engine"
	logx "thalis/pkg/logx"
)

// AgentRunner is the thin adapter between a registry slot and one
// AgentRuntime run.
type AgentRunner struct {
	runtime *eido.Runtime
	log     logx.Logger
}

func NewAgentRunner(runtime *eido.Runtime, log logx.Logger) *AgentRunner {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &AgentRunner{runtime: runtime, log: log}
}

func (w *AgentRunner) EntryPoint(ctx context.Context, identity string, payload engine.Payload) {
	p, ok := payload.(engine.AgentPayload)
	if !ok {
		w.log.Error("agent-runner got wrong payload type", logx.String("detail", payload.Describe()))
		return
	}
	if ctx.Err() != nil {
		return
	}
	if err := w.runtime.Run(ctx, identity, p.Agent, p.ConversationID); err != nil {
		w.log.Warn("agent run failed",
			logx.String("identity", identity),
			logx.String("agent", p.Agent),
			logx.Err(err))
	}
}
