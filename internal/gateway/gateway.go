// Package gateway is the in-process entry for conversation input. The
// transport layer (or an internal worker) hands it raw operator text; it
// routes to an agent and spawns an agent-runner slot.
package gateway

import (
	"context"
	"strings"

	"thalis/internal/engine"
	"thalis/internal/storage"
	logx "thalis/pkg/logx"
)

type Gateway struct {
	store   storage.Store
	engines *engine.Engines
	log     logx.Logger
}

func New(store storage.Store, engines *engine.Engines, log logx.Logger) *Gateway {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Gateway{store: store, engines: engines, log: log}
}

// Process appends the operator's turn and starts an agent run for it.
// An "@name" prefix addresses a specific agent; otherwise the identity's
// default agent picks it up. Empty input is skipped and returns slot id 0.
func (g *Gateway) Process(ctx context.Context, identity, conversationID, input string) (int64, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return 0, nil
	}

	agent := ""
	if strings.HasPrefix(input, "@") {
		rest := input[1:]
		if i := strings.IndexByte(rest, ' '); i > 0 {
			agent = rest[:i]
		} else {
			agent = rest
		}
	}

	if _, err := g.store.AppendMessage(ctx, identity, conversationID, "user", input); err != nil {
		return 0, err
	}

	id, err := g.engines.ForIdentity(identity).Create(engine.KindAgentRunner, engine.AgentPayload{
		ConversationID: conversationID,
		Agent:          agent,
	})
	if err != nil {
		return 0, err
	}
	g.log.Debug("agent run dispatched",
		logx.String("identity", identity),
		logx.String("agent", agent),
		logx.Int64("slot", id))
	return id, nil
}
