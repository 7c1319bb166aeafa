// Package eido drives the recursive agent conversation loop: build a system
// prompt, generate with the identity's provider, parse the structured reply,
// dispatch tools or sub-agents, then continue or halt per the model's
// next_step directive.
package eido

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"thalis/internal/eido/tools"
	"thalis/internal/provider"
	"thalis/internal/storage"
	logx "thalis/pkg/logx"
)

// Notifier pushes a fresh assistant message to live operator connections.
// Delivery is best effort and must never block the turn.
type Notifier interface {
	Notify(identity, conversationID, agent, text string)
}

// ProviderResolver picks a model backend from an identity's settings.
// *provider.Factory satisfies it.
type ProviderResolver interface {
	ForSettings(settings map[string]string) (provider.Provider, error)
}

type Config struct {
	// RetryAttempts bounds consecutive provider failures per generate.
	RetryAttempts int
	// RetryDelay is the fixed wait between attempts.
	RetryDelay time.Duration
	// StepBudget caps protocol turns per run. 0 means unlimited.
	StepBudget int
}

func DefaultConfig() Config {
	return Config{
		RetryAttempts: 5,
		RetryDelay:    3 * time.Second,
		StepBudget:    25,
	}
}

type Runtime struct {
	store     storage.Store
	providers ProviderResolver
	tools     *tools.Registry
	notifier  Notifier
	log       logx.Logger
	cfg       Config
}

func New(cfg Config, store storage.Store, providers ProviderResolver, registry *tools.Registry, notifier Notifier, log logx.Logger) *Runtime {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 5
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 3 * time.Second
	}
	if registry == nil {
		registry = tools.NewRegistry()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runtime{
		store:     store,
		providers: providers,
		tools:     registry,
		notifier:  notifier,
		log:       log,
		cfg:       cfg,
	}
}

// Run executes one full agent turn chain on a conversation. A turn that
// exhausts provider retries or hits a malformed protocol twice stalls
// silently: no error escapes and no non-internal assistant message appears.
// Internal scratch messages are always removed before Run returns.
func (r *Runtime) Run(ctx context.Context, identity, agent, conversationID string) error {
	sess, err := LoadSession(ctx, r.store, identity)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	prov, err := r.providers.ForSettings(sess.Raw)
	if err != nil {
		return fmt.Errorf("resolve provider: %w", err)
	}
	defer r.cleanup(identity, conversationID)

	agent = sess.ResolveAgent(agent)
	return r.run(ctx, sess, prov, identity, agent, conversationID, 0, false)
}

func (r *Runtime) run(ctx context.Context, sess Session, prov provider.Provider, identity, agent, conversationID string, step int, corrected bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.cfg.StepBudget > 0 && step >= r.cfg.StepBudget {
		r.log.Error("step budget exhausted, halting turn",
			logx.String("agent", agent),
			logx.Int("budget", r.cfg.StepBudget))
		r.appendInternal(ctx, identity, conversationID, "step budget exhausted, halting")
		return nil
	}

	var catalog []tools.Info
	if sess.ToolsMode {
		catalog = r.tools.Catalog()
	}
	systemPrompt := BuildSystemPrompt(sess, agent, catalog)

	history, err := assembleHistory(ctx, r.store, identity, conversationID, sess)
	if err != nil {
		return fmt.Errorf("assemble history: %w", err)
	}

	raw, ok := r.generate(ctx, prov, agent, systemPrompt, history)
	if !ok {
		return nil
	}

	parsed, err := ParseProtocol(StripFence(raw))
	if err != nil {
		if corrected {
			r.log.Error("protocol still malformed after self-correction, stalling",
				logx.String("agent", agent), logx.Err(err))
			return nil
		}
		r.log.Warn("malformed protocol response, requesting correction",
			logx.String("agent", agent), logx.Err(err))
		r.appendInternal(ctx, identity, conversationID,
			"your previous response was not a single valid JSON object; reply again following the response format exactly")
		return r.run(ctx, sess, prov, identity, agent, conversationID, step+1, true)
	}

	if parsed.Response != "" {
		text := "[" + agent + "]: " + parsed.Response
		if _, err := r.store.AppendMessage(ctx, identity, conversationID, "assistant", text); err != nil {
			r.log.Warn("append assistant turn failed", logx.Err(err))
		}
		if r.notifier != nil && !strings.HasPrefix(strings.TrimSpace(parsed.Response), InternalPrefix) {
			r.notifier.Notify(identity, conversationID, agent, parsed.Response)
		}
	}

	switch {
	case len(parsed.Agents) > 0:
		executed := make([]string, 0, len(parsed.Agents))
		for _, name := range parsed.Agents {
			sub := sess.ResolveAgent(name)
			if sub == agent {
				continue
			}
			// The note lands before the sub-agent runs so its generation
			// (and later siblings') sees who summoned it.
			r.appendInternal(ctx, identity, conversationID, "summoning agent: "+sub)
			// Sequential by contract: later siblings see the turns
			// earlier siblings appended.
			if err := r.run(ctx, sess, prov, identity, sub, conversationID, step+1, false); err != nil {
				r.log.Warn("sub-agent run failed",
					logx.String("agent", sub), logx.Err(err))
			}
			executed = append(executed, sub)
		}
		r.appendInternal(ctx, identity, conversationID,
			"agents executed: "+strings.Join(executed, ", "))

	case len(parsed.Functions) > 0:
		for _, call := range parsed.Functions {
			r.appendInternal(ctx, identity, conversationID, "executing function: "+call.Function)
			res := r.tools.Invoke(ctx, identity, call.Function, call.Args, call.Kwargs)
			data, err := json.Marshal(res)
			if err != nil {
				data = []byte(fmt.Sprintf(`{"success":false,"error":%q}`, err.Error()))
			}
			r.appendInternal(ctx, identity, conversationID,
				fmt.Sprintf("tool %s result: %s", call.Function, data))
		}
	}

	switch parsed.NextStep {
	case NextContinue:
		return r.run(ctx, sess, prov, identity, agent, conversationID, step+1, false)
	case NextAwaitOperator:
		return nil
	default:
		r.log.Error("unknown next_step directive, halting",
			logx.String("agent", agent),
			logx.String("next_step", parsed.NextStep))
		return nil
	}
}

// generate retries the provider a fixed number of times with a fixed delay.
// Exhaustion is not an error: the turn simply advances no further.
func (r *Runtime) generate(ctx context.Context, prov provider.Provider, agent, systemPrompt string, history []provider.Message) (string, bool) {
	for attempt := 1; attempt <= r.cfg.RetryAttempts; attempt++ {
		out, err := prov.Generate(ctx, systemPrompt, history)
		if err == nil && strings.TrimSpace(out) != "" && strings.TrimSpace(out) != "FAIL" {
			return out, true
		}
		if err == nil {
			err = fmt.Errorf("provider returned failure sentinel")
		}
		if attempt < r.cfg.RetryAttempts {
			r.log.Warn("generate failed, retrying",
				logx.String("agent", agent),
				logx.Int("attempts_left", r.cfg.RetryAttempts-attempt),
				logx.Err(err))
			select {
			case <-ctx.Done():
				return "", false
			case <-time.After(r.cfg.RetryDelay):
			}
		} else {
			r.log.Error("generate failed on final attempt, stalling turn",
				logx.String("agent", agent), logx.Err(err))
		}
	}
	return "", false
}

func (r *Runtime) appendInternal(ctx context.Context, identity, conversationID, text string) {
	if _, err := r.store.AppendMessage(ctx, identity, conversationID, "assistant", InternalPrefix+" "+text); err != nil {
		r.log.Warn("append internal note failed", logx.Err(err))
	}
}

// cleanup strips internal scratch messages from the persisted transcript.
// It runs on its own context so a canceled run still gets cleaned up.
func (r *Runtime) cleanup(identity, conversationID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msgs, err := r.store.History(ctx, identity, conversationID)
	if err != nil {
		r.log.Warn("cleanup history fetch failed", logx.Err(err))
		return
	}
	for _, m := range msgs {
		if !IsInternal(m.Content) {
			continue
		}
		if err := r.store.DeleteMessage(ctx, identity, m.ID); err != nil {
			r.log.Warn("cleanup delete failed",
				logx.String("message", m.ID), logx.Err(err))
		}
	}
}
