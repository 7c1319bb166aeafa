// Package tools holds the capability table agents can invoke mid-turn.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Tool is one callable capability. Signature and Doc are advertised to the
// model verbatim in the system prompt.
type Tool interface {
	Name() string
	Signature() string
	Doc() string
	Invoke(ctx context.Context, identity string, args []any, kwargs map[string]any) (any, error)
}

// Info is the catalogue entry rendered into prompts.
type Info struct {
	Name      string
	Signature string
	Doc       string
}

// Result is what a tool call produces. Tool failures are data, never errors:
// the runtime records the result and moves on.
type Result struct {
	Success bool   `json:"success"`
	Output  any    `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) error {
	if t == nil || t.Name() == "" {
		return fmt.Errorf("tools: tool and name are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.tools[t.Name()]; dup {
		return fmt.Errorf("tools: %q already registered", t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

// Catalog snapshots the advertised capabilities, sorted by name.
func (r *Registry) Catalog() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, Info{Name: t.Name(), Signature: t.Signature(), Doc: t.Doc()})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Invoke runs the named tool. Unknown names and tool errors both come back
// as a failed Result; panics inside a tool are contained the same way.
func (r *Registry) Invoke(ctx context.Context, identity, name string, args []any, kwargs map[string]any) (res Result) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return Result{Success: false, Error: fmt.Sprintf("unknown tool %q", name)}
	}

	defer func() {
		if rec := recover(); rec != nil {
			res = Result{Success: false, Error: fmt.Sprintf("tool %q panicked: %v", name, rec)}
		}
	}()

	out, err := t.Invoke(ctx, identity, args, kwargs)
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}
	return Result{Success: true, Output: out}
}
