package engine

import (
	"context"
	"sync"

	logx "thalis/pkg/logx"
)

// Engines hands out one Registry per identity, creating registries lazily
// on first use. It replaces any notion of process-global worker state.
type Engines struct {
	catalog *Catalog
	log     logx.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	registries map[string]*Registry
}

func NewEngines(parent context.Context, catalog *Catalog, log logx.Logger) *Engines {
	if parent == nil {
		parent = context.Background()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Engines{
		catalog:    catalog,
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
		registries: make(map[string]*Registry),
	}
}

// ForIdentity returns the registry owning the identity's slots.
func (e *Engines) ForIdentity(identity string) *Registry {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.registries[identity]
	if !ok {
		r = NewRegistry(e.ctx, identity, e.catalog, e.log)
		e.registries[identity] = r
	}
	return r
}

// Identities lists identities with a registry, live or not.
func (e *Engines) Identities() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.registries))
	for id := range e.registries {
		out = append(out, id)
	}
	return out
}

// PruneAll prunes every registry and returns the total removed.
func (e *Engines) PruneAll() int {
	e.mu.Lock()
	regs := make([]*Registry, 0, len(e.registries))
	for _, r := range e.registries {
		regs = append(regs, r)
	}
	e.mu.Unlock()
	n := 0
	for _, r := range regs {
		n += r.Prune()
	}
	return n
}

// Close shuts down every registry.
func (e *Engines) Close() {
	e.cancel()
	e.mu.Lock()
	regs := make([]*Registry, 0, len(e.registries))
	for _, r := range e.registries {
		regs = append(regs, r)
	}
	e.registries = make(map[string]*Registry)
	e.mu.Unlock()
	for _, r := range regs {
		r.Close()
	}
}
