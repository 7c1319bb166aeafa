package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// EntryPoint is the function a worker kind runs in its slot goroutine.
// It must return promptly once ctx is canceled.
type EntryPoint func(ctx context.Context, identity string, payload Payload)

// ErrUnknownKind is wrapped by Catalog.Resolve for unregistered kinds.
var ErrUnknownKind = fmt.Errorf("unknown worker kind")

// Worker kinds wired into the catalog at boot.
const (
	KindTaskRunner     = "task-runner"
	KindProgramUpdater = "program-updater"
	KindAgentRunner    = "agent-runner"
	KindMoat           = "moat"
)

// Catalog maps worker kind names to entry points. Registration happens once
// during boot; lookups are concurrent afterwards.
type Catalog struct {
	mu    sync.RWMutex
	kinds map[string]EntryPoint
}

func NewCatalog() *Catalog {
	return &Catalog{kinds: make(map[string]EntryPoint)}
}

func (c *Catalog) Register(kind string, fn EntryPoint) error {
	if kind == "" || fn == nil {
		return fmt.Errorf("catalog: kind and entry point are required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.kinds[kind]; dup {
		return fmt.Errorf("catalog: kind %q already registered", kind)
	}
	c.kinds[kind] = fn
	return nil
}

func (c *Catalog) Resolve(kind string) (EntryPoint, error) {
	c.mu.RLock()
	fn, ok := c.kinds[kind]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return fn, nil
}

// Kinds returns the registered kind names sorted for stable output.
func (c *Catalog) Kinds() []string {
	c.mu.RLock()
	out := make([]string, 0, len(c.kinds))
	for k := range c.kinds {
		out = append(out, k)
	}
	c.mu.RUnlock()
	sort.Strings(out)
	return out
}
