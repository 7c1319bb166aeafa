package engine

import (
	"context"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	logx "thalis/pkg/logx"
)

// killGrace is how long Kill waits for a canceled slot before giving up.
// Termination is best effort: a worker ignoring its context keeps running,
// but the slot is dropped from the registry either way.
const killGrace = 2 * time.Second

// Slot describes one live worker goroutine.
type Slot struct {
	ID       int64
	Kind     string
	Detail   string
	Started  time.Time
	Finished bool
}

type slot struct {
	info   Slot
	cancel context.CancelFunc
	done   chan struct{}
}

// Registry owns the worker slots of a single identity.
type Registry struct {
	identity string
	catalog  *Catalog
	log      logx.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	next  int64
	slots map[int64]*slot
}

func NewRegistry(parent context.Context, identity string, catalog *Catalog, log logx.Logger) *Registry {
	if parent == nil {
		parent = context.Background()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Registry{
		identity: identity,
		catalog:  catalog,
		log:      log.With(logx.String("identity", identity)),
		ctx:      ctx,
		cancel:   cancel,
		slots:    make(map[int64]*slot),
	}
}

// Create resolves kind and starts the worker in a fresh slot.
// Nothing is recorded when the kind is unknown.
func (r *Registry) Create(kind string, payload Payload) (int64, error) {
	fn, err := r.catalog.Resolve(kind)
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithCancel(r.ctx)
	r.mu.Lock()
	r.next++
	id := r.next
	s := &slot{
		info: Slot{
			ID:      id,
			Kind:    kind,
			Detail:  payload.Describe(),
			Started: time.Now(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	r.slots[id] = s
	r.mu.Unlock()

	log := r.log.With(logx.Int64("slot", id), logx.String("kind", kind))
	go func() {
		defer close(s.done)
		defer cancel()
		defer func() {
			if rec := recover(); rec != nil {
				log.Error("worker panicked",
					logx.Any("panic", rec),
					logx.Stack(string(debug.Stack())))
			}
			r.mu.Lock()
			s.info.Finished = true
			r.mu.Unlock()
		}()
		log.Debug("worker started", logx.String("detail", s.info.Detail))
		fn(ctx, r.identity, payload)
		log.Debug("worker finished")
	}()

	return id, nil
}

// List returns the live slots sorted by id. Finished slots that have not
// been pruned yet are excluded.
func (r *Registry) List() []Slot {
	r.mu.Lock()
	out := make([]Slot, 0, len(r.slots))
	for _, s := range r.slots {
		if s.info.Finished {
			continue
		}
		out = append(out, s.info)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Kill cancels the slot's context and waits up to killGrace for the worker
// to return. The slot is removed regardless of whether the worker obeyed.
func (r *Registry) Kill(id int64) bool {
	r.mu.Lock()
	s, ok := r.slots[id]
	if ok {
		delete(r.slots, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	s.cancel()
	select {
	case <-s.done:
	case <-time.After(killGrace):
		r.log.Warn("worker ignored cancel", logx.Int64("slot", id), logx.String("kind", s.info.Kind))
	}
	return true
}

// Prune drops finished slots and reports how many were removed.
func (r *Registry) Prune() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, s := range r.slots {
		if s.info.Finished {
			delete(r.slots, id)
			n++
		}
	}
	return n
}

// Close cancels every slot and waits briefly for each to exit.
func (r *Registry) Close() {
	r.cancel()
	r.mu.Lock()
	slots := make([]*slot, 0, len(r.slots))
	for id, s := range r.slots {
		delete(r.slots, id)
		slots = append(slots, s)
	}
	r.mu.Unlock()

	deadline := time.After(killGrace)
	for _, s := range slots {
		select {
		case <-s.done:
		case <-deadline:
			return
		}
	}
}
