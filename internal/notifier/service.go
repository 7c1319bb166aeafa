// Package notifier fans completed agent replies out to the operator's live
// connection through a bounded asynchronous pipeline: bounded queue, worker
// pool, rate limit, short-window dedup and retry with backoff. Enqueue never
// blocks the caller; a full queue drops the event.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"thalis/internal/eventbus"
	"thalis/internal/runtime/supervisor"
	logx "thalis/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier: disabled")
	ErrStopped   = errors.New("notifier: stopped")
	ErrQueueFull = errors.New("notifier: queue full")
)

const (
	historyLimit   = 300
	perSendTimeout = 10 * time.Second
)

type job struct {
	e   Event
	key string
}

// Service owns the delivery pipeline. Zero value is unusable; use New.
type Service struct {
	log     logx.Logger
	adapter Adapter
	bus     eventbus.Bus
	cfg     Config

	mu        sync.Mutex
	limiter   *rate.Limiter
	accepting bool
	sendWG    sync.WaitGroup
	queue     chan job
	sup       *supervisor.Supervisor
	stopDone  chan struct{}

	dedupMu sync.Mutex
	dedup   map[string]time.Time

	histMu  sync.Mutex
	history []HistoryItem
}

func New(adapter Adapter, bus eventbus.Bus, cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:     log,
		adapter: adapter,
		bus:     bus,
		dedup:   map[string]time.Time{},
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 512
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start spins up the worker pool. Idempotent.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.adapter == nil {
		return ErrDisabled
	}
	if s.accepting {
		return nil
	}
	s.queue = make(chan job, s.cfg.QueueSize)
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log))
	s.stopDone = nil
	for i := 0; i < s.cfg.Workers; i++ {
		name := fmt.Sprintf("notifier-worker-%d", i)
		s.sup.GoRestart(name, s.workerLoop)
	}
	s.accepting = true
	s.log.Info("notifier started",
		logx.Int("workers", s.cfg.Workers),
		logx.Int("queue", s.cfg.QueueSize))
	return nil
}

// Stop refuses new events, drains in-flight sends and shuts the pool down.
// Returns once drained or ctx expires.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.accepting {
		done := s.stopDone
		s.mu.Unlock()
		if done == nil {
			return nil
		}
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.accepting = false
	done := make(chan struct{})
	s.stopDone = done
	queue := s.queue
	sup := s.sup
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.sendWG.Wait()
		close(queue)
		if sup != nil {
			sup.Cancel()
			waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = sup.Wait(waitCtx)
		}
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue accepts an event for delivery. Non-blocking; a full queue returns
// ErrQueueFull and the event is dropped.
func (s *Service) Enqueue(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if !s.cfg.Enabled || s.adapter == nil {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting {
		s.mu.Unlock()
		return ErrStopped
	}
	queue := s.queue
	// Register with the drain group before releasing the lock so Stop
	// cannot close the queue under a concurrent Enqueue.
	s.sendWG.Add(1)
	s.mu.Unlock()

	key := dedupKey(e)
	if !s.dedupAllow(key) {
		s.sendWG.Done()
		s.publish("notify.deduped", e, key, nil)
		return nil
	}

	select {
	case queue <- job{e: e, key: key}:
		s.publish("notify.queued", e, key, nil)
		return nil
	default:
		s.sendWG.Done()
		s.publish("notify.dropped", e, key, ErrQueueFull)
		return ErrQueueFull
	}
}

// Notify satisfies the agent runtime's notification hook. Fire and forget:
// failures are logged, never surfaced to the caller.
func (s *Service) Notify(identity, conversationID, agent, text string) {
	err := s.Enqueue(context.Background(), Event{
		Identity:       identity,
		ConversationID: conversationID,
		Agent:          agent,
		Text:           text,
	})
	if err != nil && !errors.Is(err, ErrDisabled) {
		s.log.Warn("notification not queued",
			logx.String("identity", identity),
			logx.String("conversation", conversationID),
			logx.Err(err))
	}
}

// History returns a copy of the most recent deliveries, newest last.
func (s *Service) History() []HistoryItem {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	out := make([]HistoryItem, len(s.history))
	copy(out, s.history)
	return out
}

// CompactHistory drops delivery records older than cutoff and returns the
// number removed.
func (s *Service) CompactHistory(cutoff time.Time) int {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	kept := s.history[:0]
	for _, h := range s.history {
		if h.At.After(cutoff) {
			kept = append(kept, h)
		}
	}
	removed := len(s.history) - len(kept)
	s.history = kept
	return removed
}

func (s *Service) workerLoop(ctx context.Context) error {
	s.mu.Lock()
	queue := s.queue
	s.mu.Unlock()
	for {
		select {
		case <-ctx.Done():
			return nil
		case j, ok := <-queue:
			if !ok {
				return nil
			}
			s.sendOne(ctx, j)
		}
	}
}

func (s *Service) sendOne(ctx context.Context, j job) {
	defer s.sendWG.Done()

	s.mu.Lock()
	limiter := s.limiter
	retryMax := s.cfg.RetryMax
	base := s.cfg.RetryBase
	maxDelay := s.cfg.RetryMaxDelay
	s.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt <= retryMax; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				s.publish("notify.failed", j.e, j.key, ctx.Err())
				return
			case <-time.After(retryDelay(base, maxDelay, attempt)):
			}
		}
		if err := limiter.Wait(ctx); err != nil {
			s.publish("notify.failed", j.e, j.key, err)
			return
		}
		sendCtx, cancel := context.WithTimeout(ctx, perSendTimeout)
		lastErr = s.adapter.Send(sendCtx, j.e)
		cancel()
		if lastErr == nil {
			s.recordHistory(j.e)
			s.publish("notify.sent", j.e, j.key, nil)
			return
		}
		s.log.Warn("notification send failed",
			logx.String("identity", j.e.Identity),
			logx.Int("attempt", attempt+1),
			logx.Err(lastErr))
	}
	s.publish("notify.failed", j.e, j.key, lastErr)
}

func (s *Service) recordHistory(e Event) {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	s.history = append(s.history, HistoryItem{
		At:       time.Now().UTC(),
		Identity: e.Identity,
		Text:     e.Text,
	})
	if len(s.history) > historyLimit {
		s.history = s.history[len(s.history)-historyLimit:]
	}
}

func (s *Service) publish(kind string, e Event, key string, err error) {
	if s.bus == nil {
		return
	}
	de := DeliveryEvent{
		Identity:       e.Identity,
		ConversationID: e.ConversationID,
		Key:            key,
		At:             time.Now().UTC(),
	}
	if err != nil {
		de.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: kind, Identity: e.Identity, Data: de})
}

// dedupAllow reports whether a key is outside its suppression window and
// records it. The map is pruned opportunistically and capped; when full, the
// entry expiring soonest is evicted.
func (s *Service) dedupAllow(key string) bool {
	s.mu.Lock()
	window := s.cfg.DedupWindow
	maxEntries := s.cfg.DedupMaxEntries
	s.mu.Unlock()
	if window <= 0 {
		return true
	}

	now := time.Now()
	s.dedupMu.Lock()
	defer s.dedupMu.Unlock()

	for k, exp := range s.dedup {
		if now.After(exp) {
			delete(s.dedup, k)
		}
	}
	if exp, ok := s.dedup[key]; ok && now.Before(exp) {
		return false
	}
	if len(s.dedup) >= maxEntries {
		var victim string
		var earliest time.Time
		for k, exp := range s.dedup {
			if victim == "" || exp.Before(earliest) {
				victim, earliest = k, exp
			}
		}
		delete(s.dedup, victim)
	}
	s.dedup[key] = now.Add(window)
	return true
}

func dedupKey(e Event) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(e.Identity))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(e.ConversationID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(e.Text))
	return fmt.Sprintf("%x", h.Sum64())
}

func retryDelay(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			d = max
			break
		}
	}
	jitter := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * jitter)
	// Clamp after jitter so the configured ceiling is a hard one.
	if d > max {
		d = max
	}
	return d
}
