package notifier

import (
	"context"
	"time"
)

type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
}

// Event is one live-connection notification. Identity scopes delivery; the
// rest is payload for the operator's client.
type Event struct {
	Identity       string
	ConversationID string
	Agent          string
	Text           string
}

// Adapter is the delivery backend. The full product plugs a WebSocket hub
// in here; the engine ships a bus adapter.
type Adapter interface {
	Send(ctx context.Context, e Event) error
}

// HistoryItem records a delivered notification for status inspection.
type HistoryItem struct {
	At       time.Time
	Identity string
	Text     string
}

// DeliveryEvent is the bus payload mirroring pipeline outcomes
// (queued/sent/deduped/dropped/failed).
type DeliveryEvent struct {
	Identity       string    `json:"identity"`
	ConversationID string    `json:"conversation_id"`
	Key            string    `json:"key,omitempty"`
	At             time.Time `json:"at"`
	Error          string    `json:"error,omitempty"`
}
