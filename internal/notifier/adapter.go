package notifier

import (
	"context"
	"errors"

	"thalis/internal/eventbus"
)

// BusAdapter delivers notifications onto the process event bus, where live
// transports (or tests) pick them up via Subscribe.
type BusAdapter struct {
	bus eventbus.Bus
}

func NewBusAdapter(bus eventbus.Bus) *BusAdapter {
	return &BusAdapter{bus: bus}
}

func (a *BusAdapter) Send(_ context.Context, e Event) error {
	if a == nil || a.bus == nil {
		return errors.New("notifier: no bus configured")
	}
	a.bus.Publish(eventbus.Event{
		Type:     "conversation.message",
		Identity: e.Identity,
		Data: map[string]string{
			"conversation_id": e.ConversationID,
			"agent":           e.Agent,
			"text":            e.Text,
		},
	})
	return nil
}
