package ws

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/benchharness/harness/internal/eventbus"
)

// Bridge subscribes to Event Bus topics and re-publishes every event
// to the matching WebSocket Hub topic, as raw JSON frames dashboard
// clients can render directly. This is the collaborator that actually
// makes the Hub serve spec §6's `Subscribe(topic, cursor)` surface
// over a socket instead of the NDJSON long-poll the REST transport
// offers (internal/transport/http/server.go).
type Bridge struct {
	bus    *eventbus.Bus
	hub    *Hub
	logger zerolog.Logger
}

// NewBridge builds a Bridge forwarding bus events into hub.
func NewBridge(bus *eventbus.Bus, hub *Hub, logger zerolog.Logger) *Bridge {
	return &Bridge{bus: bus, hub: hub, logger: logger.With().Str("component", "ws_bridge").Logger()}
}

// Watch subscribes to topic from the start of its retained history and
// forwards every event to hub until ctx is cancelled. Callers start
// one Watch per topic they want mirrored to WebSocket clients
// (typically `global`, plus one per active run's `run/<id>` topic).
func (b *Bridge) Watch(ctx context.Context, topic string) {
	sub := b.bus.Subscribe(topic, 0)
	defer b.bus.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			b.forward(topic, ev)
		}
	}
}

func (b *Bridge) forward(topic string, ev eventbus.Event) {
	msg, err := NewTopicMessage(MessageTypeEvent, topic, EventPayload{
		Kind:     string(ev.Kind),
		RunID:    ev.RunID,
		BatchNum: ev.BatchNum,
		Seq:      ev.Seq,
		Payload:  ev.Payload,
	})
	if err != nil {
		b.logger.Warn().Err(err).Str("topic", topic).Msg("failed to encode event for websocket")
		return
	}
	if ev.Kind == eventbus.KindLag {
		msg.Type = MessageTypeLag
	}
	data, err := msg.Bytes()
	if err != nil {
		b.logger.Warn().Err(err).Str("topic", topic).Msg("failed to marshal websocket frame")
		return
	}
	b.hub.Broadcast(topic, data)
}
