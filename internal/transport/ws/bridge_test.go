package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/benchharness/harness/internal/eventbus"
)

func TestBridge_ForwardsEventToHubTopic(t *testing.T) {
	bus := eventbus.New(eventbus.Config{}, zerolog.Nop())
	hub := NewHub(zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)
	time.Sleep(10 * time.Millisecond)

	conn := &Connection{id: "c1", hub: hub, send: make(chan []byte, 4), topics: make(map[string]struct{})}
	hub.Register(conn)
	time.Sleep(10 * time.Millisecond)
	hub.Subscribe(conn, eventbus.RunTopic("r1"))
	time.Sleep(10 * time.Millisecond)

	bridge := NewBridge(bus, hub, zerolog.Nop())
	bridgeCtx, bridgeCancel := context.WithCancel(context.Background())
	defer bridgeCancel()
	go bridge.Watch(bridgeCtx, eventbus.RunTopic("r1"))
	time.Sleep(10 * time.Millisecond)

	bus.Publish(eventbus.RunTopic("r1"), eventbus.Event{Kind: eventbus.KindRunCompleted, RunID: "r1"})

	select {
	case data := <-conn.send:
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("failed to unmarshal frame: %v", err)
		}
		if msg.Type != MessageTypeEvent {
			t.Errorf("expected event type, got %s", msg.Type)
		}
		var payload EventPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			t.Fatalf("failed to unmarshal payload: %v", err)
		}
		if payload.Kind != string(eventbus.KindRunCompleted) {
			t.Errorf("expected kind run.completed, got %s", payload.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for bridged event")
	}
}
