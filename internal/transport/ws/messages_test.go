package ws

import (
	"encoding/json"
	"testing"
)

func TestNewMessage(t *testing.T) {
	payload := EventPayload{Kind: "run.completed", RunID: "r1", Seq: 3}
	msg, err := NewMessage(MessageTypeEvent, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Type != MessageTypeEvent {
		t.Errorf("expected type %s, got %s", MessageTypeEvent, msg.Type)
	}
	if msg.ID == "" {
		t.Error("expected non-empty ID")
	}
	if msg.Timestamp.IsZero() {
		t.Error("expected non-zero timestamp")
	}

	var decoded EventPayload
	if err := json.Unmarshal(msg.Payload, &decoded); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if decoded.RunID != "r1" {
		t.Errorf("expected run_id 'r1', got %s", decoded.RunID)
	}
}

func TestNewTopicMessage(t *testing.T) {
	msg, err := NewTopicMessage(MessageTypeEvent, "run/r1", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Topic != "run/r1" {
		t.Errorf("expected topic 'run/r1', got '%s'", msg.Topic)
	}
}

func TestMessageBytesRoundTrip(t *testing.T) {
	msg, _ := NewMessage(MessageTypePong, nil)
	data, err := msg.Bytes()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	parsed, err := ParseMessage(data)
	if err != nil {
		t.Fatalf("failed to parse message: %v", err)
	}
	if parsed.Type != msg.Type {
		t.Errorf("expected type %s, got %s", msg.Type, parsed.Type)
	}
}

func TestParseMessage_Invalid(t *testing.T) {
	if _, err := ParseMessage([]byte("not json")); err == nil {
		t.Error("expected error for invalid JSON")
	}
}
