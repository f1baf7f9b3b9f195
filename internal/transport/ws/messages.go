// Package ws implements the realtime leg of the core's Subscribe
// surface (spec §6): a WebSocket hub that mirrors Event Bus topics
// (`run/<id>`, `batch_rerun/<id>`, `global`) to connected dashboard
// clients, adapted from the teacher's room-based broadcast hub.
package ws

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MessageType identifies the kind of frame exchanged over the socket.
type MessageType string

const (
	// Client -> server.
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeUnsubscribe MessageType = "unsubscribe"
	MessageTypePing        MessageType = "ping"

	// Server -> client.
	MessageTypePong         MessageType = "pong"
	MessageTypeError        MessageType = "error"
	MessageTypeEvent        MessageType = "event"
	MessageTypeLag          MessageType = "lag"
)

// Message is the JSON envelope for every frame, client- or
// server-originated.
type Message struct {
	Type      MessageType     `json:"type"`
	Topic     string          `json:"topic,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	ID        string          `json:"id,omitempty"`
}

// NewMessage builds a Message, marshaling payload if non-nil.
func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return &Message{
		Type:      msgType,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
		ID:        uuid.New().String(),
	}, nil
}

// NewTopicMessage builds a Message targeted at topic.
func NewTopicMessage(msgType MessageType, topic string, payload interface{}) (*Message, error) {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		return nil, err
	}
	msg.Topic = topic
	return msg, nil
}

// Bytes serializes the Message to JSON.
func (m *Message) Bytes() ([]byte, error) { return json.Marshal(m) }

// ParseMessage deserializes a client frame.
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ErrorPayload is the payload of a MessageTypeError frame.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EventPayload mirrors one eventbus.Event for the wire, keeping the
// hub decoupled from the eventbus package's Go type (bridge.go does
// the translation).
type EventPayload struct {
	Kind     string `json:"kind"`
	RunID    string `json:"run_id,omitempty"`
	BatchNum int    `json:"batch_num,omitempty"`
	Seq      uint64 `json:"seq"`
	Payload  any    `json:"payload,omitempty"`
}
