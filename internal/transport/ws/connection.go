package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
	sendBufferSize = 256
)

// Connection wraps one WebSocket connection with read/write pumps and
// hub integration, kept close to the teacher's connection.go (minus
// the claims/userID fields the dropped auth surface no longer needs).
type Connection struct {
	id  string
	hub *Hub

	conn *websocket.Conn
	send chan []byte

	topics map[string]struct{}

	mu     sync.RWMutex
	closed bool
	logger zerolog.Logger

	connectedAt  time.Time
	lastActivity time.Time
}

// NewConnection wraps ws into a Connection registered against hub.
func NewConnection(wsConn *websocket.Conn, hub *Hub, logger zerolog.Logger) *Connection {
	now := time.Now()
	c := &Connection{
		id:           uuid.New().String(),
		hub:          hub,
		conn:         wsConn,
		send:         make(chan []byte, sendBufferSize),
		topics:       make(map[string]struct{}),
		connectedAt:  now,
		lastActivity: now,
	}
	c.logger = logger.With().Str("component", "ws_conn").Str("conn_id", c.id).Logger()
	return c
}

// ID returns the connection's unique identifier.
func (c *Connection) ID() string { return c.id }

// ConnectedAt returns when the connection was established.
func (c *Connection) ConnectedAt() time.Time { return c.connectedAt }

// IsClosed reports whether the connection has been closed.
func (c *Connection) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Topics returns the set of topics this connection currently watches.
func (c *Connection) Topics() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.topics))
	for t := range c.topics {
		out = append(out, t)
	}
	return out
}

// Send queues message for delivery to the client. Returns false if the
// connection is closed or its send buffer is full (a slow consumer is
// dropped from, not blocked on, per spec §4.1's backpressure policy
// for the Event Bus — the realtime leg applies the same rule).
func (c *Connection) Send(message []byte) bool {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return false
	}
	c.mu.RUnlock()

	select {
	case c.send <- message:
		return true
	default:
		c.logger.Warn().Msg("send buffer full, dropping message")
		return false
	}
}

// Close closes the connection and its send channel.
func (c *Connection) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	close(c.send)
	c.conn.Close()
}

// ReadPump pumps frames from the socket to the hub until the
// connection errors or closes. Runs in its own goroutine.
func (c *Connection) ReadPump() {
	defer c.hub.Unregister(c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.mu.Lock()
		c.lastActivity = time.Now()
		c.mu.Unlock()
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Debug().Err(err).Msg("unexpected close error")
			}
			return
		}

		c.mu.Lock()
		c.lastActivity = time.Now()
		c.mu.Unlock()

		c.handleMessage(data)
	}
}

// WritePump pumps queued frames and periodic pings to the socket.
// Runs in its own goroutine.
func (c *Connection) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Connection) handleMessage(data []byte) {
	msg, err := ParseMessage(data)
	if err != nil {
		c.sendError("invalid_message", "failed to parse message")
		return
	}

	switch msg.Type {
	case MessageTypeSubscribe:
		c.handleSubscribe(msg)
	case MessageTypeUnsubscribe:
		c.handleUnsubscribe(msg)
	case MessageTypePing:
		c.handlePing()
	default:
		c.logger.Debug().Str("type", string(msg.Type)).Msg("unknown message type")
	}
}

func (c *Connection) handleSubscribe(msg *Message) {
	if msg.Topic == "" {
		c.sendError("invalid_topic", "topic is required for subscribe")
		return
	}
	c.mu.Lock()
	c.topics[msg.Topic] = struct{}{}
	c.mu.Unlock()
	c.hub.Subscribe(c, msg.Topic)
}

func (c *Connection) handleUnsubscribe(msg *Message) {
	if msg.Topic == "" {
		c.sendError("invalid_topic", "topic is required for unsubscribe")
		return
	}
	c.mu.Lock()
	delete(c.topics, msg.Topic)
	c.mu.Unlock()
	c.hub.Unsubscribe(c, msg.Topic)
}

func (c *Connection) handlePing() {
	msg, _ := NewMessage(MessageTypePong, nil)
	if data, err := msg.Bytes(); err == nil {
		c.Send(data)
	}
}

func (c *Connection) sendError(code, message string) {
	msg, _ := NewMessage(MessageTypeError, ErrorPayload{Code: code, Message: message})
	if data, err := msg.Bytes(); err == nil {
		c.Send(data)
	}
}
