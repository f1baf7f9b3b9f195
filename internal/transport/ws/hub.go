package ws

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Hub manages every WebSocket connection and fans messages out to the
// topics (rooms, in the teacher's terms) clients subscribe to. The
// register/unregister/subscribe/broadcast actor loop is kept from the
// teacher's hub.go almost verbatim; only the room vocabulary changed,
// from CI run/agent/service ids to harness Event Bus topic strings.
type Hub struct {
	connections map[*Connection]struct{}
	topics      map[string]map[*Connection]struct{}

	register      chan *Connection
	unregister    chan *Connection
	subscribe     chan *subscriptionRequest
	unsubscribeCh chan *subscriptionRequest
	broadcast     chan *broadcastRequest
	broadcastAll  chan []byte

	mu     sync.RWMutex
	logger zerolog.Logger

	totalConnections   int64
	totalBroadcasts    int64
	totalSubscriptions int64
}

type subscriptionRequest struct {
	conn  *Connection
	topic string
}

type broadcastRequest struct {
	topic   string
	message []byte
}

// HubConfig configures the Hub.
type HubConfig struct {
	BroadcastBufferSize int
}

// DefaultHubConfig returns sensible defaults.
func DefaultHubConfig() HubConfig {
	return HubConfig{BroadcastBufferSize: 256}
}

// NewHub builds a Hub with default configuration.
func NewHub(logger zerolog.Logger) *Hub {
	return NewHubWithConfig(DefaultHubConfig(), logger)
}

// NewHubWithConfig builds a Hub with custom configuration.
func NewHubWithConfig(cfg HubConfig, logger zerolog.Logger) *Hub {
	bufferSize := cfg.BroadcastBufferSize
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Hub{
		connections:   make(map[*Connection]struct{}),
		topics:        make(map[string]map[*Connection]struct{}),
		register:      make(chan *Connection, bufferSize),
		unregister:    make(chan *Connection, bufferSize),
		subscribe:     make(chan *subscriptionRequest, bufferSize),
		unsubscribeCh: make(chan *subscriptionRequest, bufferSize),
		broadcast:     make(chan *broadcastRequest, bufferSize),
		broadcastAll:  make(chan []byte, bufferSize),
		logger:        logger.With().Str("component", "ws_hub").Logger(),
	}
}

// Run starts the hub's event loop. It blocks until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info().Msg("starting websocket hub")
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Msg("stopping websocket hub")
			h.closeAllConnections()
			return
		case conn := <-h.register:
			h.handleRegister(conn)
		case conn := <-h.unregister:
			h.handleUnregister(conn)
		case req := <-h.subscribe:
			h.handleSubscribe(req)
		case req := <-h.unsubscribeCh:
			h.handleUnsubscribe(req)
		case req := <-h.broadcast:
			h.handleBroadcast(req)
		case msg := <-h.broadcastAll:
			h.handleBroadcastAll(msg)
		case <-ticker.C:
			h.logStats()
		}
	}
}

// Register enqueues conn for registration with the hub.
func (h *Hub) Register(conn *Connection) { h.register <- conn }

// Unregister enqueues conn for removal from the hub.
func (h *Hub) Unregister(conn *Connection) { h.unregister <- conn }

// Subscribe enqueues a request for conn to join topic.
func (h *Hub) Subscribe(conn *Connection, topic string) {
	h.subscribe <- &subscriptionRequest{conn: conn, topic: topic}
}

// Unsubscribe enqueues a request for conn to leave topic.
func (h *Hub) Unsubscribe(conn *Connection, topic string) {
	h.unsubscribeCh <- &subscriptionRequest{conn: conn, topic: topic}
}

// Broadcast sends message to every connection subscribed to topic.
func (h *Hub) Broadcast(topic string, message []byte) {
	h.broadcast <- &broadcastRequest{topic: topic, message: message}
}

// BroadcastAll sends message to every connected client regardless of
// topic subscriptions.
func (h *Hub) BroadcastAll(message []byte) { h.broadcastAll <- message }

func (h *Hub) handleRegister(conn *Connection) {
	h.mu.Lock()
	h.connections[conn] = struct{}{}
	h.totalConnections++
	h.mu.Unlock()
	h.logger.Debug().Str("conn_id", conn.ID()).Msg("connection registered")
}

func (h *Hub) handleUnregister(conn *Connection) {
	h.mu.Lock()
	if _, ok := h.connections[conn]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.connections, conn)
	for topic, conns := range h.topics {
		if _, ok := conns[conn]; ok {
			delete(conns, conn)
			if len(conns) == 0 {
				delete(h.topics, topic)
			}
		}
	}
	h.mu.Unlock()
	conn.Close()
	h.logger.Debug().Str("conn_id", conn.ID()).Msg("connection unregistered")
}

func (h *Hub) handleSubscribe(req *subscriptionRequest) {
	h.mu.Lock()
	conns, ok := h.topics[req.topic]
	if !ok {
		conns = make(map[*Connection]struct{})
		h.topics[req.topic] = conns
	}
	conns[req.conn] = struct{}{}
	h.totalSubscriptions++
	h.mu.Unlock()
}

func (h *Hub) handleUnsubscribe(req *subscriptionRequest) {
	h.mu.Lock()
	if conns, ok := h.topics[req.topic]; ok {
		delete(conns, req.conn)
		if len(conns) == 0 {
			delete(h.topics, req.topic)
		}
	}
	h.mu.Unlock()
}

func (h *Hub) handleBroadcast(req *broadcastRequest) {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.topics[req.topic]))
	for c := range h.topics[req.topic] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	h.totalBroadcasts++
	for _, c := range conns {
		c.Send(req.message)
	}
}

func (h *Hub) handleBroadcastAll(message []byte) {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.connections))
	for c := range h.connections {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	h.totalBroadcasts++
	for _, c := range conns {
		c.Send(message)
	}
}

func (h *Hub) closeAllConnections() {
	h.mu.Lock()
	conns := make([]*Connection, 0, len(h.connections))
	for c := range h.connections {
		conns = append(conns, c)
	}
	h.connections = make(map[*Connection]struct{})
	h.topics = make(map[string]map[*Connection]struct{})
	h.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

func (h *Hub) logStats() {
	h.mu.RLock()
	stats := h.statsLocked()
	h.mu.RUnlock()
	h.logger.Debug().
		Int("connections", stats.Connections).
		Int("topics", stats.Topics).
		Int64("total_broadcasts", stats.TotalBroadcasts).
		Msg("websocket hub stats")
}

// HubStats is a snapshot of the hub's counters.
type HubStats struct {
	Connections        int
	Topics             int
	TotalConnections   int64
	TotalBroadcasts    int64
	TotalSubscriptions int64
}

// Stats returns a snapshot of the hub's current counters.
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.statsLocked()
}

func (h *Hub) statsLocked() HubStats {
	return HubStats{
		Connections:        len(h.connections),
		Topics:             len(h.topics),
		TotalConnections:   h.totalConnections,
		TotalBroadcasts:    h.totalBroadcasts,
		TotalSubscriptions: h.totalSubscriptions,
	}
}

// ConnectionCount returns the current number of connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// RoomCount returns the current number of subscribed topics (kept
// named for health.Hub's interface, grounded on the teacher's
// websocket_check.go, which speaks of "rooms").
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics)
}

// IsHealthy reports whether the hub is accepting work. The hub has no
// separate up/down state machine (unlike the teacher's, which tracked
// a started flag); it is healthy for as long as the process is alive,
// so this always returns true and exists to satisfy health.Hub.
func (h *Hub) IsHealthy() bool { return true }
