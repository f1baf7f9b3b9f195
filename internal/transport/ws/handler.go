package ws

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Handler upgrades HTTP requests to WebSocket connections and registers
// them with a Hub. Authentication is dropped from the teacher's
// handler.go: spec §1 lists "no authentication/multi-tenancy" as an
// explicit Non-goal, so every upgrade is accepted.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// HandlerConfig configures the Handler's upgrader.
type HandlerConfig struct {
	AllowedOrigins  []string
	ReadBufferSize  int
	WriteBufferSize int
}

// DefaultHandlerConfig returns sensible defaults.
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{AllowedOrigins: []string{"*"}, ReadBufferSize: 1024, WriteBufferSize: 1024}
}

// NewHandler builds a Handler with default configuration.
func NewHandler(hub *Hub, logger zerolog.Logger) *Handler {
	return NewHandlerWithConfig(hub, DefaultHandlerConfig(), logger)
}

// NewHandlerWithConfig builds a Handler with custom configuration.
func NewHandlerWithConfig(hub *Hub, cfg HandlerConfig, logger zerolog.Logger) *Handler {
	h := &Handler{hub: hub, logger: logger.With().Str("component", "ws_handler").Logger()}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin:     h.makeOriginChecker(cfg.AllowedOrigins),
	}
	return h
}

func (h *Handler) makeOriginChecker(allowed []string) func(*http.Request) bool {
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return set[origin]
	}
}

// ServeHTTP implements http.Handler, upgrading the connection and
// starting its read/write pumps.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Msg("failed to upgrade connection")
		return
	}

	conn := NewConnection(wsConn, h.hub, h.logger)
	h.hub.Register(conn)
	h.logger.Info().Str("conn_id", conn.ID()).Str("remote_addr", r.RemoteAddr).Msg("websocket connection established")

	go conn.WritePump()
	go conn.ReadPump()
}
