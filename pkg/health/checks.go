package health

import (
	"context"
	"fmt"
)

// Hub is the subset of the transport/ws Hub a health check needs
// (adapted from the teacher's WebSocketHub interface).
type Hub interface {
	IsHealthy() bool
	ConnectionCount() int
	RoomCount() int
}

// HubCheck checks the health of the realtime dashboard's WebSocket hub.
type HubCheck struct {
	hub                     Hub
	maxConnectionsThreshold int
}

// HubCheckOption configures a HubCheck.
type HubCheckOption func(*HubCheck)

// WithMaxConnectionsThreshold sets the threshold above which the check
// reports degraded status.
func WithMaxConnectionsThreshold(threshold int) HubCheckOption {
	return func(c *HubCheck) { c.maxConnectionsThreshold = threshold }
}

// NewHubCheck builds a HubCheck.
func NewHubCheck(hub Hub, opts ...HubCheckOption) *HubCheck {
	c := &HubCheck{hub: hub, maxConnectionsThreshold: 10000}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements Check.
func (c *HubCheck) Name() string { return "websocket" }

// Check implements Check.
func (c *HubCheck) Check(ctx context.Context) error {
	if !c.hub.IsHealthy() {
		return fmt.Errorf("websocket hub is not running")
	}
	return nil
}

// CheckDetailed performs a detailed health check and returns a Result.
func (c *HubCheck) CheckDetailed(ctx context.Context) Result {
	if !c.hub.IsHealthy() {
		return Result{Name: c.Name(), Status: StatusUnhealthy, Message: "websocket hub is not running"}
	}

	connCount := c.hub.ConnectionCount()
	roomCount := c.hub.RoomCount()
	details := map[string]string{
		"connections": fmt.Sprintf("%d", connCount),
		"rooms":       fmt.Sprintf("%d", roomCount),
	}

	if c.maxConnectionsThreshold > 0 && connCount > c.maxConnectionsThreshold {
		return Result{Name: c.Name(), Status: StatusDegraded, Message: fmt.Sprintf("high connection count: %d", connCount), Details: details}
	}
	return Result{Name: c.Name(), Status: StatusHealthy, Message: "websocket hub is running", Details: details}
}

// StoreCheck checks that the Artifact Store backend is reachable by
// calling ListArtifacts, its cheapest read.
type StoreCheck struct {
	list func(ctx context.Context) error
}

// NewStoreCheck builds a StoreCheck around probe, a thunk the caller
// supplies (typically `func(ctx) error { _, err := store.ListArtifacts(ctx); return err }`)
// since store.Store's ListArtifacts return type isn't health's to know about.
func NewStoreCheck(probe func(ctx context.Context) error) *StoreCheck {
	return &StoreCheck{list: probe}
}

// Name implements Check.
func (c *StoreCheck) Name() string { return "store" }

// Check implements Check.
func (c *StoreCheck) Check(ctx context.Context) error {
	return c.list(ctx)
}
