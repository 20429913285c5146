// Package realtime pushes persisted events to live observer connections.
// The distributor subscribes to every event type, resolves the affected
// users per aggregate type, and delivers best-effort: a slow or dead
// connection never blocks the publishing path, and clients reconcile missed
// pushes by periodic full refetch.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bookflow/bookflow/pkg/bookflow/event"
)

// Update is the wire form of one pushed event.
type Update struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	Version       int64           `json:"version"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Resolver maps one event to the set of user IDs that should see it.
type Resolver func(ctx context.Context, evt event.DomainEvent) ([]string, error)

// Conn is one live observer connection.
type Conn interface {
	// UserID identifies the observing user.
	UserID() string

	// Send delivers one update. It must not block; connections that cannot
	// keep up drop updates.
	Send(u Update) error

	// Close releases the connection.
	Close() error
}

// Hub fans events out to the connections of affected users.
type Hub struct {
	mu        sync.RWMutex
	conns     map[string]map[Conn]struct{}
	resolvers map[string]Resolver
	logger    *slog.Logger
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithHubLogger sets the hub logger.
func WithHubLogger(logger *slog.Logger) HubOption {
	return func(h *Hub) { h.logger = logger }
}

// NewHub creates a hub with no resolvers or connections.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		conns:     make(map[string]map[Conn]struct{}),
		resolvers: make(map[string]Resolver),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterResolver installs the affected-user resolver for one aggregate
// type. Events of aggregate types without a resolver are skipped.
func (h *Hub) RegisterResolver(aggregateType string, r Resolver) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resolvers[aggregateType] = r
}

// Attach registers a live connection and returns its detach function.
func (h *Hub) Attach(conn Conn) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	userID := conn.UserID()
	if h.conns[userID] == nil {
		h.conns[userID] = make(map[Conn]struct{})
	}
	h.conns[userID][conn] = struct{}{}

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if set, ok := h.conns[userID]; ok {
			delete(set, conn)
			if len(set) == 0 {
				delete(h.conns, userID)
			}
		}
	}
}

// ConnCount returns the number of live connections for a user.
func (h *Hub) ConnCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}

// HandleEvent is the bus handler: resolve affected users, push to their
// connections. Send failures are logged and dropped; only resolver failures
// propagate to the bus retry machinery.
func (h *Hub) HandleEvent(ctx context.Context, evt event.DomainEvent) error {
	h.mu.RLock()
	resolver, ok := h.resolvers[evt.AggregateType]
	h.mu.RUnlock()

	if !ok {
		return nil
	}

	users, err := resolver(ctx, evt)
	if err != nil {
		return fmt.Errorf("resolve affected users for %s: %w", evt.AggregateID, err)
	}

	update := Update{
		EventID:       evt.ID,
		EventType:     string(evt.Type),
		AggregateID:   evt.AggregateID,
		AggregateType: evt.AggregateType,
		Version:       evt.Version,
		Payload:       json.RawMessage(evt.Payload),
		Timestamp:     evt.Metadata.Timestamp,
	}

	seen := make(map[string]bool, len(users))
	for _, userID := range users {
		if seen[userID] {
			continue
		}
		seen[userID] = true

		h.mu.RLock()
		targets := make([]Conn, 0, len(h.conns[userID]))
		for conn := range h.conns[userID] {
			targets = append(targets, conn)
		}
		h.mu.RUnlock()

		for _, conn := range targets {
			if err := conn.Send(update); err != nil {
				h.logger.Debug("realtime push dropped",
					"user_id", userID,
					"event_id", evt.ID,
					"error", err,
				)
			}
		}
	}
	return nil
}

// SubscribeAll wires the hub to a bus as a wildcard subscriber.
func (h *Hub) SubscribeAll(bus *event.Bus) *event.Subscription {
	return bus.SubscribeAll(h.HandleEvent, event.WithHandlerID("realtime-distributor"))
}
