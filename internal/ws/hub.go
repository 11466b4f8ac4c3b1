// Package ws is the in-app delivery surface: connected clients get
// conversation updates and notification toasts pushed as JSON envelopes.
package ws

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fathima-sithara/sync-service/internal/metrics"
	"github.com/fathima-sithara/sync-service/internal/model"
	"github.com/fathima-sithara/sync-service/internal/presence"
)

// Envelope is the standard wire format for ws messages
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

const (
	TypeToast         = "notification"
	TypeConversations = "conversations"
	TypeMessages      = "messages"
)

// Hub tracks connected clients per user. A user may have several tabs or
// devices attached at once; every one of them gets every envelope.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*Client]struct{}
	presence *presence.Store
	log      *zap.SugaredLogger
}

func NewHub(pres *presence.Store, log *zap.SugaredLogger) *Hub {
	return &Hub{
		clients:  make(map[string]map[*Client]struct{}),
		presence: pres,
		log:      log,
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	set := h.clients[c.userID]
	if set == nil {
		set = make(map[*Client]struct{})
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()

	metrics.WSConnections.Inc()
	if h.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := h.presence.Online(ctx, c.userID); err != nil {
			h.log.Warnw("presence online failed", "user", c.userID, "error", err)
		}
	}
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if set, ok := h.clients[c.userID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.userID)
		}
	}
	last := h.clients[c.userID] == nil
	h.mu.Unlock()

	metrics.WSConnections.Dec()
	if h.presence != nil && last {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := h.presence.Offline(ctx, c.userID); err != nil {
			h.log.Warnw("presence offline failed", "user", c.userID, "error", err)
		}
	}
}

// Connected reports whether the user has at least one live connection.
func (h *Hub) Connected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// Send delivers an envelope to every connection the user has. Slow
// consumers are dropped rather than blocked on.
func (h *Hub) Send(userID string, env Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[userID] {
		c.enqueue(env)
	}
}

// Toast pushes a notification envelope; this is the Router's in-app
// surface.
func (h *Hub) Toast(userID string, n model.Notification) {
	h.Send(userID, Envelope{Type: TypeToast, Payload: n})
}
