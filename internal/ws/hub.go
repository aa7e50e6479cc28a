package ws

import (
	"encoding/json"
	"sync"

	"github.com/anish877/fluent-freelance-ui-kit-06-sub002/internal/logging"
	"github.com/anish877/fluent-freelance-ui-kit-06-sub002/internal/models"
)

// Hub is the connection table: the only component that enumerates which live
// connections belong to a user and pushes frames to them. No persistence;
// rebuilt from scratch on restart.
type Hub struct {
	log *logging.Logger

	mu    sync.RWMutex
	conns map[string]map[*Client]struct{} // user id -> live connections
}

func NewHub(log *logging.Logger) *Hub {
	return &Hub{
		log:   log.With("component", "hub"),
		conns: make(map[string]map[*Client]struct{}),
	}
}

// Register is idempotent; a user may hold any number of connections.
func (h *Hub) Register(c *Client) {
	userID := c.UserID()
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[userID] == nil {
		h.conns[userID] = make(map[*Client]struct{})
	}
	h.conns[userID][c] = struct{}{}
}

// Unregister removes by connection identity; no-op if absent.
func (h *Hub) Unregister(c *Client) {
	userID := c.UserID()
	h.mu.Lock()
	defer h.mu.Unlock()
	if m := h.conns[userID]; m != nil {
		delete(m, c)
		if len(m) == 0 {
			delete(h.conns, userID)
		}
	}
}

// SendToUser pushes a frame best-effort to every connection of a user.
// Connections that cannot accept the write are scheduled for disconnect
// rather than retried.
func (h *Hub) SendToUser(userID string, f Frame) {
	data := mustMarshal(f)
	h.mu.RLock()
	conns := make([]*Client, 0, len(h.conns[userID]))
	for c := range h.conns[userID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		c.enqueue(data)
	}
}

// SendToConversation fans a frame out to every participant, including every
// connection of the sender, so multi-tab clients stay in sync.
func (h *Hub) SendToConversation(conv *models.Conversation, f Frame) {
	for _, userID := range conv.Participants() {
		h.SendToUser(userID, f)
	}
}

// SendToOthers fans out to every participant except one user. Used for typing
// signals, which the composing side does not need echoed.
func (h *Hub) SendToOthers(conv *models.Conversation, exceptUserID string, f Frame) {
	for _, userID := range conv.Participants() {
		if userID != exceptUserID {
			h.SendToUser(userID, f)
		}
	}
}

// Broadcast pushes a frame to every live connection. Presence transitions go
// through here; clients filter by relevance.
func (h *Hub) Broadcast(f Frame) {
	data := mustMarshal(f)
	h.mu.RLock()
	conns := make([]*Client, 0)
	for _, set := range h.conns {
		for c := range set {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range conns {
		c.enqueue(data)
	}
}

func (h *Hub) ConnectionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}

func mustMarshal(f Frame) []byte {
	data, err := json.Marshal(f)
	if err != nil {
		panic(err)
	}
	return data
}
