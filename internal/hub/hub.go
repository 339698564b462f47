// Package hub tracks live websocket clients and room subscriptions. One live
// client per user; broadcasts to a room fan out in the order they are issued.
package hub

import (
	"sync"
)

// Hub manages connected clients and chat rooms
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client         // userID -> client
	rooms   map[string]map[string]bool // roomID -> set(userID)
}

func New() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[string]bool),
	}
}

// AddClient registers c as the sole live client for its user, returning the
// displaced client when a stale mapping existed.
func (h *Hub) AddClient(c *Client) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	old := h.clients[c.UserID]
	h.clients[c.UserID] = c
	return old
}

// RemoveClient unregisters c, but only while it is still the current mapping
// for its user; a client displaced by a newer login must not evict its
// successor.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.UserID] != c {
		return
	}
	delete(h.clients, c.UserID)
	for _, members := range h.rooms {
		delete(members, c.UserID)
	}
}

// Client returns the live client for userID, or nil.
func (h *Hub) Client(userID string) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[userID]
}

func (h *Hub) Subscribe(roomID, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[string]bool)
	}
	h.rooms[roomID][userID] = true
}

func (h *Hub) Unsubscribe(roomID, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[roomID]; ok {
		delete(members, userID)
	}
}

// Broadcast sends env to every client subscribed to the room.
func (h *Hub) Broadcast(roomID string, env Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for userID := range h.rooms[roomID] {
		if c, ok := h.clients[userID]; ok {
			c.Send(env)
		}
	}
}

// Subscribers returns the user ids currently subscribed to the room.
func (h *Hub) Subscribers(roomID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.rooms[roomID]))
	for userID := range h.rooms[roomID] {
		out = append(out, userID)
	}
	return out
}
