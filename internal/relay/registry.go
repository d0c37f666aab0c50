package relay

import (
	"sync"
)

// Hub is the connection registry: the set of clients in each room's broadcast group.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
}

// NewHub constructs an empty registry.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*Client]struct{})}
}

// Add puts client in roomID's group.
func (h *Hub) Add(roomID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	group, ok := h.rooms[roomID]
	if !ok {
		group = make(map[*Client]struct{})
		h.rooms[roomID] = group
	}
	group[client] = struct{}{}
}

// Remove takes client out of roomID's group and drops empty groups.
func (h *Hub) Remove(roomID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	group := h.rooms[roomID]
	if group == nil {
		return
	}
	delete(group, client)
	if len(group) == 0 {
		delete(h.rooms, roomID)
	}
}

// Clients returns a snapshot of roomID's group.
func (h *Hub) Clients(roomID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	group := h.rooms[roomID]
	clients := make([]*Client, 0, len(group))
	for client := range group {
		clients = append(clients, client)
	}
	return clients
}

// Contains reports whether client is in roomID's group.
func (h *Hub) Contains(roomID string, client *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[roomID][client]
	return ok
}

// HasUser reports whether any client other than except belongs to userID in roomID.
func (h *Hub) HasUser(roomID, userID string, except *Client) bool {
	for _, client := range h.Clients(roomID) {
		if client != except && client.Session().UserID == userID {
			return true
		}
	}
	return false
}

// All returns every registered client across rooms.
func (h *Hub) All() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var clients []*Client
	for _, group := range h.rooms {
		for client := range group {
			clients = append(clients, client)
		}
	}
	return clients
}

// RoomCount reports the number of non-empty groups.
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// Broadcast queues frame for every client in roomID except the excluded one
// (nil excludes nobody) and returns the number of clients that accepted it.
func (h *Hub) Broadcast(roomID string, frame []byte, except *Client) int {
	delivered := 0
	for _, client := range h.Clients(roomID) {
		if client == except {
			continue
		}
		if client.enqueue(frame) {
			delivered++
		}
	}
	return delivered
}
