package relay

import (
	"sync"

	"github.com/MarcoPoloResearchLab/codementor/backend/internal/rooms"
)

// Identity is the authenticated user behind a connection.
type Identity struct {
	UserID   string
	Username string
}

// Session is the connection-local state established by a successful join.
type Session struct {
	RoomID     string
	UserID     string
	Username   string
	Role       rooms.Role
	Permission Permission
}

// Joined reports whether the session belongs to a room.
func (s Session) Joined() bool {
	return s.RoomID != ""
}

// Client is one connected socket. Outbound frames are queued on a bounded buffer;
// a full buffer drops the frame.
type Client struct {
	id       uint64
	identity Identity
	send     chan []byte

	mu      sync.RWMutex
	session Session
	closed  bool
}

func newClient(id uint64, identity Identity, buffer int) *Client {
	return &Client{
		id:       id,
		identity: identity,
		send:     make(chan []byte, buffer),
	}
}

// ID returns the connection identifier.
func (c *Client) ID() uint64 {
	return c.id
}

// Outbound exposes the queue of frames waiting to be written to the socket.
func (c *Client) Outbound() <-chan []byte {
	return c.send
}

// Session returns a snapshot of the connection-local session.
func (c *Client) Session() Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

func (c *Client) setSession(session Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = session
}

func (c *Client) updatePermission(update func(Permission) Permission) Permission {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session.Permission = update(c.session.Permission)
	return c.session.Permission
}

func (c *Client) clearSession() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	previous := c.session
	c.session = Session{}
	return previous
}

// enqueue queues frame without blocking and reports whether it was accepted.
func (c *Client) enqueue(frame []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
