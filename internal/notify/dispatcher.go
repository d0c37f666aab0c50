// Package notify delivers per-user notifications to live subscribers.
package notify

import (
	"context"
	"sync"
	"time"
)

// Notification event types, used as the SSE event name.
const (
	// EventSessionScheduled tells a mentor that a student booked a session.
	EventSessionScheduled = "session-scheduled"
	// EventSessionUpdated tells the counterpart about a status change or attached room.
	EventSessionUpdated = "session-updated"
	// EventRoomClosed tells every room participant that the mentor closed the room.
	EventRoomClosed = "room-closed"
	// EventHeartbeat keeps idle streams open through proxies.
	EventHeartbeat = "heartbeat"
)

// Message is a notification addressed to one user.
type Message struct {
	UserID    string
	EventType string
	Payload   map[string]any
	Timestamp time.Time
}

// Publisher accepts notifications for delivery.
type Publisher interface {
	Publish(message Message)
}

// Dispatcher fans notifications out to every subscription held by the addressed user.
// Delivery is best effort: a subscriber whose buffer is full misses the message.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id     int64
	stream chan Message
}

// NewDispatcher constructs an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[string]map[int64]*subscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a stream for userID until ctx is done or cleanup is called.
func (d *Dispatcher) Subscribe(ctx context.Context, userID string) (<-chan Message, func()) {
	if userID == "" {
		ch := make(chan Message)
		close(ch)
		return ch, func() {}
	}
	sub := &subscriber{
		stream: make(chan Message, d.bufferSize),
	}
	d.register(userID, sub)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregister(userID, sub.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

// Publish delivers message to the addressed user's subscriptions without blocking.
func (d *Dispatcher) Publish(message Message) {
	if message.UserID == "" || message.EventType == "" {
		return
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now().UTC()
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.UserID]
	copies := make([]*subscriber, 0, len(subscribers))
	for _, sub := range subscribers {
		copies = append(copies, sub)
	}
	d.mu.RUnlock()
	for _, sub := range copies {
		select {
		case sub.stream <- message:
		default:
		}
	}
}

// SubscriberCount reports how many live subscriptions userID holds.
func (d *Dispatcher) SubscriberCount(userID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[userID])
}

func (d *Dispatcher) register(userID string, sub *subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	sub.id = d.nextID
	if _, ok := d.subscribers[userID]; !ok {
		d.subscribers[userID] = make(map[int64]*subscriber)
	}
	d.subscribers[userID][sub.id] = sub
}

func (d *Dispatcher) unregister(userID string, subscriberID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	subscribers := d.subscribers[userID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, userID)
		}
	}
}

// Nop discards every notification.
type Nop struct{}

func (Nop) Publish(Message) {}
