// Package events provides the in-process event bus carrying sync lifecycle
// notifications to UI observers. Delivery is fire-and-forget: a slow
// subscriber loses events rather than stalling the sync worker.
package events

import (
	"sync"
	"time"

	"github.com/odtrack/core/internal/uuid"
)

// Event types emitted by the background sync worker.
const (
	TypeConnectivityChanged = "connectivity_changed"
	TypeSyncStarted         = "sync_started"
	TypeSyncItemCompleted   = "sync_item_completed"
	TypeSyncItemFailed      = "sync_item_failed"
	TypeSyncConflict        = "sync_conflict_detected"
	TypeSyncCompleted       = "sync_completed"
)

// Event is one lifecycle notification.
type Event struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp int64                  `json:"timestamp"` // unix millis
}

// Subscription is one observer's ordered event feed.
type Subscription struct {
	ID string
	C  <-chan Event

	ch chan Event
}

// Bus fans events out to subscribers. Each subscriber gets its own buffered
// channel and sees events in publish order; publishing never blocks.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscription
	bufferSize  int
	closed      bool
}

// NewBus creates a Bus whose subscriber channels hold bufferSize events.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Bus{
		subscribers: make(map[string]*Subscription),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a new observer.
func (b *Bus) Subscribe() *Subscription {
	ch := make(chan Event, b.bufferSize)
	sub := &Subscription{
		ID: uuid.New(),
		C:  ch,
		ch: ch,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return sub
	}
	b.subscribers[sub.ID] = sub
	return sub
}

// Unsubscribe removes an observer and closes its channel. Unknown ids are
// ignored.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(sub.ch)
	}
}

// Publish delivers an event to every subscriber. Subscribers with a full
// buffer are skipped.
func (b *Bus) Publish(eventType string, data map[string]interface{}) {
	event := Event{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subscribers {
		select {
		case sub.ch <- event:
		default:
			// Subscriber buffer is full; the event is dropped for it.
		}
	}
}

// SubscriberCount returns the current number of observers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close shuts the bus down and closes all subscriber channels. Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subscribers {
		delete(b.subscribers, id)
		close(sub.ch)
	}
}
