// Package events carries hub lifecycle events (joins, leaves, chat, file
// announcements, presentation changes) to the monitoring surface.
package events

import (
	"sync"
	"time"
)

// Hub event types published on the bus.
const (
	UserJoin            = "user_join"
	UserLeave           = "user_leave"
	ChatPosted          = "chat"
	FileAvailable       = "file_available"
	PresentationStarted = "presentation_started"
	PresentationStopped = "presentation_stopped"
)

type Event struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Bus fans events out to subscribers over buffered channels. Publishing
// never blocks; a subscriber that falls behind loses events rather than
// stalling the hub.
type Bus struct {
	mu   sync.Mutex
	subs map[string]chan Event
}

const subscriberBuffer = 100

func NewBus() *Bus {
	return &Bus{subs: make(map[string]chan Event)}
}

// Publish delivers the event to every current subscriber, best-effort.
func (b *Bus) Publish(eventType string, data map[string]any) {
	evt := Event{Type: eventType, Timestamp: time.Now(), Data: data}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Subscribe registers a new subscriber under id and returns its channel.
func (b *Bus) Subscribe(id string) <-chan Event {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[id] = ch
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}
