// Package eventbus provides an in-process pub/sub bus for soul transitions.
// The state persister and telemetry subscribe to it; transitions publish
// without ever blocking on a slow subscriber.
package eventbus

import (
	"sync"
	"time"
)

// EventType identifies the transition that produced an event.
type EventType string

const (
	EventZoneChanged        EventType = "zone_changed"
	EventPresenceChanged    EventType = "presence_changed"
	EventEmotionChanged     EventType = "emotion_changed"
	EventAutonomousToggled  EventType = "autonomous_toggled"
	EventThoughtRecorded    EventType = "thought_recorded"
	EventCrystalAdded       EventType = "crystal_added"
	EventBreadcrumbUpserted EventType = "breadcrumb_upserted"
	EventSynced             EventType = "synced"
)

// Event is one published transition.
type Event struct {
	Type EventType
	At   time.Time
	Data interface{} // transition-specific payload, e.g. the new zone
}

// subscriberBuffer is the per-subscriber channel depth.
const subscriberBuffer = 100

// Bus broadcasts every event to every subscriber.
// Safe for concurrent publish/subscribe.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int]chan Event
	nextID      int
	closed      bool
	dropped     uint64
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		subscribers: make(map[int]chan Event),
	}
}

// Subscribe creates a subscription. The returned unsubscribe function must
// be called when done; it closes the channel.
func (b *Bus) Subscribe() (events <-chan Event, unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}

	b.nextID++
	id := b.nextID
	ch := make(chan Event, subscriberBuffer)
	b.subscribers[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if ch, ok := b.subscribers[id]; ok {
			close(ch)
			delete(b.subscribers, id)
		}
	}
}

// Publish sends an event to all subscribers.
// Non-blocking: if a subscriber's channel is full the event is dropped for
// that subscriber.
func (b *Bus) Publish(event Event) {
	if event.At.IsZero() {
		event.At = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.dropped++
		}
	}
}

// Close shuts down the bus and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}

// SubscriberCount returns the current number of subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped returns how many deliveries were dropped on full subscribers.
func (b *Bus) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}
