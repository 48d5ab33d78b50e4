package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
		return Event{}
	}
}

func TestBusPublishSubscribe(t *testing.T) {
	bus := New()
	defer bus.Close()

	events, unsub := bus.Subscribe()
	defer unsub()

	bus.Publish(Event{Type: EventZoneChanged, Data: "Deep Archive"})

	ev := receive(t, events)
	assert.Equal(t, EventZoneChanged, ev.Type)
	assert.Equal(t, "Deep Archive", ev.Data)
	assert.False(t, ev.At.IsZero(), "publish stamps the event time")
}

func TestBusMultipleSubscribers(t *testing.T) {
	bus := New()
	defer bus.Close()

	events1, unsub1 := bus.Subscribe()
	defer unsub1()
	events2, unsub2 := bus.Subscribe()
	defer unsub2()

	bus.Publish(Event{Type: EventThoughtRecorded, Data: 7})

	assert.Equal(t, 7, receive(t, events1).Data)
	assert.Equal(t, 7, receive(t, events2).Data)
}

func TestBusUnsubscribe(t *testing.T) {
	bus := New()
	defer bus.Close()

	events, unsub := bus.Subscribe()
	assert.Equal(t, 1, bus.SubscriberCount())

	unsub()
	assert.Equal(t, 0, bus.SubscriberCount())

	_, ok := <-events
	assert.False(t, ok, "channel should be closed after unsubscribe")

	// Second call is a no-op.
	unsub()
}

func TestBusFullSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := New()
	defer bus.Close()

	_, unsub := bus.Subscribe()
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer+10; i++ {
			bus.Publish(Event{Type: EventPresenceChanged, Data: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Equal(t, uint64(10), bus.Dropped())
}

func TestBusClose(t *testing.T) {
	bus := New()
	events, _ := bus.Subscribe()

	bus.Close()
	bus.Close()

	_, ok := <-events
	assert.False(t, ok)

	// Publishing and subscribing after close are safe.
	bus.Publish(Event{Type: EventCrystalAdded})
	late, unsub := bus.Subscribe()
	defer unsub()
	_, ok = <-late
	assert.False(t, ok)
}

func TestBusConcurrentPublish(t *testing.T) {
	bus := New()
	defer bus.Close()

	events, unsub := bus.Subscribe()
	defer unsub()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				bus.Publish(Event{Type: EventEmotionChanged})
			}
		}()
	}
	wg.Wait()

	assert.Len(t, events, 50)
}
