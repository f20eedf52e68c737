package engine

import (
	"sort"
	"sync"
	"time"
)

// EventType tags a bus event with the node subsystem that produced it. The
// values and their payload structs live in events.go.
type EventType int

// SubscriberID names a registered listener so it can be unsubscribed.
type SubscriberID int

// Event is one bus notification. Payload holds the *Event struct matching
// Type, or nil for events that carry no data.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   any
}

type listener struct {
	fn    func(Event)
	types map[EventType]struct{} // nil means every type
}

// EventBus fans node events out to listeners: the SSE hub, the store
// adapters and the log wiring all hang off one bus. Listeners run inline on
// the emitting goroutine and must not block.
type EventBus struct {
	mu        sync.RWMutex
	listeners map[SubscriberID]listener
	lastID    SubscriberID
}

func NewEventBus() *EventBus {
	return &EventBus{listeners: make(map[SubscriberID]listener)}
}

// Subscribe registers fn for every event on the bus.
func (b *EventBus) Subscribe(fn func(Event)) SubscriberID {
	return b.SubscribeTypes(fn)
}

// SubscribeTypes registers fn for the given event types. With no types it
// behaves like Subscribe.
func (b *EventBus) SubscribeTypes(fn func(Event), types ...EventType) SubscriberID {
	var filter map[EventType]struct{}
	if len(types) > 0 {
		filter = make(map[EventType]struct{}, len(types))
		for _, t := range types {
			filter[t] = struct{}{}
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastID++
	b.listeners[b.lastID] = listener{fn: fn, types: filter}
	return b.lastID
}

// Unsubscribe drops a listener. Unknown IDs are ignored.
func (b *EventBus) Unsubscribe(id SubscriberID) {
	b.mu.Lock()
	delete(b.listeners, id)
	b.mu.Unlock()
}

// Emit stamps evt and delivers it to every listener whose filter matches,
// in registration order. The listener set is snapshotted first so handlers
// may subscribe or unsubscribe from inside a callback.
func (b *EventBus) Emit(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	ids := make([]SubscriberID, 0, len(b.listeners))
	for id, l := range b.listeners {
		if l.types != nil {
			if _, ok := l.types[evt.Type]; !ok {
				continue
			}
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	targets := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		targets = append(targets, b.listeners[id].fn)
	}
	b.mu.RUnlock()

	for _, fn := range targets {
		fn(evt)
	}
}
