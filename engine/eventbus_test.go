package engine

import (
	"testing"
)

func TestEventBusFiltersByType(t *testing.T) {
	bus := NewEventBus()

	var all, tasks []EventType
	bus.Subscribe(func(evt Event) { all = append(all, evt.Type) })
	bus.SubscribeTypes(func(evt Event) { tasks = append(tasks, evt.Type) },
		EventTaskSubmitted, EventTaskFinished)

	bus.Emit(Event{Type: EventTaskSubmitted})
	bus.Emit(Event{Type: EventMirrorSpawned})
	bus.Emit(Event{Type: EventTaskFinished})

	if len(all) != 3 {
		t.Fatalf("unfiltered listener saw %d events, want 3", len(all))
	}
	if len(tasks) != 2 || tasks[0] != EventTaskSubmitted || tasks[1] != EventTaskFinished {
		t.Fatalf("filtered listener saw %v, want [task.submitted task.finished]", tasks)
	}
}

func TestEventBusUnsubscribe(t *testing.T) {
	bus := NewEventBus()

	n := 0
	id := bus.Subscribe(func(Event) { n++ })
	bus.Emit(Event{Type: EventNodeDraining})
	bus.Unsubscribe(id)
	bus.Emit(Event{Type: EventNodeResumed})

	if n != 1 {
		t.Fatalf("listener ran %d times, want 1", n)
	}
	bus.Unsubscribe(id) // unknown ID is a no-op
}

func TestEventBusStampsTimestamp(t *testing.T) {
	bus := NewEventBus()

	var got Event
	bus.Subscribe(func(evt Event) { got = evt })
	bus.Emit(Event{Type: EventClientConnected})

	if got.Timestamp.IsZero() {
		t.Fatal("emitted event has zero timestamp")
	}
}
