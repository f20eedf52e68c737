package www

import (
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"logosnode/engine"
)

type SSEEvent struct {
	Event string
	Data  string
}

type EventHub struct {
	mu        sync.RWMutex
	clients   map[chan SSEEvent]struct{}
	broadcast chan SSEEvent
	stopChan  chan struct{}
}

func NewEventHub() *EventHub {
	return &EventHub{
		clients:   make(map[chan SSEEvent]struct{}),
		broadcast: make(chan SSEEvent, 256),
		stopChan:  make(chan struct{}),
	}
}

func (h *EventHub) Start() {
	go h.run()
}

func (h *EventHub) Stop() {
	select {
	case h.stopChan <- struct{}{}:
	default:
	}
}

func (h *EventHub) run() {
	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-h.stopChan:
			return
		case evt := <-h.broadcast:
			h.mu.RLock()
			for ch := range h.clients {
				select {
				case ch <- evt:
				default:
					// drop if full
				}
			}
			h.mu.RUnlock()
		case <-keepalive.C:
			h.mu.RLock()
			for ch := range h.clients {
				select {
				case ch <- SSEEvent{Event: "keepalive", Data: "ping"}:
				default:
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *EventHub) Broadcast(event, data string) {
	select {
	case h.broadcast <- SSEEvent{Event: event, Data: data}:
	default:
	}
}

func (h *EventHub) AddClient() chan SSEEvent {
	ch := make(chan SSEEvent, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *EventHub) RemoveClient(ch chan SSEEvent) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SetupEngineListeners wires engine events to SSE broadcasts.
func (h *EventHub) SetupEngineListeners(eng *engine.Engine) {
	eng.Events.SubscribeTypes(func(evt engine.Event) {
		ev := evt.Payload.(engine.TaskSubmittedEvent)
		h.Broadcast("task-update", fmt.Sprintf(`{"type":"submitted","task_id":"%s","model":"%s"}`, ev.TaskID, ev.Model))
	}, engine.EventTaskSubmitted)

	eng.Events.SubscribeTypes(func(evt engine.Event) {
		ev := evt.Payload.(engine.TaskStateChangedEvent)
		h.Broadcast("task-update", fmt.Sprintf(`{"type":"state_changed","task_id":"%s","new_state":"%s"}`, ev.TaskID, ev.NewState))
	}, engine.EventTaskStateChanged)

	eng.Events.SubscribeTypes(func(evt engine.Event) {
		ev := evt.Payload.(engine.TaskFinishedEvent)
		h.Broadcast("task-update", fmt.Sprintf(`{"type":"finished","task_id":"%s","state":"%s","error_code":"%s"}`, ev.TaskID, ev.State, ev.ErrorCode))
	}, engine.EventTaskFinished)

	eng.Events.SubscribeTypes(func(evt engine.Event) {
		ev := evt.Payload.(engine.MirrorSpawnedEvent)
		h.Broadcast("mirror-update", fmt.Sprintf(`{"type":"spawned","mirror_id":"%s","model":"%s"}`, ev.MirrorID, ev.Model))
	}, engine.EventMirrorSpawned)

	eng.Events.SubscribeTypes(func(evt engine.Event) {
		ev := evt.Payload.(engine.MirrorStatusChangedEvent)
		h.Broadcast("mirror-update", fmt.Sprintf(`{"type":"status_changed","mirror_id":"%s","new_status":"%s"}`, ev.MirrorID, ev.NewStatus))
	}, engine.EventMirrorStatusChanged)

	eng.Events.SubscribeTypes(func(evt engine.Event) {
		ev := evt.Payload.(engine.MirrorEvictedEvent)
		h.Broadcast("mirror-update", fmt.Sprintf(`{"type":"evicted","mirror_id":"%s"}`, ev.MirrorID))
	}, engine.EventMirrorEvicted)

	eng.Events.SubscribeTypes(func(evt engine.Event) {
		ev := evt.Payload.(engine.PeerEvent)
		h.Broadcast("peer-update", fmt.Sprintf(`{"node_id":"%s","status":"%s"}`, ev.NodeID, ev.Status))
	}, engine.EventPeerUpdated, engine.EventPeerUnreachable, engine.EventPeerRemoved)

	eng.Events.SubscribeTypes(func(evt engine.Event) {
		ev := evt.Payload.(engine.ClientConnectionEvent)
		h.Broadcast("connection-update", fmt.Sprintf(`{"connections":%d}`, ev.Connections))
	}, engine.EventClientConnected, engine.EventClientDisconnected)

	eng.Events.SubscribeTypes(func(evt engine.Event) {
		h.Broadcast("system-status", `{"engine":"connected"}`)
	}, engine.EventEngineConnected)

	eng.Events.SubscribeTypes(func(evt engine.Event) {
		h.Broadcast("system-status", `{"engine":"disconnected"}`)
	}, engine.EventEngineDisconnected)

	eng.Events.SubscribeTypes(func(evt engine.Event) {
		h.Broadcast("system-status", `{"messaging":"connected"}`)
	}, engine.EventMessagingConnected)

	eng.Events.SubscribeTypes(func(evt engine.Event) {
		h.Broadcast("system-status", `{"messaging":"disconnected"}`)
	}, engine.EventMessagingDisconnected)

	eng.Events.SubscribeTypes(func(evt engine.Event) {
		h.Broadcast("system-status", `{"admission":"draining"}`)
	}, engine.EventNodeDraining)

	eng.Events.SubscribeTypes(func(evt engine.Event) {
		h.Broadcast("system-status", `{"admission":"open"}`)
	}, engine.EventNodeResumed)
}

// SSEHandler serves the SSE endpoint.
func (h *EventHub) SSEHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := h.AddClient()
	defer h.RemoveClient(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case evt := <-ch:
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Event, evt.Data); err != nil {
				log.Printf("sse: write error: %v", err)
				return
			}
			flusher.Flush()
		}
	}
}
