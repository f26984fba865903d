package www

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"fleetwatch/engine"
)

type SSEEvent struct {
	Event string
	Data  string
}

// EventHub mirrors engine notices to dashboard clients over server-sent
// events. Slow clients lose messages rather than blocking the engine.
type EventHub struct {
	mu        sync.RWMutex
	clients   map[chan SSEEvent]struct{}
	broadcast chan SSEEvent
	stopChan  chan struct{}
	keepalive time.Duration
}

func NewEventHub() *EventHub {
	return &EventHub{
		clients:   make(map[chan SSEEvent]struct{}),
		broadcast: make(chan SSEEvent, 256),
		stopChan:  make(chan struct{}),
		keepalive: 30 * time.Second,
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
	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-h.stopChan:
			return
		case evt := <-h.broadcast:
			h.fanout(evt)
		case <-keepalive.C:
			h.fanout(SSEEvent{Event: "keepalive", Data: "ping"})
		}
	}
}

func (h *EventHub) fanout(evt SSEEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.clients {
		select {
		case ch <- evt:
		default:
			// drop if full
		}
	}
}

func (h *EventHub) Broadcast(event, data string) {
	select {
	case h.broadcast <- SSEEvent{Event: event, Data: data}:
	default:
	}
}

// BroadcastJSON encodes v as the data line of event.
func (h *EventHub) BroadcastJSON(event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("sse: encode %s: %v", event, err)
		return
	}
	h.Broadcast(event, string(data))
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

// SetupEngineListeners wires engine notices to SSE broadcasts.
func (h *EventHub) SetupEngineListeners(eng *engine.Engine) {
	eng.Events.SubscribeTypes(func(n engine.Notice) {
		ev := n.Payload.(engine.RobotUpdatedEvent)
		h.BroadcastJSON("robot-update", ev.Robot)
	}, engine.EventRobotUpdated)

	eng.Events.SubscribeTypes(func(n engine.Notice) {
		ev := n.Payload.(engine.AppendedEvent)
		h.BroadcastJSON("event", ev.Event)
	}, engine.EventAppended)

	eng.Events.SubscribeTypes(func(n engine.Notice) {
		ev := n.Payload.(engine.DispatchEvent)
		h.BroadcastJSON("dispatch", map[string]any{"type": "started", "task": ev.Task})
	}, engine.EventDispatchStarted)

	eng.Events.SubscribeTypes(func(n engine.Notice) {
		ev := n.Payload.(engine.DispatchEvent)
		h.BroadcastJSON("dispatch", map[string]any{"type": "completed", "task": ev.Task})
	}, engine.EventDispatchCompleted)

	eng.Events.SubscribeTypes(func(n engine.Notice) {
		ev := n.Payload.(engine.DispatchEvent)
		detail := ""
		if ev.Err != nil {
			detail = ev.Err.Error()
		}
		h.BroadcastJSON("dispatch", map[string]any{"type": "failed", "task": ev.Task, "detail": detail})
	}, engine.EventDispatchFailed)

	eng.Events.SubscribeTypes(func(n engine.Notice) {
		ev := n.Payload.(engine.SimulationEvent)
		h.BroadcastJSON("system-status", map[string]any{"simulation": ev.Running})
	}, engine.EventSimulationChanged)

	eng.Events.SubscribeTypes(func(n engine.Notice) {
		ev := n.Payload.(engine.EntityChangedEvent)
		h.BroadcastJSON("entity-change", map[string]any{"entity": ev.Entity, "id": ev.ID, "action": ev.Action})
	}, engine.EventEntityChanged)

	eng.Events.SubscribeTypes(func(n engine.Notice) {
		ev := n.Payload.(engine.PresenceEvent)
		h.BroadcastJSON("presence", map[string]any{"operatorsOnline": ev.OperatorsOnline, "focusCounts": ev.FocusCounts})
	}, engine.EventPresenceChanged)
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
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

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
