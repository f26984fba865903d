package engine

import (
	"log"
	"sync"
	"time"
)

type EventType int

type SubscriberID int

// Notice is one in-process notification. Payload holds the *Event struct
// matching Type.
type Notice struct {
	Type      EventType
	Timestamp time.Time
	Payload   any
}

type hubSubscriber struct {
	id     SubscriberID
	fn     func(Notice)
	filter map[EventType]struct{}
}

// Hub delivers engine notices synchronously to in-process listeners: the
// bus relay, the audit log, metrics and the SSE mirror.
type Hub struct {
	mu          sync.RWMutex
	subscribers []hubSubscriber
	nextID      SubscriberID
}

func NewHub() *Hub {
	return &Hub{}
}

// Subscribe registers a handler for every notice type.
func (h *Hub) Subscribe(fn func(Notice)) SubscriberID {
	return h.SubscribeTypes(fn)
}

// SubscribeTypes registers a handler for the listed types only. No types
// means all of them.
func (h *Hub) SubscribeTypes(fn func(Notice), types ...EventType) SubscriberID {
	var filter map[EventType]struct{}
	if len(types) > 0 {
		filter = make(map[EventType]struct{}, len(types))
		for _, t := range types {
			filter[t] = struct{}{}
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	h.subscribers = append(h.subscribers, hubSubscriber{id: h.nextID, fn: fn, filter: filter})
	return h.nextID
}

func (h *Hub) Unsubscribe(id SubscriberID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, s := range h.subscribers {
		if s.id == id {
			h.subscribers = append(h.subscribers[:i], h.subscribers[i+1:]...)
			return
		}
	}
}

// Emit calls every matching handler in registration order. A panicking
// handler is logged and skipped.
func (h *Hub) Emit(n Notice) {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}
	h.mu.RLock()
	subs := make([]hubSubscriber, len(h.subscribers))
	copy(subs, h.subscribers)
	h.mu.RUnlock()

	for _, s := range subs {
		if s.filter != nil {
			if _, ok := s.filter[n.Type]; !ok {
				continue
			}
		}
		deliver(s.fn, n)
	}
}

func deliver(fn func(Notice), n Notice) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("engine: notice %d handler panicked: %v", n.Type, r)
		}
	}()
	fn(n)
}
