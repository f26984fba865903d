package bus

import (
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("bus closed")

// Memory is an in-process bus. Every subscriber owns an unbounded FIFO and a
// goroutine draining it, so Publish never blocks on a slow handler.
type Memory struct {
	mu     sync.RWMutex
	subs   map[string][]*subscriber
	closed bool
	wg     sync.WaitGroup
	logFn  LogFunc
}

func NewMemory(logFn LogFunc) *Memory {
	return &Memory{subs: make(map[string][]*subscriber), logFn: logFn}
}

func (m *Memory) Publish(_ context.Context, channel string, payload []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	for _, s := range m.subs[channel] {
		s.push(payload)
	}
	return nil
}

func (m *Memory) Subscribe(channel string, h Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	s := newSubscriber(channel, h)
	m.subs[channel] = append(m.subs[channel], s)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		s.run(m.logFn)
	}()
	return nil
}

// Close stops every subscriber goroutine. Messages still queued are dropped.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	for _, list := range m.subs {
		for _, s := range list {
			s.close()
		}
	}
	m.mu.Unlock()
	m.wg.Wait()
	return nil
}

type subscriber struct {
	channel string
	handler Handler

	mu     sync.Mutex
	cond   *sync.Cond
	queue  [][]byte
	closed bool
}

func newSubscriber(channel string, h Handler) *subscriber {
	s := &subscriber{channel: channel, handler: h}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *subscriber) push(payload []byte) {
	s.mu.Lock()
	if !s.closed {
		s.queue = append(s.queue, payload)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

func (s *subscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.queue = nil
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *subscriber) run(logFn LogFunc) {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		payload := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()
		s.deliver(payload, logFn)
	}
}

func (s *subscriber) deliver(payload []byte, logFn LogFunc) {
	defer func() {
		if r := recover(); r != nil {
			logFn("bus: handler on %s panicked: %v", s.channel, r)
		}
	}()
	s.handler(payload)
}
