package bus

import (
	"context"
	"sync"
)

// relay fans messages received from a remote transport out to local
// handlers. Each channel is attached to the remote side once, on first
// subscription.
type relay struct {
	local *Memory

	mu       sync.Mutex
	attached map[string]bool
}

func newRelay(logFn LogFunc) *relay {
	return &relay{local: NewMemory(logFn), attached: make(map[string]bool)}
}

func (r *relay) subscribe(channel string, h Handler, attach func(channel string) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.attached[channel] {
		if err := attach(channel); err != nil {
			return err
		}
		r.attached[channel] = true
	}
	return r.local.Subscribe(channel, h)
}

func (r *relay) receive(channel string, payload []byte) {
	r.local.Publish(context.Background(), channel, payload)
}
