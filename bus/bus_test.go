package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"fleetwatch/config"
)

func quiet(string, ...any) {}

func TestMemoryDeliversInOrder(t *testing.T) {
	m := NewMemory(quiet)
	defer m.Close()

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})
	err := m.Subscribe(ChannelEvents, func(p []byte) {
		mu.Lock()
		got = append(got, string(p))
		n := len(got)
		mu.Unlock()
		if n == 100 {
			close(done)
		}
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	want := make([]string, 100)
	for i := range want {
		want[i] = string(rune('A' + i%26))
		if err := m.Publish(context.Background(), ChannelEvents, []byte(want[i])); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
	mu.Lock()
	defer mu.Unlock()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("message %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestMemoryChannelsAreIsolated(t *testing.T) {
	m := NewMemory(quiet)
	defer m.Close()

	alerts := make(chan string, 4)
	m.Subscribe(ChannelAlerts, func(p []byte) { alerts <- string(p) })

	m.Publish(context.Background(), ChannelRobotUpdates, []byte("update"))
	m.Publish(context.Background(), ChannelAlerts, []byte("alert"))

	select {
	case got := <-alerts:
		if got != "alert" {
			t.Fatalf("alerts handler got %q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("alert not delivered")
	}
	select {
	case got := <-alerts:
		t.Fatalf("unexpected second delivery %q", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryPublishDoesNotBlockOnSlowHandler(t *testing.T) {
	m := NewMemory(quiet)
	release := make(chan struct{})
	m.Subscribe(ChannelRobotUpdates, func([]byte) { <-release })

	start := time.Now()
	for i := 0; i < 1000; i++ {
		m.Publish(context.Background(), ChannelRobotUpdates, []byte("x"))
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("publish blocked for %v", elapsed)
	}
	close(release)
	m.Close()
}

func TestMemoryHandlerPanicKeepsSubscription(t *testing.T) {
	var logged int
	var mu sync.Mutex
	m := NewMemory(func(string, ...any) {
		mu.Lock()
		logged++
		mu.Unlock()
	})
	defer m.Close()

	got := make(chan string, 2)
	m.Subscribe(ChannelEvents, func(p []byte) {
		if string(p) == "boom" {
			panic("boom")
		}
		got <- string(p)
	})
	m.Publish(context.Background(), ChannelEvents, []byte("boom"))
	m.Publish(context.Background(), ChannelEvents, []byte("ok"))

	select {
	case v := <-got:
		if v != "ok" {
			t.Fatalf("got %q", v)
		}
	case <-time.After(time.Second):
		t.Fatal("subscription died after panic")
	}
	mu.Lock()
	defer mu.Unlock()
	if logged != 1 {
		t.Fatalf("logged %d panics, want 1", logged)
	}
}

func TestMemoryClose(t *testing.T) {
	m := NewMemory(quiet)
	m.Subscribe(ChannelEvents, func([]byte) {})
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := m.Publish(context.Background(), ChannelEvents, nil); err != ErrClosed {
		t.Fatalf("publish after close = %v, want ErrClosed", err)
	}
	if err := m.Subscribe(ChannelEvents, func([]byte) {}); err != ErrClosed {
		t.Fatalf("subscribe after close = %v, want ErrClosed", err)
	}
}

func TestRelayAttachesOnce(t *testing.T) {
	r := newRelay(quiet)
	defer r.local.Close()

	attaches := 0
	attach := func(string) error { attaches++; return nil }
	got := make(chan string, 4)
	for i := 0; i < 2; i++ {
		if err := r.subscribe(ChannelAlerts, func(p []byte) { got <- string(p) }, attach); err != nil {
			t.Fatalf("subscribe: %v", err)
		}
	}
	if attaches != 1 {
		t.Fatalf("attached %d times, want 1", attaches)
	}

	r.receive(ChannelAlerts, []byte("remote"))
	for i := 0; i < 2; i++ {
		select {
		case v := <-got:
			if v != "remote" {
				t.Fatalf("got %q", v)
			}
		case <-time.After(time.Second):
			t.Fatal("relayed message not delivered to both handlers")
		}
	}
}

func TestOpenDrivers(t *testing.T) {
	b, err := Open(config.BusConfig{Driver: "memory"}, nil, nil)
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	b.Close()

	if _, err := Open(config.BusConfig{Driver: "redis"}, nil, quiet); err == nil {
		t.Fatal("redis driver without a client should fail")
	}
	if _, err := Open(config.BusConfig{Driver: "kafka"}, nil, quiet); err == nil {
		t.Fatal("kafka driver without brokers should fail")
	}
	if _, err := Open(config.BusConfig{Driver: "carrier-pigeon"}, nil, quiet); err == nil {
		t.Fatal("unknown driver should fail")
	}
}

func TestTopicName(t *testing.T) {
	if got := topicName("", "alerts", "."); got != "alerts" {
		t.Errorf("no prefix: %q", got)
	}
	if got := topicName("fleet", "alerts", "/"); got != "fleet/alerts" {
		t.Errorf("prefixed: %q", got)
	}
}
