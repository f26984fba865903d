package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Redis relays channels through Redis PUBLISH/SUBSCRIBE so that several
// processes see the same stream.
type Redis struct {
	*relay
	client *redis.Client
	prefix string
	logFn  LogFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	subs   []*redis.PubSub
}

func NewRedis(client *redis.Client, prefix string, logFn LogFunc) *Redis {
	ctx, cancel := context.WithCancel(context.Background())
	return &Redis{
		relay:  newRelay(logFn),
		client: client,
		prefix: prefix,
		logFn:  logFn,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (b *Redis) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.client.Publish(ctx, topicName(b.prefix, channel, ":"), payload).Err()
}

func (b *Redis) Subscribe(channel string, h Handler) error {
	return b.subscribe(channel, h, b.attach)
}

func (b *Redis) attach(channel string) error {
	ps := b.client.Subscribe(b.ctx, topicName(b.prefix, channel, ":"))
	if _, err := ps.Receive(b.ctx); err != nil {
		ps.Close()
		return fmt.Errorf("redis subscribe %s: %w", channel, err)
	}
	b.subs = append(b.subs, ps)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for msg := range ps.Channel() {
			b.receive(channel, []byte(msg.Payload))
		}
	}()
	return nil
}

func (b *Redis) Close() error {
	b.cancel()
	b.mu.Lock()
	for _, ps := range b.subs {
		ps.Close()
	}
	b.mu.Unlock()
	b.wg.Wait()
	return b.local.Close()
}
