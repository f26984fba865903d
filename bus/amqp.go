package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQP relays each channel through a fanout exchange. Every subscriber gets
// its own exclusive, auto-deleted queue, so nothing outlives the process.
type AMQP struct {
	*relay
	conn   *amqp.Connection
	prefix string
	logFn  LogFunc

	pubMu sync.Mutex
	pubCh *amqp.Channel

	wg sync.WaitGroup
}

func NewAMQP(url, prefix string, logFn LogFunc) (*AMQP, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	b := &AMQP{relay: newRelay(logFn), conn: conn, prefix: prefix, logFn: logFn, pubCh: ch}
	for _, c := range Channels {
		if err := b.declare(ch, c); err != nil {
			b.Close()
			return nil, err
		}
	}
	return b, nil
}

func (b *AMQP) exchange(channel string) string {
	return topicName(b.prefix, channel, ".")
}

func (b *AMQP) declare(ch *amqp.Channel, channel string) error {
	if err := ch.ExchangeDeclare(b.exchange(channel), "fanout", false, false, false, false, nil); err != nil {
		return fmt.Errorf("amqp declare %s: %w", channel, err)
	}
	return nil
}

func (b *AMQP) Publish(ctx context.Context, channel string, payload []byte) error {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	return b.pubCh.PublishWithContext(ctx, b.exchange(channel), "", false, false, amqp.Publishing{
		DeliveryMode: amqp.Transient,
		Timestamp:    time.Now().UTC(),
		ContentType:  "application/json",
		Body:         payload,
	})
}

func (b *AMQP) Subscribe(channel string, h Handler) error {
	return b.subscribe(channel, h, b.attach)
}

func (b *AMQP) attach(channel string) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("amqp channel: %w", err)
	}
	if err := b.declare(ch, channel); err != nil {
		ch.Close()
		return err
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("amqp queue %s: %w", channel, err)
	}
	if err := ch.QueueBind(q.Name, "", b.exchange(channel), false, nil); err != nil {
		ch.Close()
		return fmt.Errorf("amqp bind %s: %w", channel, err)
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("amqp consume %s: %w", channel, err)
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for d := range deliveries {
			b.receive(channel, d.Body)
		}
	}()
	return nil
}

func (b *AMQP) Close() error {
	b.pubMu.Lock()
	if b.pubCh != nil {
		b.pubCh.Close()
	}
	b.pubMu.Unlock()
	err := b.conn.Close()
	b.wg.Wait()
	b.local.Close()
	return err
}
