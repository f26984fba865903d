package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/segmentio/kafka-go"

	"fleetwatch/config"
)

// Kafka relays channels through one topic each. Every process reads
// partition 0 from the tail without a consumer group, so all of them see
// every message published after they attach.
type Kafka struct {
	*relay
	cfg    config.KafkaConfig
	prefix string
	writer *kafka.Writer
	logFn  LogFunc

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	readers []*kafka.Reader
}

func NewKafka(cfg config.KafkaConfig, prefix string, logFn LogFunc) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Kafka{
		relay:  newRelay(logFn),
		cfg:    cfg,
		prefix: prefix,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Balancer:               &kafka.LeastBytes{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
		logFn:  logFn,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

func (b *Kafka) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.writer.WriteMessages(ctx, kafka.Message{
		Topic: topicName(b.prefix, channel, "."),
		Value: payload,
	})
}

func (b *Kafka) Subscribe(channel string, h Handler) error {
	return b.subscribe(channel, h, b.attach)
}

func (b *Kafka) attach(channel string) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   b.cfg.Brokers,
		Topic:     topicName(b.prefix, channel, "."),
		Partition: 0,
		MaxBytes:  10e6,
	})
	if err := reader.SetOffset(kafka.LastOffset); err != nil {
		reader.Close()
		return fmt.Errorf("kafka seek %s: %w", channel, err)
	}
	b.readers = append(b.readers, reader)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			msg, err := reader.ReadMessage(b.ctx)
			if err != nil {
				if b.ctx.Err() == nil {
					b.logFn("bus: kafka read %s: %v", channel, err)
				}
				return
			}
			b.receive(channel, msg.Value)
		}
	}()
	return nil
}

func (b *Kafka) Close() error {
	b.cancel()
	b.mu.Lock()
	for _, r := range b.readers {
		r.Close()
	}
	b.mu.Unlock()
	b.wg.Wait()
	b.writer.Close()
	return b.local.Close()
}
