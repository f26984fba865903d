// Package bus carries robot updates, alerts and events between the
// simulation components and the observer gateway.
package bus

import (
	"context"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"fleetwatch/config"
)

const (
	ChannelRobotUpdates = "robot_updates"
	ChannelAlerts       = "alerts"
	ChannelEvents       = "events"
)

// Channels lists every channel the gateway relays.
var Channels = []string{ChannelRobotUpdates, ChannelAlerts, ChannelEvents}

type LogFunc func(format string, args ...any)

// Handler receives one message. Handlers for one subscription are called
// sequentially in publish order.
type Handler func(payload []byte)

type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(channel string, h Handler) error
	Close() error
}

// Open builds the transport selected by cfg.Driver. The redis client is only
// used by the redis driver and may be nil otherwise.
func Open(cfg config.BusConfig, rdb *redis.Client, logFn LogFunc) (Bus, error) {
	if logFn == nil {
		logFn = log.Printf
	}
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(logFn), nil
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("bus: redis driver needs a redis client")
		}
		return NewRedis(rdb, cfg.Prefix, logFn), nil
	case "kafka":
		b, err := NewKafka(cfg.Kafka, cfg.Prefix, logFn)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "mqtt":
		b, err := NewMQTT(cfg.MQTT, cfg.Prefix, logFn)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "amqp":
		b, err := NewAMQP(cfg.AMQP.URL, cfg.Prefix, logFn)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, fmt.Errorf("bus: unknown driver %q", cfg.Driver)
}

func topicName(prefix, channel, sep string) string {
	if prefix == "" {
		return channel
	}
	return prefix + sep + channel
}
