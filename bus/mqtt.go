package bus

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"fleetwatch/config"
)

// MQTT relays channels through QoS 0 topics, matching the bus's
// at-most-once contract.
type MQTT struct {
	*relay
	client mqtt.Client
	prefix string
}

func NewMQTT(cfg config.MQTTConfig, prefix string, logFn LogFunc) (*MQTT, error) {
	broker := fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port)
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logFn("bus: mqtt connection lost: %v", err)
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect: timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return &MQTT{relay: newRelay(logFn), client: client, prefix: prefix}, nil
}

func (b *MQTT) Publish(ctx context.Context, channel string, payload []byte) error {
	if !b.client.IsConnected() {
		return fmt.Errorf("mqtt not connected")
	}
	token := b.client.Publish(topicName(b.prefix, channel, "/"), 0, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *MQTT) Subscribe(channel string, h Handler) error {
	return b.subscribe(channel, h, b.attach)
}

func (b *MQTT) attach(channel string) error {
	token := b.client.Subscribe(topicName(b.prefix, channel, "/"), 0, func(_ mqtt.Client, msg mqtt.Message) {
		b.receive(channel, msg.Payload())
	})
	token.Wait()
	return token.Error()
}

func (b *MQTT) Close() error {
	b.client.Disconnect(250)
	return b.local.Close()
}
