package notifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"github.com/pfrederiksen/hockeygamebot/internal/render"
)

// AMQPNotifier publishes JSON payloads to a topic exchange, one routing key
// per event type unless a channel is given.
type AMQPNotifier struct {
	url      string
	exchange string

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewAMQPNotifier connects to the broker and declares the exchange.
func NewAMQPNotifier(url, exchange string) (*AMQPNotifier, error) {
	if url == "" {
		return nil, fmt.Errorf("AMQP URL is required")
	}
	if exchange == "" {
		exchange = "hockeygamebot"
	}
	n := &AMQPNotifier{url: url, exchange: exchange}
	if err := n.connect(); err != nil {
		return nil, err
	}
	return n, nil
}

// connect must be called with mu held or before the notifier is shared.
func (n *AMQPNotifier) connect() error {
	conn, err := amqp.DialConfig(n.url, amqp.Config{
		Heartbeat: 60 * time.Second,
		Locale:    "en_US",
	})
	if err != nil {
		return fmt.Errorf("failed to connect to AMQP: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		n.exchange, // name
		"topic",    // kind
		true,       // durable
		false,      // auto-deleted
		false,      // internal
		false,      // no-wait
		nil,        // arguments
	); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange %s: %w", n.exchange, err)
	}

	n.conn = conn
	n.channel = ch
	return nil
}

// Name implements Publisher.
func (n *AMQPNotifier) Name() string {
	return "amqp"
}

// Publish sends the payload JSON. The routing key is channel, or
// "game.<id>.<event>" when channel is empty.
func (n *AMQPNotifier) Publish(_ context.Context, p render.Payload, channel string) (Ack, error) {
	body, err := payloadJSON(p)
	if err != nil {
		return Ack{}, Permanent(n.Name(), err)
	}

	key := routingKey(p, channel)

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.conn == nil || n.conn.IsClosed() {
		if err := n.connect(); err != nil {
			return Ack{}, Transient(n.Name(), err)
		}
	}

	err = n.channel.Publish(n.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    p.Key,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return Ack{}, Transient(n.Name(), fmt.Errorf("publishing to %s: %w", key, err))
	}

	return Ack{Publisher: n.Name(), Channel: key, ID: p.Key, At: time.Now()}, nil
}

// Close shuts down the channel and connection.
func (n *AMQPNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.channel != nil {
		n.channel.Close()
	}
	if n.conn != nil {
		return n.conn.Close()
	}
	return nil
}

func routingKey(p render.Payload, channel string) string {
	if channel != "" {
		return channel
	}
	return fmt.Sprintf("game.%s.%s", p.GameID, p.Event)
}
