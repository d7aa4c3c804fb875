package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/pfrederiksen/hockeygamebot/internal/render"
)

// MQTT quality of service levels.
const (
	QoSAtMostOnce  = 0
	QoSAtLeastOnce = 1
)

// MQTTNotifier publishes JSON payloads to an MQTT broker.
type MQTTNotifier struct {
	client      mqtt.Client
	topicPrefix string
	timeout     time.Duration
}

// MQTTOptions configures the MQTT notifier.
type MQTTOptions struct {
	Broker      string
	Username    string
	Password    string
	ClientID    string
	TopicPrefix string
}

// NewMQTTNotifier connects to the broker.
func NewMQTTNotifier(o MQTTOptions) (*MQTTNotifier, error) {
	if o.Broker == "" {
		return nil, fmt.Errorf("MQTT broker is required")
	}
	if o.ClientID == "" {
		o.ClientID = fmt.Sprintf("hockeygamebot_%d", time.Now().Unix())
	}
	if o.TopicPrefix == "" {
		o.TopicPrefix = "hockeygamebot"
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(o.Broker)
	opts.SetClientID(o.ClientID)
	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect: %w", token.Error())
	}

	return &MQTTNotifier{client: client, topicPrefix: o.TopicPrefix, timeout: 10 * time.Second}, nil
}

// Name implements Publisher.
func (n *MQTTNotifier) Name() string {
	return "mqtt"
}

// Publish sends the payload JSON to channel, or to
// "<prefix>/games/<id>/<event>" when channel is empty.
func (n *MQTTNotifier) Publish(_ context.Context, p render.Payload, channel string) (Ack, error) {
	body, err := payloadJSON(p)
	if err != nil {
		return Ack{}, Permanent(n.Name(), err)
	}

	topic := n.topic(p, channel)

	token := n.client.Publish(topic, QoSAtLeastOnce, false, body)
	if !token.WaitTimeout(n.timeout) {
		return Ack{}, Transient(n.Name(), fmt.Errorf("publishing to %s: timed out", topic))
	}
	if err := token.Error(); err != nil {
		return Ack{}, Transient(n.Name(), fmt.Errorf("publishing to %s: %w", topic, err))
	}

	return Ack{Publisher: n.Name(), Channel: topic, ID: p.Key, At: time.Now()}, nil
}

func (n *MQTTNotifier) topic(p render.Payload, channel string) string {
	if channel != "" {
		return channel
	}
	return fmt.Sprintf("%s/games/%s/%s", n.topicPrefix, p.GameID, p.Event)
}

// Close disconnects from the broker.
func (n *MQTTNotifier) Close() error {
	if n.client.IsConnected() {
		n.client.Disconnect(250)
	}
	return nil
}

func payloadJSON(p render.Payload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	return data, nil
}
