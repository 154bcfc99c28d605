// Package mqtt provides the message-bus-backed QueueNotifier. Events are
// published to a broker topic so that observers in other processes see
// the same queue-state stream as local ones.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/sotramsa/enruta/core/clock"
	"github.com/sotramsa/enruta/core/logger"
	"github.com/sotramsa/enruta/core/queue"
)

// Config defines the connection parameters for the Paho MQTT notifier.
type Config struct {
	Enabled  bool   `json:"enabled"`
	Broker   string `json:"broker"`
	ClientID string `json:"client_id"`
	Username string `json:"username"`
	Password string `json:"password"`
	Topic    string `json:"topic"`
	QoS      byte   `json:"qos"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.ClientID == "" {
		c.ClientID = "enruta-" + uuid.NewString()[:8]
	}
	if c.Topic == "" {
		c.Topic = "enruta/queue/events"
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Broker == "" {
		return fmt.Errorf("mqtt: broker is required")
	}
	return nil
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// Notifier implements queue.Notifier over an MQTT topic. Local
// subscribers receive both locally published events and events published
// by other processes on the same topic.
type Notifier struct {
	cli      pahoClient
	topic    string
	qos      byte
	snapshot queue.SnapshotFunc
	clock    clock.Clock
	log      logger.Logger

	mu         sync.Mutex
	subs       map[string]*queue.Subscriber
	subscribed bool
	closed     bool
}

// NewNotifier connects to the broker described by cfg.
func NewNotifier(cfg Config, snapshot queue.SnapshotFunc, clk clock.Clock, log logger.Logger) (*Notifier, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true)
	cli := newMQTTClient(opts)
	token := cli.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt: connect timeout to %s", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect: %w", err)
	}
	return &Notifier{
		cli:      cli,
		topic:    cfg.Topic,
		qos:      cfg.QoS,
		snapshot: snapshot,
		clock:    clk,
		log:      log,
		subs:     map[string]*queue.Subscriber{},
	}, nil
}

// Subscribe registers a local observer and replays the queue snapshot to
// it. The broker topic subscription is established lazily on the first
// subscriber.
func (n *Notifier) Subscribe(ctx context.Context) (*queue.Subscriber, error) {
	var state any
	if n.snapshot != nil {
		s, err := n.snapshot(ctx)
		if err != nil {
			return nil, err
		}
		state = s
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.subscribed {
		token := n.cli.Subscribe(n.topic, n.qos, n.onMessage)
		if !token.WaitTimeout(10 * time.Second) {
			return nil, fmt.Errorf("mqtt: subscribe timeout on %s", n.topic)
		}
		if err := token.Error(); err != nil {
			return nil, fmt.Errorf("mqtt: subscribe: %w", err)
		}
		n.subscribed = true
	}

	sub := queue.NewSubscriber(0)
	sub.Offer(n.event(queue.EventConnected, map[string]string{"subscriber": sub.ID}))
	sub.Offer(n.event(queue.EventInitialState, state))
	n.subs[sub.ID] = sub
	return sub, nil
}

// Unsubscribe removes the local observer.
func (n *Notifier) Unsubscribe(sub *queue.Subscriber) {
	if sub == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.subs[sub.ID]; ok {
		delete(n.subs, sub.ID)
		sub.Close()
	}
}

// Publish sends the event to the broker topic. Delivery to local
// subscribers happens through the broker echo so every process observes
// the same ordering.
func (n *Notifier) Publish(event string, data any) {
	payload, err := json.Marshal(n.event(event, data))
	if err != nil {
		n.log.Errorf("mqtt notifier: marshal event: %v", err)
		return
	}
	token := n.cli.Publish(n.topic, n.qos, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		n.log.Warnf("mqtt notifier: publish timeout on %s", n.topic)
		return
	}
	if err := token.Error(); err != nil {
		n.log.Errorf("mqtt notifier: publish: %v", err)
	}
}

// Close drops all local subscribers and disconnects from the broker.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	for id, sub := range n.subs {
		delete(n.subs, id)
		sub.Close()
	}
	n.mu.Unlock()
	n.cli.Disconnect(250)
}

func (n *Notifier) onMessage(_ paho.Client, msg paho.Message) {
	var ev queue.Event
	if err := json.Unmarshal(msg.Payload(), &ev); err != nil {
		n.log.Warnf("mqtt notifier: bad event payload: %v", err)
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for id, sub := range n.subs {
		if !sub.Offer(ev) {
			delete(n.subs, id)
			sub.Close()
			n.log.Warnf("dropping stalled queue subscriber %s", id)
		}
	}
}

func (n *Notifier) event(name string, data any) queue.Event {
	now := time.Now()
	if n.clock != nil {
		now = n.clock.Now()
	}
	return queue.Event{Event: name, Data: data, Timestamp: now.Format(time.RFC3339)}
}
