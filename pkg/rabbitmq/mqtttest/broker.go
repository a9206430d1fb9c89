// Package mqtttest fornisce un broker MQTT in memoria per i test.
package mqtttest

import (
	"errors"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Published is a message seen by the broker.
type Published struct {
	Topic   string
	QoS     byte
	Payload []byte
}

type subscription struct {
	filter   string
	callback mqtt.MessageHandler
}

// Broker instrada i publish ai sottoscrittori in modo sincrono, con wildcard + e #.
type Broker struct {
	mu         sync.Mutex
	subs       []subscription
	published  []Published
	failTopics map[string]error
	publishErr error
}

func NewBroker() *Broker {
	return &Broker{failTopics: map[string]error{}}
}

// FailSubscribe makes every Subscribe to filter fail with err.
func (b *Broker) FailSubscribe(filter string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failTopics[filter] = err
}

// FailPublish makes every Publish fail with err; nil restores it.
func (b *Broker) FailPublish(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishErr = err
}

func (b *Broker) Published() []Published {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Published, len(b.published))
	copy(out, b.published)
	return out
}

// PublishedOn returns the payloads sent to topics matching filter.
func (b *Broker) PublishedOn(filter string) [][]byte {
	var out [][]byte
	for _, p := range b.Published() {
		if Match(filter, p.Topic) {
			out = append(out, p.Payload)
		}
	}
	return out
}

func (b *Broker) Subscriptions() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.subs))
	for _, s := range b.subs {
		out = append(out, s.filter)
	}
	return out
}

// WaitFor polls until n messages matching filter have been published or timeout expires.
func (b *Broker) WaitFor(filter string, n int, timeout time.Duration) [][]byte {
	deadline := time.Now().Add(timeout)
	for {
		got := b.PublishedOn(filter)
		if len(got) >= n || time.Now().After(deadline) {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// WaitSubscribed polls until filter has a subscriber.
func (b *Broker) WaitSubscribed(filter string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, s := range b.Subscriptions() {
			if s == filter {
				return true
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

// Client returns a connected client bound to the broker.
func (b *Broker) Client() mqtt.Client {
	return &client{broker: b, connected: true}
}

func (b *Broker) publish(topic string, qos byte, payload interface{}) error {
	var data []byte
	switch p := payload.(type) {
	case []byte:
		data = p
	case string:
		data = []byte(p)
	default:
		return errors.New("mqtttest: unsupported payload type")
	}

	b.mu.Lock()
	if b.publishErr != nil {
		err := b.publishErr
		b.mu.Unlock()
		return err
	}
	b.published = append(b.published, Published{Topic: topic, QoS: qos, Payload: data})
	var targets []mqtt.MessageHandler
	for _, s := range b.subs {
		if Match(s.filter, topic) {
			targets = append(targets, s.callback)
		}
	}
	b.mu.Unlock()

	for _, cb := range targets {
		cb(nil, &message{topic: topic, qos: qos, payload: data})
	}
	return nil
}

// Match reports whether topic matches an MQTT filter.
func Match(filter, topic string) bool {
	f := strings.Split(filter, "/")
	t := strings.Split(topic, "/")
	for i, part := range f {
		if part == "#" {
			return true
		}
		if i >= len(t) {
			return false
		}
		if part != "+" && part != t[i] {
			return false
		}
	}
	return len(f) == len(t)
}

var _ mqtt.Client = (*client)(nil)

type client struct {
	broker    *Broker
	mu        sync.Mutex
	connected bool
}

func (c *client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *client) IsConnectionOpen() bool { return c.IsConnected() }

func (c *client) Connect() mqtt.Token {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return done(nil)
}

func (c *client) Disconnect(uint) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

func (c *client) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	return done(c.broker.publish(topic, qos, payload))
}

func (c *client) Subscribe(topic string, _ byte, callback mqtt.MessageHandler) mqtt.Token {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failTopics[topic]; err != nil {
		return done(err)
	}
	b.subs = append(b.subs, subscription{filter: topic, callback: callback})
	return done(nil)
}

func (c *client) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	for f, q := range filters {
		if t := c.Subscribe(f, q, callback); t.Error() != nil {
			return t
		}
	}
	return done(nil)
}

func (c *client) Unsubscribe(topics ...string) mqtt.Token {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.subs[:0]
	for _, s := range b.subs {
		drop := false
		for _, t := range topics {
			if s.filter == t {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, s)
		}
	}
	b.subs = kept
	return done(nil)
}

func (c *client) AddRoute(topic string, callback mqtt.MessageHandler) {
	c.Subscribe(topic, 0, callback)
}

func (c *client) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.ClientOptionsReader{}
}

type token struct {
	err error
	ch  chan struct{}
}

func done(err error) mqtt.Token {
	ch := make(chan struct{})
	close(ch)
	return &token{err: err, ch: ch}
}

func (t *token) Wait() bool                     { return true }
func (t *token) WaitTimeout(time.Duration) bool { return true }
func (t *token) Done() <-chan struct{}          { return t.ch }
func (t *token) Error() error                   { return t.err }

type message struct {
	topic   string
	qos     byte
	payload []byte
}

// NewMessage builds a message for calling handlers directly.
func NewMessage(topic string, payload []byte) mqtt.Message {
	return &message{topic: topic, payload: payload}
}

func (m *message) Duplicate() bool   { return false }
func (m *message) Qos() byte         { return m.qos }
func (m *message) Retained() bool    { return false }
func (m *message) Topic() string     { return m.topic }
func (m *message) MessageID() uint16 { return 0 }
func (m *message) Payload() []byte   { return m.payload }
func (m *message) Ack()              {}
