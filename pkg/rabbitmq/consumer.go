package rabbitmq

import (
	"context"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/logging"
)

// Handler riceve il filtro di sottoscrizione e il messaggio.
type Handler func(subscription string, message mqtt.Message) error

// IConsumer sottoscrive e blocca fino alla fine di ctx.
type IConsumer interface {
	ConsumeMessage(ctx context.Context) error
	SetHandler(handler Handler)
}

// qosFor: comandi ed eventi di stato at-least-once, letture periodiche at-most-once.
func qosFor(topic string) byte {
	t := strings.TrimSpace(topic)
	if strings.HasPrefix(t, "command/") ||
		strings.HasPrefix(t, "event/") ||
		strings.HasPrefix(t, "greenhouse/state") {
		return 1
	}
	return 0
}

// Consumer is a MultiConsumer with a single topic.
type Consumer struct {
	*MultiConsumer
}

func NewConsumer(client mqtt.Client, topic string, handler Handler, log logging.Logger) *Consumer {
	return &Consumer{NewMultiConsumer(client, []string{topic}, handler, log)}
}

type MultiConsumer struct {
	client  mqtt.Client
	topics  []string
	handler Handler
	log     logging.Logger
}

func NewMultiConsumer(client mqtt.Client, topics []string, handler Handler, log logging.Logger) *MultiConsumer {
	if log == nil {
		log = logging.NewNop()
	}
	return &MultiConsumer{client: client, topics: topics, handler: handler, log: log}
}

func (m *MultiConsumer) SetHandler(handler Handler) {
	m.handler = handler
}

// ConsumeMessage sottoscrive tutti i topic; se una sottoscrizione fallisce annulla
// quelle già fatte e ritorna l'errore. Altrimenti blocca fino a ctx.Done().
func (m *MultiConsumer) ConsumeMessage(ctx context.Context) error {
	subscribed := make([]string, 0, len(m.topics))
	for _, topic := range m.topics {
		topic := topic
		token := m.client.Subscribe(topic, qosFor(topic), func(_ mqtt.Client, msg mqtt.Message) {
			h := m.handler
			if h == nil {
				m.log.Warnf("mqtt: no handler set for topic %s", topic)
				return
			}
			if err := h(topic, msg); err != nil {
				m.log.Errorf("mqtt: error handling message on %s: %v", msg.Topic(), err)
			}
		})
		token.Wait()
		if err := token.Error(); err != nil {
			m.log.Errorf("mqtt: error subscribing to topic %s: %v", topic, err)
			m.unsubscribe(subscribed)
			return err
		}
		subscribed = append(subscribed, topic)
		m.log.Infof("mqtt: subscribed to topic %s", topic)
	}

	<-ctx.Done()
	m.unsubscribe(subscribed)
	return nil
}

func (m *MultiConsumer) unsubscribe(topics []string) {
	if len(topics) == 0 {
		return
	}
	m.client.Unsubscribe(topics...).Wait()
}
