package rabbitmq

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/logging"
)

// IPublisher pubblica un messaggio su un topic.
type IPublisher interface {
	PublishMessage(topic string, message interface{}) error
	Close()
}

// Publisher serializza in JSON tutto ciò che non è già string o []byte.
type Publisher struct {
	client  mqtt.Client
	log     logging.Logger
	timeout time.Duration
}

func NewPublisher(client mqtt.Client, log logging.Logger) *Publisher {
	if log == nil {
		log = logging.NewNop()
	}
	return &Publisher{client: client, log: log, timeout: 5 * time.Second}
}

func encode(message interface{}) ([]byte, error) {
	switch m := message.(type) {
	case []byte:
		return m, nil
	case string:
		return []byte(m), nil
	default:
		b, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("invalid message: %w", err)
		}
		return b, nil
	}
}

func (p *Publisher) PublishMessage(topic string, message interface{}) error {
	payload, err := encode(message)
	if err != nil {
		return err
	}
	token := p.client.Publish(topic, qosFor(topic), false, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("publish to %s: timed out after %s", topic, p.timeout)
	}
	if token.Error() != nil {
		return fmt.Errorf("failed to publish message: %w", token.Error())
	}
	p.log.Debugf("mqtt: published %d bytes to %s", len(payload), topic)
	return nil
}

func (p *Publisher) Close() {
	CloseRabbitMQConn(p.client, p.log)
}
