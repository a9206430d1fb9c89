package historian

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"

	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/logging"
	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/model"
	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/model/messages"
	"github.com/LeonardoBeccarini/greenhouse_monitor/pkg/dedup"
	"github.com/LeonardoBeccarini/greenhouse_monitor/pkg/rabbitmq"
)

// IngestTopics are the subscriptions of the ingestor.
func IngestTopics() []string {
	return []string{
		messages.Wildcard(messages.TopicReadings),
		messages.Wildcard(messages.TopicStates),
		messages.Wildcard(messages.TopicRecomputed),
	}
}

// Ingestor scrive letture e stati su Influx e consegna gli eventi di ricalcolo al Dispatcher.
type Ingestor struct {
	consumer   rabbitmq.IConsumer
	writer     PointWriter
	dispatcher *Dispatcher
	deduper    *dedup.Deduper
	metrics    *Metrics
	log        logging.Logger

	mu      sync.RWMutex
	lastErr time.Time
}

func NewIngestor(consumer rabbitmq.IConsumer, writer PointWriter, dispatcher *Dispatcher, metrics *Metrics, log logging.Logger) *Ingestor {
	if log == nil {
		log = logging.NewNop()
	}
	return &Ingestor{
		consumer:   consumer,
		writer:     writer,
		dispatcher: dispatcher,
		deduper:    dedup.New(2*time.Minute, 10000),
		metrics:    metrics,
		log:        log,
		lastErr:    time.Now().Add(-24 * time.Hour), // di default "lontano nel tempo"
	}
}

// Start blocca finché ctx non termina.
func (in *Ingestor) Start(ctx context.Context) error {
	in.consumer.SetHandler(func(_ string, msg mqtt.Message) error {
		return in.Handle(ctx, msg.Topic(), msg.Payload())
	})
	return in.consumer.ConsumeMessage(ctx)
}

// Handle decodifica e instrada un messaggio in base al topic.
func (in *Ingestor) Handle(ctx context.Context, topic string, payload []byte) error {
	// redelivery QoS1: stesso payload, stesso hash
	if !in.deduper.ShouldProcess(dedup.Key(payload)) {
		return nil
	}
	var err error
	switch {
	case strings.HasPrefix(topic, messages.TopicReadings+"/"):
		err = in.reading(ctx, topic, payload)
	case strings.HasPrefix(topic, messages.TopicStates+"/"):
		err = in.state(ctx, topic, payload)
	case strings.HasPrefix(topic, messages.TopicRecomputed+"/"):
		err = in.recomputed(topic, payload)
	default:
		err = fmt.Errorf("unexpected topic %s", topic)
	}
	if err != nil {
		in.markError()
		if in.metrics != nil {
			in.metrics.IngestError()
		}
	}
	return err
}

func (in *Ingestor) reading(ctx context.Context, topic string, payload []byte) error {
	var evt model.ReadingEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return fmt.Errorf("invalid ReadingEvent on %s: %w", topic, err)
	}
	if evt.GreenhouseID == "" {
		evt.GreenhouseID = messages.GreenhouseFromTopic(topic, messages.TopicReadings)
	}
	if evt.Type == "" {
		return fmt.Errorf("reading on %s without m_type", topic)
	}
	t := evt.Timestamp
	if t.IsZero() {
		t = time.Now()
	}
	p := influxdb2.NewPoint(MeasurementSeries,
		map[string]string{tagGreenhouse: evt.GreenhouseID, tagType: string(evt.Type)},
		map[string]interface{}{fieldValue: evt.Value},
		t)
	if err := in.writer.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("write reading: %w", err)
	}
	in.ingested("reading")
	return nil
}

func (in *Ingestor) state(ctx context.Context, topic string, payload []byte) error {
	var evt model.StateEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return fmt.Errorf("invalid StateEvent on %s: %w", topic, err)
	}
	if !evt.State.Valid() {
		return fmt.Errorf("state event on %s with unknown level %d", topic, int(evt.State))
	}
	if evt.GreenhouseID == "" {
		evt.GreenhouseID = messages.GreenhouseFromTopic(topic, messages.TopicStates)
	}
	t := evt.Timestamp
	if t.IsZero() {
		t = time.Now()
	}
	values := map[string]interface{}{fieldState: int64(evt.State)}
	// senza commento il campo resta quello già salvato dall'operatore
	if evt.Comment != "" {
		values[fieldComment] = evt.Comment
	}
	p := influxdb2.NewPoint(StateSeries,
		map[string]string{tagGreenhouse: evt.GreenhouseID},
		values,
		t)
	if err := in.writer.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	in.ingested("state")
	return nil
}

func (in *Ingestor) recomputed(topic string, payload []byte) error {
	var evt model.RecomputedEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return fmt.Errorf("invalid RecomputedEvent on %s: %w", topic, err)
	}
	if in.dispatcher == nil || !in.dispatcher.Complete(evt) {
		in.log.Debugf("historian: recomputed event for unknown ticket %s", evt.TicketID)
	}
	return nil
}

func (in *Ingestor) ingested(kind string) {
	if in.metrics != nil {
		in.metrics.Ingested(kind)
	}
}

func (in *Ingestor) markError() {
	in.mu.Lock()
	in.lastErr = time.Now()
	in.mu.Unlock()
}

// LastErrorAge ritorna da quanto tempo non si verificano errori di ingestione.
func (in *Ingestor) LastErrorAge() time.Duration {
	if in == nil {
		return 99999 * time.Hour
	}
	in.mu.RLock()
	t := in.lastErr
	in.mu.RUnlock()
	return time.Since(t)
}
