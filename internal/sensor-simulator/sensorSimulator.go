package sensor_simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/logging"
	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/model"
	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/model/messages"
	"github.com/LeonardoBeccarini/greenhouse_monitor/pkg/dedup"
	"github.com/LeonardoBeccarini/greenhouse_monitor/pkg/rabbitmq"
)

// DefaultRecomputeWindow is used when a recompute command carries no window.
const DefaultRecomputeWindow = 30 * 24 * time.Hour

// SensorSimulator pubblica letture live per tutte le serre e risponde ai comandi
// di refresh e di ricalcolo degli stati.
type SensorSimulator struct {
	greenhouses map[string]model.Greenhouse
	order       []string
	generator   *Generator
	publisher   rabbitmq.IPublisher
	consumer    rabbitmq.IConsumer
	deduper     *dedup.Deduper
	log         logging.Logger
	now         func() time.Time
}

func NewSensorSimulator(consumer rabbitmq.IConsumer, publisher rabbitmq.IPublisher,
	gen *Generator, greenhouses []model.Greenhouse, log logging.Logger) *SensorSimulator {
	if log == nil {
		log = logging.NewNop()
	}
	s := &SensorSimulator{
		greenhouses: make(map[string]model.Greenhouse, len(greenhouses)),
		generator:   gen,
		publisher:   publisher,
		consumer:    consumer,
		deduper:     dedup.New(2*time.Minute, 10000), // TTL e cap
		log:         log,
		now:         time.Now,
	}
	for _, g := range greenhouses {
		if _, dup := s.greenhouses[g.ID]; dup {
			continue
		}
		s.greenhouses[g.ID] = g
		s.order = append(s.order, g.ID)
	}
	return s
}

// Subscriptions are the command topics the simulator listens to.
func Subscriptions() []string {
	return []string{messages.Wildcard(messages.TopicRefresh), messages.Wildcard(messages.TopicRecompute)}
}

// Start riceve i comandi e pubblica una lettura per serra e tipo a ogni intervallo.
func (s *SensorSimulator) Start(ctx context.Context, interval time.Duration) error {
	s.consumer.SetHandler(s.handleMessage)
	errc := make(chan error, 1)
	go func() { errc <- s.consumer.ConsumeMessage(ctx) }()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer s.publisher.Close()

	s.PublishReadings(s.now())
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			if err != nil {
				return fmt.Errorf("consume commands: %w", err)
			}
			return nil
		case <-ticker.C:
			s.PublishReadings(s.now())
		}
	}
}

// PublishReadings publishes every measurement type of every greenhouse at the given instant.
func (s *SensorSimulator) PublishReadings(at time.Time) int {
	n := 0
	for _, gh := range s.order {
		n += s.publishReadingsFor(gh, model.MeasurementTypes, at)
	}
	return n
}

func (s *SensorSimulator) publishReadingsFor(gh string, types []model.MeasurementType, at time.Time) int {
	n := 0
	for _, t := range types {
		evt := model.ReadingEvent{
			GreenhouseID: gh,
			Type:         t,
			Value:        s.generator.ValueAt(t, gh, at),
			Timestamp:    at.UTC(),
		}
		if err := s.publisher.PublishMessage(messages.For(messages.TopicReadings, gh), evt); err != nil {
			s.log.Errorf("sensor: publish reading gh=%s type=%s: %v", gh, t, err)
			continue
		}
		n++
	}
	s.log.Debugf("sensor: published %d readings for %s", n, gh)
	return n
}

func (s *SensorSimulator) handleMessage(_ string, msg mqtt.Message) error {
	// Dedup a payload: redelivery QoS1 ha lo stesso payload → stesso hash
	if s.deduper != nil && !s.deduper.ShouldProcess(dedup.Key(msg.Payload())) {
		return nil
	}
	switch {
	case strings.HasPrefix(msg.Topic(), messages.TopicRefresh+"/"):
		return s.handleRefresh(msg)
	case strings.HasPrefix(msg.Topic(), messages.TopicRecompute+"/"):
		return s.handleRecompute(msg)
	}
	return fmt.Errorf("unexpected topic %s", msg.Topic())
}

func (s *SensorSimulator) handleRefresh(msg mqtt.Message) error {
	var cmd model.RefreshCommand
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		return fmt.Errorf("invalid RefreshCommand: %w", err)
	}
	gh := cmd.GreenhouseID
	if gh == "" {
		gh = messages.GreenhouseFromTopic(msg.Topic(), messages.TopicRefresh)
	}
	if _, ok := s.greenhouses[gh]; !ok {
		s.log.Warnf("sensor: refresh for unknown greenhouse %q ignored", gh)
		return nil
	}
	scope := cmd.Scope
	if scope == "" {
		scope = model.RefreshAll
	}
	s.log.Infof("sensor: refresh gh=%s scope=%s command=%s", gh, scope, cmd.CommandID)
	s.publishReadingsFor(gh, scope.Types(), s.now())
	return nil
}

// handleRecompute rigenera gli stati del periodo, li pubblica uno per uno e chiude con
// un RecomputedEvent con lo stesso ticket. Il periodo è allineato alla mezzanotte UTC,
// così un secondo ricalcolo sovrascrive gli stessi istanti invece di duplicarli.
func (s *SensorSimulator) handleRecompute(msg mqtt.Message) error {
	var cmd model.RecomputeCommand
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		return fmt.Errorf("invalid RecomputeCommand: %w", err)
	}
	gh := cmd.GreenhouseID
	if gh == "" {
		gh = messages.GreenhouseFromTopic(msg.Topic(), messages.TopicRecompute)
	}
	done := model.RecomputedEvent{TicketID: cmd.TicketID, GreenhouseID: gh}

	if _, ok := s.greenhouses[gh]; !ok {
		done.Status, done.Reason = "FAIL", "unknown greenhouse"
		return s.publishDone(done)
	}

	to := cmd.To
	if to.IsZero() {
		to = s.now()
	}
	from := cmd.From
	if from.IsZero() {
		from = to.Add(-DefaultRecomputeWindow)
	}
	from = from.UTC().Truncate(24 * time.Hour)

	states := s.generator.GenerateStates(gh, from, to)
	for _, st := range states {
		evt := model.StateEvent{GreenhouseID: gh, State: st.State, Comment: st.Comment, Timestamp: st.CreatedAt}
		if err := s.publisher.PublishMessage(messages.For(messages.TopicStates, gh), evt); err != nil {
			done.Status, done.Reason = "FAIL", err.Error()
			done.States = 0
			s.log.Errorf("sensor: recompute gh=%s ticket=%s: %v", gh, cmd.TicketID, err)
			return s.publishDone(done)
		}
		done.States++
	}
	done.Status = "OK"
	s.log.Infof("sensor: recomputed %d states for %s ticket=%s", done.States, gh, cmd.TicketID)
	return s.publishDone(done)
}

func (s *SensorSimulator) publishDone(evt model.RecomputedEvent) error {
	evt.Timestamp = s.now().UTC()
	return s.publisher.PublishMessage(messages.For(messages.TopicRecomputed, evt.GreenhouseID), evt)
}
