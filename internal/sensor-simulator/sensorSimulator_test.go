package sensor_simulator

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/model"
	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/model/entities"
	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/model/messages"
	"github.com/LeonardoBeccarini/greenhouse_monitor/pkg/rabbitmq"
	"github.com/LeonardoBeccarini/greenhouse_monitor/pkg/rabbitmq/mqtttest"
)

var simNow = time.Date(2024, 1, 31, 10, 0, 0, 0, time.UTC)

func newTestSimulator(t *testing.T) (*SensorSimulator, *mqtttest.Broker) {
	t.Helper()
	broker := mqtttest.NewBroker()
	client := broker.Client()
	gen := NewGenerator(WithRand(rand.New(rand.NewPCG(7, 11))))
	sim := NewSensorSimulator(
		rabbitmq.NewMultiConsumer(client, Subscriptions(), nil, nil),
		rabbitmq.NewPublisher(client, nil),
		gen, entities.DefaultFleet().Greenhouses, nil,
	)
	sim.now = func() time.Time { return simNow }
	return sim, broker
}

func decode[T any](t *testing.T, payloads [][]byte) []T {
	t.Helper()
	out := make([]T, 0, len(payloads))
	for _, p := range payloads {
		var v T
		require.NoError(t, json.Unmarshal(p, &v))
		out = append(out, v)
	}
	return out
}

func TestPublishReadingsCoversEveryGreenhouseAndType(t *testing.T) {
	sim, broker := newTestSimulator(t)

	n := sim.PublishReadings(simNow)
	assert.Equal(t, 4*len(entities.MeasurementTypes), n)

	readings := decode[model.ReadingEvent](t, broker.PublishedOn("greenhouse/data/g3"))
	require.Len(t, readings, 3)
	for i, r := range readings {
		assert.Equal(t, "g3", r.GreenhouseID)
		assert.Equal(t, entities.MeasurementTypes[i], r.Type)
		assert.Equal(t, simNow, r.Timestamp)
	}
	for _, p := range broker.Published() {
		assert.Equal(t, byte(0), p.QoS)
	}
}

func TestRefreshCommandPublishesRequestedScope(t *testing.T) {
	sim, broker := newTestSimulator(t)
	payload, _ := json.Marshal(model.RefreshCommand{CommandID: "c1", GreenhouseID: "g2", Scope: entities.RefreshScope(entities.Humidity)})

	require.NoError(t, sim.handleMessage("command/refresh/+", mqtttest.NewMessage("command/refresh/g2", payload)))
	readings := decode[model.ReadingEvent](t, broker.PublishedOn("greenhouse/data/+"))
	require.Len(t, readings, 1)
	assert.Equal(t, entities.Humidity, readings[0].Type)
	assert.Equal(t, "g2", readings[0].GreenhouseID)

	// redelivery con lo stesso payload viene ignorata
	require.NoError(t, sim.handleMessage("command/refresh/+", mqtttest.NewMessage("command/refresh/g2", payload)))
	assert.Len(t, broker.PublishedOn("greenhouse/data/+"), 1)
}

func TestRefreshAllAndUnknownGreenhouse(t *testing.T) {
	sim, broker := newTestSimulator(t)

	all, _ := json.Marshal(model.RefreshCommand{CommandID: "c2", Scope: entities.RefreshAll})
	require.NoError(t, sim.handleMessage("", mqtttest.NewMessage("command/refresh/g4", all)))
	assert.Len(t, broker.PublishedOn("greenhouse/data/g4"), 3)

	unknown, _ := json.Marshal(model.RefreshCommand{CommandID: "c3", GreenhouseID: "g99"})
	require.NoError(t, sim.handleMessage("", mqtttest.NewMessage("command/refresh/g99", unknown)))
	assert.Len(t, broker.PublishedOn("greenhouse/data/+"), 3)

	assert.Error(t, sim.handleMessage("", mqtttest.NewMessage("command/refresh/g1", []byte("{"))))
}

func TestRecomputePublishesStatesThenCompletion(t *testing.T) {
	sim, broker := newTestSimulator(t)
	from := time.Date(2024, 1, 1, 15, 30, 0, 0, time.UTC)
	payload, _ := json.Marshal(model.RecomputeCommand{TicketID: "t-1", GreenhouseID: "g1", From: from, To: simNow})

	require.NoError(t, sim.handleMessage("", mqtttest.NewMessage("command/recompute/g1", payload)))

	states := decode[model.StateEvent](t, broker.PublishedOn("greenhouse/state/g1"))
	require.Len(t, states, 31)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), states[0].Timestamp, "window aligned to midnight")
	for _, s := range states {
		assert.True(t, s.State.Valid())
	}

	done := decode[model.RecomputedEvent](t, broker.PublishedOn("event/recomputed/g1"))
	require.Len(t, done, 1)
	assert.Equal(t, "t-1", done[0].TicketID)
	assert.Equal(t, "OK", done[0].Status)
	assert.Equal(t, 31, done[0].States)

	// l'evento di completamento segue tutti gli stati
	all := broker.Published()
	assert.Equal(t, "event/recomputed/g1", all[len(all)-1].Topic)
	assert.Equal(t, byte(1), all[len(all)-1].QoS)
}

func TestRecomputeDefaultsToThirtyDays(t *testing.T) {
	sim, broker := newTestSimulator(t)
	payload, _ := json.Marshal(model.RecomputeCommand{TicketID: "t-2", GreenhouseID: "g2"})

	require.NoError(t, sim.handleMessage("", mqtttest.NewMessage("command/recompute/g2", payload)))
	states := decode[model.StateEvent](t, broker.PublishedOn("greenhouse/state/g2"))
	require.NotEmpty(t, states)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), states[0].Timestamp)
	assert.False(t, states[len(states)-1].Timestamp.After(simNow))
}

func TestRecomputeFailures(t *testing.T) {
	sim, broker := newTestSimulator(t)

	unknown, _ := json.Marshal(model.RecomputeCommand{TicketID: "t-3", GreenhouseID: "g42"})
	require.NoError(t, sim.handleMessage("", mqtttest.NewMessage("command/recompute/g42", unknown)))
	done := decode[model.RecomputedEvent](t, broker.PublishedOn("event/recomputed/g42"))
	require.Len(t, done, 1)
	assert.Equal(t, "FAIL", done[0].Status)
	assert.Equal(t, "unknown greenhouse", done[0].Reason)

	assert.Error(t, sim.handleMessage("", mqtttest.NewMessage("command/recompute/g1", []byte("nope"))))
	assert.Error(t, sim.handleMessage("", mqtttest.NewMessage("other/g1", []byte("{}"))))
}

func TestStartPublishesAndAnswersCommands(t *testing.T) {
	sim, broker := newTestSimulator(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sim.Start(ctx, time.Hour) }()

	require.True(t, broker.WaitSubscribed(messages.Wildcard(messages.TopicRecompute), time.Second))
	assert.Len(t, broker.WaitFor("greenhouse/data/+", 12, time.Second), 12)

	payload, _ := json.Marshal(model.RecomputeCommand{TicketID: "t-live", GreenhouseID: "g3", From: simNow.Add(-48 * time.Hour), To: simNow})
	broker.Client().Publish("command/recompute/g3", 1, false, payload)
	assert.Len(t, broker.WaitFor("event/recomputed/g3", 1, time.Second), 1)

	cancel()
	require.NoError(t, <-done)
}

func TestStartFailsWhenSubscribeFails(t *testing.T) {
	sim, broker := newTestSimulator(t)
	broker.FailSubscribe(messages.Wildcard(messages.TopicRefresh), errors.New("acl"))

	err := sim.Start(context.Background(), time.Hour)
	assert.ErrorContains(t, err, "acl")
}
