package historian

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/dataaccess"
	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/model"
	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/model/entities"
	"github.com/LeonardoBeccarini/greenhouse_monitor/pkg/rabbitmq"
	"github.com/LeonardoBeccarini/greenhouse_monitor/pkg/rabbitmq/mqtttest"
)

func newTestDispatcher(broker *mqtttest.Broker) *Dispatcher {
	d := NewDispatcher(rabbitmq.NewPublisher(broker.Client(), nil), NewMetrics(), nil)
	n := 0
	d.newID = func() string {
		n++
		return fmt.Sprintf("ticket-%d", n)
	}
	d.now = func() time.Time { return storeNow }
	return d
}

func TestDispatcherRefreshPublishesAndCoalesces(t *testing.T) {
	broker := mqtttest.NewBroker()
	d := newTestDispatcher(broker)

	for i := 0; i < 3; i++ {
		ack, err := d.Refresh(context.Background(), "g1", entities.RefreshScope(entities.Temperature))
		require.NoError(t, err)
		assert.True(t, ack)
	}
	_, err := d.Refresh(context.Background(), "g1", entities.RefreshAll)
	require.NoError(t, err)

	got := broker.PublishedOn("command/refresh/g1")
	require.Len(t, got, 2)
	var cmd model.RefreshCommand
	require.NoError(t, json.Unmarshal(got[0], &cmd))
	assert.Equal(t, "ticket-1", cmd.CommandID)
	assert.Equal(t, entities.RefreshScope("T"), cmd.Scope)
}

func TestDispatcherRefreshPublishFailure(t *testing.T) {
	broker := mqtttest.NewBroker()
	broker.FailPublish(errors.New("broker gone"))
	d := newTestDispatcher(broker)

	ack, err := d.Refresh(context.Background(), "g1", entities.RefreshAll)
	assert.False(t, ack)
	assert.True(t, dataaccess.IsTransport(err))
}

func TestDispatcherRecomputeWaitsForTicket(t *testing.T) {
	broker := mqtttest.NewBroker()
	d := newTestDispatcher(broker)

	type result struct {
		ack bool
		err error
	}
	done := make(chan result, 1)
	go func() {
		ack, err := d.Recompute(context.Background(), "g2", storeNow.Add(-time.Hour), storeNow)
		done <- result{ack, err}
	}()

	cmds := broker.WaitFor("command/recompute/g2", 1, time.Second)
	require.Len(t, cmds, 1)
	var cmd model.RecomputeCommand
	require.NoError(t, json.Unmarshal(cmds[0], &cmd))
	assert.Equal(t, "ticket-1", cmd.TicketID)
	assert.Equal(t, storeNow, cmd.To)

	assert.False(t, d.Complete(model.RecomputedEvent{TicketID: "other", Status: "OK"}))
	select {
	case <-done:
		t.Fatal("recompute returned before its ticket completed")
	case <-time.After(20 * time.Millisecond):
	}

	assert.True(t, d.Complete(model.RecomputedEvent{TicketID: "ticket-1", Status: "OK", States: 2}))
	r := <-done
	require.NoError(t, r.err)
	assert.True(t, r.ack)
	assert.Zero(t, d.Pending())
}

func TestDispatcherRecomputeFailedEventIsNack(t *testing.T) {
	broker := mqtttest.NewBroker()
	d := newTestDispatcher(broker)
	// il simulatore risponde subito sul bus
	go func() {
		broker.WaitFor("command/recompute/g1", 1, time.Second)
		for !d.Complete(model.RecomputedEvent{TicketID: "ticket-1", Status: "FAIL", Reason: "boom"}) {
			time.Sleep(time.Millisecond)
		}
	}()

	ack, err := d.Recompute(context.Background(), "g1", storeNow.Add(-time.Hour), storeNow)
	require.NoError(t, err)
	assert.False(t, ack)
}

func TestDispatcherRecomputeCancelled(t *testing.T) {
	broker := mqtttest.NewBroker()
	d := newTestDispatcher(broker)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	ack, err := d.Recompute(ctx, "g1", storeNow.Add(-time.Hour), storeNow)
	assert.False(t, ack)
	assert.True(t, dataaccess.IsTransport(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, d.Pending())
}
