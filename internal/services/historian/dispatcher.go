package historian

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/dataaccess"
	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/logging"
	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/model"
	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/model/entities"
	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/model/messages"
	"github.com/LeonardoBeccarini/greenhouse_monitor/pkg/dedup"
	"github.com/LeonardoBeccarini/greenhouse_monitor/pkg/rabbitmq"
)

// RefreshCoalesceWindow: refresh identici (serra + scope) entro la finestra partono una volta sola.
const RefreshCoalesceWindow = 2 * time.Second

// Dispatcher pubblica i comandi verso il simulatore. Ogni ricalcolo ha un ticket:
// la chiamata resta in attesa finché arriva il RecomputedEvent con lo stesso ticket.
type Dispatcher struct {
	pub     rabbitmq.IPublisher
	refresh *dedup.Deduper
	log     logging.Logger
	now     func() time.Time
	newID   func() string
	metrics *Metrics

	mu      sync.Mutex
	waiters map[string]chan model.RecomputedEvent
}

var _ CommandDispatcher = (*Dispatcher)(nil)

func NewDispatcher(pub rabbitmq.IPublisher, metrics *Metrics, log logging.Logger) *Dispatcher {
	if log == nil {
		log = logging.NewNop()
	}
	return &Dispatcher{
		pub:     pub,
		refresh: dedup.New(RefreshCoalesceWindow, 1000),
		log:     log,
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
		metrics: metrics,
		waiters: make(map[string]chan model.RecomputedEvent),
	}
}

func (d *Dispatcher) Refresh(_ context.Context, greenhouseID string, scope entities.RefreshScope) (bool, error) {
	if !d.refresh.ShouldProcess(greenhouseID + "|" + string(scope)) {
		d.log.Debugf("historian: refresh %s/%s coalesced", greenhouseID, scope)
		return true, nil
	}
	cmd := model.RefreshCommand{
		CommandID:    d.newID(),
		GreenhouseID: greenhouseID,
		Scope:        scope,
		Timestamp:    d.now().UTC(),
	}
	if err := d.pub.PublishMessage(messages.For(messages.TopicRefresh, greenhouseID), cmd); err != nil {
		return false, &dataaccess.TransportError{Op: "refresh measurements", Err: err}
	}
	return true, nil
}

// Recompute non ha timeout proprio: termina con l'evento o con ctx.
func (d *Dispatcher) Recompute(ctx context.Context, greenhouseID string, from, to time.Time) (bool, error) {
	cmd := model.RecomputeCommand{
		TicketID:     d.newID(),
		GreenhouseID: greenhouseID,
		From:         from.UTC(),
		To:           to.UTC(),
		Timestamp:    d.now().UTC(),
	}
	ch := make(chan model.RecomputedEvent, 1)
	d.mu.Lock()
	d.waiters[cmd.TicketID] = ch
	d.mu.Unlock()
	defer d.forget(cmd.TicketID)

	if err := d.pub.PublishMessage(messages.For(messages.TopicRecompute, greenhouseID), cmd); err != nil {
		d.observe("publish_error")
		return false, &dataaccess.TransportError{Op: "recompute states", Err: err}
	}
	d.log.Infof("historian: recompute %s ticket=%s waiting", greenhouseID, cmd.TicketID)

	select {
	case evt := <-ch:
		d.observe(evt.Status)
		if evt.Status != "OK" {
			d.log.Warnf("historian: recompute %s ticket=%s failed: %s", greenhouseID, cmd.TicketID, evt.Reason)
			return false, nil
		}
		return true, nil
	case <-ctx.Done():
		d.observe("cancelled")
		return false, &dataaccess.TransportError{Op: "recompute states", Err: ctx.Err()}
	}
}

// Complete consegna un RecomputedEvent al chiamante in attesa; ticket sconosciuti sono ignorati.
func (d *Dispatcher) Complete(evt model.RecomputedEvent) bool {
	d.mu.Lock()
	ch, ok := d.waiters[evt.TicketID]
	if ok {
		delete(d.waiters, evt.TicketID)
	}
	d.mu.Unlock()
	if !ok {
		return false
	}
	ch <- evt
	return true
}

// Pending is the number of recomputations still waiting.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.waiters)
}

func (d *Dispatcher) forget(ticket string) {
	d.mu.Lock()
	delete(d.waiters, ticket)
	d.mu.Unlock()
}

func (d *Dispatcher) observe(status string) {
	if d.metrics != nil {
		d.metrics.Recompute(status)
	}
}
