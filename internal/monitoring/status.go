package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/logging"
	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/model/entities"
)

// StatusLookback è la finestra su cui si cerca lo stato corrente di ogni serra.
const StatusLookback = 30 * 24 * time.Hour

// StatusSource is the part of DataAccess the aggregator needs.
type StatusSource interface {
	ListGreenhouses(ctx context.Context) ([]entities.Greenhouse, error)
	GetStates(ctx context.Context, greenhouseID string, from, to time.Time) ([]entities.State, error)
}

// StatusAggregator riduce la storia di ogni serra al suo ultimo stato e conta ok/warning/alarm.
type StatusAggregator struct {
	src         StatusSource
	sink        StatusSink
	log         logging.Logger
	now         func() time.Time
	concurrency int

	mu    sync.Mutex
	epoch uint64
}

type StatusOption func(*StatusAggregator)

// WithStatusClock overrides time.Now.
func WithStatusClock(now func() time.Time) StatusOption {
	return func(a *StatusAggregator) { a.now = now }
}

// WithConcurrency bounds the number of in-flight state fetches (0 = unbounded).
func WithConcurrency(n int) StatusOption {
	return func(a *StatusAggregator) { a.concurrency = n }
}

func NewStatusAggregator(src StatusSource, sink StatusSink, log logging.Logger, opts ...StatusOption) *StatusAggregator {
	if sink == nil {
		sink = nopSinks{}
	}
	if log == nil {
		log = logging.NewNop()
	}
	a := &StatusAggregator{src: src, sink: sink, log: log, now: time.Now}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Counts aggregates the current status of the greenhouses in regionID (empty = all).
// Tutte le letture partono in parallelo e il conteggio avviene solo quando sono
// terminate tutte; se una fallisce non viene pubblicato nulla.
func (a *StatusAggregator) Counts(ctx context.Context, regionID string) (entities.StatusCount, error) {
	token := a.begin()

	ghs, err := a.src.ListGreenhouses(ctx)
	if err != nil {
		a.log.Errorf("status: list greenhouses: %v", err)
		return entities.StatusCount{}, fmt.Errorf("list greenhouses: %w", err)
	}
	filtered := entities.InRegion(ghs, regionID)

	to := a.now()
	from := to.Add(-StatusLookback)
	latest := make([]*entities.State, len(filtered))

	g, gctx := errgroup.WithContext(ctx)
	if a.concurrency > 0 {
		g.SetLimit(a.concurrency)
	}
	for i, gh := range filtered {
		g.Go(func() error {
			states, err := a.src.GetStates(gctx, gh.ID, from, to)
			if err != nil {
				return fmt.Errorf("states of %s: %w", gh.ID, err)
			}
			if s, ok := entities.Latest(states); ok {
				latest[i] = &s
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		a.log.Errorf("status: region=%q: %v", regionID, err)
		return entities.StatusCount{}, err
	}

	var counts entities.StatusCount
	for _, s := range latest {
		if s != nil {
			counts.Add(s.State)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if token != a.epoch {
		return counts, ErrSuperseded
	}
	a.sink.PresentStatus(regionID, counts)
	a.log.Debugf("status: region=%q ok=%d warning=%d alarm=%d", regionID, counts.Ok, counts.Warning, counts.Alarm)
	return counts, nil
}

func (a *StatusAggregator) begin() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.epoch++
	return a.epoch
}
