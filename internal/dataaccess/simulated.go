package dataaccess

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/logging"
	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/model/entities"
	simulator "github.com/LeonardoBeccarini/greenhouse_monitor/internal/sensor-simulator"
)

// DefaultRecomputeDelay emula la latenza del ricalcolo lato server.
const DefaultRecomputeDelay = 3 * time.Second

// RefreshHook is invoked by TriggerMeasurementRefresh, e.g. to poke a live simulator.
type RefreshHook func(ctx context.Context, greenhouseID string, scope entities.RefreshScope) error

// Simulated implementa DataAccess sopra il generatore sintetico.
// Le serie vengono rigenerate ad ogni lettura; correzioni e commenti sono
// conservati in memoria e riapplicati ai record con lo stesso id.
type Simulated struct {
	fleet          entities.Fleet
	gen            *simulator.Generator
	recomputeDelay time.Duration
	onRefresh      RefreshHook
	log            logging.Logger

	mu       sync.RWMutex
	fixes    map[string]float64
	comments map[string]string
}

var _ DataAccess = (*Simulated)(nil)

type SimulatedOption func(*Simulated)

func WithGenerator(g *simulator.Generator) SimulatedOption {
	return func(s *Simulated) { s.gen = g }
}

func WithRecomputeDelay(d time.Duration) SimulatedOption {
	return func(s *Simulated) { s.recomputeDelay = d }
}

func WithRefreshHook(h RefreshHook) SimulatedOption {
	return func(s *Simulated) { s.onRefresh = h }
}

func WithLogger(l logging.Logger) SimulatedOption {
	return func(s *Simulated) {
		if l != nil {
			s.log = l
		}
	}
}

func NewSimulated(fleet entities.Fleet, opts ...SimulatedOption) *Simulated {
	s := &Simulated{
		fleet:          fleet,
		gen:            simulator.NewGenerator(),
		recomputeDelay: DefaultRecomputeDelay,
		log:            logging.NewNop(),
		fixes:          make(map[string]float64),
		comments:       make(map[string]string),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Simulated) ListRegions(_ context.Context) ([]entities.Region, error) {
	out := make([]entities.Region, len(s.fleet.Regions))
	copy(out, s.fleet.Regions)
	return out, nil
}

func (s *Simulated) ListGreenhouses(_ context.Context) ([]entities.Greenhouse, error) {
	out := make([]entities.Greenhouse, len(s.fleet.Greenhouses))
	copy(out, s.fleet.Greenhouses)
	return out, nil
}

func (s *Simulated) GetMeasurements(ctx context.Context, greenhouseID string, t entities.MeasurementType, from, to time.Time) ([]entities.Measurement, error) {
	if err := s.checkGreenhouse(ctx, "get measurements", greenhouseID); err != nil {
		return nil, err
	}
	list := s.gen.GenerateMeasurementsOf(t, greenhouseID, from, to)

	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range list {
		if v, ok := s.fixes[list[i].ID]; ok {
			list[i].Value = v
		}
	}
	return list, nil
}

func (s *Simulated) TriggerMeasurementRefresh(ctx context.Context, greenhouseID string, scope entities.RefreshScope) (bool, error) {
	if err := s.checkGreenhouse(ctx, "refresh measurements", greenhouseID); err != nil {
		return false, err
	}
	s.log.Infof("simulated: triggered sensor update gh=%s scope=%s", greenhouseID, scope)
	if s.onRefresh != nil {
		if err := s.onRefresh(ctx, greenhouseID, scope); err != nil {
			return false, &TransportError{Op: "refresh measurements", Err: err}
		}
	}
	return true, nil
}

func (s *Simulated) FixMeasurement(ctx context.Context, measurementID string, value float64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, &TransportError{Op: "fix measurement", Err: err}
	}
	if !s.knownMeasurement(measurementID) {
		return false, fmt.Errorf("measurement %q: %w", measurementID, ErrNotFound)
	}
	s.mu.Lock()
	s.fixes[measurementID] = value
	s.mu.Unlock()
	return true, nil
}

func (s *Simulated) GetStates(ctx context.Context, greenhouseID string, from, to time.Time) ([]entities.State, error) {
	if err := s.checkGreenhouse(ctx, "get states", greenhouseID); err != nil {
		return nil, err
	}
	list := s.gen.GenerateStates(greenhouseID, from, to)

	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range list {
		if c, ok := s.comments[list[i].ID]; ok {
			list[i].Comment = c
		}
	}
	return list, nil
}

func (s *Simulated) TriggerStateRecompute(ctx context.Context, greenhouseID string) (bool, error) {
	if err := s.checkGreenhouse(ctx, "recompute states", greenhouseID); err != nil {
		return false, err
	}
	if s.recomputeDelay <= 0 {
		return true, nil
	}
	timer := time.NewTimer(s.recomputeDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false, &TransportError{Op: "recompute states", Err: ctx.Err()}
	case <-timer.C:
		return true, nil
	}
}

func (s *Simulated) CommentState(ctx context.Context, stateID, comment string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, &TransportError{Op: "comment state", Err: err}
	}
	if !s.knownRecord(stateID, "s-") {
		return false, fmt.Errorf("state %q: %w", stateID, ErrNotFound)
	}
	c, err := NormalizeComment(comment)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	s.comments[stateID] = c
	s.mu.Unlock()
	return true, nil
}

func (s *Simulated) checkGreenhouse(ctx context.Context, op, greenhouseID string) error {
	if err := ctx.Err(); err != nil {
		return &TransportError{Op: op, Err: err}
	}
	if _, ok := s.fleet.Greenhouse(greenhouseID); !ok {
		return fmt.Errorf("greenhouse %q: %w", greenhouseID, ErrNotFound)
	}
	return nil
}

// knownMeasurement verifica un id "m-{gh}-{type}-{YYYY-MM-DD}".
func (s *Simulated) knownMeasurement(id string) bool {
	rest, _, ok := splitRecordID(id, "m-")
	if !ok {
		return false
	}
	sep := strings.LastIndexByte(rest, '-')
	if sep <= 0 {
		return false
	}
	if _, err := entities.ParseMeasurementType(rest[sep+1:]); err != nil {
		return false
	}
	_, found := s.fleet.Greenhouse(rest[:sep])
	return found
}

// knownRecord verifica un id "<prefix>{gh}-{YYYY-MM-DD}" generato dal simulatore.
func (s *Simulated) knownRecord(id, prefix string) bool {
	gh, _, ok := splitRecordID(id, prefix)
	if !ok {
		return false
	}
	_, found := s.fleet.Greenhouse(gh)
	return found
}

func splitRecordID(id, prefix string) (string, time.Time, bool) {
	const dateLen = len(time.DateOnly)
	if !strings.HasPrefix(id, prefix) || len(id) < len(prefix)+2+dateLen {
		return "", time.Time{}, false
	}
	sep := len(id) - dateLen - 1
	if id[sep] != '-' {
		return "", time.Time{}, false
	}
	day, err := time.Parse(time.DateOnly, id[sep+1:])
	if err != nil {
		return "", time.Time{}, false
	}
	return id[len(prefix):sep], day, true
}
