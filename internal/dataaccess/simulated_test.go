package dataaccess

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/model/entities"
	simulator "github.com/LeonardoBeccarini/greenhouse_monitor/internal/sensor-simulator"
)

var day0 = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func newTestSimulated(opts ...SimulatedOption) *Simulated {
	gen := simulator.NewGenerator(simulator.WithRand(rand.New(rand.NewPCG(3, 4))))
	opts = append([]SimulatedOption{WithGenerator(gen), WithRecomputeDelay(0)}, opts...)
	return NewSimulated(entities.DefaultFleet(), opts...)
}

func TestSimulatedReferenceData(t *testing.T) {
	s := newTestSimulated()
	ctx := context.Background()

	regions, err := s.ListRegions(ctx)
	require.NoError(t, err)
	assert.Len(t, regions, 3)

	ghs, err := s.ListGreenhouses(ctx)
	require.NoError(t, err)
	assert.Len(t, ghs, 4)

	// la copia restituita non deve alterare il parco
	ghs[0].Name = "mutated"
	again, _ := s.ListGreenhouses(ctx)
	assert.Equal(t, "Теплица-1", again[0].Name)
}

func TestSimulatedMeasurementsAscending(t *testing.T) {
	s := newTestSimulated()
	list, err := s.GetMeasurements(context.Background(), "g2", entities.Humidity, day0, day0.Add(5*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, list, 6)
	for i := 1; i < len(list); i++ {
		assert.True(t, list[i].CreatedAt.After(list[i-1].CreatedAt))
	}
}

func TestSimulatedUnknownGreenhouse(t *testing.T) {
	s := newTestSimulated()
	ctx := context.Background()

	_, err := s.GetMeasurements(ctx, "g9", entities.Temperature, day0, day0)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetStates(ctx, "g9", day0, day0)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.TriggerStateRecompute(ctx, "g9")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.TriggerMeasurementRefresh(ctx, "g9", entities.RefreshAll)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSimulatedFixIsAppliedOnRead(t *testing.T) {
	s := newTestSimulated()
	ctx := context.Background()

	ack, err := s.FixMeasurement(ctx, "m-g1-T-2024-01-02", 42.5)
	require.NoError(t, err)
	assert.True(t, ack)

	list, err := s.GetMeasurements(ctx, "g1", entities.Temperature, day0, day0.Add(2*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "m-g1-T-2024-01-02", list[1].ID)
	assert.Equal(t, 42.5, list[1].Value)
	assert.NotEqual(t, 42.5, list[0].Value)
}

// halfRand rende il generatore deterministico tra una lettura e l'altra.
type halfRand struct{}

func (halfRand) Float64() float64 { return 0.5 }

func TestSimulatedFixTouchesOnlyItsType(t *testing.T) {
	s := newTestSimulated(WithGenerator(simulator.NewGenerator(simulator.WithRand(halfRand{}))))
	ctx := context.Background()
	to := day0.Add(2 * 24 * time.Hour)

	before := map[entities.MeasurementType][]entities.Measurement{}
	for _, mt := range []entities.MeasurementType{entities.Humidity, entities.Acidity} {
		list, err := s.GetMeasurements(ctx, "g1", mt, day0, to)
		require.NoError(t, err)
		before[mt] = list
	}

	temps, err := s.GetMeasurements(ctx, "g1", entities.Temperature, day0, to)
	require.NoError(t, err)
	ack, err := s.FixMeasurement(ctx, temps[0].ID, 25)
	require.NoError(t, err)
	require.True(t, ack)

	temps, err = s.GetMeasurements(ctx, "g1", entities.Temperature, day0, to)
	require.NoError(t, err)
	assert.Equal(t, 25.0, temps[0].Value)
	for mt, want := range before {
		got, err := s.GetMeasurements(ctx, "g1", mt, day0, to)
		require.NoError(t, err)
		assert.Equal(t, want, got, "fixing T on %s must not change %s", day0.Format(time.DateOnly), mt)
		assert.NotEqual(t, temps[0].ID, got[0].ID)
	}
}

func TestSimulatedFixUnknownRecord(t *testing.T) {
	s := newTestSimulated()
	for _, id := range []string{"m-g9-T-2024-01-01", "x-g1-T-2024-01-01", "m-g1-T-notadate", "m-g1-Q-2024-01-01", "m-g1-2024-01-01", "m-"} {
		_, err := s.FixMeasurement(context.Background(), id, 1)
		assert.ErrorIs(t, err, ErrNotFound, id)
	}
}

func TestSimulatedCommentScenario(t *testing.T) {
	s := newTestSimulated()
	ctx := context.Background()

	ack, err := s.CommentState(ctx, "s-g1-2024-01-01", "  fixed sensor ")
	require.NoError(t, err)
	assert.True(t, ack)

	states, err := s.GetStates(ctx, "g1", day0, day0.Add(2*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, states, 3)
	assert.Equal(t, "fixed sensor", states[0].Comment)
	assert.Empty(t, states[1].Comment)
	assert.Empty(t, states[2].Comment)
}

func TestSimulatedCommentValidation(t *testing.T) {
	s := newTestSimulated()
	_, err := s.CommentState(context.Background(), "s-g1-2024-01-01", strings.Repeat("x", MaxCommentLength+1))
	assert.True(t, IsValidation(err))
	_, err = s.CommentState(context.Background(), "s-g1-2024-01-01", "bad\x00byte")
	assert.True(t, IsValidation(err))
}

func TestSimulatedRecomputeWaitsAndHonoursContext(t *testing.T) {
	s := newTestSimulated(WithRecomputeDelay(20 * time.Millisecond))

	start := time.Now()
	ack, err := s.TriggerStateRecompute(context.Background(), "g1")
	require.NoError(t, err)
	assert.True(t, ack)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	slow := newTestSimulated(WithRecomputeDelay(time.Hour))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	ack, err = slow.TriggerStateRecompute(ctx, "g1")
	assert.False(t, ack)
	assert.True(t, IsTransport(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSimulatedRefreshHook(t *testing.T) {
	var got []string
	s := newTestSimulated(WithRefreshHook(func(_ context.Context, gh string, scope entities.RefreshScope) error {
		got = append(got, gh+":"+string(scope))
		return nil
	}))
	ack, err := s.TriggerMeasurementRefresh(context.Background(), "g3", entities.RefreshAll)
	require.NoError(t, err)
	assert.True(t, ack)
	assert.Equal(t, []string{"g3:all"}, got)

	failing := newTestSimulated(WithRefreshHook(func(context.Context, string, entities.RefreshScope) error {
		return errors.New("broker down")
	}))
	ack, err = failing.TriggerMeasurementRefresh(context.Background(), "g3", entities.RefreshScope(entities.Temperature))
	assert.False(t, ack)
	assert.True(t, IsTransport(err))
}

func TestNormalizeComment(t *testing.T) {
	c, err := NormalizeComment("  ok\n")
	require.NoError(t, err)
	assert.Equal(t, "ok", c)

	c, err = NormalizeComment("   ")
	require.NoError(t, err)
	assert.Empty(t, c)

	_, err = NormalizeComment("a\x07b")
	assert.True(t, IsValidation(err))
}

func TestNewRoutesByMode(t *testing.T) {
	da, err := New(Config{Mode: ModeMock})
	require.NoError(t, err)
	assert.IsType(t, &Simulated{}, da)

	da, err = New(Config{Mode: ModeLive, BaseURL: "http://historian:8080"})
	require.NoError(t, err)
	assert.IsType(t, &HTTPClient{}, da)

	_, err = New(Config{Mode: ModeLive})
	assert.Error(t, err)
	_, err = New(Config{Mode: "carrier-pigeon"})
	assert.Error(t, err)
}
