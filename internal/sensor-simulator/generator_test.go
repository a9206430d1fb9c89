package sensor_simulator

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/model/entities"
)

// seqRand restituisce i valori in sequenza, ripartendo dall'inizio.
type seqRand struct {
	vals []float64
	i    int
}

func (s *seqRand) Float64() float64 {
	v := s.vals[s.i%len(s.vals)]
	s.i++
	return v
}

func fixed(v float64) *seqRand { return &seqRand{vals: []float64{v}} }

// 2024-03-20 is day 80 of a leap year: the seasonal term is exactly the midline.
var equinox = time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)

func TestGenerateMeasurementsOnePerDayInclusive(t *testing.T) {
	g := NewGenerator(WithRand(fixed(0.5)))
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	got := g.GenerateMeasurements("g1", from, from.Add(3*24*time.Hour))
	require.Len(t, got, 4)
	for i, m := range got {
		assert.Equal(t, from.Add(time.Duration(i)*24*time.Hour), m.CreatedAt)
		assert.Equal(t, "g1", m.GreenhouseID)
	}
	assert.Equal(t, "m-g1-T-2024-01-01", got[0].ID)
	assert.Equal(t, "m-g1-T-2024-01-04", got[3].ID)

	short := g.GenerateMeasurements("g1", from, from.Add(3*24*time.Hour-time.Nanosecond))
	assert.Len(t, short, 3)
}

func TestGenerateMeasurementsEmptyWhenToBeforeFrom(t *testing.T) {
	g := NewGenerator()
	got := g.GenerateMeasurements("g1", equinox, equinox.Add(-time.Hour))
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestTemperatureFormula(t *testing.T) {
	// noise 0 con r=0.5; offset g3 = 1.5; alle 12 la variazione giornaliera vale +3
	g := NewGenerator(WithRand(fixed(0.5)))
	assert.InDelta(t, 24.5, g.ValueAt(entities.Temperature, "g3", equinox), 1e-9)

	// alle 6 la variazione giornaliera è nulla
	six := time.Date(2024, 3, 20, 6, 0, 0, 0, time.UTC)
	assert.InDelta(t, 21.5, g.ValueAt(entities.Temperature, "g3", six), 1e-9)
}

func TestTemperatureNoiseBounds(t *testing.T) {
	low := NewGenerator(WithRand(fixed(0)))
	high := NewGenerator(WithRand(fixed(0.999999)))

	assert.InDelta(t, 23.5, low.ValueAt(entities.Temperature, "g3", equinox), 1e-9)
	assert.InDelta(t, 25.5, high.ValueAt(entities.Temperature, "g3", equinox), 1e-2)
}

func TestValuesRoundedToTwoDecimals(t *testing.T) {
	g := NewGenerator(WithRand(rand.New(rand.NewPCG(7, 11))))
	for _, m := range g.GenerateMeasurements("g2", equinox, equinox.Add(30*24*time.Hour)) {
		assert.Equal(t, m.Value, math.Round(m.Value*100)/100)
	}
}

func TestSeededGeneratorIsDeterministic(t *testing.T) {
	a := NewGenerator(WithRand(rand.New(rand.NewPCG(1, 2))))
	b := NewGenerator(WithRand(rand.New(rand.NewPCG(1, 2))))
	from := equinox.Add(-10 * 24 * time.Hour)

	assert.Equal(t, a.GenerateMeasurements("g1", from, equinox), b.GenerateMeasurements("g1", from, equinox))
	assert.Equal(t, a.GenerateStates("g4", from, equinox), b.GenerateStates("g4", from, equinox))
}

func TestGenerateStatesCandidateSelection(t *testing.T) {
	// g1 al giorno 80: failureRate ≈ 0.05 + 0.0981 + 0.1 = 0.2481
	cases := []struct {
		name  string
		draws []float64
		want  entities.StateLevel
	}{
		{"alarm below 40% of rate", []float64{0.05, 0.9}, entities.StateAlarm},
		{"warning below rate", []float64{0.15, 0.9}, entities.StateWarning},
		{"ok above rate", []float64{0.5, 0.9}, entities.StateOk},
		{"previous state persists", []float64{0.05, 0.1}, entities.StateOk},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			g := NewGenerator(WithRand(&seqRand{vals: c.draws}))
			got := g.GenerateStates("g1", equinox, equinox)
			require.Len(t, got, 1)
			assert.Equal(t, c.want, got[0].State)
			assert.Equal(t, "s-g1-2024-03-20", got[0].ID)
			assert.Empty(t, got[0].Comment)
		})
	}
}

func TestGenerateStatesHysteresis(t *testing.T) {
	// giorno 1: allarme adottato; giorno 2: candidato ok ma persiste l'allarme
	g := NewGenerator(WithRand(&seqRand{vals: []float64{0.01, 0.9, 0.99, 0.1}}))
	got := g.GenerateStates("g1", equinox, equinox.Add(24*time.Hour))
	require.Len(t, got, 2)
	assert.Equal(t, entities.StateAlarm, got[0].State)
	assert.Equal(t, entities.StateAlarm, got[1].State)
}

func TestGreenhouseSuffix(t *testing.T) {
	assert.Equal(t, 3, greenhouseSuffix("g3"))
	assert.Equal(t, 12, greenhouseSuffix("g12"))
	assert.Equal(t, 0, greenhouseSuffix("gx"))
	assert.Equal(t, 0, greenhouseSuffix(""))
}

func TestOtherProfilesUseTheirMidline(t *testing.T) {
	g := NewGenerator(WithRand(fixed(0.5)))
	six := time.Date(2024, 3, 20, 6, 0, 0, 0, time.UTC)
	assert.InDelta(t, 60, g.ValueAt(entities.Humidity, "g0", six), 1e-9)
	assert.InDelta(t, 7, g.ValueAt(entities.Acidity, "g0", six), 1e-9)

	custom := NewGenerator(WithRand(fixed(0.5)), WithProfile(entities.Acidity, Profile{Midline: 6}))
	assert.InDelta(t, 6, custom.ValueAt(entities.Acidity, "g5", six), 1e-9)
}
