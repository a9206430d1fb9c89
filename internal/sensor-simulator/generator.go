package sensor_simulator

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/model/entities"
)

// ====== Tunables ======
const (
	// stride: un record per giorno.
	stride = 24 * time.Hour

	daysPerYear = 365.0
	// seasonalPhaseDays: il minimo stagionale cade intorno a fine marzo (giorno 80).
	seasonalPhaseDays = 80.0
	// dailyPhaseHours: la variazione giornaliera è nulla alle 6 e massima alle 12.
	dailyPhaseHours = 6.0

	baseFailureRate     = 0.05
	seasonalFailureRate = 0.1
	// failureRatePerUnit moltiplica il suffisso numerico dell'id serra.
	failureRatePerUnit = 0.1
	// alarmShare: frazione del failure rate che diventa allarme invece di warning.
	alarmShare = 0.4
	// persistProbability: probabilità che lo stato del giorno precedente resti invariato.
	persistProbability = 0.2
)

// Profile describes the synthetic signal of one measurement type.
type Profile struct {
	Midline       float64 // valore medio
	SeasonalAmp   float64 // ampiezza della sinusoide annuale
	DailyAmp      float64 // ampiezza della sinusoide giornaliera
	Noise         float64 // rumore uniforme in [-Noise, +Noise]
	OffsetPerUnit float64 // scostamento per unità di suffisso dell'id serra
}

// DefaultProfiles: la temperatura segue esattamente il modello stagionale+giornaliero;
// umidità e pH usano i valori medi del vecchio mock (60 e 7).
var DefaultProfiles = map[entities.MeasurementType]Profile{
	entities.Temperature: {Midline: 20, SeasonalAmp: 5, DailyAmp: 3, Noise: 1, OffsetPerUnit: 0.5},
	entities.Humidity:    {Midline: 60, SeasonalAmp: 5, DailyAmp: 4, Noise: 2, OffsetPerUnit: 0.5},
	entities.Acidity:     {Midline: 7, SeasonalAmp: 0.2, DailyAmp: 0.1, Noise: 0.2, OffsetPerUnit: 0.1},
}

// Rand is the random source used by the generator; *rand.Rand satisfies it.
type Rand interface {
	Float64() float64
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }

// lockedRand serializza l'accesso ad una sorgente non thread-safe.
type lockedRand struct {
	mu  sync.Mutex
	src Rand
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.src.Float64()
}

// Generator produce sequenze sintetiche di misure e stati, un record per giorno.
// Senza WithRand usa la sorgente globale non seedata: ogni chiamata restituisce valori diversi.
type Generator struct {
	rnd      Rand
	profiles map[entities.MeasurementType]Profile
}

type Option func(*Generator)

// WithRand injects a deterministic random source, e.g. rand.New(rand.NewPCG(1, 2)).
func WithRand(r Rand) Option {
	return func(g *Generator) {
		if r != nil {
			g.rnd = &lockedRand{src: r}
		}
	}
}

// WithProfile overrides the signal profile of one measurement type.
func WithProfile(t entities.MeasurementType, p Profile) Option {
	return func(g *Generator) { g.profiles[t] = p }
}

func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		rnd:      globalRand{},
		profiles: make(map[entities.MeasurementType]Profile, len(DefaultProfiles)),
	}
	for k, v := range DefaultProfiles {
		g.profiles[k] = v
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// GenerateMeasurements genera la serie di temperatura in [from, to].
func (g *Generator) GenerateMeasurements(greenhouseID string, from, to time.Time) []entities.Measurement {
	return g.GenerateMeasurementsOf(entities.Temperature, greenhouseID, from, to)
}

// GenerateMeasurementsOf genera una misura al giorno partendo da from, a passi di 24h finché <= to.
func (g *Generator) GenerateMeasurementsOf(t entities.MeasurementType, greenhouseID string, from, to time.Time) []entities.Measurement {
	out := make([]entities.Measurement, 0, dayCount(from, to))
	for d := from.UTC(); !d.After(to); d = d.Add(stride) {
		out = append(out, entities.Measurement{
			ID:           MeasurementID(greenhouseID, t, d),
			GreenhouseID: greenhouseID,
			CreatedAt:    d,
			Value:        g.ValueAt(t, greenhouseID, d),
		})
	}
	return out
}

// ValueAt = trend stagionale + offset serra + variazione giornaliera + rumore, arrotondato a 2 decimali.
func (g *Generator) ValueAt(t entities.MeasurementType, greenhouseID string, at time.Time) float64 {
	p, ok := g.profiles[t]
	if !ok {
		p = g.profiles[entities.Temperature]
	}
	at = at.UTC()
	seasonal := p.Midline + p.SeasonalAmp*math.Sin(2*math.Pi*(float64(at.YearDay())-seasonalPhaseDays)/daysPerYear)
	offset := p.OffsetPerUnit * float64(greenhouseSuffix(greenhouseID))
	daily := p.DailyAmp * math.Sin(2*math.Pi*(float64(at.Hour())-dailyPhaseHours)/24)
	noise := (g.rnd.Float64()*2 - 1) * p.Noise
	return round2(seasonal + offset + daily + noise)
}

// GenerateStates genera uno stato al giorno in [from, to] con isteresi.
func (g *Generator) GenerateStates(greenhouseID string, from, to time.Time) []entities.State {
	out := make([]entities.State, 0, dayCount(from, to))
	offset := failureRatePerUnit * float64(greenhouseSuffix(greenhouseID))
	last := entities.StateOk
	for d := from.UTC(); !d.After(to); d = d.Add(stride) {
		season := math.Sin(2 * math.Pi * float64(d.YearDay()) / daysPerYear)
		failureRate := baseFailureRate + math.Abs(season)*seasonalFailureRate + offset

		r := g.rnd.Float64()
		candidate := entities.StateOk
		switch {
		case r < failureRate*alarmShare:
			candidate = entities.StateAlarm
		case r < failureRate:
			candidate = entities.StateWarning
		}
		// lo stato cambia solo sull'~80% dei giorni
		if g.rnd.Float64() > persistProbability {
			last = candidate
		}

		out = append(out, entities.State{
			ID:           StateID(greenhouseID, d),
			GreenhouseID: greenhouseID,
			CreatedAt:    d,
			State:        last,
		})
	}
	return out
}

// MeasurementID: "m-{gh}-{type}-{YYYY-MM-DD}", il tipo rende l'id unico tra T, phi e pH dello stesso giorno.
func MeasurementID(greenhouseID string, t entities.MeasurementType, at time.Time) string {
	return fmt.Sprintf("m-%s-%s-%s", greenhouseID, t, at.UTC().Format(time.DateOnly))
}

func StateID(greenhouseID string, at time.Time) string {
	return fmt.Sprintf("s-%s-%s", greenhouseID, at.UTC().Format(time.DateOnly))
}

// greenhouseSuffix: "g3" -> 3; id non numerici valgono 0.
func greenhouseSuffix(id string) int {
	if len(id) < 2 {
		return 0
	}
	n, err := strconv.Atoi(id[1:])
	if err != nil {
		return 0
	}
	return n
}

func dayCount(from, to time.Time) int {
	if to.Before(from) {
		return 0
	}
	return int(to.Sub(from)/stride) + 1
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
