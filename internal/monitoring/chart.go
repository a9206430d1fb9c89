package monitoring

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/logging"
	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/model/entities"
)

const (
	NoticeValueSaved      = "Значение обновлено"
	NoticeValueSaveFailed = "Ошибка сохранения"
)

// ChartSource is the part of DataAccess the chart needs.
type ChartSource interface {
	GetMeasurements(ctx context.Context, greenhouseID string, t entities.MeasurementType, from, to time.Time) ([]entities.Measurement, error)
	TriggerMeasurementRefresh(ctx context.Context, greenhouseID string, scope entities.RefreshScope) (bool, error)
	FixMeasurement(ctx context.Context, measurementID string, value float64) (bool, error)
}

// EditOutcome describes how a point edit ended.
type EditOutcome int

const (
	// EditApplied: valore sostituito e confermato dal backend.
	EditApplied EditOutcome = iota
	// EditCancelled: l'operatore ha annullato il prompt.
	EditCancelled
	// EditDiscarded: input non numerico, nessuna modifica.
	EditDiscarded
	// EditNotAllowed: il ruolo non può correggere valori.
	EditNotAllowed
	// EditRolledBack: il salvataggio è fallito e il valore precedente è stato ripristinato.
	EditRolledBack
)

func (o EditOutcome) String() string {
	switch o {
	case EditApplied:
		return "applied"
	case EditCancelled:
		return "cancelled"
	case EditDiscarded:
		return "discarded"
	case EditNotAllowed:
		return "not-allowed"
	case EditRolledBack:
		return "rolled-back"
	}
	return fmt.Sprintf("EditOutcome(%d)", int(o))
}

// ChartSeriesBuilder tiene la serie corrente di una serra e ne gestisce le correzioni.
// La serie è di proprietà esclusiva del builder: i chiamanti ricevono sempre copie.
type ChartSeriesBuilder struct {
	src     ChartSource
	sink    SeriesSink
	notices NoticeSink
	prompt  ValuePrompt
	log     logging.Logger
	now     func() time.Time

	mu          sync.Mutex
	epoch       uint64
	loaded      bool
	greenhouse  string
	mtype       entities.MeasurementType
	selector    Selector
	series      entities.Series
	lastUpdated time.Time
}

type ChartOption func(*ChartSeriesBuilder)

func WithChartClock(now func() time.Time) ChartOption {
	return func(b *ChartSeriesBuilder) { b.now = now }
}

func NewChartSeriesBuilder(src ChartSource, sink SeriesSink, notices NoticeSink, prompt ValuePrompt, log logging.Logger, opts ...ChartOption) *ChartSeriesBuilder {
	if sink == nil {
		sink = nopSinks{}
	}
	if notices == nil {
		notices = nopSinks{}
	}
	if log == nil {
		log = logging.NewNop()
	}
	b := &ChartSeriesBuilder{src: src, sink: sink, notices: notices, prompt: prompt, log: log, now: time.Now}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Load computes the window for sel, fetches the measurements and replaces the current series.
// Una lista vuota produce una serie vuota, non un errore. In caso di errore la serie
// precedente resta invariata.
func (b *ChartSeriesBuilder) Load(ctx context.Context, greenhouseID string, t entities.MeasurementType, sel Selector) (entities.Series, error) {
	from, to, err := Window(sel, b.now())
	if err != nil {
		return entities.Series{}, err
	}

	b.mu.Lock()
	b.epoch++
	token := b.epoch
	b.mu.Unlock()

	list, err := b.src.GetMeasurements(ctx, greenhouseID, t, from, to)
	if err != nil {
		b.log.Errorf("chart: load gh=%s type=%s sel=%s: %v", greenhouseID, t, sel, err)
		return entities.Series{}, err
	}
	series := BuildSeries(greenhouseID, t, from, to, list)

	b.mu.Lock()
	defer b.mu.Unlock()
	if token != b.epoch {
		b.log.Debugf("chart: dropping stale response gh=%s type=%s sel=%s", greenhouseID, t, sel)
		return entities.Series{}, ErrSuperseded
	}
	b.loaded = true
	b.greenhouse, b.mtype, b.selector = greenhouseID, t, sel
	b.series = series
	b.lastUpdated = b.now()
	b.sink.RenderSeries(copySeries(series))
	return copySeries(series), nil
}

// Refresh chiede al backend nuove letture per il tipo corrente e poi ricarica.
func (b *ChartSeriesBuilder) Refresh(ctx context.Context) (entities.Series, error) {
	b.mu.Lock()
	loaded, gh, t, sel := b.loaded, b.greenhouse, b.mtype, b.selector
	b.mu.Unlock()
	if !loaded {
		return entities.Series{}, errors.New("chart: nothing loaded yet")
	}

	if _, err := b.src.TriggerMeasurementRefresh(ctx, gh, entities.RefreshScope(t)); err != nil {
		b.log.Warnf("chart: refresh gh=%s type=%s: %v", gh, t, err)
	}
	return b.Load(ctx, gh, t, sel)
}

// Series returns a copy of the current series.
func (b *ChartSeriesBuilder) Series() entities.Series {
	b.mu.Lock()
	defer b.mu.Unlock()
	return copySeries(b.series)
}

func (b *ChartSeriesBuilder) LastUpdated() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastUpdated
}

// EditPoint lets a senior specialist correct the value of the point at index.
// Il punto viene aggiornato subito (ottimistico) e poi inviato con FixMeasurement;
// se il salvataggio fallisce il valore precedente viene ripristinato.
func (b *ChartSeriesBuilder) EditPoint(ctx context.Context, role entities.Role, index int) (EditOutcome, error) {
	if !role.CanCorrectValues() {
		return EditNotAllowed, nil
	}
	if b.prompt == nil {
		return EditCancelled, errors.New("chart: no value prompt configured")
	}

	b.mu.Lock()
	if index < 0 || index >= len(b.series.Points) {
		b.mu.Unlock()
		return EditCancelled, fmt.Errorf("chart: point index %d out of range", index)
	}
	token := b.epoch
	point := b.series.Points[index]
	b.mu.Unlock()
	if point.MeasurementID == "" {
		return EditCancelled, nil
	}

	input, confirmed := b.prompt.PromptValue(ctx, point)
	if !confirmed {
		return EditCancelled, nil
	}
	value, ok := parseValue(input)
	if !ok {
		b.log.Debugf("chart: discarding non-numeric input %q for %s", input, point.MeasurementID)
		return EditDiscarded, nil
	}

	// aggiornamento ottimistico
	b.mu.Lock()
	if token != b.epoch || !b.samePoint(index, point.MeasurementID) {
		b.mu.Unlock()
		return EditCancelled, ErrSuperseded
	}
	b.series.Points[index].Y = value
	b.sink.RenderSeries(copySeries(b.series))
	b.mu.Unlock()

	ack, err := b.src.FixMeasurement(ctx, point.MeasurementID, value)
	if err == nil && ack {
		b.notices.Notify(NoticeValueSaved)
		return EditApplied, nil
	}
	if err == nil {
		err = fmt.Errorf("fix measurement %s: not acknowledged", point.MeasurementID)
	}
	b.log.Errorf("chart: fix measurement %s: %v", point.MeasurementID, err)

	b.mu.Lock()
	if token == b.epoch && b.samePoint(index, point.MeasurementID) && b.series.Points[index].Y == value {
		b.series.Points[index].Y = point.Y
		b.sink.RenderSeries(copySeries(b.series))
	}
	b.mu.Unlock()
	b.notices.Notify(NoticeValueSaveFailed)
	return EditRolledBack, err
}

func (b *ChartSeriesBuilder) samePoint(index int, measurementID string) bool {
	return index < len(b.series.Points) && b.series.Points[index].MeasurementID == measurementID
}

// BuildSeries maps measurements to chart points, keeping each point's source id.
func BuildSeries(greenhouseID string, t entities.MeasurementType, from, to time.Time, list []entities.Measurement) entities.Series {
	points := make([]entities.ChartPoint, 0, len(list))
	for _, m := range list {
		points = append(points, entities.ChartPoint{X: m.CreatedAt, Y: m.Value, MeasurementID: m.ID})
	}
	return entities.Series{
		GreenhouseID: greenhouseID,
		Type:         t,
		Label:        t.Label(),
		Color:        t.Color(),
		From:         from,
		To:           to,
		Points:       points,
	}
}

// parseValue accetta solo numeri finiti; stringa vuota, NaN e Inf vengono scartati.
func parseValue(input string) (float64, bool) {
	s := strings.TrimSpace(input)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func copySeries(s entities.Series) entities.Series {
	out := s
	out.Points = make([]entities.ChartPoint, len(s.Points))
	copy(out.Points, s.Points)
	return out
}
