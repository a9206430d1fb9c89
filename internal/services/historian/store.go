package historian

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/dataaccess"
	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/logging"
	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/model/entities"
)

// Measurement name e tag usati su Influx.
const (
	MeasurementSeries = "greenhouse_measurement"
	StateSeries       = "greenhouse_state"

	tagGreenhouse = "greenhouse_id"
	tagType       = "m_type"

	fieldValue   = "value"
	fieldFixed   = "fixed"
	fieldState   = "state"
	fieldComment = "comment"
)

// Record is one row of a Flux result.
type Record struct {
	Time   time.Time
	Values map[string]interface{}
}

// FluxRunner esegue una query Flux e restituisce le righe già lette.
type FluxRunner interface {
	Run(ctx context.Context, flux string) ([]Record, error)
}

// PointWriter is satisfied by api.WriteAPIBlocking.
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// CommandDispatcher inoltra refresh e ricalcolo al simulatore.
type CommandDispatcher interface {
	Refresh(ctx context.Context, greenhouseID string, scope entities.RefreshScope) (bool, error)
	Recompute(ctx context.Context, greenhouseID string, from, to time.Time) (bool, error)
}

type influxRunner struct {
	q api.QueryAPI
}

// NewFluxRunner adapts the Influx query API.
func NewFluxRunner(client influxdb2.Client, org string) FluxRunner {
	return &influxRunner{q: client.QueryAPI(org)}
}

func (r *influxRunner) Run(ctx context.Context, flux string) ([]Record, error) {
	res, err := r.q.Query(ctx, flux)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Close() }()

	var out []Record
	for res.Next() {
		rec := res.Record()
		out = append(out, Record{Time: rec.Time(), Values: rec.Values()})
	}
	return out, res.Err()
}

// InfluxStore implementa DataAccess sopra InfluxDB. Regioni e serre sono dati di
// riferimento presi dalla configurazione della flotta.
type InfluxStore struct {
	fleet    entities.Fleet
	bucket   string
	query    FluxRunner
	writer   PointWriter
	commands CommandDispatcher
	log      logging.Logger
	now      func() time.Time
	lookback time.Duration
}

var _ dataaccess.DataAccess = (*InfluxStore)(nil)

func NewInfluxStore(fleet entities.Fleet, bucket string, q FluxRunner, w PointWriter, commands CommandDispatcher, log logging.Logger) *InfluxStore {
	if log == nil {
		log = logging.NewNop()
	}
	return &InfluxStore{
		fleet:    fleet,
		bucket:   bucket,
		query:    q,
		writer:   w,
		commands: commands,
		log:      log,
		now:      time.Now,
		lookback: 30 * 24 * time.Hour,
	}
}

func (s *InfluxStore) ListRegions(context.Context) ([]entities.Region, error) {
	out := make([]entities.Region, len(s.fleet.Regions))
	copy(out, s.fleet.Regions)
	return out, nil
}

func (s *InfluxStore) ListGreenhouses(context.Context) ([]entities.Greenhouse, error) {
	out := make([]entities.Greenhouse, len(s.fleet.Greenhouses))
	copy(out, s.fleet.Greenhouses)
	return out, nil
}

func (s *InfluxStore) knownGreenhouse(id string) error {
	if _, ok := s.fleet.Greenhouse(id); !ok {
		return fmt.Errorf("greenhouse %q: %w", id, dataaccess.ErrNotFound)
	}
	return nil
}

func fluxTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func measurementsFlux(bucket, gh string, t entities.MeasurementType, from, to time.Time) string {
	return fmt.Sprintf(`
from(bucket: %q)
  |> range(start: %s, stop: %s)
  |> filter(fn: (r) => r._measurement == %q and r.%s == %q and r.%s == %q)
  |> filter(fn: (r) => r._field == %q)
  |> keep(columns: ["_time","_value"])
  |> sort(columns: ["_time"])
`, bucket, fluxTime(from), fluxTime(to.Add(time.Nanosecond)), MeasurementSeries, tagGreenhouse, gh, tagType, string(t), fieldValue)
}

func statesFlux(bucket, gh string, from, to time.Time) string {
	return fmt.Sprintf(`
from(bucket: %q)
  |> range(start: %s, stop: %s)
  |> filter(fn: (r) => r._measurement == %q and r.%s == %q)
  |> filter(fn: (r) => r._field == %q or r._field == %q)
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
`, bucket, fluxTime(from), fluxTime(to.Add(time.Nanosecond)), StateSeries, tagGreenhouse, gh, fieldState, fieldComment)
}

// GetMeasurements: la finestra è inclusiva su entrambi gli estremi.
func (s *InfluxStore) GetMeasurements(ctx context.Context, greenhouseID string, t entities.MeasurementType, from, to time.Time) ([]entities.Measurement, error) {
	if err := s.knownGreenhouse(greenhouseID); err != nil {
		return nil, err
	}
	if to.Before(from) {
		return []entities.Measurement{}, nil
	}
	rows, err := s.query.Run(ctx, measurementsFlux(s.bucket, greenhouseID, t, from, to))
	if err != nil {
		return nil, &dataaccess.TransportError{Op: "get measurements", Err: err}
	}
	out := make([]entities.Measurement, 0, len(rows))
	for _, r := range rows {
		v, ok := toFloat(r.Values["_value"])
		if !ok {
			s.log.Warnf("historian: skipping non-numeric value at %s for %s/%s", r.Time, greenhouseID, t)
			continue
		}
		out = append(out, entities.Measurement{
			ID:           MeasurementID(greenhouseID, t, r.Time),
			GreenhouseID: greenhouseID,
			CreatedAt:    r.Time.UTC(),
			Value:        v,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InfluxStore) TriggerMeasurementRefresh(ctx context.Context, greenhouseID string, scope entities.RefreshScope) (bool, error) {
	if err := s.knownGreenhouse(greenhouseID); err != nil {
		return false, err
	}
	if s.commands == nil {
		return false, &dataaccess.TransportError{Op: "refresh measurements", Err: fmt.Errorf("no command channel")}
	}
	return s.commands.Refresh(ctx, greenhouseID, scope)
}

// FixMeasurement riscrive il campo value dello stesso punto (stessa serie e timestamp)
// e lo marca come corretto.
func (s *InfluxStore) FixMeasurement(ctx context.Context, measurementID string, value float64) (bool, error) {
	gh, t, ts, err := ParseMeasurementID(measurementID)
	if err != nil {
		return false, err
	}
	rows, err := s.query.Run(ctx, measurementsFlux(s.bucket, gh, t, ts, ts))
	if err != nil {
		return false, &dataaccess.TransportError{Op: "fix measurement", Err: err}
	}
	if len(rows) == 0 {
		return false, fmt.Errorf("measurement %q: %w", measurementID, dataaccess.ErrNotFound)
	}
	p := influxdb2.NewPoint(MeasurementSeries,
		map[string]string{tagGreenhouse: gh, tagType: string(t)},
		map[string]interface{}{fieldValue: value, fieldFixed: true},
		ts)
	if err := s.writer.WritePoint(ctx, p); err != nil {
		return false, &dataaccess.TransportError{Op: "fix measurement", Err: err}
	}
	s.log.Infof("historian: measurement %s fixed to %v", measurementID, value)
	return true, nil
}

func (s *InfluxStore) GetStates(ctx context.Context, greenhouseID string, from, to time.Time) ([]entities.State, error) {
	if err := s.knownGreenhouse(greenhouseID); err != nil {
		return nil, err
	}
	if to.Before(from) {
		return []entities.State{}, nil
	}
	rows, err := s.query.Run(ctx, statesFlux(s.bucket, greenhouseID, from, to))
	if err != nil {
		return nil, &dataaccess.TransportError{Op: "get states", Err: err}
	}
	out := make([]entities.State, 0, len(rows))
	for _, r := range rows {
		lvl, ok := toInt(r.Values[fieldState])
		if !ok {
			continue
		}
		level, err := entities.ParseStateLevel(lvl)
		if err != nil {
			s.log.Warnf("historian: %v at %s for %s", err, r.Time, greenhouseID)
			continue
		}
		comment, _ := r.Values[fieldComment].(string)
		out = append(out, entities.State{
			ID:           StateID(greenhouseID, r.Time),
			GreenhouseID: greenhouseID,
			CreatedAt:    r.Time.UTC(),
			State:        level,
			Comment:      comment,
		})
	}
	return out, nil
}

// TriggerStateRecompute ricalcola gli ultimi 30 giorni e attende l'evento di completamento.
func (s *InfluxStore) TriggerStateRecompute(ctx context.Context, greenhouseID string) (bool, error) {
	if err := s.knownGreenhouse(greenhouseID); err != nil {
		return false, err
	}
	if s.commands == nil {
		return false, &dataaccess.TransportError{Op: "recompute states", Err: fmt.Errorf("no command channel")}
	}
	to := s.now()
	return s.commands.Recompute(ctx, greenhouseID, to.Add(-s.lookback), to)
}

// CommentState scrive solo il campo comment: Influx conserva gli altri campi del punto.
func (s *InfluxStore) CommentState(ctx context.Context, stateID, comment string) (bool, error) {
	c, err := dataaccess.NormalizeComment(comment)
	if err != nil {
		return false, err
	}
	gh, ts, err := ParseStateID(stateID)
	if err != nil {
		return false, err
	}
	rows, err := s.query.Run(ctx, statesFlux(s.bucket, gh, ts, ts))
	if err != nil {
		return false, &dataaccess.TransportError{Op: "comment state", Err: err}
	}
	if len(rows) == 0 {
		return false, fmt.Errorf("state %q: %w", stateID, dataaccess.ErrNotFound)
	}
	p := influxdb2.NewPoint(StateSeries,
		map[string]string{tagGreenhouse: gh},
		map[string]interface{}{fieldComment: c},
		ts)
	if err := s.writer.WritePoint(ctx, p); err != nil {
		return false, &dataaccess.TransportError{Op: "comment state", Err: err}
	}
	return true, nil
}

// MeasurementID: m-{gh}-{type}-{unix nano}.
func MeasurementID(gh string, t entities.MeasurementType, ts time.Time) string {
	return fmt.Sprintf("m-%s-%s-%d", gh, t, ts.UnixNano())
}

// StateID: s-{gh}-{unix nano}.
func StateID(gh string, ts time.Time) string {
	return fmt.Sprintf("s-%s-%d", gh, ts.UnixNano())
}

// ParseMeasurementID: un id malformato non può esistere, quindi è ErrNotFound.
func ParseMeasurementID(id string) (string, entities.MeasurementType, time.Time, error) {
	notFound := fmt.Errorf("measurement %q: %w", id, dataaccess.ErrNotFound)
	parts := strings.Split(strings.TrimPrefix(id, "m-"), "-")
	if !strings.HasPrefix(id, "m-") || len(parts) < 3 {
		return "", "", time.Time{}, notFound
	}
	ns, err := strconv.ParseInt(parts[len(parts)-1], 10, 64)
	if err != nil {
		return "", "", time.Time{}, notFound
	}
	t, err := entities.ParseMeasurementType(parts[len(parts)-2])
	if err != nil {
		return "", "", time.Time{}, notFound
	}
	gh := strings.Join(parts[:len(parts)-2], "-")
	return gh, t, time.Unix(0, ns).UTC(), nil
}

func ParseStateID(id string) (string, time.Time, error) {
	notFound := fmt.Errorf("state %q: %w", id, dataaccess.ErrNotFound)
	i := strings.LastIndexByte(id, '-')
	if !strings.HasPrefix(id, "s-") || i <= len("s-") {
		return "", time.Time{}, notFound
	}
	ns, err := strconv.ParseInt(id[i+1:], 10, 64)
	if err != nil {
		return "", time.Time{}, notFound
	}
	return id[len("s-"):i], time.Unix(0, ns).UTC(), nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
