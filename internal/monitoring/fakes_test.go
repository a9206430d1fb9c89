package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/dataaccess"
	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/model/entities"
)

var testNow = time.Date(2024, 1, 31, 10, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

// fakeSource è un DataAccess in memoria con hook per i singoli metodi.
type fakeSource struct {
	mu sync.Mutex

	greenhouses  []entities.Greenhouse
	states       map[string][]entities.State
	measurements []entities.Measurement

	listErr   error
	statesErr map[string]error
	measErr   error
	fixErr    error
	fixAck    bool
	comErr    error
	recompute func(ctx context.Context, gh string) (bool, error)
	getStates func(ctx context.Context, gh string) ([]entities.State, error)
	getMeas   func(ctx context.Context, gh string, t entities.MeasurementType) ([]entities.Measurement, error)

	fixCalls     []fixCall
	commentCalls []commentCall
	refreshCalls []string
	stateWindows []window
	measWindows  []window
}

type fixCall struct {
	ID    string
	Value float64
}

type commentCall struct {
	ID      string
	Comment string
}

type window struct {
	From, To time.Time
}

var _ dataaccess.DataAccess = (*fakeSource)(nil)

func newFakeSource() *fakeSource {
	return &fakeSource{states: map[string][]entities.State{}, statesErr: map[string]error{}, fixAck: true}
}

func (f *fakeSource) ListRegions(context.Context) ([]entities.Region, error) {
	return entities.DefaultFleet().Regions, nil
}

func (f *fakeSource) ListGreenhouses(context.Context) ([]entities.Greenhouse, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.greenhouses, nil
}

func (f *fakeSource) GetMeasurements(ctx context.Context, gh string, t entities.MeasurementType, from, to time.Time) ([]entities.Measurement, error) {
	f.mu.Lock()
	f.measWindows = append(f.measWindows, window{from, to})
	hook := f.getMeas
	f.mu.Unlock()
	if hook != nil {
		return hook(ctx, gh, t)
	}
	if f.measErr != nil {
		return nil, f.measErr
	}
	out := make([]entities.Measurement, len(f.measurements))
	copy(out, f.measurements)
	return out, nil
}

func (f *fakeSource) TriggerMeasurementRefresh(_ context.Context, gh string, scope entities.RefreshScope) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls = append(f.refreshCalls, gh+":"+string(scope))
	return true, nil
}

func (f *fakeSource) FixMeasurement(_ context.Context, id string, value float64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fixCalls = append(f.fixCalls, fixCall{id, value})
	if f.fixErr != nil {
		return false, f.fixErr
	}
	return f.fixAck, nil
}

func (f *fakeSource) GetStates(ctx context.Context, gh string, from, to time.Time) ([]entities.State, error) {
	f.mu.Lock()
	f.stateWindows = append(f.stateWindows, window{from, to})
	hook := f.getStates
	err := f.statesErr[gh]
	list := f.states[gh]
	f.mu.Unlock()
	if hook != nil {
		return hook(ctx, gh)
	}
	if err != nil {
		return nil, err
	}
	out := make([]entities.State, len(list))
	copy(out, list)
	return out, nil
}

func (f *fakeSource) TriggerStateRecompute(ctx context.Context, gh string) (bool, error) {
	if f.recompute != nil {
		return f.recompute(ctx, gh)
	}
	return true, nil
}

func (f *fakeSource) CommentState(_ context.Context, id, comment string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commentCalls = append(f.commentCalls, commentCall{id, comment})
	if f.comErr != nil {
		return false, f.comErr
	}
	return true, nil
}

// recorder cattura tutto ciò che arriva ai sink.
type recorder struct {
	mu       sync.Mutex
	statuses []entities.StatusCount
	series   []entities.Series
	rows     [][]StateRow
	notices  []string
}

func (r *recorder) PresentStatus(_ string, c entities.StatusCount) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, c)
}

func (r *recorder) RenderSeries(s entities.Series) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.series = append(r.series, s)
}

func (r *recorder) RenderStateRows(_ string, rows []StateRow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, rows)
}

func (r *recorder) Notify(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, msg)
}

type scriptedPrompt struct {
	input     string
	confirmed bool
	calls     int
	before    func()
}

func (p *scriptedPrompt) PromptValue(context.Context, entities.ChartPoint) (string, bool) {
	p.calls++
	if p.before != nil {
		p.before()
	}
	return p.input, p.confirmed
}

func (p *scriptedPrompt) PromptComment(context.Context, entities.State) (string, bool) {
	p.calls++
	if p.before != nil {
		p.before()
	}
	return p.input, p.confirmed
}

func st(id, gh string, at time.Time, level entities.StateLevel) entities.State {
	return entities.State{ID: id, GreenhouseID: gh, CreatedAt: at, State: level}
}
