package monitoring

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/dataaccess"
	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/logging"
	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/model/entities"
)

// HistoryLookback is the window of the state history view.
const HistoryLookback = 30 * 24 * time.Hour

// HistorySource is the part of DataAccess the state history needs.
type HistorySource interface {
	GetStates(ctx context.Context, greenhouseID string, from, to time.Time) ([]entities.State, error)
	TriggerStateRecompute(ctx context.Context, greenhouseID string) (bool, error)
	CommentState(ctx context.Context, stateID, comment string) (bool, error)
}

const (
	NoticeCommentSaveFailed = "Не удалось сохранить комментарий"
	NoticeRecomputeFailed   = "Не удалось пересчитать состояние"
)

// StateHistoryViewModel espone la storia degli stati di una serra, dal più recente.
type StateHistoryViewModel struct {
	src     HistorySource
	sink    StateRowsSink
	notices NoticeSink
	prompt  CommentPrompt
	log     logging.Logger
	now     func() time.Time

	recalculating atomic.Bool

	mu         sync.Mutex
	epoch      uint64
	greenhouse string
	states     []entities.State
}

type HistoryOption func(*StateHistoryViewModel)

func WithHistoryClock(now func() time.Time) HistoryOption {
	return func(v *StateHistoryViewModel) { v.now = now }
}

func NewStateHistoryViewModel(src HistorySource, sink StateRowsSink, notices NoticeSink, prompt CommentPrompt, log logging.Logger, opts ...HistoryOption) *StateHistoryViewModel {
	if sink == nil {
		sink = nopSinks{}
	}
	if notices == nil {
		notices = nopSinks{}
	}
	if log == nil {
		log = logging.NewNop()
	}
	v := &StateHistoryViewModel{src: src, sink: sink, notices: notices, prompt: prompt, log: log, now: time.Now}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Load fetches the last 30 days of states and sorts them most recent first.
// L'ordinamento è stabile: record con lo stesso created_at mantengono l'ordine ricevuto.
func (v *StateHistoryViewModel) Load(ctx context.Context, greenhouseID string) ([]entities.State, error) {
	v.mu.Lock()
	v.epoch++
	token := v.epoch
	v.mu.Unlock()

	to := v.now()
	list, err := v.src.GetStates(ctx, greenhouseID, to.Add(-HistoryLookback), to)
	if err != nil {
		v.log.Errorf("history: load gh=%s: %v", greenhouseID, err)
		return nil, err
	}
	sorted := make([]entities.State, 0, len(list))
	for _, s := range list {
		if !s.State.Valid() {
			v.log.Warnf("history: dropping state %s with unknown level %d", s.ID, int(s.State))
			continue
		}
		sorted = append(sorted, s)
	}
	SortStatesDesc(sorted)

	v.mu.Lock()
	defer v.mu.Unlock()
	if token != v.epoch {
		return nil, ErrSuperseded
	}
	v.greenhouse = greenhouseID
	v.states = sorted
	v.renderLocked()
	return copyStates(sorted), nil
}

// IsRecalculating is true for the whole wait of Recalculate.
func (v *StateHistoryViewModel) IsRecalculating() bool {
	return v.recalculating.Load()
}

// Recalculate avvia il ricalcolo lato server e ricarica la storia solo dopo l'ack.
// Non c'è timeout: l'attesa termina solo con l'ack o con la cancellazione di ctx.
func (v *StateHistoryViewModel) Recalculate(ctx context.Context) ([]entities.State, error) {
	v.mu.Lock()
	gh := v.greenhouse
	v.mu.Unlock()
	if gh == "" {
		return nil, errors.New("history: nothing loaded yet")
	}
	if !v.recalculating.CompareAndSwap(false, true) {
		return nil, errors.New("history: recalculation already running")
	}
	defer v.recalculating.Store(false)

	ack, err := v.src.TriggerStateRecompute(ctx, gh)
	if err == nil && !ack {
		err = fmt.Errorf("recompute %s: not acknowledged", gh)
	}
	if err != nil {
		v.log.Errorf("history: recompute gh=%s: %v", gh, err)
		v.notices.Notify(NoticeRecomputeFailed)
		return nil, err
	}
	return v.Load(ctx, gh)
}

// StartEditing asks for a new comment of stateID and saves it.
// Il commento viene modificato in memoria solo dopo l'ack del backend.
func (v *StateHistoryViewModel) StartEditing(ctx context.Context, stateID string) (bool, error) {
	if v.prompt == nil {
		return false, errors.New("history: no comment prompt configured")
	}
	v.mu.Lock()
	current, ok := v.findLocked(stateID)
	v.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("state %q: %w", stateID, dataaccess.ErrNotFound)
	}

	input, confirmed := v.prompt.PromptComment(ctx, current)
	if !confirmed {
		return false, nil
	}
	comment, err := dataaccess.NormalizeComment(input)
	if err != nil {
		v.notices.Notify(err.Error())
		return false, err
	}

	ack, err := v.src.CommentState(ctx, stateID, comment)
	if err == nil && !ack {
		err = fmt.Errorf("comment %s: not acknowledged", stateID)
	}
	if err != nil {
		v.log.Errorf("history: comment %s: %v", stateID, err)
		v.notices.Notify(NoticeCommentSaveFailed)
		return false, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.states {
		if v.states[i].ID == stateID {
			v.states[i].Comment = comment
			v.renderLocked()
			break
		}
	}
	return true, nil
}

// States returns a copy of the current list.
func (v *StateHistoryViewModel) States() []entities.State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return copyStates(v.states)
}

// Rows returns the current list with display labels.
func (v *StateHistoryViewModel) Rows() []StateRow {
	v.mu.Lock()
	defer v.mu.Unlock()
	return rows(v.states)
}

func (v *StateHistoryViewModel) findLocked(stateID string) (entities.State, bool) {
	for _, s := range v.states {
		if s.ID == stateID {
			return s, true
		}
	}
	return entities.State{}, false
}

func (v *StateHistoryViewModel) renderLocked() {
	v.sink.RenderStateRows(v.greenhouse, rows(v.states))
}

// SortStatesDesc orders states by created_at, most recent first, keeping ties stable.
func SortStatesDesc(states []entities.State) {
	sort.SliceStable(states, func(i, j int) bool {
		return states[i].CreatedAt.After(states[j].CreatedAt)
	})
}

func rows(states []entities.State) []StateRow {
	out := make([]StateRow, 0, len(states))
	for _, s := range states {
		out = append(out, NewStateRow(s))
	}
	return out
}

func copyStates(s []entities.State) []entities.State {
	out := make([]entities.State, len(s))
	copy(out, s)
	return out
}
