package monitoring

import (
	"context"
	"errors"

	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/model/entities"
)

// ErrSuperseded: la risposta appartiene ad una richiesta ormai superata e viene scartata.
var ErrSuperseded = errors.New("superseded by a newer request")

// StatusSink presents aggregate counts; regionID is empty for the whole fleet.
type StatusSink interface {
	PresentStatus(regionID string, counts entities.StatusCount)
}

type SeriesSink interface {
	RenderSeries(series entities.Series)
}

// StateRow is a State with its display label and class.
type StateRow struct {
	entities.State
	Label string `json:"label"`
	Class string `json:"class"`
}

func NewStateRow(s entities.State) StateRow {
	return StateRow{State: s, Label: s.State.Label(), Class: s.State.Class()}
}

type StateRowsSink interface {
	RenderStateRows(greenhouseID string, rows []StateRow)
}

// NoticeSink mostra un avviso transitorio all'operatore.
type NoticeSink interface {
	Notify(message string)
}

// ValuePrompt asks for a corrected value. confirmed=false is an explicit cancellation.
type ValuePrompt interface {
	PromptValue(ctx context.Context, point entities.ChartPoint) (input string, confirmed bool)
}

// CommentPrompt asks for comment text. confirmed=false is an explicit cancellation.
type CommentPrompt interface {
	PromptComment(ctx context.Context, state entities.State) (input string, confirmed bool)
}

type nopSinks struct{}

func (nopSinks) PresentStatus(string, entities.StatusCount) {}
func (nopSinks) RenderSeries(entities.Series) {}
func (nopSinks) RenderStateRows(string, []StateRow) {}
func (nopSinks) Notify(string) {}
