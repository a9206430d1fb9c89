package console

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/model/entities"
)

const (
	DefaultPNGWidth  = 1024
	DefaultPNGHeight = 400
)

var ErrEmptySeries = errors.New("png: series has no points")

// RenderPNG disegna la serie come linea temporale nel colore della serie.
func RenderPNG(w io.Writer, s entities.Series, width, height int) error {
	if len(s.Points) == 0 {
		return ErrEmptySeries
	}
	if width <= 0 {
		width = DefaultPNGWidth
	}
	if height <= 0 {
		height = DefaultPNGHeight
	}

	xs := make([]time.Time, 0, len(s.Points)+1)
	ys := make([]float64, 0, len(s.Points)+1)
	lo, hi := s.Points[0].Y, s.Points[0].Y
	for _, p := range s.Points {
		xs = append(xs, p.X)
		ys = append(ys, p.Y)
		lo, hi = min(lo, p.Y), max(hi, p.Y)
	}
	// go-chart vuole almeno due valori distinti su X
	if len(xs) == 1 {
		xs = append(xs, xs[0].Add(time.Hour))
		ys = append(ys, ys[0])
	}
	var yRange chart.Range
	if lo == hi {
		yRange = &chart.ContinuousRange{Min: lo - 1, Max: hi + 1}
	}

	col := drawing.ColorFromHex(strings.TrimPrefix(s.Color, "#"))
	ch := chart.Chart{
		Title:      fmt.Sprintf("%s, %s", s.Label, s.GreenhouseID),
		Width:      width,
		Height:     height,
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 16, Right: 12, Bottom: 16}},
		XAxis:      chart.XAxis{ValueFormatter: chart.TimeDateValueFormatter},
		YAxis:      chart.YAxis{Name: s.Label, Range: yRange},
		Series: []chart.Series{chart.TimeSeries{
			Name:    s.Label,
			XValues: xs,
			YValues: ys,
			Style:   chart.Style{StrokeColor: col, StrokeWidth: 2, DotColor: col, DotWidth: 3},
		}},
	}
	ch.Elements = []chart.Renderable{chart.Legend(&ch)}
	if err := ch.Render(chart.PNG, w); err != nil {
		return fmt.Errorf("png: render %s/%s: %w", s.GreenhouseID, s.Type, err)
	}
	return nil
}
