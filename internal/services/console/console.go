// Package console is the operator front end: it renders what the monitoring
// components produce and asks the operator for corrections on stdin.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/model/entities"
	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/monitoring"
)

const dateLayout = "2006-01-02 15:04"

// Console implementa sink e prompt dei componenti di monitoraggio su testo.
type Console struct {
	mu  sync.Mutex
	out io.Writer
	in  *bufio.Reader
}

var (
	_ monitoring.StatusSink    = (*Console)(nil)
	_ monitoring.SeriesSink    = (*Console)(nil)
	_ monitoring.StateRowsSink = (*Console)(nil)
	_ monitoring.NoticeSink    = (*Console)(nil)
	_ monitoring.ValuePrompt   = (*Console)(nil)
	_ monitoring.CommentPrompt = (*Console)(nil)
)

func New(out io.Writer, in io.Reader) *Console {
	return &Console{out: out, in: bufio.NewReader(in)}
}

func (c *Console) PresentStatus(regionID string, counts entities.StatusCount) {
	c.mu.Lock()
	defer c.mu.Unlock()
	scope := "все регионы"
	if regionID != "" {
		scope = "регион " + regionID
	}
	fmt.Fprintf(c.out, "Статус (%s), теплиц: %d\n", scope, counts.Total())
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "  %s\t%d\n", entities.StateOk.Label(), counts.Ok)
	fmt.Fprintf(tw, "  %s\t%d\n", entities.StateWarning.Label(), counts.Warning)
	fmt.Fprintf(tw, "  %s\t%d\n", entities.StateAlarm.Label(), counts.Alarm)
	_ = tw.Flush()
}

func (c *Console) RenderSeries(s entities.Series) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "%s, теплица %s, %s .. %s\n", s.Label, s.GreenhouseID,
		s.From.UTC().Format(dateLayout), s.To.UTC().Format(dateLayout))
	if len(s.Points) == 0 {
		fmt.Fprintln(c.out, "  (нет данных)")
		return
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  #\tДата\tЗначение\tID")
	for i, p := range s.Points {
		fmt.Fprintf(tw, "  %d\t%s\t%.2f\t%s\n", i, p.X.UTC().Format(dateLayout), p.Y, p.MeasurementID)
	}
	_ = tw.Flush()
}

func (c *Console) RenderStateRows(greenhouseID string, rows []monitoring.StateRow) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "История состояний, теплица %s (%d)\n", greenhouseID, len(rows))
	if len(rows) == 0 {
		fmt.Fprintln(c.out, "  (нет данных)")
		return
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  Дата\tСостояние\tКомментарий\tID")
	for _, r := range rows {
		fmt.Fprintf(tw, "  %s\t[%s] %s\t%s\t%s\n", r.CreatedAt.UTC().Format(time.DateOnly), r.Class, r.Label, oneLine(r.Comment), r.ID)
	}
	_ = tw.Flush()
}

func (c *Console) Notify(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "! %s\n", message)
}

// PromptValue: EOF annulla, qualsiasi altra riga viene restituita così com'è.
// BusyPoll è l'intervallo con cui Busy interroga lo stato dell'operazione.
var BusyPoll = 25 * time.Millisecond

// Busy mostra label appena busy() diventa vero e, alla chiusura di done, il tempo trascorso.
// Un'operazione terminata prima del primo controllo non lascia traccia.
func (c *Console) Busy(done <-chan struct{}, busy func() bool, label string) {
	tick := time.NewTicker(BusyPoll)
	defer tick.Stop()
	var since time.Time
	for {
		if since.IsZero() && busy() {
			since = time.Now()
			c.mu.Lock()
			fmt.Fprintln(c.out, label)
			c.mu.Unlock()
		}
		select {
		case <-done:
			if !since.IsZero() {
				c.mu.Lock()
				fmt.Fprintf(c.out, "готово (%s)\n", time.Since(since).Round(time.Millisecond))
				c.mu.Unlock()
			}
			return
		case <-tick.C:
		}
	}
}

func (c *Console) PromptValue(ctx context.Context, p entities.ChartPoint) (string, bool) {
	return c.ask(ctx, fmt.Sprintf("Новое значение для %s (сейчас %.2f): ", p.X.UTC().Format(dateLayout), p.Y))
}

func (c *Console) PromptComment(ctx context.Context, s entities.State) (string, bool) {
	return c.ask(ctx, fmt.Sprintf("Комментарий к %s [%s] (сейчас %q): ", s.CreatedAt.UTC().Format(time.DateOnly), s.State.Label(), s.Comment))
}

func (c *Console) ask(ctx context.Context, prompt string) (string, bool) {
	if ctx.Err() != nil {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprint(c.out, prompt)
	line, err := c.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		fmt.Fprintln(c.out)
		return "", false
	}
	return strings.TrimRight(line, "\r\n"), true
}

func oneLine(s string) string {
	return strings.NewReplacer("\n", " ", "\t", " ").Replace(s)
}
