package monitoring

import (
	"fmt"
	"time"
)

// Selector is the chart time-range selector.
type Selector string

const (
	SelectHour  Selector = "hour"
	SelectDay   Selector = "day"
	SelectWeek  Selector = "week"
	SelectMonth Selector = "month"
	SelectYear  Selector = "year"
)

var Selectors = []Selector{SelectHour, SelectDay, SelectWeek, SelectMonth, SelectYear}

func ParseSelector(s string) (Selector, error) {
	switch Selector(s) {
	case SelectHour, SelectDay, SelectWeek, SelectMonth, SelectYear:
		return Selector(s), nil
	}
	return "", fmt.Errorf("unknown time selector %q", s)
}

// Window maps a selector to [from, now]. Month and year are calendar offsets,
// so their length depends on now.
func Window(sel Selector, now time.Time) (from, to time.Time, err error) {
	switch sel {
	case SelectHour:
		return now.Add(-24 * time.Hour), now, nil
	case SelectDay:
		return now.Add(-7 * 24 * time.Hour), now, nil
	case SelectWeek:
		return now.Add(-30 * 24 * time.Hour), now, nil
	case SelectMonth:
		return now.AddDate(0, -6, 0), now, nil
	case SelectYear:
		return now.AddDate(-1, 0, 0), now, nil
	}
	return time.Time{}, time.Time{}, fmt.Errorf("unknown time selector %q", sel)
}
