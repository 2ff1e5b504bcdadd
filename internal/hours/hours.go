package hours

import (
	"fmt"
	"time"
)

// Gate reports whether the market is open at a given instant.
type Gate interface {
	IsOpen(now time.Time) bool
}

// Window is one intraday trading session, inclusive of Open and exclusive
// of Close, expressed as minutes from midnight in the market timezone.
type Window struct {
	Open  int // minutes from midnight
	Close int
}

// Calendar holds a market's timezone and session windows.
type Calendar struct {
	loc      *time.Location
	windows  []Window
	weekdays map[time.Weekday]bool
}

// NewCalendar builds a calendar for the given IANA timezone, session
// windows, and trading weekdays.
func NewCalendar(timezone string, windows []Window, weekdays []time.Weekday) (Calendar, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return Calendar{}, fmt.Errorf("load timezone %q: %w", timezone, err)
	}

	days := make(map[time.Weekday]bool, len(weekdays))
	for _, d := range weekdays {
		days[d] = true
	}

	return Calendar{
		loc:      loc,
		windows:  append([]Window(nil), windows...),
		weekdays: days,
	}, nil
}

// ParseWindow builds a window from "HH:MM" open and close strings.
func ParseWindow(open, close string) (Window, error) {
	o, err := parseMinutes(open)
	if err != nil {
		return Window{}, fmt.Errorf("parse open %q: %w", open, err)
	}
	c, err := parseMinutes(close)
	if err != nil {
		return Window{}, fmt.Errorf("parse close %q: %w", close, err)
	}
	if c <= o {
		return Window{}, fmt.Errorf("window %s-%s: close must be after open", open, close)
	}
	return Window{Open: o, Close: c}, nil
}

func parseMinutes(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// HOSE returns the Ho Chi Minh Stock Exchange calendar: Monday-Friday,
// 09:00-11:30 and 13:00-14:45 Indochina time.
func HOSE() (Calendar, error) {
	return NewCalendar(
		"Asia/Ho_Chi_Minh",
		[]Window{
			{Open: 9 * 60, Close: 11*60 + 30},
			{Open: 13 * 60, Close: 14*60 + 45},
		},
		[]time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
	)
}

// IsOpen reports whether now falls inside a trading session. Pure, no I/O.
func (c Calendar) IsOpen(now time.Time) bool {
	local := now.In(c.loc)

	if !c.weekdays[local.Weekday()] {
		return false
	}

	minutes := local.Hour()*60 + local.Minute()
	for _, w := range c.windows {
		if minutes >= w.Open && minutes < w.Close {
			return true
		}
	}
	return false
}
