package scheduler

import (
	"fmt"
	"time"
)

// Trigger computes when a task fires next
type Trigger interface {
	// Next returns the first fire time strictly after after
	Next(after time.Time) time.Time
	String() string
}

type every struct {
	interval time.Duration
}

// Every fires at a fixed interval measured from the previous fire time
func Every(d time.Duration) Trigger {
	return every{interval: d}
}

func (e every) Next(after time.Time) time.Time { return after.Add(e.interval) }
func (e every) String() string                 { return "every " + e.interval.String() }

type clock struct {
	hour, minute int
	loc          *time.Location
}

func (c clock) on(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, c.hour, c.minute, 0, 0, c.loc)
}

type daily struct{ clock }

// DailyAt fires every day at hour:minute in loc
func DailyAt(hour, minute int, loc *time.Location) Trigger {
	return daily{clock{hour, minute, orUTC(loc)}}
}

func (d daily) Next(after time.Time) time.Time {
	t := after.In(d.loc)
	next := d.on(t.Year(), t.Month(), t.Day())
	if !next.After(after) {
		next = d.on(t.Year(), t.Month(), t.Day()+1)
	}
	return next
}

func (d daily) String() string {
	return fmt.Sprintf("daily at %02d:%02d", d.hour, d.minute)
}

type weekly struct {
	clock
	weekday time.Weekday
}

// WeeklyAt fires every week on weekday at hour:minute in loc
func WeeklyAt(weekday time.Weekday, hour, minute int, loc *time.Location) Trigger {
	return weekly{clock{hour, minute, orUTC(loc)}, weekday}
}

func (w weekly) Next(after time.Time) time.Time {
	t := after.In(w.loc)
	ahead := (int(w.weekday) - int(t.Weekday()) + 7) % 7
	next := w.on(t.Year(), t.Month(), t.Day()+ahead)
	if !next.After(after) {
		next = w.on(t.Year(), t.Month(), t.Day()+ahead+7)
	}
	return next
}

func (w weekly) String() string {
	return fmt.Sprintf("weekly on %s at %02d:%02d", w.weekday, w.hour, w.minute)
}

type monthly struct {
	clock
	day int
}

// MonthlyAt fires every month on day at hour:minute in loc. Days past the end
// of a short month fire on its last day.
func MonthlyAt(day, hour, minute int, loc *time.Location) Trigger {
	return monthly{clock{hour, minute, orUTC(loc)}, day}
}

func (m monthly) Next(after time.Time) time.Time {
	t := after.In(m.loc)
	for i := 0; i < 2; i++ {
		year, month := t.Year(), t.Month()+time.Month(i)
		next := m.on(year, month, m.clampTo(year, month))
		if next.After(after) {
			return next
		}
	}
	// unreachable for valid days; keeps Next total
	return m.on(t.Year(), t.Month()+2, 1)
}

func (m monthly) clampTo(year int, month time.Month) int {
	last := daysIn(year, month)
	switch {
	case m.day < 1:
		return 1
	case m.day > last:
		return last
	}
	return m.day
}

func (m monthly) String() string {
	return fmt.Sprintf("monthly on day %d at %02d:%02d", m.day, m.hour, m.minute)
}

// daysIn normalizes month overflow, so month 13 is next January
func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func orUTC(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}
