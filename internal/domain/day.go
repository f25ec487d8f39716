package domain

import "time"

// Day is a calendar day [Start, End) in the ledger timezone.
type Day struct {
	Start time.Time
	End   time.Time
}

// DayOf returns the calendar day containing t in loc.
func DayOf(t time.Time, loc *time.Location) Day {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return Day{Start: start, End: start.AddDate(0, 0, 1)}
}

// Contains reports whether t falls inside the day.
func (d Day) Contains(t time.Time) bool {
	return !t.Before(d.Start) && t.Before(d.End)
}
