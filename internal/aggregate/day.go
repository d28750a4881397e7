package aggregate

import (
	"fmt"
	"time"
)

const DateLayout = "2006-01-02"

// DateOf returns the local calendar date of t in loc.
func DateOf(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DateLayout)
}

// DayBounds returns [start, end) of a local calendar date.
func DayBounds(date string, loc *time.Location) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation(DateLayout, date, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	return start, start.AddDate(0, 0, 1), nil
}

// Provisional reports whether a vehicle-day may still change: the day is
// not over yet, or the vehicle has an open trip that started on or before
// the day. openTripStart is nil when no trip is open.
func Provisional(date string, loc *time.Location, now time.Time, openTripStart *time.Time) bool {
	_, end, err := DayBounds(date, loc)
	if err != nil {
		return true
	}
	if now.Before(end) {
		return true
	}
	return openTripStart != nil && openTripStart.Before(end)
}
