// Package ptu converts dates and timestamps into Program Time Unit counts and
// indices. A PTU is a fixed-length slice of a local day; daylight saving
// transitions shorten or lengthen the day by one hour.
package ptu

import (
	"fmt"
	"time"
)

// Clock resolves PTUs for a fixed duration in a fixed time zone.
type Clock struct {
	duration int
	loc      *time.Location
}

// NewClock validates the PTU duration in minutes. The duration must be
// positive and divide 60 so that every day, including daylight saving
// transition days, holds a whole number of PTUs.
func NewClock(durationMinutes int, loc *time.Location) (Clock, error) {
	if durationMinutes <= 0 {
		return Clock{}, fmt.Errorf("ptu duration must be positive, got %d", durationMinutes)
	}
	if 60%durationMinutes != 0 {
		return Clock{}, fmt.Errorf("ptu duration %d does not divide an hour", durationMinutes)
	}
	if loc == nil {
		loc = time.UTC
	}
	return Clock{duration: durationMinutes, loc: loc}, nil
}

// MustClock is NewClock for static configuration; it panics on error.
func MustClock(durationMinutes int, loc *time.Location) Clock {
	c, err := NewClock(durationMinutes, loc)
	if err != nil {
		panic(err)
	}
	return c
}

// Duration returns the PTU length in minutes.
func (c Clock) Duration() int { return c.duration }

// Location returns the zone used to resolve local days.
func (c Clock) Location() *time.Location { return c.loc }

// Day returns local midnight of the day containing t.
func (c Clock) Day(t time.Time) time.Time {
	t = t.In(c.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, c.loc)
}

// MinutesInDay returns the length of the local day containing date. It is
// 1440 except on daylight saving transition days.
func (c Clock) MinutesInDay(date time.Time) int {
	start := c.Day(date)
	end := time.Date(start.Year(), start.Month(), start.Day()+1, 0, 0, 0, 0, c.loc)
	return int(end.Sub(start) / time.Minute)
}

// Count returns the number of PTUs in the local day containing date.
func (c Clock) Count(date time.Time) int {
	return c.MinutesInDay(date) / c.duration
}

// Index returns the 1-based PTU index of t within its local day.
func (c Clock) Index(t time.Time) int {
	elapsed := t.Sub(c.Day(t))
	return int(elapsed/time.Minute)/c.duration + 1
}

// Start returns the instant PTU index begins on date.
func (c Clock) Start(date time.Time, index int) time.Time {
	return c.Day(date).Add(time.Duration((index-1)*c.duration) * time.Minute)
}

// End returns the instant PTU index ends on date.
func (c Clock) End(date time.Time, index int) time.Time {
	return c.Start(date, index+1)
}

// CountBetween returns the number of PTUs from (startDate, startPTU) up to
// (endDate, endPTU). Full days in [startDate, endDate) are summed and the
// boundary indices adjust the total.
func (c Clock) CountBetween(startDate, endDate time.Time, startPTU, endPTU int) int {
	total := 0
	for d := c.Day(startDate); d.Before(c.Day(endDate)); d = time.Date(d.Year(), d.Month(), d.Day()+1, 0, 0, 0, 0, c.loc) {
		total += c.Count(d)
	}
	return total + endPTU - startPTU
}
