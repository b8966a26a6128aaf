// Package schedule converts instants into rule-local wall clock readings and tests them
// against daily commit windows.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MinutesPerDay is the number of minutes in a civil day.
const MinutesPerDay = 24 * 60

// Clock is a wall-clock reading in a rule's zone.
type Clock struct {
	Weekday     int // 0 = Sunday .. 6 = Saturday.
	MinuteOfDay int // Minutes since local midnight.
	Location    *time.Location
	Local       time.Time
}

// Window is an inclusive [Start, End] minute-of-day range on a set of weekdays.
type Window struct {
	Start int
	End   int
	Days  [7]bool
}

// ParseClockTime parses a 24-hour "HH:MM" value into minutes since midnight.
func ParseClockTime(value string) (int, error) {
	value = strings.TrimSpace(value)
	parts := strings.Split(value, ":")
	if len(parts) != 2 || len(parts[0]) == 0 || len(parts[1]) != 2 {
		return 0, fmt.Errorf("schedule: invalid time %q, expected HH:MM", value)
	}
	hour, errHour := strconv.Atoi(parts[0])
	minute, errMinute := strconv.Atoi(parts[1])
	if errHour != nil || errMinute != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("schedule: invalid time %q, expected HH:MM", value)
	}
	return hour*60 + minute, nil
}

// NewWindow validates a window definition. Overnight windows (start after end) are rejected.
func NewWindow(startTime, endTime string, daysOfWeek []int) (Window, error) {
	start, errStart := ParseClockTime(startTime)
	if errStart != nil {
		return Window{}, errStart
	}
	end, errEnd := ParseClockTime(endTime)
	if errEnd != nil {
		return Window{}, errEnd
	}
	if start > end {
		return Window{}, fmt.Errorf("schedule: window %s-%s wraps midnight, overnight windows are not supported", startTime, endTime)
	}
	w := Window{Start: start, End: end}
	for _, day := range daysOfWeek {
		if day < 0 || day > 6 {
			return Window{}, fmt.Errorf("schedule: invalid weekday %d", day)
		}
		w.Days[day] = true
	}
	if !w.hasDays() {
		return Window{}, fmt.Errorf("schedule: no weekdays selected")
	}
	return w, nil
}

func (w Window) hasDays() bool {
	for _, enabled := range w.Days {
		if enabled {
			return true
		}
	}
	return false
}

// Contains reports whether weekday/minuteOfDay falls inside the window. Both bounds are inclusive.
func (w Window) Contains(weekday, minuteOfDay int) bool {
	if weekday < 0 || weekday > 6 || !w.Days[weekday] {
		return false
	}
	return minuteOfDay >= w.Start && minuteOfDay <= w.End
}

// ContainsClock is Contains applied to a Clock reading.
func (w Window) ContainsClock(c Clock) bool {
	return w.Contains(c.Weekday, c.MinuteOfDay)
}

// MinutesRemaining returns the minutes left until the window end, never negative.
func (w Window) MinutesRemaining(minuteOfDay int) int {
	remaining := w.End - minuteOfDay
	if remaining < 0 {
		return 0
	}
	return remaining
}
