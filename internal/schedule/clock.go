package schedule

import (
	"strings"
	"time"
)

// ResolveLocation loads an IANA zone. Empty names mean UTC. Unknown names fall back to UTC
// and report ok=false so callers can flag the rule.
func ResolveLocation(name string) (*time.Location, bool) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "UTC") {
		return time.UTC, true
	}
	loc, errLoad := time.LoadLocation(name)
	if errLoad != nil {
		return time.UTC, false
	}
	return loc, true
}

// LocalClock reads the wall clock of now in loc. The reading comes from the zone rules in
// effect at that instant, so DST transitions are reflected exactly.
func LocalClock(now time.Time, loc *time.Location) Clock {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	return Clock{
		Weekday:     int(local.Weekday()),
		MinuteOfDay: local.Hour()*60 + local.Minute(),
		Location:    loc,
		Local:       local,
	}
}

// LocalMidnight returns the instant of the most recent local midnight before or at now, in UTC.
// On days where midnight itself is skipped by a DST change the first valid instant of the day
// is returned.
func LocalMidnight(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	return startOfDay(local.Year(), local.Month(), local.Day(), loc).UTC()
}

// WeekStart returns the UTC instant of the most recent local Sunday midnight.
func WeekStart(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	day := local.AddDate(0, 0, -int(local.Weekday()))
	return startOfDay(day.Year(), day.Month(), day.Day(), loc).UTC()
}

// MonthStart returns the UTC instant of local midnight on the first day of the month.
func MonthStart(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	return startOfDay(local.Year(), local.Month(), 1, loc).UTC()
}

func startOfDay(year int, month time.Month, day int, loc *time.Location) time.Time {
	midnight := time.Date(year, month, day, 0, 0, 0, 0, loc)
	// time.Date normalizes a nonexistent midnight forward or backward; a result on the previous
	// day is moved to the first instant of the requested day.
	if midnight.Day() != day {
		midnight = time.Date(year, month, day, 1, 0, 0, 0, loc)
	}
	return midnight
}
