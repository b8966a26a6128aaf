package schedule

import (
	"testing"
	"time"
	_ "time/tzdata"
)

func mustLocation(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, ok := ResolveLocation(name)
	if !ok {
		t.Fatalf("load location %s", name)
	}
	return loc
}

func mustWindow(t *testing.T, start, end string, days ...int) Window {
	t.Helper()
	w, err := NewWindow(start, end, days)
	if err != nil {
		t.Fatalf("new window %s-%s: %v", start, end, err)
	}
	return w
}

func TestWindowBoundsAreInclusive(t *testing.T) {
	w := mustWindow(t, "09:00", "17:00", 1)
	cases := []struct {
		minute int
		want   bool
	}{
		{8*60 + 59, false},
		{9 * 60, true},
		{12 * 60, true},
		{17 * 60, true},
		{17*60 + 1, false},
	}
	for _, tc := range cases {
		if got := w.Contains(1, tc.minute); got != tc.want {
			t.Fatalf("minute %d: expected %v, got %v", tc.minute, tc.want, got)
		}
	}
	if w.Contains(2, 12*60) {
		t.Fatalf("weekday outside daysOfWeek must not be in window")
	}
}

func TestNewWindowRejectsInvalidDefinitions(t *testing.T) {
	cases := []struct {
		name       string
		start, end string
		days       []int
	}{
		{"overnight", "22:00", "02:00", []int{1}},
		{"bad hour", "24:00", "23:00", []int{1}},
		{"bad minute", "09:60", "10:00", []int{1}},
		{"bad format", "9", "10:00", []int{1}},
		{"no days", "09:00", "10:00", nil},
		{"bad weekday", "09:00", "10:00", []int{7}},
	}
	for _, tc := range cases {
		if _, err := NewWindow(tc.start, tc.end, tc.days); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
	if _, err := NewWindow("00:00", "23:59", []int{0, 1, 2, 3, 4, 5, 6}); err != nil {
		t.Fatalf("full day window: %v", err)
	}
}

func TestMinutesRemaining(t *testing.T) {
	w := mustWindow(t, "09:00", "10:00", 0)
	if got := w.MinutesRemaining(9*60 + 30); got != 30 {
		t.Fatalf("expected 30, got %d", got)
	}
	if got := w.MinutesRemaining(11 * 60); got != 0 {
		t.Fatalf("expected 0 past the end, got %d", got)
	}
}

func TestLocalClockUsesZoneRules(t *testing.T) {
	loc := mustLocation(t, "Asia/Kolkata")
	clock := LocalClock(time.Date(2024, 1, 1, 20, 0, 0, 0, time.UTC), loc)
	if clock.Weekday != int(time.Tuesday) {
		t.Fatalf("expected Tuesday, got %d", clock.Weekday)
	}
	if clock.MinuteOfDay != 1*60+30 {
		t.Fatalf("expected 01:30, got minute %d", clock.MinuteOfDay)
	}
}

// On 2024-03-10 New York jumps from 01:59 EST to 03:00 EDT. Local minutes 02:00-02:59 never
// occur, so a 01:30-02:30 window is open for 01:30-01:59 and closed from 03:00.
func TestLocalClockSpringForwardSkipsMissingHour(t *testing.T) {
	loc := mustLocation(t, "America/New_York")
	w := mustWindow(t, "01:30", "02:30", int(time.Sunday))

	cases := []struct {
		utc        time.Time
		wantMinute int
		wantIn     bool
	}{
		{time.Date(2024, 3, 10, 6, 30, 0, 0, time.UTC), 1*60 + 30, true},
		{time.Date(2024, 3, 10, 6, 59, 0, 0, time.UTC), 1*60 + 59, true},
		{time.Date(2024, 3, 10, 7, 0, 0, 0, time.UTC), 3 * 60, false},
		{time.Date(2024, 3, 10, 7, 30, 0, 0, time.UTC), 3*60 + 30, false},
	}
	for _, tc := range cases {
		clock := LocalClock(tc.utc, loc)
		if clock.MinuteOfDay != tc.wantMinute {
			t.Fatalf("%s: expected minute %d, got %d", tc.utc, tc.wantMinute, clock.MinuteOfDay)
		}
		if got := w.ContainsClock(clock); got != tc.wantIn {
			t.Fatalf("%s: expected in-window %v, got %v", tc.utc, tc.wantIn, got)
		}
	}
}

func TestLocalClockFallBackRepeatsHour(t *testing.T) {
	loc := mustLocation(t, "America/New_York")
	first := LocalClock(time.Date(2024, 11, 3, 5, 30, 0, 0, time.UTC), loc)
	second := LocalClock(time.Date(2024, 11, 3, 6, 30, 0, 0, time.UTC), loc)
	if first.MinuteOfDay != 90 || second.MinuteOfDay != 90 {
		t.Fatalf("expected both readings at 01:30, got %d and %d", first.MinuteOfDay, second.MinuteOfDay)
	}
	if first.Weekday != int(time.Sunday) || second.Weekday != int(time.Sunday) {
		t.Fatalf("expected Sunday readings")
	}
}

func TestResolveLocationFallsBackToUTC(t *testing.T) {
	loc, ok := ResolveLocation("Mars/Olympus_Mons")
	if ok {
		t.Fatalf("expected fallback flag for unknown zone")
	}
	if loc != time.UTC {
		t.Fatalf("expected UTC fallback, got %s", loc)
	}
	if loc, ok := ResolveLocation(""); !ok || loc != time.UTC {
		t.Fatalf("empty zone should resolve to UTC without fallback")
	}
}

func TestLocalMidnightUsesRuleZone(t *testing.T) {
	tokyo := mustLocation(t, "Asia/Tokyo")
	got := LocalMidnight(time.Date(2024, 5, 1, 16, 0, 0, 0, time.UTC), tokyo)
	want := time.Date(2024, 5, 1, 15, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}

	newYork := mustLocation(t, "America/New_York")
	got = LocalMidnight(time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC), newYork)
	want = time.Date(2024, 3, 10, 5, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected EST midnight %s, got %s", want, got)
	}
}

func TestWeekAndMonthStart(t *testing.T) {
	now := time.Date(2024, 3, 13, 12, 0, 0, 0, time.UTC)
	if got := WeekStart(now, time.UTC); !got.Equal(time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected week start %s", got)
	}
	if got := MonthStart(now, time.UTC); !got.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected month start %s", got)
	}
}
