// Package trigger implements the recurring-task abstraction behind an
// image's trigger descriptor: a weekday schedule with a fire time, a
// pure next-fire-time computation, and a supervisor that keeps invoking
// the image entrypoint on that schedule for as long as it runs.
package trigger

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Schedule is a set of weekdays plus a fire time. All schedule math is done
// in UTC; the image pins TZ=UTC for the same reason, so "Tuesday" means the
// same thing on every host.
type Schedule struct {
	Days   []time.Weekday
	Hour   int
	Minute int
}

// DefaultSchedule fires once a week, Tuesday at 07:00 UTC.
func DefaultSchedule() Schedule {
	return Schedule{Days: []time.Weekday{time.Tuesday}, Hour: 7}
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseDays converts lowercase-insensitive weekday names into weekdays,
// rejecting unknown names and duplicates.
func ParseDays(names []string) ([]time.Weekday, error) {
	seen := make(map[time.Weekday]bool)
	days := make([]time.Weekday, 0, len(names))
	for _, name := range names {
		day, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", name)
		}
		if seen[day] {
			return nil, fmt.Errorf("duplicate weekday %q", name)
		}
		seen[day] = true
		days = append(days, day)
	}
	return days, nil
}

// ParseTimeOfDay parses a 24h "HH:MM" string.
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	if _, err := fmt.Sscanf(s, "%2d:%2d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("invalid time of day %q, want HH:MM", s)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("time of day %q out of range", s)
	}
	return hour, minute, nil
}

// NewSchedule builds a schedule from weekday names and an "HH:MM" fire
// time. Empty inputs fall back to the default weekly Tuesday 07:00.
func NewSchedule(dayNames []string, at string) (Schedule, error) {
	s := DefaultSchedule()
	if len(dayNames) > 0 {
		days, err := ParseDays(dayNames)
		if err != nil {
			return Schedule{}, err
		}
		s.Days = days
	}
	if at != "" {
		hour, minute, err := ParseTimeOfDay(at)
		if err != nil {
			return Schedule{}, err
		}
		s.Hour, s.Minute = hour, minute
	}
	return s, nil
}

// At renders the fire time back as "HH:MM".
func (s Schedule) At() string {
	return fmt.Sprintf("%02d:%02d", s.Hour, s.Minute)
}

// DayNames renders the weekday set as lowercase names in week order.
func (s Schedule) DayNames() []string {
	days := append([]time.Weekday{}, s.Days...)
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
	names := make([]string, len(days))
	for i, d := range days {
		names[i] = strings.ToLower(d.String())
	}
	return names
}

// Next returns the first fire time strictly after the given instant.
// The computation is pure: feeding the returned time back in walks the
// schedule forward one firing at a time.
func (s Schedule) Next(after time.Time) time.Time {
	if len(s.Days) == 0 {
		panic("trigger: schedule has no days")
	}
	after = after.UTC()

	scheduled := make(map[time.Weekday]bool, len(s.Days))
	for _, d := range s.Days {
		scheduled[d] = true
	}

	day := time.Date(after.Year(), after.Month(), after.Day(), 0, 0, 0, 0, time.UTC)
	for i := 0; i < 8; i++ {
		candidate := day.Add(time.Duration(s.Hour)*time.Hour + time.Duration(s.Minute)*time.Minute)
		if scheduled[candidate.Weekday()] && candidate.After(after) {
			return candidate
		}
		day = day.AddDate(0, 0, 1)
	}
	panic("trigger: no fire time within one week")
}
