package schedule

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Type identifies how often a scheduled test fires.
type Type string

// Supported schedule types.
const (
	TypeOneTime Type = "one-time"
	TypeDaily   Type = "daily"
	TypeWeekly  Type = "weekly"
	TypeMonthly Type = "monthly"
)

// ValidType reports whether t is a known schedule type.
func ValidType(t Type) bool {
	switch t {
	case TypeOneTime, TypeDaily, TypeWeekly, TypeMonthly:
		return true
	}

	return false
}

// Pattern is the recurrence payload for a schedule. The concrete type
// is determined by the schedule type: weekly schedules carry a
// WeeklyPattern, monthly schedules a MonthlyPattern, and one-time and
// daily schedules carry no pattern at all. Invalid combinations are
// rejected by Params.Validate.
type Pattern interface {
	isPattern()
}

// WeeklyPattern selects one or more weekdays (Sunday = 0).
type WeeklyPattern struct {
	Days []time.Weekday
}

func (WeeklyPattern) isPattern() {}

// Contains reports whether d is in the pattern's weekday set.
func (p WeeklyPattern) Contains(d time.Weekday) bool {
	for _, day := range p.Days {
		if day == d {
			return true
		}
	}

	return false
}

// String renders the weekday set as a comma-separated ordinal list,
// sorted ascending, suitable for storage.
func (p WeeklyPattern) String() string {
	ordinals := make([]int, 0, len(p.Days))
	for _, d := range p.Days {
		ordinals = append(ordinals, int(d))
	}

	sort.Ints(ordinals)

	parts := make([]string, 0, len(ordinals))
	for _, o := range ordinals {
		parts = append(parts, strconv.Itoa(o))
	}

	return strings.Join(parts, ",")
}

// ParseWeekdays parses a comma-separated list of weekday ordinals
// (0-6, Sunday = 0) as produced by WeeklyPattern.String.
func ParseWeekdays(s string) (WeeklyPattern, error) {
	var p WeeklyPattern

	if strings.TrimSpace(s) == "" {
		return p, fmt.Errorf("empty weekday list")
	}

	for _, part := range strings.Split(s, ",") {
		ordinal, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return WeeklyPattern{}, fmt.Errorf("parsing weekday %q: %w", part, err)
		}

		if ordinal < 0 || ordinal > 6 {
			return WeeklyPattern{}, fmt.Errorf("weekday ordinal %d out of range 0-6", ordinal)
		}

		p.Days = append(p.Days, time.Weekday(ordinal))
	}

	return p, nil
}

// MonthlyPattern selects a single day of the month (1-31).
type MonthlyPattern struct {
	DayOfMonth int
}

func (MonthlyPattern) isPattern() {}

// ClockTime is a wall-clock time of day, independent of any date.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClockTime parses a "HH:MM" wall-clock time.
func ParseClockTime(s string) (ClockTime, error) {
	parsed, err := time.Parse("15:04", s)
	if err != nil {
		return ClockTime{}, fmt.Errorf("parsing clock time %q: %w", s, err)
	}

	return ClockTime{Hour: parsed.Hour(), Minute: parsed.Minute()}, nil
}

// String renders the clock time as "HH:MM".
func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Params holds everything needed to compute a schedule's next firing.
type Params struct {
	Type      Type
	Date      *time.Time // calendar date, one-time schedules only
	TimeOfDay ClockTime
	Location  *time.Location
	Pattern   Pattern
}

// Validate rejects parameter combinations that cannot produce a firing.
func (p Params) Validate() error {
	if !ValidType(p.Type) {
		return fmt.Errorf("unknown schedule type %q", p.Type)
	}

	switch p.Type {
	case TypeOneTime:
		if p.Date == nil {
			return fmt.Errorf("one-time schedule requires a date")
		}
	case TypeWeekly:
		weekly, ok := p.Pattern.(WeeklyPattern)
		if !ok {
			return fmt.Errorf("weekly schedule requires a weekday pattern")
		}

		if len(weekly.Days) == 0 {
			return fmt.Errorf("weekly schedule requires at least one weekday")
		}

		for _, d := range weekly.Days {
			if d < time.Sunday || d > time.Saturday {
				return fmt.Errorf("weekday ordinal %d out of range 0-6", d)
			}
		}
	case TypeMonthly:
		monthly, ok := p.Pattern.(MonthlyPattern)
		if !ok {
			return fmt.Errorf("monthly schedule requires a day-of-month pattern")
		}

		if monthly.DayOfMonth < 1 || monthly.DayOfMonth > 31 {
			return fmt.Errorf("day of month %d out of range 1-31", monthly.DayOfMonth)
		}
	case TypeDaily:
		if p.Pattern != nil {
			return fmt.Errorf("daily schedule must not carry a recurrence pattern")
		}
	}

	return nil
}
