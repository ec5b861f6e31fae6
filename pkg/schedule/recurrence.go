package schedule

import (
	"fmt"
	"time"
)

// NextRunTime computes the next firing instant for the given schedule
// parameters, relative to now. It is pure: the same now and params
// always produce the same result.
//
// One-time schedules return their configured instant verbatim, even
// when it is already in the past; the caller treats past one-time
// schedules as immediately due.
func NextRunTime(now time.Time, p Params) (time.Time, error) {
	if err := p.Validate(); err != nil {
		return time.Time{}, err
	}

	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}

	now = now.In(loc)

	switch p.Type {
	case TypeOneTime:
		return atClockTime(*p.Date, p.TimeOfDay, loc), nil

	case TypeDaily:
		next := atClockTime(now, p.TimeOfDay, loc)
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}

		return next, nil

	case TypeWeekly:
		weekly := p.Pattern.(WeeklyPattern)

		for offset := 0; offset <= 6; offset++ {
			candidate := atClockTime(now.AddDate(0, 0, offset), p.TimeOfDay, loc)
			if !weekly.Contains(candidate.Weekday()) {
				continue
			}

			if offset > 0 || candidate.After(now) {
				return candidate, nil
			}
		}

		// Unreachable for a validated pattern: a non-empty weekday set
		// always matches within 7 days. Kept as a fallback for rows
		// persisted before validation existed.
		return now, nil

	case TypeMonthly:
		monthly := p.Pattern.(MonthlyPattern)

		next := atDayOfMonth(now, monthly.DayOfMonth, p.TimeOfDay, loc)
		if !next.After(now) {
			// AddDate from now would normalize past a short month
			// (Jan 31 + 1 month = Mar 3), skipping it entirely; roll
			// from the first of the next month so the clamp applies
			// to that month.
			firstOfNext := time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, loc)
			next = atDayOfMonth(firstOfNext, monthly.DayOfMonth, p.TimeOfDay, loc)
		}

		return next, nil
	}

	return time.Time{}, fmt.Errorf("unknown schedule type %q", p.Type)
}

// atClockTime combines the calendar date of d with the given wall-clock
// time in loc.
func atClockTime(d time.Time, c ClockTime, loc *time.Location) time.Time {
	d = d.In(loc)

	return time.Date(d.Year(), d.Month(), d.Day(), c.Hour, c.Minute, 0, 0, loc)
}

// atDayOfMonth returns the given day of d's month at the wall-clock
// time. Days beyond the month's length clamp to its last day, so a
// day-31 schedule fires on Feb 28/29, Apr 30 and so on.
func atDayOfMonth(d time.Time, day int, c ClockTime, loc *time.Location) time.Time {
	d = d.In(loc)

	if last := daysInMonth(d.Year(), d.Month()); day > last {
		day = last
	}

	return time.Date(d.Year(), d.Month(), day, c.Hour, c.Minute, 0, 0, loc)
}

// daysInMonth returns the number of days in the given month.
func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
