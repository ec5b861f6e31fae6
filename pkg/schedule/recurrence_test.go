package schedule_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qaforge/qaforge/pkg/schedule"
)

func mustClock(t *testing.T, s string) schedule.ClockTime {
	t.Helper()

	c, err := schedule.ParseClockTime(s)
	require.NoError(t, err)

	return c
}

func TestNextRunTime_OneTime(t *testing.T) {
	// A past instant is returned verbatim; the caller decides whether
	// a past one-time schedule is immediately due.
	date := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	next, err := schedule.NextRunTime(now, schedule.Params{
		Type:      schedule.TypeOneTime,
		Date:      &date,
		TimeOfDay: mustClock(t, "09:30"),
		Location:  time.UTC,
	})
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 3, 10, 9, 30, 0, 0, time.UTC), next)
	assert.True(t, next.Before(now))
}

func TestNextRunTime_DailyAlwaysWithin24h(t *testing.T) {
	cases := []struct {
		name string
		now  time.Time
	}{
		{"before scheduled time", time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)},
		{"exactly scheduled time", time.Date(2024, 6, 1, 14, 15, 0, 0, time.UTC)},
		{"after scheduled time", time.Date(2024, 6, 1, 22, 0, 0, 0, time.UTC)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			next, err := schedule.NextRunTime(tc.now, schedule.Params{
				Type:      schedule.TypeDaily,
				TimeOfDay: mustClock(t, "14:15"),
				Location:  time.UTC,
			})
			require.NoError(t, err)

			assert.True(t, next.After(tc.now), "next run must be strictly in the future")
			assert.LessOrEqual(t, next.Sub(tc.now), 24*time.Hour)
			assert.Equal(t, 14, next.Hour())
			assert.Equal(t, 15, next.Minute())
		})
	}
}

func TestNextRunTime_WeeklySameDay(t *testing.T) {
	// 2024-06-04 is a Tuesday.
	tuesday := schedule.Params{
		Type:      schedule.TypeWeekly,
		TimeOfDay: mustClock(t, "16:00"),
		Location:  time.UTC,
		Pattern:   schedule.WeeklyPattern{Days: []time.Weekday{time.Tuesday}},
	}

	// Before the scheduled time on a Tuesday: fires today.
	now := time.Date(2024, 6, 4, 10, 0, 0, 0, time.UTC)
	next, err := schedule.NextRunTime(now, tuesday)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 4, 16, 0, 0, 0, time.UTC), next)

	// After the scheduled time on a Tuesday: fires exactly 7 days later.
	now = time.Date(2024, 6, 4, 18, 0, 0, 0, time.UTC)
	next, err = schedule.NextRunTime(now, tuesday)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 11, 16, 0, 0, 0, time.UTC), next)
}

func TestNextRunTime_WeeklyScansForward(t *testing.T) {
	// 2024-06-04 is a Tuesday; the next scheduled weekday is Friday.
	now := time.Date(2024, 6, 4, 10, 0, 0, 0, time.UTC)

	next, err := schedule.NextRunTime(now, schedule.Params{
		Type:      schedule.TypeWeekly,
		TimeOfDay: mustClock(t, "08:00"),
		Location:  time.UTC,
		Pattern:   schedule.WeeklyPattern{Days: []time.Weekday{time.Friday, time.Saturday}},
	})
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 6, 7, 8, 0, 0, 0, time.UTC), next)
	assert.Equal(t, time.Friday, next.Weekday())
}

func TestNextRunTime_WeeklyEmptyPatternRejected(t *testing.T) {
	_, err := schedule.NextRunTime(time.Now(), schedule.Params{
		Type:      schedule.TypeWeekly,
		TimeOfDay: mustClock(t, "08:00"),
		Location:  time.UTC,
		Pattern:   schedule.WeeklyPattern{},
	})
	require.Error(t, err)
}

func TestNextRunTime_Monthly(t *testing.T) {
	params := schedule.Params{
		Type:      schedule.TypeMonthly,
		TimeOfDay: mustClock(t, "03:00"),
		Location:  time.UTC,
		Pattern:   schedule.MonthlyPattern{DayOfMonth: 15},
	}

	// Before the 15th: fires this month.
	now := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	next, err := schedule.NextRunTime(now, params)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 15, 3, 0, 0, 0, time.UTC), next)

	// After the 15th: rolls to next month.
	now = time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC)
	next, err = schedule.NextRunTime(now, params)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 7, 15, 3, 0, 0, 0, time.UTC), next)
}

func TestNextRunTime_MonthlyClampsShortMonths(t *testing.T) {
	params := schedule.Params{
		Type:      schedule.TypeMonthly,
		TimeOfDay: mustClock(t, "12:00"),
		Location:  time.UTC,
		Pattern:   schedule.MonthlyPattern{DayOfMonth: 31},
	}

	// February 2025 has 28 days; a day-31 schedule fires on the 28th.
	now := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	next, err := schedule.NextRunTime(now, params)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 2, 28, 12, 0, 0, 0, time.UTC), next)

	// Past the clamped day, it rolls to March 31st.
	now = time.Date(2025, 2, 28, 13, 0, 0, 0, time.UTC)
	next, err = schedule.NextRunTime(now, params)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 31, 12, 0, 0, 0, time.UTC), next)

	// Rolling out of a long month still lands in the short month that
	// follows: after firing on Jan 31 the next occurrence is Feb 28,
	// never a skip to March.
	now = time.Date(2025, 1, 31, 13, 0, 0, 0, time.UTC)
	next, err = schedule.NextRunTime(now, params)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 2, 28, 12, 0, 0, 0, time.UTC), next)

	// Same roll across a 31->30 boundary: Mar 31 advances to Apr 30.
	now = time.Date(2025, 3, 31, 12, 0, 0, 0, time.UTC)
	next, err = schedule.NextRunTime(now, params)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 4, 30, 12, 0, 0, 0, time.UTC), next)
}

func TestNextRunTime_HonorsLocation(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 13:00 UTC is 09:00 in New York (June, DST): the 10:00 local
	// firing is still ahead, so it fires today.
	now := time.Date(2024, 6, 1, 13, 0, 0, 0, time.UTC)

	next, err := schedule.NextRunTime(now, schedule.Params{
		Type:      schedule.TypeDaily,
		TimeOfDay: mustClock(t, "10:00"),
		Location:  loc,
	})
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 6, 1, 10, 0, 0, 0, loc), next)
}

func TestParseWeekdays(t *testing.T) {
	p, err := schedule.ParseWeekdays("1,3,5")
	require.NoError(t, err)
	assert.Equal(t, []time.Weekday{time.Monday, time.Wednesday, time.Friday}, p.Days)
	assert.Equal(t, "1,3,5", p.String())

	_, err = schedule.ParseWeekdays("")
	assert.Error(t, err)

	_, err = schedule.ParseWeekdays("7")
	assert.Error(t, err)
}

func TestParseClockTime(t *testing.T) {
	c, err := schedule.ParseClockTime("23:45")
	require.NoError(t, err)
	assert.Equal(t, "23:45", c.String())

	_, err = schedule.ParseClockTime("24:00")
	assert.Error(t, err)

	_, err = schedule.ParseClockTime("9am")
	assert.Error(t, err)
}
