package recurrence

import "time"

// Floating maps t onto UTC while keeping its wall-clock fields. Durations
// between floating times ignore daylight saving shifts of the original zone.
func Floating(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// Unfloat reverses Floating for the given location.
func Unfloat(f time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := f.Date()
	return time.Date(y, m, d, f.Hour(), f.Minute(), f.Second(), f.Nanosecond(), loc)
}

// Cut returns midnight at the start of t's calendar day.
func Cut(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Fill returns midnight at the start of the day after t's calendar day. It is
// the exclusive boundary of the day containing t.
func Fill(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
}

// DaysIn reports the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// WeekdayOrdinal returns which occurrence of its weekday t is within its
// month, counting from 1. The 29th to 31st are always the 5th.
func WeekdayOrdinal(t time.Time) int {
	return (t.Day()-1)/7 + 1
}

// NextMonthly returns the first date after t that falls on the ordinal-th
// occurrence of t's weekday in a later month. Months that lack that
// occurrence are skipped. The time of day is kept.
func NextMonthly(t time.Time, ordinal int) time.Time {
	if ordinal < 1 {
		ordinal = 1
	}
	if ordinal > 5 {
		ordinal = 5
	}
	weekday := t.Weekday()
	year, month := t.Year(), t.Month()
	for {
		month++
		if month > time.December {
			month = time.January
			year++
		}
		first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).Weekday()
		day := 1 + (int(weekday)-int(first)+7)%7 + 7*(ordinal-1)
		if day <= DaysIn(year, month) {
			return time.Date(year, month, day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
		}
	}
}

// NextYearly returns the first date after t's year that falls on month/day.
// A Feb 29 anchor only lands in leap years. The time of day is kept.
func NextYearly(t time.Time, month time.Month, day int) time.Time {
	// 2000 is a leap year, so this is the longest the month ever gets.
	if longest := DaysIn(2000, month); day > longest {
		day = longest
	}
	for year := t.Year() + 1; ; year++ {
		if day <= DaysIn(year, month) {
			return time.Date(year, month, day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
		}
	}
}
