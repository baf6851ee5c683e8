package recurrence

import (
	"errors"
	"testing"
	"time"
)

func TestRuleFixedCountDaily(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, time.March, 4, 9, 0, 0, 0, time.UTC)
	rule := Rule{Type: TypeDaily, Interval: 1, Count: 5}

	end := rule.End(start)
	if end == nil {
		t.Fatalf("expected bounded series")
	}
	lastDay := start.AddDate(0, 0, 4)
	if !Cut(end.Add(-time.Nanosecond)).Equal(Cut(lastDay)) {
		t.Fatalf("expected end to close day %s, got %s", Cut(lastDay), end)
	}
	if want := time.Date(2024, time.March, 9, 0, 0, 0, 0, time.UTC); !end.Equal(want) {
		t.Fatalf("End = %s, want %s", end, want)
	}
	if n := rule.Number(start); n != 5 {
		t.Fatalf("Number = %d, want 5", n)
	}

	byEnd := Rule{Type: TypeDaily, Interval: 1, Until: end}
	if n := byEnd.Number(start); n != 5 {
		t.Fatalf("Number by end = %d, want 5", n)
	}

	occurrences, err := NewEngine(time.UTC).Occurrences(rule, start, start.Add(time.Hour), Window{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(occurrences) != 5 {
		t.Fatalf("expected 5 occurrences, got %d", len(occurrences))
	}
	if !occurrences[4].Start.Equal(lastDay) {
		t.Fatalf("last occurrence = %s, want %s", occurrences[4].Start, lastDay)
	}
}

func TestRuleNumber(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, time.March, 4, 9, 0, 0, 0, time.UTC)

	t.Run("unbounded", func(t *testing.T) {
		t.Parallel()
		if n := (Rule{Type: TypeWeekly}).Number(start); n != -1 {
			t.Fatalf("Number = %d, want -1", n)
		}
		if end := (Rule{Type: TypeWeekly}).End(start); end != nil {
			t.Fatalf("End = %s, want nil", end)
		}
	})

	t.Run("end before first day boundary", func(t *testing.T) {
		t.Parallel()
		until := start.Add(-time.Hour)
		if n := (Rule{Type: TypeDaily, Until: &until}).Number(start); n != 0 {
			t.Fatalf("Number = %d, want 0", n)
		}
	})

	t.Run("weekly with interval", func(t *testing.T) {
		t.Parallel()
		rule := Rule{Type: TypeWeekly, Interval: 2, Count: 3}
		end := rule.End(start)
		if want := time.Date(2024, time.April, 2, 0, 0, 0, 0, time.UTC); !end.Equal(want) {
			t.Fatalf("End = %s, want %s", end, want)
		}
		if n := (Rule{Type: TypeWeekly, Interval: 2, Until: end}).Number(start); n != 3 {
			t.Fatalf("Number = %d, want 3", n)
		}
	})

	t.Run("monthly round trip", func(t *testing.T) {
		t.Parallel()
		monthlyStart := time.Date(2024, time.January, 30, 9, 0, 0, 0, time.UTC) // 5th Tuesday
		for n := 1; n <= 24; n++ {
			for _, interval := range []int{1, 2} {
				end := Rule{Type: TypeMonthly, Interval: interval, Count: n}.End(monthlyStart)
				got := Rule{Type: TypeMonthly, Interval: interval, Until: end}.Number(monthlyStart)
				if got != n {
					t.Fatalf("count %d interval %d: Number = %d (end %s)", n, interval, got, end)
				}
			}
		}
	})

	t.Run("variable length rules end at the last occurrence", func(t *testing.T) {
		t.Parallel()
		tests := []struct {
			name  string
			rule  Rule
			start time.Time
			want  time.Time
		}{
			{
				name:  "monthly third tuesday",
				rule:  Rule{Type: TypeMonthly, Interval: 1, Count: 3},
				start: time.Date(2024, time.January, 16, 9, 0, 0, 0, time.UTC),
				want:  time.Date(2024, time.March, 19, 9, 0, 0, 0, time.UTC),
			},
			{
				name:  "yearly",
				rule:  Rule{Type: TypeYearly, Count: 2},
				start: time.Date(2024, time.March, 15, 9, 0, 0, 0, time.UTC),
				want:  time.Date(2025, time.March, 15, 9, 0, 0, 0, time.UTC),
			},
		}
		for _, tc := range tests {
			end := tc.rule.End(tc.start)
			if end == nil || !end.Equal(tc.want) {
				t.Fatalf("%s: End = %v, want %s", tc.name, end, tc.want)
			}
			byEnd := Rule{Type: tc.rule.Type, Interval: tc.rule.Interval, Until: end}
			if n := byEnd.Number(tc.start); n != tc.rule.Count {
				t.Fatalf("%s: Number = %d, want %d", tc.name, n, tc.rule.Count)
			}
			occurrences, err := NewEngine(time.UTC).Occurrences(byEnd, tc.start, tc.start.Add(time.Hour), Window{})
			if err != nil {
				t.Fatalf("%s: Occurrences: %v", tc.name, err)
			}
			if len(occurrences) != tc.rule.Count || !occurrences[len(occurrences)-1].Start.Equal(tc.want) {
				t.Fatalf("%s: expected %d occurrences ending at %s, got %+v", tc.name, tc.rule.Count, tc.want, occurrences)
			}
		}
	})

	t.Run("yearly leap day", func(t *testing.T) {
		t.Parallel()
		leap := time.Date(2024, time.February, 29, 12, 0, 0, 0, time.UTC)
		rule := Rule{Type: TypeYearly, Interval: 1, Count: 3}
		end := rule.End(leap)
		if want := time.Date(2032, time.February, 29, 12, 0, 0, 0, time.UTC); !end.Equal(want) {
			t.Fatalf("End = %s, want %s", end, want)
		}
		if n := (Rule{Type: TypeYearly, Until: end}).Number(leap); n != 3 {
			t.Fatalf("Number = %d, want 3", n)
		}
	})
}

func TestRuleIntervalLength(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, time.January, 16, 9, 0, 0, 0, time.UTC)

	if got := (Rule{Type: TypeDaily, Interval: 2}).IntervalLength(start, start); got != 48*time.Hour {
		t.Fatalf("daily interval = %s, want 48h", got)
	}
	if got := (Rule{Type: TypeWeekly, Interval: 0}).IntervalLength(start, start); got != 7*24*time.Hour {
		t.Fatalf("weekly interval with clamped interval = %s, want 168h", got)
	}
	if got := (Rule{Type: TypeMonthly, Interval: 1}).IntervalLength(start, start); got != 35*24*time.Hour {
		t.Fatalf("monthly interval = %s, want 35 days", got)
	}
	if got := (Rule{Type: TypeYearly, Interval: 1}).IntervalLength(start, start); got != 366*24*time.Hour {
		t.Fatalf("yearly interval = %s, want 366 days", got)
	}
}

func TestRuleIsExceptionAcrossDaylightSaving(t *testing.T) {
	t.Parallel()

	ny := mustLoad(t, "America/New_York")

	cases := []struct {
		name      string
		exception time.Time
		at        time.Time
		want      bool
	}{
		{"start of window", time.Date(2024, time.March, 10, 0, 0, 0, 0, ny), time.Date(2024, time.March, 10, 0, 0, 0, 0, ny), true},
		{"before window", time.Date(2024, time.March, 10, 0, 0, 0, 0, ny), time.Date(2024, time.March, 9, 23, 59, 59, 0, ny), false},
		{"spring forward day lasts 23h so next local midnight still matches", time.Date(2024, time.March, 10, 0, 0, 0, 0, ny), time.Date(2024, time.March, 11, 0, 30, 0, 0, ny), true},
		{"24h after exception", time.Date(2024, time.March, 10, 0, 0, 0, 0, ny), time.Date(2024, time.March, 11, 1, 0, 0, 0, ny), false},
		{"fall back day lasts 25h so late evening is outside", time.Date(2024, time.November, 3, 0, 0, 0, 0, ny), time.Date(2024, time.November, 3, 23, 30, 0, 0, ny), false},
		{"fall back day before 23:00", time.Date(2024, time.November, 3, 0, 0, 0, 0, ny), time.Date(2024, time.November, 3, 22, 59, 0, 0, ny), true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rule := Rule{Type: TypeDaily, Exceptions: []time.Time{tc.exception}}
			if got := rule.IsException(tc.at); got != tc.want {
				t.Fatalf("IsException(%s) = %v, want %v", tc.at, got, tc.want)
			}
		})
	}
}

func TestEngine_Occurrences(t *testing.T) {
	t.Parallel()

	baseStart := time.Date(2024, time.March, 4, 9, 0, 0, 0, time.UTC)
	baseEnd := baseStart.Add(time.Hour)
	engine := NewEngine(time.UTC)

	t.Run("keeps local time across daylight saving", func(t *testing.T) {
		t.Parallel()
		ny := mustLoad(t, "America/New_York")
		start := time.Date(2024, time.March, 4, 9, 0, 0, 0, ny)
		occurrences, err := NewEngine(ny).Occurrences(Rule{Type: TypeWeekly, Count: 4}, start, start.Add(time.Hour), Window{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(occurrences) != 4 {
			t.Fatalf("expected 4 occurrences, got %d", len(occurrences))
		}
		for i, occ := range occurrences {
			if occ.Start.Hour() != 9 || occ.End.Hour() != 10 {
				t.Fatalf("occurrence %d moved off 09:00-10:00: %s - %s", i, occ.Start, occ.End)
			}
		}
	})

	t.Run("clips occurrences to the requested window", func(t *testing.T) {
		t.Parallel()
		window := Window{
			Start: time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2024, time.March, 13, 0, 0, 0, 0, time.UTC),
		}
		occurrences, err := engine.Occurrences(Rule{Type: TypeDaily}, baseStart, baseEnd, window)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(occurrences) != 3 {
			t.Fatalf("expected 3 occurrences, got %d", len(occurrences))
		}
		if first := occurrences[0].Start; first.Day() != 10 {
			t.Fatalf("expected first occurrence on the 10th, got %s", first)
		}
	})

	t.Run("flags exceptions", func(t *testing.T) {
		t.Parallel()
		rule := Rule{Type: TypeDaily, Count: 3, Exceptions: []time.Time{time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC)}}
		occurrences, err := engine.Occurrences(rule, baseStart, baseEnd, Window{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		flags := []bool{occurrences[0].Exception, occurrences[1].Exception, occurrences[2].Exception}
		if flags[0] || !flags[1] || flags[2] {
			t.Fatalf("unexpected exception flags %v", flags)
		}
	})

	t.Run("requires a bound for open series", func(t *testing.T) {
		t.Parallel()
		if _, err := engine.Occurrences(Rule{Type: TypeMonthly}, baseStart, baseEnd, Window{}); !errors.Is(err, ErrInvalidWindow) {
			t.Fatalf("expected ErrInvalidWindow, got %v", err)
		}
	})

	t.Run("rejects unspecified type", func(t *testing.T) {
		t.Parallel()
		if _, err := engine.Occurrences(Rule{}, baseStart, baseEnd, Window{}); !errors.Is(err, ErrInvalidType) {
			t.Fatalf("expected ErrInvalidType, got %v", err)
		}
	})

	t.Run("rejects negative duration", func(t *testing.T) {
		t.Parallel()
		if _, err := engine.Occurrences(Rule{Type: TypeDaily, Count: 1}, baseEnd, baseStart, Window{}); !errors.Is(err, ErrInvalidDuration) {
			t.Fatalf("expected ErrInvalidDuration, got %v", err)
		}
	})
}

func TestParseType(t *testing.T) {
	t.Parallel()

	for _, typ := range []Type{TypeDaily, TypeWeekly, TypeMonthly, TypeYearly} {
		got, err := ParseType(" " + typ.String() + " ")
		if err != nil {
			t.Fatalf("ParseType(%s): %v", typ, err)
		}
		if got != typ {
			t.Fatalf("ParseType(%s) = %s", typ, got)
		}
	}
	if _, err := ParseType("hourly"); !errors.Is(err, ErrInvalidType) {
		t.Fatalf("expected ErrInvalidType, got %v", err)
	}
}

func TestSortExceptions(t *testing.T) {
	t.Parallel()

	a := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := a.AddDate(0, 0, 1)
	got := SortExceptions([]time.Time{b, a, b})
	if len(got) != 2 || !got[0].Equal(a) || !got[1].Equal(b) {
		t.Fatalf("unexpected result %v", got)
	}
}
