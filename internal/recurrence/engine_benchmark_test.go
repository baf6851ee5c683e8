package recurrence

import (
	"testing"
	"time"
)

func BenchmarkEngineOccurrences(b *testing.B) {
	engine := NewEngine(time.UTC)
	baseStart := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
	baseEnd := baseStart.Add(90 * time.Minute)

	rule := Rule{Type: TypeDaily, Interval: 1}
	window := Window{Start: baseStart.AddDate(1, 0, 0), End: baseStart.AddDate(1, 3, 0)}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		occurrences, err := engine.Occurrences(rule, baseStart, baseEnd, window)
		if err != nil {
			b.Fatalf("unexpected error: %v", err)
		}
		if len(occurrences) == 0 {
			b.Fatal("expected occurrences to be generated")
		}
	}
}

func BenchmarkEngineMonthlyOccurrences(b *testing.B) {
	engine := NewEngine(time.UTC)
	baseStart := time.Date(2024, 1, 16, 9, 0, 0, 0, time.UTC)
	rule := Rule{Type: TypeMonthly, Interval: 1, Count: 120}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.Occurrences(rule, baseStart, baseStart.Add(time.Hour), Window{}); err != nil {
			b.Fatalf("unexpected error: %v", err)
		}
	}
}
