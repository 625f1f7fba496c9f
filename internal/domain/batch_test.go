package domain

import (
	"testing"
	"time"
)

func TestDay(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	got := Day(time.Date(2024, 1, 5, 22, 30, 0, 0, ny))
	want := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Day() = %v, want %v", got, want)
	}
}

func TestParseDay(t *testing.T) {
	d, err := ParseDay("2024-02-29")
	if err != nil {
		t.Fatalf("ParseDay failed: %v", err)
	}
	if d.Location() != time.UTC || d.Format(DateLayout) != "2024-02-29" {
		t.Errorf("unexpected day %v", d)
	}
	for _, bad := range []string{"2023-02-29", "01/02/2024", "2024-1-2", ""} {
		if _, err := ParseDay(bad); err == nil {
			t.Errorf("ParseDay(%q) expected error", bad)
		}
	}
}

func TestEvaluationBatch_LastDayAndContains(t *testing.T) {
	dates := []time.Time{
		time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
	}
	b := EvaluationBatch{
		Index:    1,
		Start:    dates[0],
		End:      dates[2],
		Cutoff:   dates[0].AddDate(0, 0, -1),
		Dates:    dates,
		FirstDay: 6,
	}

	if got := b.LastDay(); got != 8 {
		t.Errorf("LastDay() = %d, want 8", got)
	}
	if !b.Contains(time.Date(2024, 1, 10, 15, 0, 0, 0, time.UTC)) {
		t.Error("expected End (with a time of day) to be contained")
	}
	if b.Contains(b.Cutoff) {
		t.Error("cutoff must fall outside the batch")
	}
	if b.Contains(time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC)) {
		t.Error("day after End must fall outside the batch")
	}
}

func TestLookupFeatureSet(t *testing.T) {
	sizes := map[string]int{
		FeatureSetEssential8: 8,
		FeatureSetDefault16:  16,
		FeatureSetAdvanced:   24,
	}
	for name, n := range sizes {
		fs, err := LookupFeatureSet(name)
		if err != nil {
			t.Fatalf("LookupFeatureSet(%s) failed: %v", name, err)
		}
		if len(fs) != n {
			t.Errorf("%s: expected %d features, got %d", name, n, len(fs))
		}
	}

	// Larger sets extend smaller ones in order
	small, _ := LookupFeatureSet(FeatureSetEssential8)
	large, _ := LookupFeatureSet(FeatureSetDefault16)
	for i := range small {
		if small[i] != large[i] {
			t.Errorf("feature %d: %s != %s", i, small[i], large[i])
		}
	}

	// Returned slices are copies
	small[0] = "mutated"
	again, _ := LookupFeatureSet(FeatureSetEssential8)
	if again[0] == "mutated" {
		t.Error("registry was mutated through a returned slice")
	}

	if _, err := LookupFeatureSet("all"); err == nil {
		t.Error("expected error for unknown feature set")
	}
}

func TestFeatureSetNames(t *testing.T) {
	got := FeatureSetNames()
	want := []string{FeatureSetAdvanced, FeatureSetDefault16, FeatureSetEssential8}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected %v, got %v", want, got)
		}
	}
}
