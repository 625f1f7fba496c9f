package domain

import "time"

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD date.
func ParseDay(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

// EvaluationBatch is one retraining period within a run.
type EvaluationBatch struct {
	Index  int       // sequence index, 0-based
	Start  time.Time // first trading date
	End    time.Time // last trading date (inclusive)
	Cutoff time.Time // Start - 1 calendar day; training uses data strictly before Start

	// Dates are the trading dates covered, in order.
	Dates []time.Time

	// FirstDay is the 1-based position of Start within the run's trading dates.
	FirstDay int
}

// LastDay returns the 1-based position of End within the run's trading dates.
func (b EvaluationBatch) LastDay() int {
	return b.FirstDay + len(b.Dates) - 1
}

// Contains reports whether date falls inside [Start, End].
func (b EvaluationBatch) Contains(date time.Time) bool {
	d := Day(date)
	return !d.Before(b.Start) && !d.After(b.End)
}
