// Package planner splits a run's trading-day horizon into evaluation batches.
package planner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"walkforward-lab/internal/domain"
)

// ErrInsufficientCalendarData is returned when no trading dates can be resolved.
var ErrInsufficientCalendarData = errors.New("insufficient calendar data")

// Calendar provides valid trading dates for a symbol.
type Calendar interface {
	// TradingDates returns up to limit trading dates on or after from, ascending.
	TradingDates(ctx context.Context, symbol string, from time.Time, limit int) ([]time.Time, error)
}

// Plan resolves the first horizonDays trading dates on or after testStart and
// partitions them into batches of cadence trading days.
func Plan(ctx context.Context, cal Calendar, symbol string, testStart time.Time, horizonDays int, cadence domain.Cadence) ([]domain.EvaluationBatch, error) {
	if horizonDays < 1 {
		return nil, fmt.Errorf("horizon must be >= 1, got %d", horizonDays)
	}
	if !cadence.Valid() {
		return nil, fmt.Errorf("unsupported cadence %d", int(cadence))
	}

	dates, err := cal.TradingDates(ctx, symbol, domain.Day(testStart), horizonDays)
	if err != nil {
		return nil, fmt.Errorf("resolve trading dates for %s: %w", symbol, err)
	}

	dates = normalize(dates, domain.Day(testStart))
	if len(dates) > horizonDays {
		dates = dates[:horizonDays]
	}
	if len(dates) == 0 {
		return nil, fmt.Errorf("%w: no trading dates for %s on or after %s",
			ErrInsufficientCalendarData, symbol, testStart.Format(domain.DateLayout))
	}

	return Partition(dates, cadence.Days()), nil
}

// Partition walks dates in windows of size trading days; the last window may be shorter.
// The cutoff of each batch is its start date minus one calendar day, which may
// fall on a non-trading day. dates must be sorted and unique.
func Partition(dates []time.Time, size int) []domain.EvaluationBatch {
	if size < 1 {
		size = 1
	}

	batches := make([]domain.EvaluationBatch, 0, (len(dates)+size-1)/size)
	for start := 0; start < len(dates); start += size {
		end := start + size
		if end > len(dates) {
			end = len(dates)
		}

		window := make([]time.Time, end-start)
		copy(window, dates[start:end])

		batches = append(batches, domain.EvaluationBatch{
			Index:    len(batches),
			Start:    window[0],
			End:      window[len(window)-1],
			Cutoff:   window[0].AddDate(0, 0, -1),
			Dates:    window,
			FirstDay: start + 1,
		})
	}
	return batches
}

// ResumeIndex returns the index of the first batch whose start is strictly after lastDate.
// Returns len(batches) when every batch is already covered.
func ResumeIndex(batches []domain.EvaluationBatch, lastDate time.Time) int {
	last := domain.Day(lastDate)
	return sort.Search(len(batches), func(i int) bool {
		return batches[i].Start.After(last)
	})
}

// TotalDays returns the number of trading dates covered by batches.
func TotalDays(batches []domain.EvaluationBatch) int {
	if len(batches) == 0 {
		return 0
	}
	return batches[len(batches)-1].LastDay()
}

// normalize truncates to dates, drops anything before from, then sorts and dedupes.
func normalize(dates []time.Time, from time.Time) []time.Time {
	out := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		d = domain.Day(d)
		if d.Before(from) {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })

	uniq := out[:0]
	for _, d := range out {
		if len(uniq) > 0 && d.Equal(uniq[len(uniq)-1]) {
			continue
		}
		uniq = append(uniq, d)
	}
	return uniq
}
