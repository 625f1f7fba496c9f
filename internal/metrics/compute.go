package metrics

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"walkforward-lab/internal/domain"
)

// DefaultStartingCapital is the simulated account value before the first trade.
const DefaultStartingCapital = 10000.0

// DenominatorPolicy selects the denominator of directional accuracies.
type DenominatorPolicy int

const (
	// DenominatorPredicted divides by predicted-label counts (precision of "the model says up").
	DenominatorPredicted DenominatorPolicy = iota
	// DenominatorActual divides by actual-label counts (recall of realized moves).
	DenominatorActual
)

func (p DenominatorPolicy) String() string {
	if p == DenominatorActual {
		return "actual"
	}
	return "predicted"
}

// ParseDenominatorPolicy converts "predicted" or "actual" into a policy. Empty means predicted.
func ParseDenominatorPolicy(s string) (DenominatorPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "predicted":
		return DenominatorPredicted, nil
	case "actual":
		return DenominatorActual, nil
	default:
		return 0, fmt.Errorf("unknown denominator policy %q", s)
	}
}

// Options controls metric computation.
type Options struct {
	ConfidenceThreshold float64
	Policy              DenominatorPolicy
	StartingCapital     float64 // DefaultStartingCapital when zero
}

func (o Options) capital() float64 {
	if o.StartingCapital <= 0 {
		return DefaultStartingCapital
	}
	return o.StartingCapital
}

// dayStat is the equal-weight portfolio outcome of one trading date.
type dayStat struct {
	date    time.Time
	ret     float64
	trades  int
	correct int
}

// Compute derives run metrics from a prediction stream. Input order does not matter.
// Any zero denominator yields an accuracy of 0.
func Compute(records []*domain.PredictionRecord, opts Options) *domain.RunMetrics {
	m := &domain.RunMetrics{
		FinalEquity:       opts.capital(),
		SymbolPredictions: make(map[string]int),
	}

	var actualUp, actualDown, correctUp, correctDown, highConfCorrect int
	for _, r := range records {
		m.TotalPredictions++
		m.SymbolPredictions[r.Symbol]++
		if r.IsCorrect {
			m.CorrectPredictions++
		}

		switch r.PredictedDirection {
		case domain.DirectionUp:
			m.UpPredictions++
		case domain.DirectionDown:
			m.DownPredictions++
		}
		switch r.ActualDirection {
		case domain.DirectionUp:
			actualUp++
		case domain.DirectionDown:
			actualDown++
		}
		if r.IsCorrect && r.PredictedDirection == domain.DirectionUp {
			correctUp++
		}
		if r.IsCorrect && r.PredictedDirection == domain.DirectionDown {
			correctDown++
		}

		if r.Confidence >= opts.ConfidenceThreshold {
			m.HighConfidencePredictions++
			if r.IsCorrect {
				highConfCorrect++
			}
		}
	}

	m.OverallAccuracy = ratio(m.CorrectPredictions, m.TotalPredictions)
	m.HighConfidenceAccuracy = ratio(highConfCorrect, m.HighConfidencePredictions)
	if opts.Policy == DenominatorActual {
		m.UpAccuracy = ratio(correctUp, actualUp)
		m.DownAccuracy = ratio(correctDown, actualDown)
	} else {
		m.UpAccuracy = ratio(correctUp, m.UpPredictions)
		m.DownAccuracy = ratio(correctDown, m.DownPredictions)
	}

	equity := opts.capital()
	peak := equity
	for _, d := range dailyStats(records) {
		equity *= 1 + d.ret
		if equity > peak {
			peak = equity
		}
		if dd := (peak - equity) / peak; dd > m.MaxDrawdown {
			m.MaxDrawdown = dd
		}
	}
	m.FinalEquity = equity
	m.TotalReturn = equity/opts.capital() - 1

	return m
}

// EquityCurve emits one point per batch, compounding the equal-weight daily
// portfolio return of every date inside the batch. Batches without predictions
// carry the previous equity forward. Replaying the same records always yields
// the same curve.
func EquityCurve(runID string, records []*domain.PredictionRecord, batches []domain.EvaluationBatch, opts Options) []*domain.EquityCurvePoint {
	days := dailyStats(records)
	start := opts.capital()
	equity := start

	points := make([]*domain.EquityCurvePoint, 0, len(batches))
	var trades, correct, next int
	for _, b := range batches {
		before := equity
		for next < len(days) && !days[next].date.After(b.End) {
			d := days[next]
			next++
			if d.date.Before(b.Start) {
				// Outside every planned batch; ignored.
				continue
			}
			equity *= 1 + d.ret
			trades += d.trades
			correct += d.correct
		}

		points = append(points, &domain.EquityCurvePoint{
			RunID:            runID,
			TradeDate:        b.End,
			DayNumber:        b.LastDay(),
			EquityValue:      equity,
			DayReturn:        equity/before - 1,
			CumulativeReturn: equity/start - 1,
			RollingAccuracy:  ratio(correct, trades),
			TradeCount:       trades,
		})
	}
	return points
}

// dailyStats groups records by date, ascending. The day return is the mean of
// the symbols' day returns on that date, summed in symbol order.
func dailyStats(records []*domain.PredictionRecord) []dayStat {
	sorted := make([]*domain.PredictionRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		di, dj := domain.Day(sorted[i].PredictionDate), domain.Day(sorted[j].PredictionDate)
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		return sorted[i].Symbol < sorted[j].Symbol
	})

	var out []dayStat
	var sum float64
	for _, r := range sorted {
		d := domain.Day(r.PredictionDate)
		if len(out) == 0 || !out[len(out)-1].date.Equal(d) {
			if len(out) > 0 {
				last := &out[len(out)-1]
				last.ret = sum / float64(last.trades)
			}
			out = append(out, dayStat{date: d})
			sum = 0
		}
		cur := &out[len(out)-1]
		cur.trades++
		if r.IsCorrect {
			cur.correct++
		}
		sum += r.DayReturn
	}
	if len(out) > 0 {
		last := &out[len(out)-1]
		last.ret = sum / float64(last.trades)
	}
	return out
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
