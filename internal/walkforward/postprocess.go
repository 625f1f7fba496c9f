package walkforward

import (
	"math"
	"sort"

	"walkforward-lab/internal/domain"
	"walkforward-lab/internal/warehouse"
)

// postProcess turns raw warehouse rows into prediction records for one batch.
// Rows outside the batch, rows without a next close and rows with a
// non-positive observed close are discarded. cumulative is the symbol's
// compounded return before the batch; the compounded value after the last
// kept row is returned alongside the records.
func postProcess(runID, symbol, handle string, batch domain.EvaluationBatch, rows []warehouse.RawPrediction, cumulative float64) ([]*domain.PredictionRecord, float64) {
	sorted := make([]warehouse.RawPrediction, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	records := make([]*domain.PredictionRecord, 0, len(sorted))
	var last *domain.PredictionRecord
	for _, row := range sorted {
		date := domain.Day(row.Date)
		if !batch.Contains(date) || row.NextClose == nil || row.ObservedClose <= 0 {
			continue
		}
		if !row.PredictedLabel.Valid() {
			continue
		}
		if last != nil && last.PredictionDate.Equal(date) {
			continue
		}

		next := *row.NextClose
		actual := domain.DirectionDown
		if next > row.ObservedClose {
			actual = domain.DirectionUp
		}

		move := next/row.ObservedClose - 1
		dayReturn := move
		if row.PredictedLabel == domain.DirectionDown {
			dayReturn = -move
		}
		cumulative = (1+cumulative)*(1+dayReturn) - 1

		rec := &domain.PredictionRecord{
			RunID:              runID,
			Symbol:             symbol,
			PredictionDate:     date,
			ObservedClose:      row.ObservedClose,
			NextClose:          next,
			PredictedDirection: row.PredictedLabel,
			ProbabilityUp:      row.ProbabilityUp,
			Confidence:         math.Max(row.ProbabilityUp, row.ProbabilityDown),
			ActualDirection:    actual,
			IsCorrect:          row.PredictedLabel == actual,
			DayReturn:          dayReturn,
			CumulativeReturn:   cumulative,
			ModelHandle:        handle,
		}
		records = append(records, rec)
		last = rec
	}
	return records, cumulative
}
