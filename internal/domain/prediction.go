package domain

import "time"

// Direction is a one-day price move direction.
type Direction string

// Direction constants.
const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// Valid reports whether d is up or down.
func (d Direction) Valid() bool {
	return d == DirectionUp || d == DirectionDown
}

// PredictionRecord is one day's forecast outcome.
// Corresponds to the predictions table, keyed by (run_id, symbol, prediction_date).
type PredictionRecord struct {
	RunID          string
	Symbol         string
	PredictionDate time.Time

	ObservedClose float64 // close at prediction time
	NextClose     float64 // next trading day close

	PredictedDirection Direction
	ProbabilityUp      float64
	Confidence         float64 // max(p_up, p_down)
	ActualDirection    Direction
	IsCorrect          bool

	DayReturn        float64 // return of the prediction-implied position
	CumulativeReturn float64 // compounded per symbol, to date
	ModelHandle      string
}

// EquityCurvePoint is a per-batch snapshot of simulated account value.
// Corresponds to the equity_curve table.
type EquityCurvePoint struct {
	RunID            string
	TradeDate        time.Time
	DayNumber        int
	EquityValue      float64
	DayReturn        float64
	CumulativeReturn float64
	RollingAccuracy  float64
	TradeCount       int
}
