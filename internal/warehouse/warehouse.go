// Package warehouse defines the external training, prediction and calendar
// collaborators consumed by the walk-forward controller.
package warehouse

import (
	"context"
	"time"

	"walkforward-lab/internal/domain"
)

// Calendar provides valid trading dates for a symbol.
type Calendar interface {
	// TradingDates returns up to limit trading dates on or after from, ascending.
	TradingDates(ctx context.Context, symbol string, from time.Time, limit int) ([]time.Time, error)
}

// Trainer produces model handles. Training is not deterministic: identical
// requests may yield different handles.
type Trainer interface {
	Train(ctx context.Context, req TrainRequest) (string, error)
}

// Predictor produces raw predictions for a date range.
type Predictor interface {
	Predict(ctx context.Context, req PredictRequest) ([]RawPrediction, error)
}

// TrainRequest describes one training call.
type TrainRequest struct {
	Symbol     string
	Cutoff     time.Time // train on data strictly before this date
	FeatureSet string
	Features   []string // ordered feature identifiers
	WindowDays int      // trailing calendar days before Cutoff; 0 means all history
}

// PredictRequest describes one prediction call over [Start, End].
type PredictRequest struct {
	Handle   string
	Symbol   string
	Start    time.Time
	End      time.Time
	Features []string
}

// RawPrediction is one day as returned by the warehouse, before post-processing.
type RawPrediction struct {
	Date            time.Time
	ObservedClose   float64
	NextClose       *float64 // nil when the next trading day has no data yet
	PredictedLabel  domain.Direction
	ProbabilityUp   float64
	ProbabilityDown float64
}
