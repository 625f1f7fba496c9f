package metrics

import (
	"context"
	"fmt"

	"walkforward-lab/internal/domain"
	"walkforward-lab/internal/storage"
)

// Aggregator computes run metrics and the equity curve from stored predictions.
type Aggregator struct {
	predictionStore  storage.PredictionStore
	equityCurveStore storage.EquityCurveStore
	opts             Options
}

// NewAggregator creates a new metrics aggregator.
func NewAggregator(predictionStore storage.PredictionStore, equityCurveStore storage.EquityCurveStore, opts Options) *Aggregator {
	return &Aggregator{
		predictionStore:  predictionStore,
		equityCurveStore: equityCurveStore,
		opts:             opts,
	}
}

// Finalize loads every prediction of the run, computes its metrics and persists
// the equity curve. A run without predictions yields zero accuracies and
// unchanged equity.
func (a *Aggregator) Finalize(ctx context.Context, runID string, threshold float64, batches []domain.EvaluationBatch) (*domain.RunMetrics, []*domain.EquityCurvePoint, error) {
	records, err := a.predictionStore.GetByRun(ctx, runID)
	if err != nil {
		return nil, nil, fmt.Errorf("load predictions: %w", err)
	}

	opts := a.opts
	opts.ConfidenceThreshold = threshold

	m := Compute(records, opts)
	curve := EquityCurve(runID, records, batches, opts)

	if err := a.equityCurveStore.UpsertBulk(ctx, curve); err != nil {
		return nil, nil, fmt.Errorf("store equity curve: %w", err)
	}
	return m, curve, nil
}
