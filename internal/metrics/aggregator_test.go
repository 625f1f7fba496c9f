package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"walkforward-lab/internal/domain"
	"walkforward-lab/internal/storage/memory"
)

func TestAggregator_Finalize(t *testing.T) {
	ctx := context.Background()
	predictions := memory.NewPredictionStore()
	curves := memory.NewEquityCurveStore()

	up, down := domain.DirectionUp, domain.DirectionDown
	records := []*domain.PredictionRecord{
		makeRecord("AAPL", day(2024, 1, 2), up, up, 0.01, 0.8),
		makeRecord("AAPL", day(2024, 1, 3), down, up, 0.01, 0.6),
	}
	if err := predictions.UpsertBulk(ctx, records); err != nil {
		t.Fatalf("UpsertBulk: %v", err)
	}

	batches := []domain.EvaluationBatch{
		{Start: day(2024, 1, 2), End: day(2024, 1, 3), FirstDay: 1, Dates: []time.Time{day(2024, 1, 2), day(2024, 1, 3)}},
	}

	agg := NewAggregator(predictions, curves, Options{})
	m, curve, err := agg.Finalize(ctx, "run", 0.7, batches)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	if m.TotalPredictions != 2 || !almostEqual(m.OverallAccuracy, 0.5) {
		t.Errorf("unexpected metrics: %+v", m)
	}
	if m.HighConfidencePredictions != 1 {
		t.Errorf("threshold not applied: %d high-confidence predictions", m.HighConfidencePredictions)
	}
	if len(curve) != 1 {
		t.Fatalf("expected 1 curve point, got %d", len(curve))
	}

	stored, err := curves.GetByRun(ctx, "run")
	if err != nil {
		t.Fatalf("GetByRun: %v", err)
	}
	if len(stored) != 1 || !almostEqual(stored[0].EquityValue, m.FinalEquity) {
		t.Errorf("stored curve mismatch: %+v", stored)
	}
}

func TestAggregator_FinalizeEmptyRun(t *testing.T) {
	agg := NewAggregator(memory.NewPredictionStore(), memory.NewEquityCurveStore(), Options{})
	m, curve, err := agg.Finalize(context.Background(), "empty", 0.5, nil)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if m.TotalPredictions != 0 || m.FinalEquity != DefaultStartingCapital {
		t.Errorf("unexpected metrics: %+v", m)
	}
	if len(curve) != 0 {
		t.Errorf("expected empty curve, got %d points", len(curve))
	}
}

func TestAggregator_FinalizeStoreError(t *testing.T) {
	predictions := memory.NewPredictionStore()
	curves := memory.NewEquityCurveStore()
	curves.WriteErr = errors.New("unavailable")

	batches := []domain.EvaluationBatch{{Start: day(2024, 1, 2), End: day(2024, 1, 2), FirstDay: 1}}
	agg := NewAggregator(predictions, curves, Options{})
	if _, _, err := agg.Finalize(context.Background(), "run", 0.5, batches); err == nil {
		t.Fatal("expected error")
	}
}
