package memory

import (
	"context"
	"errors"
	"testing"

	"walkforward-lab/internal/domain"
	"walkforward-lab/internal/storage"
)

func TestPredictionStore_UpsertIsIdempotent(t *testing.T) {
	store := NewPredictionStore()
	ctx := context.Background()

	records := []*domain.PredictionRecord{
		{RunID: "r", Symbol: "AAPL", PredictionDate: day(2024, 1, 2), IsCorrect: true},
		{RunID: "r", Symbol: "AAPL", PredictionDate: day(2024, 1, 3)},
		{RunID: "r", Symbol: "MSFT", PredictionDate: day(2024, 1, 2)},
	}

	if err := store.UpsertBulk(ctx, records); err != nil {
		t.Fatalf("UpsertBulk failed: %v", err)
	}
	// Re-delivery of the same batch must not duplicate rows
	if err := store.UpsertBulk(ctx, records); err != nil {
		t.Fatalf("Second UpsertBulk failed: %v", err)
	}

	all, _ := store.GetByRun(ctx, "r")
	if len(all) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(all))
	}

	// Ordered by date, then symbol
	if all[0].Symbol != "AAPL" || all[1].Symbol != "MSFT" || !all[2].PredictionDate.Equal(day(2024, 1, 3)) {
		t.Errorf("unexpected ordering: %s %s %s", all[0].Symbol, all[1].Symbol, all[2].PredictionDate)
	}

	aapl, _ := store.GetByRunSymbol(ctx, "r", "AAPL")
	if len(aapl) != 2 {
		t.Errorf("Expected 2 AAPL records, got %d", len(aapl))
	}
}

func TestPredictionStore_InvalidBatchWritesNothing(t *testing.T) {
	store := NewPredictionStore()
	ctx := context.Background()

	records := []*domain.PredictionRecord{
		{RunID: "r", Symbol: "AAPL", PredictionDate: day(2024, 1, 2)},
		{RunID: "r", Symbol: ""},
	}

	if err := store.UpsertBulk(ctx, records); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}

	all, _ := store.GetByRun(ctx, "r")
	if len(all) != 0 {
		t.Errorf("Expected no partial write, got %d records", len(all))
	}
}

func TestEquityCurveStore_OrderedByDay(t *testing.T) {
	store := NewEquityCurveStore()
	ctx := context.Background()

	points := []*domain.EquityCurvePoint{
		{RunID: "r", TradeDate: day(2024, 1, 12), DayNumber: 10, EquityValue: 10200},
		{RunID: "r", TradeDate: day(2024, 1, 5), DayNumber: 5, EquityValue: 10100},
	}
	if err := store.UpsertBulk(ctx, points); err != nil {
		t.Fatalf("UpsertBulk failed: %v", err)
	}

	got, _ := store.GetByRun(ctx, "r")
	if len(got) != 2 || got[0].DayNumber != 5 || got[1].DayNumber != 10 {
		t.Errorf("unexpected curve: %+v", got)
	}
}
