package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walkforward-lab/internal/domain"
	"walkforward-lab/internal/storage"
)

func newTestRun(runID string, createdAt time.Time) *domain.Run {
	return &domain.Run{
		RunID: runID,
		Config: domain.RunConfig{
			Symbols:             []string{"AAPL", "MSFT"},
			TestStart:           day(2024, time.January, 2),
			HorizonDays:         10,
			Cadence:             domain.CadenceWeekly,
			FeatureSet:          domain.FeatureSetDefault16,
			ConfidenceThreshold: 0.6,
		},
		Status:    domain.RunStatusPending,
		Attempt:   1,
		CreatedAt: createdAt,
	}
}

func TestRunStore_InsertAndGetByID(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewRunStore(pool)
	ctx := context.Background()

	run := newTestRun("wf_pg_001", time.Now().UTC().Truncate(time.Microsecond))
	require.NoError(t, store.Insert(ctx, run))

	got, err := store.GetByID(ctx, "wf_pg_001")
	require.NoError(t, err)

	assert.Equal(t, run.Config.Symbols, got.Config.Symbols)
	assert.True(t, run.Config.TestStart.Equal(got.Config.TestStart))
	assert.Equal(t, run.Config.HorizonDays, got.Config.HorizonDays)
	assert.Equal(t, domain.CadenceWeekly, got.Config.Cadence)
	assert.Equal(t, run.Config.FeatureSet, got.Config.FeatureSet)
	assert.InDelta(t, 0.6, got.Config.ConfidenceThreshold, 1e-9)
	assert.Equal(t, domain.RunStatusPending, got.Status)
	assert.Nil(t, got.Metrics)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.CompletedAt)
}

func TestRunStore_InsertDuplicate(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewRunStore(pool)
	ctx := context.Background()

	run := newTestRun("wf_pg_dup", time.Now().UTC())
	require.NoError(t, store.Insert(ctx, run))

	err := store.Insert(ctx, run)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestRunStore_UpdateWithMetrics(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewRunStore(pool)
	ctx := context.Background()

	run := newTestRun("wf_pg_upd", time.Now().UTC())
	require.NoError(t, store.Insert(ctx, run))

	started := time.Now().UTC().Truncate(time.Microsecond)
	completed := started.Add(time.Minute)
	run.Status = domain.RunStatusCompleted
	run.ProgressPct = 100
	run.CurrentDay = 10
	run.StartedAt = &started
	run.CompletedAt = &completed
	run.Metrics = &domain.RunMetrics{
		OverallAccuracy:    0.75,
		TotalReturn:        0.031,
		FinalEquity:        10310,
		TotalPredictions:   20,
		CorrectPredictions: 15,
		SymbolPredictions:  map[string]int{"AAPL": 10, "MSFT": 10},
	}
	require.NoError(t, store.Update(ctx, run))

	got, err := store.GetByID(ctx, "wf_pg_upd")
	require.NoError(t, err)

	assert.Equal(t, domain.RunStatusCompleted, got.Status)
	assert.Equal(t, 100.0, got.ProgressPct)
	assert.Equal(t, 10, got.CurrentDay)
	require.NotNil(t, got.Metrics)
	assert.InDelta(t, 0.75, got.Metrics.OverallAccuracy, 1e-9)
	assert.Equal(t, 15, got.Metrics.CorrectPredictions)
	assert.Equal(t, map[string]int{"AAPL": 10, "MSFT": 10}, got.Metrics.SymbolPredictions)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, completed.Equal(*got.CompletedAt))
}

func TestRunStore_UpdateNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewRunStore(pool)

	err := store.Update(context.Background(), newTestRun("wf_missing", time.Now()))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRunStore_GetByIDNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewRunStore(pool)

	_, err := store.GetByID(context.Background(), "wf_missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRunStore_ListRecent(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewRunStore(pool)
	ctx := context.Background()

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"wf_a", "wf_b", "wf_c"} {
		require.NoError(t, store.Insert(ctx, newTestRun(id, base.Add(time.Duration(i)*time.Hour))))
	}

	runs, err := store.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "wf_c", runs[0].RunID)
	assert.Equal(t, "wf_b", runs[1].RunID)
}
