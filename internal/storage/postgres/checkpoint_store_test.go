package postgres

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walkforward-lab/internal/domain"
	"walkforward-lab/internal/storage"
)

func TestCheckpointStore_UpsertAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	seedRun(t, ctx, pool, "wf_cp")
	store := NewCheckpointStore(pool)

	_, err := store.Get(ctx, "wf_cp", "AAPL")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.Upsert(ctx, &domain.Checkpoint{
		RunID: "wf_cp", Symbol: "AAPL", LastDate: day(2024, time.January, 8), PredictionsSaved: 5,
	}))
	require.NoError(t, store.Upsert(ctx, &domain.Checkpoint{
		RunID: "wf_cp", Symbol: "AAPL", LastDate: day(2024, time.January, 15), PredictionsSaved: 10,
	}))

	cp, err := store.Get(ctx, "wf_cp", "AAPL")
	require.NoError(t, err)
	assert.True(t, day(2024, time.January, 15).Equal(cp.LastDate))
	assert.Equal(t, 10, cp.PredictionsSaved)
	assert.NotZero(t, cp.UpdatedAt)
}

func TestCheckpointStore_SameDateIsAllowed(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	seedRun(t, ctx, pool, "wf_cp_same")
	store := NewCheckpointStore(pool)

	cp := &domain.Checkpoint{RunID: "wf_cp_same", Symbol: "AAPL", LastDate: day(2024, time.January, 8), PredictionsSaved: 5}
	require.NoError(t, store.Upsert(ctx, cp))
	require.NoError(t, store.Upsert(ctx, cp))
}

func TestCheckpointStore_RejectsRegression(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	seedRun(t, ctx, pool, "wf_cp_reg")
	store := NewCheckpointStore(pool)

	require.NoError(t, store.Upsert(ctx, &domain.Checkpoint{
		RunID: "wf_cp_reg", Symbol: "AAPL", LastDate: day(2024, time.January, 15), PredictionsSaved: 10,
	}))

	err := store.Upsert(ctx, &domain.Checkpoint{
		RunID: "wf_cp_reg", Symbol: "AAPL", LastDate: day(2024, time.January, 8), PredictionsSaved: 5,
	})
	assert.ErrorIs(t, err, storage.ErrCheckpointRegression)

	cp, err := store.Get(ctx, "wf_cp_reg", "AAPL")
	require.NoError(t, err)
	assert.True(t, day(2024, time.January, 15).Equal(cp.LastDate))
}

func TestCheckpointStore_ConcurrentSymbols(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	seedRun(t, ctx, pool, "wf_cp_conc")
	store := NewCheckpointStore(pool)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- store.Upsert(ctx, &domain.Checkpoint{
				RunID: "wf_cp_conc", Symbol: fmt.Sprintf("SYM%d", i), LastDate: day(2024, time.January, 8), PredictionsSaved: 5,
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	cps, err := store.GetByRun(ctx, "wf_cp_conc")
	require.NoError(t, err)
	assert.Len(t, cps, 8)
	assert.Equal(t, "SYM0", cps[0].Symbol)
}
