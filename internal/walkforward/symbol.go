package walkforward

import (
	"context"
	"errors"
	"fmt"
	"time"

	"walkforward-lab/internal/domain"
	"walkforward-lab/internal/modelcache"
	"walkforward-lab/internal/storage"
	"walkforward-lab/internal/warehouse"
)

// Batch outcomes reported to the batches counter.
const (
	outcomeOK            = "ok"
	outcomeTrainFailed   = "train_failed"
	outcomePredictFailed = "predict_failed"
)

// processSymbol trains or reuses a model for one (symbol, batch) pair,
// predicts the batch, persists the predictions and advances the checkpoint.
// Training and prediction failures skip the pair; only persistence
// failures are returned.
func (c *Controller) processSymbol(ctx context.Context, state *runState, st *symbolState, batch domain.EvaluationBatch) error {
	defer state.done.Add(1)

	run := state.run
	storeCtx := context.WithoutCancel(ctx)

	handle, err := c.modelFor(ctx, run, state.features, st.symbol, batch)
	if err != nil {
		c.logger.Printf("run %s: skipping %s batch %d: %v", run.RunID, st.symbol, batch.Index, err)
		c.metrics.BatchesTotal.WithLabelValues(outcomeTrainFailed).Inc()
		state.skip(st.symbol, batch.Index, err)
		return nil
	}

	rows, err := c.predict(ctx, run, state.features, st.symbol, handle, batch)
	if err != nil {
		c.logger.Printf("run %s: skipping %s batch %d: %v", run.RunID, st.symbol, batch.Index, err)
		c.metrics.BatchesTotal.WithLabelValues(outcomePredictFailed).Inc()
		state.skip(st.symbol, batch.Index, err)
		return nil
	}

	records, cumulative := postProcess(run.RunID, st.symbol, handle, batch, rows, st.cumulative)
	if len(records) > 0 {
		err := c.persist(storeCtx, "predictions", "upsert", func(ctx context.Context) error {
			return c.predictionStore.UpsertBulk(ctx, records)
		})
		if err != nil {
			return fmt.Errorf("%w: predictions %s batch %d: %w", ErrPersistence, st.symbol, batch.Index, err)
		}
	}

	cp := &domain.Checkpoint{
		RunID:            run.RunID,
		Symbol:           st.symbol,
		LastDate:         batch.End,
		PredictionsSaved: st.saved + len(records),
		UpdatedAt:        c.opts.Now().UTC(),
	}
	err = c.persist(storeCtx, "checkpoints", "upsert", func(ctx context.Context) error {
		return c.checkpointStore.Upsert(ctx, cp)
	})
	switch {
	case errors.Is(err, storage.ErrCheckpointRegression):
		c.logger.Printf("run %s: checkpoint for %s already past %s", run.RunID, st.symbol, batch.End.Format(domain.DateLayout))
	case err != nil:
		return fmt.Errorf("%w: checkpoint %s batch %d: %w", ErrPersistence, st.symbol, batch.Index, err)
	}

	st.next = batch.Index + 1
	st.cumulative = cumulative
	st.saved += len(records)
	state.addSaved(len(records))
	c.metrics.PredictionsStored.Add(float64(len(records)))
	c.metrics.BatchesTotal.WithLabelValues(outcomeOK).Inc()
	return nil
}

// modelFor returns a fresh cached handle or trains a new model.
// Cache failures are treated as a miss.
func (c *Controller) modelFor(ctx context.Context, run *domain.Run, features []string, symbol string, batch domain.EvaluationBatch) (string, error) {
	storeCtx := context.WithoutCancel(ctx)
	featureSet := run.Config.FeatureSet
	cacheKey := modelcache.FeatureSetKey(featureSet, c.opts.TrainingWindowDays)

	entry, result, _ := c.cache.Lookup(storeCtx, symbol, batch.Cutoff, cacheKey)
	c.metrics.ModelCacheLookups.WithLabelValues(result.String()).Inc()
	if result == modelcache.Hit {
		return entry.ModelHandle, nil
	}

	trainCtx, cancel := context.WithTimeout(ctx, c.opts.TrainTimeout)
	defer cancel()
	trainCtx, span := startCallSpan(trainCtx, "warehouse.train", run.RunID, symbol, batch)

	start := time.Now()
	handle, err := c.trainer.Train(trainCtx, warehouse.TrainRequest{
		Symbol:     symbol,
		Cutoff:     batch.Cutoff,
		FeatureSet: featureSet,
		Features:   features,
		WindowDays: c.opts.TrainingWindowDays,
	})
	if err == nil && handle == "" {
		err = errors.New("empty model handle")
	}
	endCallSpan(span, start, err)
	c.metrics.RecordWarehouseCall(warehouse.MethodTrain, time.Since(start), err)
	if err != nil {
		return "", &TrainingFailure{Symbol: symbol, BatchIndex: batch.Index, Cutoff: batch.Cutoff, Err: err}
	}

	// Store failures are logged by the cache; the handle is still usable.
	_, _ = c.cache.Store(storeCtx, symbol, batch.Cutoff, cacheKey, handle)
	return handle, nil
}

// predict fetches raw predictions for batch. In per-day mode each trading
// day is requested separately and failed days are dropped; the batch fails
// only when every day fails.
func (c *Controller) predict(ctx context.Context, run *domain.Run, features []string, symbol, handle string, batch domain.EvaluationBatch) ([]warehouse.RawPrediction, error) {
	if !c.opts.PerDayPredictions {
		rows, err := c.predictRange(ctx, run, features, symbol, handle, batch, batch.Start, batch.End)
		if err != nil {
			return nil, &PredictionFailure{Symbol: symbol, BatchIndex: batch.Index, Start: batch.Start, End: batch.End, Err: err}
		}
		return rows, nil
	}

	var (
		rows    []warehouse.RawPrediction
		lastErr error
		failed  int
	)
	for _, date := range batch.Dates {
		dayRows, err := c.predictRange(ctx, run, features, symbol, handle, batch, date, date)
		if err != nil {
			c.logger.Printf("run %s: predict %s %s failed: %v", run.RunID, symbol, date.Format(domain.DateLayout), err)
			lastErr = err
			failed++
			continue
		}
		rows = append(rows, dayRows...)
	}
	if failed > 0 && failed == len(batch.Dates) {
		return nil, &PredictionFailure{Symbol: symbol, BatchIndex: batch.Index, Start: batch.Start, End: batch.End, Err: lastErr}
	}
	return rows, nil
}

func (c *Controller) predictRange(ctx context.Context, run *domain.Run, features []string, symbol, handle string, batch domain.EvaluationBatch, from, to time.Time) ([]warehouse.RawPrediction, error) {
	predictCtx, cancel := context.WithTimeout(ctx, c.opts.PredictTimeout)
	defer cancel()
	predictCtx, span := startCallSpan(predictCtx, "warehouse.predict", run.RunID, symbol, batch)

	start := time.Now()
	rows, err := c.predictor.Predict(predictCtx, warehouse.PredictRequest{
		Handle:   handle,
		Symbol:   symbol,
		Start:    from,
		End:      to,
		Features: features,
	})
	endCallSpan(span, start, err)
	c.metrics.RecordWarehouseCall(warehouse.MethodPredict, time.Since(start), err)
	return rows, err
}
