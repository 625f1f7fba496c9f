package walkforward

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"walkforward-lab/internal/domain"
	"walkforward-lab/internal/planner"
	"walkforward-lab/internal/storage"
	"walkforward-lab/internal/warehouse"
)

// symbolState is the per-symbol progress of an execution.
// Only the worker processing the symbol in the current batch touches it.
type symbolState struct {
	symbol     string
	next       int     // first batch index not yet processed
	cumulative float64 // compounded return to date
	saved      int     // predictions persisted to date
}

// runState is shared by the workers of one execution.
type runState struct {
	run      *domain.Run
	features []string
	batches  []domain.EvaluationBatch
	symbols  []*symbolState

	done  atomic.Int64 // processed (symbol, batch) pairs
	total int64

	mu      sync.Mutex
	skipped []SkippedBatch
	saved   int
}

func (s *runState) skip(symbol string, batchIndex int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skipped = append(s.skipped, SkippedBatch{Symbol: symbol, BatchIndex: batchIndex, Err: err})
}

func (s *runState) addSaved(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved += n
}

func (s *runState) result() *RunResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &RunResult{
		Run:              s.run.Clone(),
		Batches:          s.batches,
		Skipped:          append([]SkippedBatch(nil), s.skipped...),
		PredictionsSaved: s.saved,
	}
}

func (s *runState) progress() float64 {
	if s.total == 0 {
		return 0
	}
	return float64(s.done.Load()) / float64(s.total) * 100
}

// execute drives one attempt of a run to a terminal status.
// Cancelling ctx is a cancellation request honoured at the next batch
// boundary. Store writes and warehouse calls run detached from ctx; only
// a forced Shutdown aborts in-flight warehouse calls.
func (c *Controller) execute(ctx context.Context, ex *execution) (*RunResult, error) {
	storeCtx := context.WithoutCancel(ctx)
	callCtx, abortCalls := context.WithCancel(storeCtx)
	defer abortCalls()
	stopAbort := context.AfterFunc(c.baseCtx, abortCalls)
	defer stopAbort()

	run, err := c.load(storeCtx, ex.runID)
	if err != nil {
		return nil, err
	}
	if run.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrRunTerminal, run.RunID, run.Status)
	}

	started := c.opts.Now()
	c.metrics.RunsActive.Inc()
	defer c.metrics.RunsActive.Dec()

	state := &runState{run: run}
	state.features, err = domain.LookupFeatureSet(run.Config.FeatureSet)
	if err != nil {
		return c.fail(storeCtx, state, started, fmt.Errorf("%w: %w", ErrConfiguration, err))
	}

	if ex.cancelled.Load() {
		return c.cancel(storeCtx, state, started, ex.cancelReason())
	}
	if ctx.Err() != nil {
		return c.cancel(storeCtx, state, started, reasonContext)
	}

	calCtx, cancel := context.WithTimeout(callCtx, c.opts.CalendarTimeout)
	callStart := time.Now()
	state.batches, err = planner.Plan(calCtx, c.calendar, run.Config.Symbols[0],
		run.Config.TestStart, run.Config.HorizonDays, run.Config.Cadence)
	cancel()
	c.metrics.RecordWarehouseCall(warehouse.MethodTradingDates, time.Since(callStart), err)
	if err != nil {
		return c.fail(storeCtx, state, started, fmt.Errorf("%w: %w", ErrCalendarResolution, err))
	}

	c.restoreProgress(storeCtx, state)

	now := c.opts.Now().UTC()
	run.Status = domain.RunStatusRunning
	run.StartedAt = &now
	run.ProgressPct = state.progress()
	if err := c.saveRun(storeCtx, run); err != nil {
		return c.fail(storeCtx, state, started, err)
	}
	c.log("run %s: %d batches x %d symbols (attempt %d)", run.RunID, len(state.batches), len(state.symbols), run.Attempt)

	for _, batch := range state.batches {
		if ex.cancelled.Load() {
			return c.cancel(storeCtx, state, started, ex.cancelReason())
		}
		if ctx.Err() != nil {
			return c.cancel(storeCtx, state, started, reasonContext)
		}

		if err := c.runBatch(callCtx, state, batch); err != nil {
			return c.fail(storeCtx, state, started, err)
		}

		run.ProgressPct = state.progress()
		run.CurrentDay = batch.LastDay()
		if err := c.saveRun(storeCtx, run); err != nil {
			c.logger.Printf("run %s: progress update after batch %d failed: %v", run.RunID, batch.Index, err)
		}
		c.events.publish(run.StatusView())
		c.log("run %s: batch %d/%d done (%.1f%%)", run.RunID, batch.Index+1, len(state.batches), run.ProgressPct)

		if c.opts.OnBatchComplete != nil {
			c.opts.OnBatchComplete(run.RunID, batch)
		}
	}

	return c.finalize(storeCtx, state, started)
}

// restoreProgress derives each symbol's resume point from its checkpoint.
// An unreadable checkpoint restarts the symbol from the first batch.
func (c *Controller) restoreProgress(ctx context.Context, state *runState) {
	run := state.run
	state.symbols = make([]*symbolState, len(run.Config.Symbols))
	state.total = int64(len(state.batches) * len(run.Config.Symbols))

	for i, symbol := range run.Config.Symbols {
		st := &symbolState{symbol: symbol}
		state.symbols[i] = st

		cp, err := c.checkpointStore.Get(ctx, run.RunID, symbol)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				c.logger.Printf("run %s: checkpoint read for %s failed, starting over: %v", run.RunID, symbol, err)
			}
			continue
		}

		st.next = planner.ResumeIndex(state.batches, cp.LastDate)
		st.saved = cp.PredictionsSaved
		state.done.Add(int64(st.next))

		records, err := c.predictionStore.GetByRunSymbol(ctx, run.RunID, symbol)
		if err != nil {
			c.logger.Printf("run %s: loading predictions for %s failed: %v", run.RunID, symbol, err)
			continue
		}
		for _, r := range records {
			if r.PredictionDate.After(cp.LastDate) {
				break
			}
			st.cumulative = r.CumulativeReturn
		}
		c.log("run %s: %s resumes at batch %d (checkpoint %s)", run.RunID, symbol, st.next, cp.LastDate.Format(domain.DateLayout))
	}
}

// runBatch processes every pending symbol of batch on bounded workers.
// Only persistence failures are returned.
func (c *Controller) runBatch(ctx context.Context, state *runState, batch domain.EvaluationBatch) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.SymbolWorkers)

	for _, st := range state.symbols {
		if st.next > batch.Index {
			continue
		}
		g.Go(func() error {
			return c.processSymbol(gctx, state, st, batch)
		})
	}
	return g.Wait()
}

func (c *Controller) finalize(ctx context.Context, state *runState, started time.Time) (*RunResult, error) {
	run := state.run

	var (
		m     *domain.RunMetrics
		curve []*domain.EquityCurvePoint
	)
	err := withRetry(ctx, c.opts.PersistRetries, c.opts.PersistRetryDelay, func(ctx context.Context) error {
		var err error
		m, curve, err = c.aggregator.Finalize(ctx, run.RunID, run.Config.ConfidenceThreshold, state.batches)
		return err
	})
	if err != nil {
		return c.fail(ctx, state, started, fmt.Errorf("%w: finalize metrics: %w", ErrPersistence, err))
	}

	now := c.opts.Now().UTC()
	run.Status = domain.RunStatusCompleted
	run.ProgressPct = 100
	run.CurrentDay = planner.TotalDays(state.batches)
	run.Metrics = m
	run.CompletedAt = &now
	if err := c.saveRun(ctx, run); err != nil {
		return state.result(), err
	}

	c.events.publish(run.StatusView())
	c.metrics.RecordRunFinished(string(run.Status), c.opts.Now().Sub(started))
	c.log("run %s completed: accuracy %.3f, return %.4f, %d skipped", run.RunID, m.OverallAccuracy, m.TotalReturn, len(state.skipped))

	res := state.result()
	res.EquityCurve = curve
	return res, nil
}

func (c *Controller) fail(ctx context.Context, state *runState, started time.Time, cause error) (*RunResult, error) {
	run := state.run
	now := c.opts.Now().UTC()
	run.Status = domain.RunStatusFailed
	run.ErrorMessage = cause.Error()
	run.CompletedAt = &now
	if err := c.saveRun(ctx, run); err != nil {
		c.logger.Printf("run %s: recording failure failed: %v", run.RunID, err)
	}

	c.events.publish(run.StatusView())
	c.metrics.RecordRunFinished(string(run.Status), c.opts.Now().Sub(started))
	c.logger.Printf("run %s failed: %v", run.RunID, cause)
	return state.result(), cause
}

func (c *Controller) cancel(ctx context.Context, state *runState, started time.Time, reason string) (*RunResult, error) {
	if err := c.finishCancelled(ctx, state.run, reason); err != nil {
		return state.result(), err
	}
	c.metrics.RecordRunFinished(string(domain.RunStatusCancelled), c.opts.Now().Sub(started))
	res := state.result()
	res.Cause = fmt.Errorf("%w: %s", ErrCancelled, reason)
	return res, nil
}

func (c *Controller) finishCancelled(ctx context.Context, run *domain.Run, reason string) error {
	now := c.opts.Now().UTC()
	run.Status = domain.RunStatusCancelled
	run.ErrorMessage = reason
	run.CompletedAt = &now
	if err := c.saveRun(ctx, run); err != nil {
		return err
	}
	c.events.publish(run.StatusView())
	c.log("run %s cancelled: %s", run.RunID, reason)
	return nil
}

func (c *Controller) saveRun(ctx context.Context, run *domain.Run) error {
	err := c.persist(ctx, "runs", "update", func(ctx context.Context) error {
		return c.runStore.Update(ctx, run)
	})
	if err != nil {
		return fmt.Errorf("%w: update run %s: %w", ErrPersistence, run.RunID, err)
	}
	return nil
}

// persist runs a store write with bounded retries and records its timing.
func (c *Controller) persist(ctx context.Context, store, operation string, fn func(context.Context) error) error {
	return withRetry(ctx, c.opts.PersistRetries, c.opts.PersistRetryDelay, func(ctx context.Context) error {
		start := time.Now()
		err := fn(ctx)
		c.metrics.RecordDBQuery(store, operation, time.Since(start), err)
		return err
	})
}
