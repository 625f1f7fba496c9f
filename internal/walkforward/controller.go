// Package walkforward runs walk-forward validation: it plans retraining
// batches, trains or reuses a model per (symbol, batch), collects
// out-of-sample predictions, checkpoints progress and aggregates metrics.
package walkforward

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"walkforward-lab/internal/domain"
	"walkforward-lab/internal/idhash"
	"walkforward-lab/internal/metrics"
	"walkforward-lab/internal/modelcache"
	"walkforward-lab/internal/observability"
	"walkforward-lab/internal/storage"
	"walkforward-lab/internal/warehouse"
)

// Cancellation reasons stored as the run's error message.
const (
	reasonCancelled = "cancelled by request"
	reasonShutdown  = "interrupted: shutdown"
	reasonContext   = "interrupted: context done"
)

// Controller owns the lifecycle of validation runs.
type Controller struct {
	// Stores
	runStore         storage.RunStore
	checkpointStore  storage.CheckpointStore
	predictionStore  storage.PredictionStore
	equityCurveStore storage.EquityCurveStore
	cache            *modelcache.Cache
	aggregator       *metrics.Aggregator

	// Warehouse
	calendar  warehouse.Calendar
	trainer   warehouse.Trainer
	predictor warehouse.Predictor

	opts    Options
	metrics *observability.Metrics
	logger  *log.Logger
	events  *broadcaster

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu       sync.Mutex
	active   map[string]*execution
	closing  bool
	inflight sync.WaitGroup
}

// execution tracks one in-process attempt of a run.
type execution struct {
	runID     string
	cancelled atomic.Bool
	reason    atomic.Value // string
	done      chan struct{}
}

func (e *execution) requestCancel(reason string) {
	if e.cancelled.CompareAndSwap(false, true) {
		e.reason.Store(reason)
	}
}

func (e *execution) cancelReason() string {
	if r, ok := e.reason.Load().(string); ok {
		return r
	}
	return reasonCancelled
}

// SkippedBatch records a (symbol, batch) pair that produced no predictions.
type SkippedBatch struct {
	Symbol     string
	BatchIndex int
	Err        error // *TrainingFailure or *PredictionFailure
}

// RunResult is the outcome of one execution attempt.
type RunResult struct {
	Run              *domain.Run
	Batches          []domain.EvaluationBatch
	Skipped          []SkippedBatch
	PredictionsSaved int
	EquityCurve      []*domain.EquityCurvePoint
	Cause            error // wraps ErrCancelled when the run was cancelled
}

// New creates a Controller. Returns ErrConfiguration if a collaborator is missing.
func New(opts Options) (*Controller, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	opts.applyDefaults()

	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Controller{
		runStore:         opts.RunStore,
		checkpointStore:  opts.CheckpointStore,
		predictionStore:  opts.PredictionStore,
		equityCurveStore: opts.EquityCurveStore,
		cache:            opts.ModelCache,
		aggregator: metrics.NewAggregator(opts.PredictionStore, opts.EquityCurveStore, metrics.Options{
			Policy:          opts.DenominatorPolicy,
			StartingCapital: opts.StartingCapital,
		}),
		calendar:   opts.Calendar,
		trainer:    opts.Trainer,
		predictor:  opts.Predictor,
		opts:       opts,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		events:     newBroadcaster(),
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		active:     make(map[string]*execution),
	}, nil
}

// Create validates cfg and persists a pending run without starting it.
func (c *Controller) Create(ctx context.Context, cfg domain.RunConfig) (*domain.Run, error) {
	cfg.TestStart = domain.Day(cfg.TestStart)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	run := &domain.Run{
		RunID:     idhash.NewRunID(),
		Config:    cfg,
		Status:    domain.RunStatusPending,
		Attempt:   1,
		CreatedAt: c.opts.Now().UTC(),
	}
	run.Config.Symbols = append([]string(nil), cfg.Symbols...)

	if err := c.runStore.Insert(ctx, run); err != nil {
		return nil, fmt.Errorf("%w: insert run: %w", ErrPersistence, err)
	}
	c.log("created run %s (%d symbols, %d days, %s)", run.RunID, len(cfg.Symbols), cfg.HorizonDays, cfg.Cadence)
	return run.Clone(), nil
}

// Submit validates and persists a pending run, then executes it asynchronously.
func (c *Controller) Submit(ctx context.Context, cfg domain.RunConfig) (*domain.Run, error) {
	c.mu.Lock()
	closing := c.closing
	c.mu.Unlock()
	if closing {
		return nil, ErrShuttingDown
	}

	run, err := c.Create(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := c.startAsync(run.RunID); err != nil {
		return nil, err
	}
	return run, nil
}

// Execute runs runID synchronously until it reaches a terminal status.
// A cancelled run is not an error. Failed runs return the result together
// with the run-level error.
func (c *Controller) Execute(ctx context.Context, runID string) (*RunResult, error) {
	ex, err := c.register(runID)
	if err != nil {
		return nil, err
	}
	defer c.unregister(ex)

	return c.execute(ctx, ex)
}

// Resume starts a new attempt of a failed, cancelled or orphaned run.
// Batches already covered by checkpoints are not recomputed.
func (c *Controller) Resume(ctx context.Context, runID string) (*domain.Run, error) {
	run, err := c.prepareResume(ctx, runID)
	if err != nil {
		return nil, err
	}
	if err := c.startAsync(run.RunID); err != nil {
		return nil, err
	}
	return run, nil
}

// ResumeSync is Resume followed by a synchronous Execute.
func (c *Controller) ResumeSync(ctx context.Context, runID string) (*RunResult, error) {
	if _, err := c.prepareResume(ctx, runID); err != nil {
		return nil, err
	}
	return c.Execute(ctx, runID)
}

func (c *Controller) prepareResume(ctx context.Context, runID string) (*domain.Run, error) {
	c.mu.Lock()
	_, running := c.active[runID]
	closing := c.closing
	c.mu.Unlock()
	if closing {
		return nil, ErrShuttingDown
	}
	if running {
		return nil, fmt.Errorf("%w: %s", ErrRunActive, runID)
	}

	run, err := c.load(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status == domain.RunStatusCompleted {
		return nil, fmt.Errorf("%w: %s is completed", ErrNotResumable, runID)
	}

	run.Attempt++
	run.Status = domain.RunStatusPending
	run.ErrorMessage = ""
	run.Metrics = nil
	run.CompletedAt = nil
	if err := c.runStore.Update(ctx, run); err != nil {
		return nil, fmt.Errorf("%w: update run: %w", ErrPersistence, err)
	}
	c.log("resuming run %s (attempt %d)", runID, run.Attempt)
	return run.Clone(), nil
}

// Cancel requests cooperative cancellation. An executing run stops at the
// next batch boundary; a run not executing in this process is cancelled at once.
func (c *Controller) Cancel(ctx context.Context, runID string) (*domain.Run, error) {
	run, err := c.load(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrRunTerminal, runID, run.Status)
	}

	c.mu.Lock()
	ex, running := c.active[runID]
	c.mu.Unlock()
	if running {
		ex.requestCancel(reasonCancelled)
		c.log("cancellation requested for run %s", runID)
		return run, nil
	}

	if err := c.finishCancelled(ctx, run, reasonCancelled); err != nil {
		return nil, err
	}
	return run.Clone(), nil
}

// Status returns the polling view of a run.
func (c *Controller) Status(ctx context.Context, runID string) (*domain.RunStatusView, error) {
	run, err := c.load(ctx, runID)
	if err != nil {
		return nil, err
	}
	v := run.StatusView()
	return &v, nil
}

// Get returns the full run record.
func (c *Controller) Get(ctx context.Context, runID string) (*domain.Run, error) {
	return c.load(ctx, runID)
}

// List returns the most recent runs. limit defaults to DefaultListLimit and is capped at MaxListLimit.
func (c *Controller) List(ctx context.Context, limit int) ([]*domain.Run, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	runs, err := c.runStore.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// Predictions returns the stored prediction records of a run.
func (c *Controller) Predictions(ctx context.Context, runID string) ([]*domain.PredictionRecord, error) {
	if _, err := c.load(ctx, runID); err != nil {
		return nil, err
	}
	return c.predictionStore.GetByRun(ctx, runID)
}

// EquityCurve returns the stored equity curve of a run.
func (c *Controller) EquityCurve(ctx context.Context, runID string) ([]*domain.EquityCurvePoint, error) {
	if _, err := c.load(ctx, runID); err != nil {
		return nil, err
	}
	return c.equityCurveStore.GetByRun(ctx, runID)
}

// Subscribe streams status views of runID. The channel is closed after the
// terminal view or when the returned function is called.
func (c *Controller) Subscribe(runID string) (<-chan domain.RunStatusView, func()) {
	return c.events.subscribe(runID)
}

// Wait blocks until the in-process execution of runID, if any, has finished.
func (c *Controller) Wait(runID string) {
	c.mu.Lock()
	ex, ok := c.active[runID]
	c.mu.Unlock()
	if ok {
		<-ex.done
	}
}

// Shutdown stops accepting runs and asks executing runs to stop at their next
// batch boundary; they end as cancelled. If ctx expires first, in-flight
// warehouse calls are aborted and ctx.Err() is returned.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closing = true
	for _, ex := range c.active {
		ex.requestCancel(reasonShutdown)
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.baseCancel()
		return nil
	case <-ctx.Done():
		c.baseCancel()
		return ctx.Err()
	}
}

func (c *Controller) startAsync(runID string) error {
	ex, err := c.register(runID)
	if err != nil {
		return err
	}
	go func() {
		defer c.unregister(ex)
		if _, err := c.execute(c.baseCtx, ex); err != nil {
			c.logger.Printf("run %s: %v", runID, err)
		}
	}()
	return nil
}

func (c *Controller) register(runID string) (*execution, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closing {
		return nil, ErrShuttingDown
	}
	if _, ok := c.active[runID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrRunActive, runID)
	}
	ex := &execution{runID: runID, done: make(chan struct{})}
	c.active[runID] = ex
	c.inflight.Add(1)
	return ex, nil
}

func (c *Controller) unregister(ex *execution) {
	c.mu.Lock()
	if c.active[ex.runID] == ex {
		delete(c.active, ex.runID)
	}
	c.mu.Unlock()
	close(ex.done)
	c.inflight.Done()
}

func (c *Controller) load(ctx context.Context, runID string) (*domain.Run, error) {
	run, err := c.runStore.GetByID(ctx, runID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	return run, nil
}

func (c *Controller) log(format string, args ...interface{}) {
	if c.opts.Verbose {
		c.logger.Printf(format, args...)
	}
}
