package walkforward

import (
	"fmt"
	"log"
	"os"
	"time"

	"walkforward-lab/internal/domain"
	"walkforward-lab/internal/metrics"
	"walkforward-lab/internal/modelcache"
	"walkforward-lab/internal/observability"
	"walkforward-lab/internal/storage"
	"walkforward-lab/internal/warehouse"
)

// Default execution settings.
const (
	DefaultSymbolWorkers     = 4
	DefaultCalendarTimeout   = time.Minute
	DefaultTrainTimeout      = 10 * time.Minute
	DefaultPredictTimeout    = 5 * time.Minute
	DefaultPersistRetries    = 3
	DefaultPersistRetryDelay = 200 * time.Millisecond
	DefaultListLimit         = 20
	MaxListLimit             = 100
)

// Options for creating a Controller. Stores and warehouse collaborators are required.
type Options struct {
	// Stores
	RunStore         storage.RunStore
	CheckpointStore  storage.CheckpointStore
	PredictionStore  storage.PredictionStore
	EquityCurveStore storage.EquityCurveStore
	ModelCache       *modelcache.Cache

	// Warehouse collaborators
	Calendar  warehouse.Calendar
	Trainer   warehouse.Trainer
	Predictor warehouse.Predictor

	// Execution
	SymbolWorkers      int
	CalendarTimeout    time.Duration
	TrainTimeout       time.Duration
	PredictTimeout     time.Duration
	TrainingWindowDays int  // 0 trains on all data before the cutoff
	PerDayPredictions  bool // degraded mode: one predict call per trading day
	PersistRetries     int // attempts per store write
	PersistRetryDelay  time.Duration

	// Metrics
	StartingCapital   float64
	DenominatorPolicy metrics.DenominatorPolicy

	// Observability
	Metrics *observability.Metrics // DefaultMetrics when nil
	Logger  *log.Logger
	Verbose bool

	// Now is the time source; time.Now when nil.
	Now func() time.Time
	// OnBatchComplete, when set, is called after each batch's status update.
	OnBatchComplete func(runID string, batch domain.EvaluationBatch)
}

func (o *Options) applyDefaults() {
	if o.SymbolWorkers < 1 {
		o.SymbolWorkers = DefaultSymbolWorkers
	}
	if o.CalendarTimeout <= 0 {
		o.CalendarTimeout = DefaultCalendarTimeout
	}
	if o.TrainTimeout <= 0 {
		o.TrainTimeout = DefaultTrainTimeout
	}
	if o.PredictTimeout <= 0 {
		o.PredictTimeout = DefaultPredictTimeout
	}
	if o.PersistRetries < 1 {
		o.PersistRetries = DefaultPersistRetries
	}
	if o.PersistRetryDelay <= 0 {
		o.PersistRetryDelay = DefaultPersistRetryDelay
	}
	if o.Metrics == nil {
		o.Metrics = observability.DefaultMetrics
	}
	if o.Logger == nil {
		o.Logger = log.New(os.Stderr, "[walkforward] ", log.LstdFlags)
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

func (o *Options) validate() error {
	switch {
	case o.RunStore == nil:
		return fmt.Errorf("%w: run store is required", ErrConfiguration)
	case o.CheckpointStore == nil:
		return fmt.Errorf("%w: checkpoint store is required", ErrConfiguration)
	case o.PredictionStore == nil:
		return fmt.Errorf("%w: prediction store is required", ErrConfiguration)
	case o.EquityCurveStore == nil:
		return fmt.Errorf("%w: equity curve store is required", ErrConfiguration)
	case o.ModelCache == nil:
		return fmt.Errorf("%w: model cache is required", ErrConfiguration)
	case o.Calendar == nil || o.Trainer == nil || o.Predictor == nil:
		return fmt.Errorf("%w: calendar, trainer and predictor are required", ErrConfiguration)
	case o.TrainingWindowDays < 0:
		return fmt.Errorf("%w: training window must be >= 0, got %d", ErrConfiguration, o.TrainingWindowDays)
	}
	return nil
}
