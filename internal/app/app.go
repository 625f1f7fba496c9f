// Package app assembles the walk-forward service from a loaded Config:
// stores, warehouse collaborators, model cache, metrics, controller and HTTP router.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"walkforward-lab/internal/api"
	"walkforward-lab/internal/config"
	"walkforward-lab/internal/modelcache"
	"walkforward-lab/internal/observability"
	"walkforward-lab/internal/storage"
	chstore "walkforward-lab/internal/storage/clickhouse"
	"walkforward-lab/internal/storage/memory"
	"walkforward-lab/internal/storage/migrations"
	pgstore "walkforward-lab/internal/storage/postgres"
	"walkforward-lab/internal/walkforward"
	"walkforward-lab/internal/warehouse"
	"walkforward-lab/internal/warehouse/stub"
)

// Stores holds the persistence backends used by the controller.
type Stores struct {
	Runs        storage.RunStore
	Checkpoints storage.CheckpointStore
	Predictions storage.PredictionStore
	EquityCurve storage.EquityCurveStore
	ModelCache  storage.ModelCacheStore

	// Backend names the store kinds, e.g. "postgres+clickhouse".
	Backend string

	closers []func()
}

// Close releases database connections.
func (s *Stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// Collaborators are the warehouse services a run calls.
type Collaborators struct {
	Calendar  warehouse.Calendar
	Trainer   warehouse.Trainer
	Predictor warehouse.Predictor
}

// Application is the assembled service.
type Application struct {
	Config     *config.Config
	Stores     *Stores
	Controller *walkforward.Controller
	Registry   *prometheus.Registry
	Metrics    *observability.Metrics
	Logger     *log.Logger
}

// New builds an Application from cfg. The caller must call Close.
func New(ctx context.Context, cfg *config.Config, logger *log.Logger) (*Application, error) {
	if logger == nil {
		logger = log.New(os.Stdout, "[app] ", log.LstdFlags)
	}

	stores, err := OpenStores(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, err
	}

	collab := NewCollaborators(cfg.Warehouse)
	if cfg.Warehouse.Offline {
		logger.Printf("warehouse offline: using synthetic calendar, trainer and predictor")
	}

	app, err := assemble(cfg, stores, collab, logger)
	if err != nil {
		stores.Close()
		return nil, err
	}
	return app, nil
}

// NewWithCollaborators builds an Application on the given stores and
// collaborators. Used by tests and the CLI.
func NewWithCollaborators(cfg *config.Config, stores *Stores, collab Collaborators, logger *log.Logger) (*Application, error) {
	if logger == nil {
		logger = log.New(os.Stdout, "[app] ", log.LstdFlags)
	}
	return assemble(cfg, stores, collab, logger)
}

func assemble(cfg *config.Config, stores *Stores, collab Collaborators, logger *log.Logger) (*Application, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := observability.NewMetrics(cfg.Metrics.Namespace, reg)

	cache := modelcache.New(stores.ModelCache,
		modelcache.WithFreshness(cfg.Runner.CacheFreshness),
		modelcache.WithLogger(log.New(logger.Writer(), "[modelcache] ", logger.Flags())),
	)

	ctrl, err := walkforward.New(walkforward.Options{
		RunStore:           stores.Runs,
		CheckpointStore:    stores.Checkpoints,
		PredictionStore:    stores.Predictions,
		EquityCurveStore:   stores.EquityCurve,
		ModelCache:         cache,
		Calendar:           collab.Calendar,
		Trainer:            collab.Trainer,
		Predictor:          collab.Predictor,
		SymbolWorkers:      cfg.Runner.SymbolWorkers,
		CalendarTimeout:    cfg.Runner.CalendarTimeout,
		TrainTimeout:       cfg.Runner.TrainTimeout,
		PredictTimeout:     cfg.Runner.PredictTimeout,
		TrainingWindowDays: cfg.Runner.TrainingWindowDays,
		PerDayPredictions:  cfg.Runner.PerDayPredictions,
		PersistRetries:     cfg.Runner.PersistRetries,
		PersistRetryDelay:  cfg.Runner.PersistRetryDelay,
		StartingCapital:    cfg.Runner.StartingCapital,
		DenominatorPolicy:  cfg.Runner.Policy(),
		Metrics:            m,
		Logger:             log.New(logger.Writer(), "[walkforward] ", logger.Flags()),
		Verbose:            cfg.Logging.Verbose,
	})
	if err != nil {
		return nil, fmt.Errorf("create controller: %w", err)
	}

	return &Application{
		Config:     cfg,
		Stores:     stores,
		Controller: ctrl,
		Registry:   reg,
		Metrics:    m,
		Logger:     logger,
	}, nil
}

// Handler returns the HTTP routes of the runs API, health and metrics.
func (a *Application) Handler() http.Handler {
	h := api.NewHandler(api.Options{
		Service:         a.Controller,
		MetricsHandler:  observability.HandlerFor(a.Registry),
		Logger:          log.New(a.Logger.Writer(), "[api] ", a.Logger.Flags()),
		ReadBufferSize:  a.Config.WebSocket.ReadBufferSize,
		WriteBufferSize: a.Config.WebSocket.WriteBufferSize,
		PingPeriod:      a.Config.WebSocket.PingPeriod,
		PongWait:        a.Config.WebSocket.PongWait,
	})
	return h.Routes()
}

// Shutdown stops accepting runs and waits for running ones to checkpoint.
func (a *Application) Shutdown(ctx context.Context) error {
	return a.Controller.Shutdown(ctx)
}

// Close releases the stores. Call after Shutdown.
func (a *Application) Close() {
	a.Stores.Close()
}

// NewCollaborators returns the JSON-RPC warehouse client for all three
// collaborator roles, or synthetic stubs when cfg.Offline is set.
func NewCollaborators(cfg config.WarehouseConfig) Collaborators {
	if cfg.Offline {
		cal := stub.NewCalendar()
		return Collaborators{
			Calendar:  cal,
			Trainer:   stub.NewTrainer(),
			Predictor: stub.NewPredictor(cal, stub.OracleLabeler),
		}
	}

	client := warehouse.NewHTTPClient(cfg.URL,
		warehouse.WithTimeout(cfg.Timeout),
		warehouse.WithMaxRetries(cfg.MaxRetries),
		warehouse.WithRetryDelay(cfg.RetryDelay),
		warehouse.WithMaxDelay(cfg.MaxDelay),
		warehouse.WithRateLimit(cfg.RateLimit, cfg.RateBurst),
	)
	return Collaborators{Calendar: client, Trainer: client, Predictor: client}
}

// MemoryStores returns in-memory stores for every role.
func MemoryStores() *Stores {
	return &Stores{
		Runs:        memory.NewRunStore(),
		Checkpoints: memory.NewCheckpointStore(),
		Predictions: memory.NewPredictionStore(),
		EquityCurve: memory.NewEquityCurveStore(),
		ModelCache:  memory.NewModelCacheStore(),
		Backend:     "memory",
	}
}

// OpenStores connects the configured backends. PostgreSQL holds runs,
// checkpoints and the model cache; ClickHouse holds predictions and equity
// curves. A backend without a DSN falls back to memory.
func OpenStores(ctx context.Context, cfg config.StorageConfig, logger *log.Logger) (*Stores, error) {
	stores := MemoryStores()
	if cfg.PostgresDSN == "" && cfg.ClickHouseDSN == "" {
		logger.Printf("no database configured: using in-memory stores")
		return stores, nil
	}

	relational, analytical := "memory", "memory"

	if cfg.PostgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		stores.closers = append(stores.closers, pool.Close)

		if cfg.Migrate {
			if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
				stores.Close()
				return nil, fmt.Errorf("postgres migrations: %w", err)
			}
			logger.Printf("postgres migrations applied")
		}

		stores.Runs = pgstore.NewRunStore(pool)
		stores.Checkpoints = pgstore.NewCheckpointStore(pool)
		stores.ModelCache = pgstore.NewModelCacheStore(pool)
		relational = "postgres"
	}

	if cfg.ClickHouseDSN != "" {
		conn, err := openClickHouse(ctx, cfg)
		if err != nil {
			stores.Close()
			return nil, err
		}
		stores.closers = append(stores.closers, func() {
			if err := conn.Close(); err != nil {
				logger.Printf("close clickhouse: %v", err)
			}
		})

		stores.Predictions = chstore.NewPredictionStore(conn)
		stores.EquityCurve = chstore.NewEquityCurveStore(conn)
		analytical = "clickhouse"
	}

	stores.Backend = relational + "+" + analytical
	logger.Printf("stores: %s", stores.Backend)
	return stores, nil
}

func openClickHouse(ctx context.Context, cfg config.StorageConfig) (*chstore.Conn, error) {
	if cfg.Migrate {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouseDSN, cfg.ClickHouseDatabase)
		if err != nil {
			return nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		return conn, nil
	}
	conn, err := chstore.NewConnWithDatabase(ctx, cfg.ClickHouseDSN, cfg.ClickHouseDatabase)
	if err != nil {
		return nil, fmt.Errorf("connect to clickhouse: %w", err)
	}
	return conn, nil
}
