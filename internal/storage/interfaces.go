package storage

import (
	"context"
	"time"

	"walkforward-lab/internal/domain"
)

// RunStore provides access to runs storage.
type RunStore interface {
	// Insert adds a new run. Returns ErrDuplicateKey if run_id exists.
	Insert(ctx context.Context, r *domain.Run) error

	// Update replaces the mutable fields of an existing run. Returns ErrNotFound if not exists.
	Update(ctx context.Context, r *domain.Run) error

	// GetByID retrieves a run by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, runID string) (*domain.Run, error)

	// ListRecent retrieves up to limit runs, newest first.
	ListRecent(ctx context.Context, limit int) ([]*domain.Run, error)
}

// CheckpointStore provides access to checkpoints storage.
// Safe for concurrent upserts keyed by (run_id, symbol).
type CheckpointStore interface {
	// Get retrieves the checkpoint for (run_id, symbol). Returns ErrNotFound if none.
	Get(ctx context.Context, runID, symbol string) (*domain.Checkpoint, error)

	// Upsert creates or advances a checkpoint.
	// Returns ErrCheckpointRegression if last_date would move backwards.
	Upsert(ctx context.Context, cp *domain.Checkpoint) error

	// GetByRun retrieves all checkpoints of a run, ordered by symbol.
	GetByRun(ctx context.Context, runID string) ([]*domain.Checkpoint, error)
}

// ModelCacheStore provides access to model_cache storage.
// Safe for concurrent puts keyed by (symbol, cutoff, feature set).
type ModelCacheStore interface {
	// Get retrieves the entry for the key. Returns ErrNotFound if none.
	// Freshness is not evaluated here.
	Get(ctx context.Context, symbol string, cutoff time.Time, featureSet string) (*domain.ModelCacheEntry, error)

	// Put stores an entry, replacing any entry with the same key.
	Put(ctx context.Context, e *domain.ModelCacheEntry) error
}

// PredictionStore provides access to predictions storage.
type PredictionStore interface {
	// UpsertBulk writes records idempotently on (run_id, symbol, prediction_date).
	UpsertBulk(ctx context.Context, records []*domain.PredictionRecord) error

	// GetByRun retrieves all records of a run, ordered by (prediction_date, symbol) ASC.
	GetByRun(ctx context.Context, runID string) ([]*domain.PredictionRecord, error)

	// GetByRunSymbol retrieves records of one symbol, ordered by prediction_date ASC.
	GetByRunSymbol(ctx context.Context, runID, symbol string) ([]*domain.PredictionRecord, error)
}

// EquityCurveStore provides access to equity_curve storage.
type EquityCurveStore interface {
	// UpsertBulk writes points idempotently on (run_id, trade_date).
	UpsertBulk(ctx context.Context, points []*domain.EquityCurvePoint) error

	// GetByRun retrieves the curve of a run, ordered by day_number ASC.
	GetByRun(ctx context.Context, runID string) ([]*domain.EquityCurvePoint, error)
}
