package postgres

import (
	"context"
	"fmt"
	"time"

	"walkforward-lab/internal/domain"
	"walkforward-lab/internal/storage"
)

// ModelCacheStore implements storage.ModelCacheStore using PostgreSQL.
type ModelCacheStore struct {
	pool *Pool
}

// NewModelCacheStore creates a new ModelCacheStore.
func NewModelCacheStore(pool *Pool) *ModelCacheStore {
	return &ModelCacheStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ModelCacheStore = (*ModelCacheStore)(nil)

// Get retrieves the entry for (symbol, train_end_date, features_mode).
func (s *ModelCacheStore) Get(ctx context.Context, symbol string, cutoff time.Time, featureSet string) (*domain.ModelCacheEntry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT symbol, train_end_date, features_mode, model_handle, created_at
		FROM model_cache
		WHERE symbol = $1 AND train_end_date = $2 AND features_mode = $3
	`, symbol, domain.Day(cutoff), featureSet)

	var e domain.ModelCacheEntry
	err := row.Scan(&e.Symbol, &e.CutoffDate, &e.FeatureSet, &e.ModelHandle, &e.CreatedAt)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get model cache entry: %w", err)
	}
	e.CutoffDate = domain.Day(e.CutoffDate)
	return &e, nil
}

// Put stores an entry, replacing any entry with the same key.
func (s *ModelCacheStore) Put(ctx context.Context, e *domain.ModelCacheEntry) error {
	if e == nil || e.Symbol == "" || e.FeatureSet == "" || e.ModelHandle == "" {
		return storage.ErrInvalidInput
	}

	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO model_cache (symbol, train_end_date, features_mode, model_handle, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (symbol, train_end_date, features_mode) DO UPDATE
		SET model_handle = EXCLUDED.model_handle,
		    created_at = EXCLUDED.created_at
	`, e.Symbol, domain.Day(e.CutoffDate), e.FeatureSet, e.ModelHandle, createdAt)
	if err != nil {
		return fmt.Errorf("put model cache entry: %w", err)
	}
	return nil
}
