package postgres

import (
	"context"
	"fmt"

	"walkforward-lab/internal/domain"
	"walkforward-lab/internal/storage"
)

// CheckpointStore implements storage.CheckpointStore using PostgreSQL.
type CheckpointStore struct {
	pool *Pool
}

// NewCheckpointStore creates a new CheckpointStore.
func NewCheckpointStore(pool *Pool) *CheckpointStore {
	return &CheckpointStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CheckpointStore = (*CheckpointStore)(nil)

// Get retrieves the checkpoint for (run_id, symbol). Returns ErrNotFound if none.
func (s *CheckpointStore) Get(ctx context.Context, runID, symbol string) (*domain.Checkpoint, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT run_id, symbol, last_date, predictions_saved, updated_at
		FROM checkpoints
		WHERE run_id = $1 AND symbol = $2
	`, runID, symbol)

	var cp domain.Checkpoint
	err := row.Scan(&cp.RunID, &cp.Symbol, &cp.LastDate, &cp.PredictionsSaved, &cp.UpdatedAt)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}
	cp.LastDate = domain.Day(cp.LastDate)
	return &cp, nil
}

// Upsert creates or advances a checkpoint.
// The conditional DO UPDATE leaves the row untouched when last_date would regress,
// which surfaces as zero affected rows.
func (s *CheckpointStore) Upsert(ctx context.Context, cp *domain.Checkpoint) error {
	if cp == nil || cp.RunID == "" || cp.Symbol == "" || cp.LastDate.IsZero() {
		return storage.ErrInvalidInput
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO checkpoints (run_id, symbol, last_date, predictions_saved, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (run_id, symbol) DO UPDATE
		SET last_date = EXCLUDED.last_date,
		    predictions_saved = EXCLUDED.predictions_saved,
		    updated_at = NOW()
		WHERE checkpoints.last_date <= EXCLUDED.last_date
	`, cp.RunID, cp.Symbol, domain.Day(cp.LastDate), cp.PredictionsSaved)
	if err != nil {
		return fmt.Errorf("upsert checkpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrCheckpointRegression
	}
	return nil
}

// GetByRun retrieves all checkpoints of a run, ordered by symbol.
func (s *CheckpointStore) GetByRun(ctx context.Context, runID string) ([]*domain.Checkpoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, symbol, last_date, predictions_saved, updated_at
		FROM checkpoints
		WHERE run_id = $1
		ORDER BY symbol ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer rows.Close()

	var result []*domain.Checkpoint
	for rows.Next() {
		var cp domain.Checkpoint
		if err := rows.Scan(&cp.RunID, &cp.Symbol, &cp.LastDate, &cp.PredictionsSaved, &cp.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		cp.LastDate = domain.Day(cp.LastDate)
		result = append(result, &cp)
	}
	return result, rows.Err()
}
