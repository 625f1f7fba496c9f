package clickhouse

import (
	"context"
	"fmt"
	"time"

	"walkforward-lab/internal/domain"
	"walkforward-lab/internal/storage"
)

// PredictionStore implements storage.PredictionStore using ClickHouse.
// The predictions table is a ReplacingMergeTree keyed by (run_id, symbol, prediction_date),
// so re-inserting a key replaces the earlier row. Reads use FINAL.
type PredictionStore struct {
	conn *Conn
}

// NewPredictionStore creates a new PredictionStore.
func NewPredictionStore(conn *Conn) *PredictionStore {
	return &PredictionStore{conn: conn}
}

// Compile-time interface check.
var _ storage.PredictionStore = (*PredictionStore)(nil)

// UpsertBulk writes records idempotently on (run_id, symbol, prediction_date).
func (s *PredictionStore) UpsertBulk(ctx context.Context, records []*domain.PredictionRecord) error {
	if len(records) == 0 {
		return nil
	}
	for _, r := range records {
		if r == nil || r.RunID == "" || r.Symbol == "" || r.PredictionDate.IsZero() {
			return storage.ErrInvalidInput
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO predictions (
			run_id, symbol, prediction_date, observed_close, next_close,
			predicted_direction, probability_up, confidence, actual_direction, is_correct,
			day_return, cumulative_return, model_handle, inserted_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	now := time.Now().UTC()
	for _, r := range records {
		var correct uint8
		if r.IsCorrect {
			correct = 1
		}
		err = batch.Append(
			r.RunID, r.Symbol, domain.Day(r.PredictionDate), r.ObservedClose, r.NextClose,
			string(r.PredictedDirection), r.ProbabilityUp, r.Confidence, string(r.ActualDirection), correct,
			r.DayReturn, r.CumulativeReturn, r.ModelHandle, now,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByRun retrieves all records of a run, ordered by (prediction_date, symbol) ASC.
func (s *PredictionStore) GetByRun(ctx context.Context, runID string) ([]*domain.PredictionRecord, error) {
	query := `
		SELECT run_id, symbol, prediction_date, observed_close, next_close,
			predicted_direction, probability_up, confidence, actual_direction, is_correct,
			day_return, cumulative_return, model_handle
		FROM predictions FINAL
		WHERE run_id = ?
		ORDER BY prediction_date ASC, symbol ASC
	`

	rows, err := s.conn.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("query predictions by run: %w", err)
	}
	defer rows.Close()

	return scanPredictions(rows)
}

// GetByRunSymbol retrieves records of one symbol, ordered by prediction_date ASC.
func (s *PredictionStore) GetByRunSymbol(ctx context.Context, runID, symbol string) ([]*domain.PredictionRecord, error) {
	query := `
		SELECT run_id, symbol, prediction_date, observed_close, next_close,
			predicted_direction, probability_up, confidence, actual_direction, is_correct,
			day_return, cumulative_return, model_handle
		FROM predictions FINAL
		WHERE run_id = ? AND symbol = ?
		ORDER BY prediction_date ASC
	`

	rows, err := s.conn.Query(ctx, query, runID, symbol)
	if err != nil {
		return nil, fmt.Errorf("query predictions by run and symbol: %w", err)
	}
	defer rows.Close()

	return scanPredictions(rows)
}

// scanPredictions scans multiple rows.
func scanPredictions(rows chRows) ([]*domain.PredictionRecord, error) {
	var records []*domain.PredictionRecord

	for rows.Next() {
		var r domain.PredictionRecord
		var predicted, actual string
		var correct uint8

		err := rows.Scan(
			&r.RunID, &r.Symbol, &r.PredictionDate, &r.ObservedClose, &r.NextClose,
			&predicted, &r.ProbabilityUp, &r.Confidence, &actual, &correct,
			&r.DayReturn, &r.CumulativeReturn, &r.ModelHandle,
		)
		if err != nil {
			return nil, fmt.Errorf("scan prediction row: %w", err)
		}

		r.PredictionDate = domain.Day(r.PredictionDate)
		r.PredictedDirection = domain.Direction(predicted)
		r.ActualDirection = domain.Direction(actual)
		r.IsCorrect = correct == 1
		records = append(records, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prediction rows: %w", err)
	}

	return records, nil
}
