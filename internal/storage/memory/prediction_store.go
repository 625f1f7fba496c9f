package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"walkforward-lab/internal/domain"
	"walkforward-lab/internal/storage"
)

type predictionKey struct {
	runID  string
	symbol string
	date   time.Time
}

// PredictionStore is an in-memory implementation of storage.PredictionStore.
type PredictionStore struct {
	mu   sync.RWMutex
	data map[predictionKey]*domain.PredictionRecord

	// FailWrites, when > 0, makes that many subsequent UpsertBulk calls fail with WriteErr.
	FailWrites int
	WriteErr   error
}

// NewPredictionStore creates a new in-memory prediction store.
func NewPredictionStore() *PredictionStore {
	return &PredictionStore{
		data: make(map[predictionKey]*domain.PredictionRecord),
	}
}

// UpsertBulk writes records idempotently. Validates the whole batch before writing.
func (s *PredictionStore) UpsertBulk(_ context.Context, records []*domain.PredictionRecord) error {
	if len(records) == 0 {
		return nil
	}

	for _, r := range records {
		if r == nil || r.RunID == "" || r.Symbol == "" || r.PredictionDate.IsZero() {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWrites > 0 {
		s.FailWrites--
		return s.WriteErr
	}

	for _, r := range records {
		copy := *r
		copy.PredictionDate = domain.Day(r.PredictionDate)
		s.data[predictionKey{r.RunID, r.Symbol, copy.PredictionDate}] = &copy
	}
	return nil
}

// GetByRun retrieves all records of a run ordered by (prediction_date, symbol).
func (s *PredictionStore) GetByRun(_ context.Context, runID string) ([]*domain.PredictionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PredictionRecord
	for k, r := range s.data {
		if k.runID == runID {
			copy := *r
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].PredictionDate.Equal(result[j].PredictionDate) {
			return result[i].Symbol < result[j].Symbol
		}
		return result[i].PredictionDate.Before(result[j].PredictionDate)
	})
	return result, nil
}

// GetByRunSymbol retrieves records of one symbol ordered by prediction_date.
func (s *PredictionStore) GetByRunSymbol(_ context.Context, runID, symbol string) ([]*domain.PredictionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PredictionRecord
	for k, r := range s.data {
		if k.runID == runID && k.symbol == symbol {
			copy := *r
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].PredictionDate.Before(result[j].PredictionDate)
	})
	return result, nil
}

var _ storage.PredictionStore = (*PredictionStore)(nil)
