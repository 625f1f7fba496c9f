package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"walkforward-lab/internal/domain"
	"walkforward-lab/internal/storage"
)

type equityKey struct {
	runID string
	date  time.Time
}

// EquityCurveStore is an in-memory implementation of storage.EquityCurveStore.
type EquityCurveStore struct {
	mu   sync.RWMutex
	data map[equityKey]*domain.EquityCurvePoint

	// WriteErr, when set, is returned by UpsertBulk.
	WriteErr error
}

// NewEquityCurveStore creates a new in-memory equity curve store.
func NewEquityCurveStore() *EquityCurveStore {
	return &EquityCurveStore{
		data: make(map[equityKey]*domain.EquityCurvePoint),
	}
}

// UpsertBulk writes points idempotently on (run_id, trade_date).
func (s *EquityCurveStore) UpsertBulk(_ context.Context, points []*domain.EquityCurvePoint) error {
	for _, p := range points {
		if p == nil || p.RunID == "" || p.TradeDate.IsZero() {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.WriteErr != nil {
		return s.WriteErr
	}

	for _, p := range points {
		copy := *p
		copy.TradeDate = domain.Day(p.TradeDate)
		s.data[equityKey{p.RunID, copy.TradeDate}] = &copy
	}
	return nil
}

// GetByRun retrieves the curve of a run ordered by day_number.
func (s *EquityCurveStore) GetByRun(_ context.Context, runID string) ([]*domain.EquityCurvePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.EquityCurvePoint
	for k, p := range s.data {
		if k.runID == runID {
			copy := *p
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].DayNumber < result[j].DayNumber
	})
	return result, nil
}

var _ storage.EquityCurveStore = (*EquityCurveStore)(nil)
