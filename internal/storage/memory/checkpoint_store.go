package memory

import (
	"context"
	"sort"
	"sync"

	"walkforward-lab/internal/domain"
	"walkforward-lab/internal/storage"
)

type checkpointKey struct {
	runID  string
	symbol string
}

// CheckpointStore is an in-memory implementation of storage.CheckpointStore.
type CheckpointStore struct {
	mu   sync.RWMutex
	data map[checkpointKey]*domain.Checkpoint
}

// NewCheckpointStore creates a new in-memory checkpoint store.
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{
		data: make(map[checkpointKey]*domain.Checkpoint),
	}
}

// Get retrieves the checkpoint for (run_id, symbol).
func (s *CheckpointStore) Get(_ context.Context, runID, symbol string) (*domain.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, exists := s.data[checkpointKey{runID, symbol}]
	if !exists {
		return nil, storage.ErrNotFound
	}
	copy := *cp
	return &copy, nil
}

// Upsert creates or advances a checkpoint.
func (s *CheckpointStore) Upsert(_ context.Context, cp *domain.Checkpoint) error {
	if cp == nil || cp.RunID == "" || cp.Symbol == "" || cp.LastDate.IsZero() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := checkpointKey{cp.RunID, cp.Symbol}
	if existing, ok := s.data[key]; ok && cp.LastDate.Before(existing.LastDate) {
		return storage.ErrCheckpointRegression
	}

	copy := *cp
	copy.LastDate = domain.Day(cp.LastDate)
	s.data[key] = &copy
	return nil
}

// GetByRun retrieves all checkpoints of a run, ordered by symbol.
func (s *CheckpointStore) GetByRun(_ context.Context, runID string) ([]*domain.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Checkpoint
	for k, cp := range s.data {
		if k.runID == runID {
			copy := *cp
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Symbol < result[j].Symbol
	})
	return result, nil
}

var _ storage.CheckpointStore = (*CheckpointStore)(nil)
