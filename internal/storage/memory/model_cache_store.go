package memory

import (
	"context"
	"sync"
	"time"

	"walkforward-lab/internal/domain"
	"walkforward-lab/internal/storage"
)

type modelKey struct {
	symbol     string
	cutoff     time.Time
	featureSet string
}

// ModelCacheStore is an in-memory implementation of storage.ModelCacheStore.
type ModelCacheStore struct {
	mu   sync.RWMutex
	data map[modelKey]*domain.ModelCacheEntry

	// GetErr and PutErr, when set, are returned by Get and Put.
	GetErr error
	PutErr error
}

// NewModelCacheStore creates a new in-memory model cache store.
func NewModelCacheStore() *ModelCacheStore {
	return &ModelCacheStore{
		data: make(map[modelKey]*domain.ModelCacheEntry),
	}
}

// Get retrieves the entry for (symbol, cutoff, feature set).
func (s *ModelCacheStore) Get(_ context.Context, symbol string, cutoff time.Time, featureSet string) (*domain.ModelCacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.GetErr != nil {
		return nil, s.GetErr
	}

	e, exists := s.data[modelKey{symbol, domain.Day(cutoff), featureSet}]
	if !exists {
		return nil, storage.ErrNotFound
	}
	copy := *e
	return &copy, nil
}

// Put stores an entry, replacing any entry with the same key.
func (s *ModelCacheStore) Put(_ context.Context, e *domain.ModelCacheEntry) error {
	if e == nil || e.Symbol == "" || e.FeatureSet == "" || e.ModelHandle == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.PutErr != nil {
		return s.PutErr
	}

	copy := *e
	copy.CutoffDate = domain.Day(e.CutoffDate)
	s.data[modelKey{e.Symbol, copy.CutoffDate, e.FeatureSet}] = &copy
	return nil
}

// Len returns the number of stored entries.
func (s *ModelCacheStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

var _ storage.ModelCacheStore = (*ModelCacheStore)(nil)
