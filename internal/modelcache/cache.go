// Package modelcache reuses trained model handles across runs within a freshness window.
package modelcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"walkforward-lab/internal/domain"
	"walkforward-lab/internal/storage"
)

// DefaultFreshness is the default maximum age of a usable entry.
const DefaultFreshness = 7 * 24 * time.Hour

// LookupResult distinguishes the outcomes of a cache lookup.
type LookupResult int

// Lookup outcomes. Only Hit carries a usable entry.
const (
	Miss LookupResult = iota
	Hit
	Stale
	Failed
)

func (r LookupResult) String() string {
	switch r {
	case Hit:
		return "hit"
	case Stale:
		return "stale"
	case Failed:
		return "failed"
	default:
		return "miss"
	}
}

// Cache wraps a ModelCacheStore with freshness filtering.
type Cache struct {
	store     storage.ModelCacheStore
	freshness time.Duration
	now       func() time.Time
	logger    *log.Logger
}

// Option configures Cache.
type Option func(*Cache)

// WithFreshness sets the freshness window. Non-positive values keep the default.
func WithFreshness(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.freshness = d
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithLogger sets the logger for swallowed store errors.
func WithLogger(l *log.Logger) Option {
	return func(c *Cache) {
		c.logger = l
	}
}

// New creates a Cache over store.
func New(store storage.ModelCacheStore, opts ...Option) *Cache {
	c := &Cache{
		store:     store,
		freshness: DefaultFreshness,
		now:       time.Now,
		logger:    log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Freshness returns the configured freshness window.
func (c *Cache) Freshness() time.Duration {
	return c.freshness
}

// FeatureSetKey is the feature set identity a model is cached under.
// Models trained on a bounded window of windowDays are kept apart from
// models trained on the full history, which use the plain feature set name.
func FeatureSetKey(featureSet string, windowDays int) string {
	if windowDays <= 0 {
		return featureSet
	}
	return fmt.Sprintf("%s@%dd", featureSet, windowDays)
}

// Lookup returns the entry for the key when it is younger than the freshness window.
// A store error is logged and reported as Failed; callers treat every result
// other than Hit as a miss. The error is returned for observability only.
func (c *Cache) Lookup(ctx context.Context, symbol string, cutoff time.Time, featureSet string) (*domain.ModelCacheEntry, LookupResult, error) {
	entry, err := c.store.Get(ctx, symbol, domain.Day(cutoff), featureSet)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, Miss, nil
		}
		c.logger.Printf("model cache lookup %s/%s/%s failed: %v",
			symbol, cutoff.Format(domain.DateLayout), featureSet, err)
		return nil, Failed, err
	}

	if c.now().Sub(entry.CreatedAt) >= c.freshness {
		return nil, Stale, nil
	}
	return entry, Hit, nil
}

// Store records a freshly trained handle, stamping CreatedAt from the cache clock.
// Failures are logged and returned; callers keep using the handle in memory.
func (c *Cache) Store(ctx context.Context, symbol string, cutoff time.Time, featureSet, handle string) (*domain.ModelCacheEntry, error) {
	entry := &domain.ModelCacheEntry{
		Symbol:      symbol,
		CutoffDate:  domain.Day(cutoff),
		FeatureSet:  featureSet,
		ModelHandle: handle,
		CreatedAt:   c.now().UTC(),
	}
	if err := c.store.Put(ctx, entry); err != nil {
		c.logger.Printf("model cache store %s/%s/%s failed: %v",
			symbol, cutoff.Format(domain.DateLayout), featureSet, err)
		return entry, err
	}
	return entry, nil
}
