package domain

import "time"

// ModelCacheEntry references a trained model.
// Corresponds to the model_cache table, keyed by (symbol, train_end_date, features_mode).
type ModelCacheEntry struct {
	Symbol      string
	CutoffDate  time.Time
	FeatureSet  string
	ModelHandle string
	CreatedAt   time.Time
}

// Checkpoint is the resume marker for one (run, symbol) pair.
// Corresponds to the checkpoints table.
type Checkpoint struct {
	RunID            string
	Symbol           string
	LastDate         time.Time // last fully-processed trading date
	PredictionsSaved int
	UpdatedAt        time.Time
}
