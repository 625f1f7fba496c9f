package storage

import "errors"

// Storage errors shared by all backends.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when inserting a record whose key already exists.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrCheckpointRegression is returned when a checkpoint upsert would move
	// last_date backwards for the same (run_id, symbol).
	ErrCheckpointRegression = errors.New("checkpoint regression: last_date may not move backwards")
)
