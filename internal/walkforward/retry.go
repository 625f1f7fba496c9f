package walkforward

import (
	"context"
	"errors"
	"time"

	"walkforward-lab/internal/storage"
)

// withRetry calls fn up to attempts times, doubling delay between tries.
// Invalid input and checkpoint regressions are returned immediately.
func withRetry(ctx context.Context, attempts int, delay time.Duration, fn func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return errors.Join(err, ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
		}

		err = fn(ctx)
		if err == nil || !retryable(err) {
			return err
		}
	}
	return err
}

func retryable(err error) bool {
	return !errors.Is(err, storage.ErrInvalidInput) &&
		!errors.Is(err, storage.ErrCheckpointRegression) &&
		!errors.Is(err, storage.ErrNotFound) &&
		!errors.Is(err, storage.ErrDuplicateKey)
}
