package walkforward

import (
	"errors"
	"fmt"
	"time"

	"walkforward-lab/internal/domain"
)

// Run-level errors.
var (
	// ErrConfiguration rejects a run at submission; it never reaches running.
	ErrConfiguration = errors.New("configuration error")
	// ErrCalendarResolution means no trading dates could be resolved; the run fails.
	ErrCalendarResolution = errors.New("calendar resolution error")
	// ErrPersistence means a checkpoint, prediction or metrics write exhausted its retries.
	ErrPersistence = errors.New("persistence failure")
	// ErrCancelled is the RunResult.Cause of a cancelled run. Execute does not return it.
	ErrCancelled = errors.New("cancellation requested")

	// ErrRunNotFound is returned for unknown run identifiers.
	ErrRunNotFound = errors.New("run not found")
	// ErrRunTerminal is returned when cancelling a run that already finished.
	ErrRunTerminal = errors.New("run already finished")
	// ErrNotResumable is returned when resuming a completed run.
	ErrNotResumable = errors.New("run cannot be resumed")
	// ErrRunActive is returned when a run is already executing in this process.
	ErrRunActive = errors.New("run already executing")
	// ErrShuttingDown is returned once Shutdown has been called.
	ErrShuttingDown = errors.New("controller shutting down")
)

// TrainingFailure is a per (symbol, batch) training error. The batch is skipped for that symbol.
type TrainingFailure struct {
	Symbol     string
	BatchIndex int
	Cutoff     time.Time
	Err        error
}

func (e *TrainingFailure) Error() string {
	return fmt.Sprintf("train %s batch %d (cutoff %s): %v",
		e.Symbol, e.BatchIndex, e.Cutoff.Format(domain.DateLayout), e.Err)
}

func (e *TrainingFailure) Unwrap() error { return e.Err }

// PredictionFailure is a per (symbol, batch) prediction error. Nothing is recorded for the batch.
type PredictionFailure struct {
	Symbol     string
	BatchIndex int
	Start      time.Time
	End        time.Time
	Err        error
}

func (e *PredictionFailure) Error() string {
	return fmt.Sprintf("predict %s batch %d (%s..%s): %v",
		e.Symbol, e.BatchIndex, e.Start.Format(domain.DateLayout), e.End.Format(domain.DateLayout), e.Err)
}

func (e *PredictionFailure) Unwrap() error { return e.Err }
