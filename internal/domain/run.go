package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// RunStatus is the lifecycle state of a validation run.
type RunStatus string

// Run status constants.
const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed without a resume.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// CanTransitionTo reports whether moving from s to next is a forward transition.
// pending → running → {completed, failed, cancelled}; running → running is allowed
// for progress updates. A pending run may be cancelled or failed before it starts.
func (s RunStatus) CanTransitionTo(next RunStatus) bool {
	switch s {
	case RunStatusPending:
		return next == RunStatusRunning || next == RunStatusFailed || next == RunStatusCancelled
	case RunStatusRunning:
		return next == RunStatusRunning || next.IsTerminal()
	default:
		return false
	}
}

// Cadence is the retrain frequency in trading days.
type Cadence int

// Supported retrain cadences.
const (
	CadenceDaily     Cadence = 1
	CadenceWeekly    Cadence = 5
	CadenceMonthly   Cadence = 21
	CadenceQuarterly Cadence = 63
)

var cadenceNames = map[Cadence]string{
	CadenceDaily:     "daily",
	CadenceWeekly:    "weekly",
	CadenceMonthly:   "monthly",
	CadenceQuarterly: "quarterly",
}

// ParseCadence converts "daily|weekly|monthly|quarterly" into a Cadence.
func ParseCadence(s string) (Cadence, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for c, n := range cadenceNames {
		if n == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown retrain frequency %q", s)
}

// Valid reports whether c is one of the supported cadences.
func (c Cadence) Valid() bool {
	_, ok := cadenceNames[c]
	return ok
}

func (c Cadence) String() string {
	if n, ok := cadenceNames[c]; ok {
		return n
	}
	return fmt.Sprintf("cadence(%d)", int(c))
}

// Days returns the number of trading days covered by one training cut-off.
func (c Cadence) Days() int {
	return int(c)
}

// ErrInvalidRunConfig is returned by RunConfig.Validate.
var ErrInvalidRunConfig = errors.New("invalid run config")

// RunConfig is the immutable request part of a run.
type RunConfig struct {
	Symbols             []string
	TestStart           time.Time
	HorizonDays         int // trading days, >= 1
	Cadence             Cadence
	FeatureSet          string
	ConfidenceThreshold float64 // [0, 1]
}

// Validate checks the run config invariants.
func (c RunConfig) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("%w: at least one symbol is required", ErrInvalidRunConfig)
	}
	seen := make(map[string]struct{}, len(c.Symbols))
	for _, s := range c.Symbols {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%w: empty symbol", ErrInvalidRunConfig)
		}
		if _, dup := seen[s]; dup {
			return fmt.Errorf("%w: duplicate symbol %s", ErrInvalidRunConfig, s)
		}
		seen[s] = struct{}{}
	}
	if c.TestStart.IsZero() {
		return fmt.Errorf("%w: test start is required", ErrInvalidRunConfig)
	}
	if c.HorizonDays < 1 {
		return fmt.Errorf("%w: horizon must be >= 1, got %d", ErrInvalidRunConfig, c.HorizonDays)
	}
	if !c.Cadence.Valid() {
		return fmt.Errorf("%w: unsupported cadence %d", ErrInvalidRunConfig, int(c.Cadence))
	}
	if _, err := LookupFeatureSet(c.FeatureSet); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRunConfig, err)
	}
	if !(c.ConfidenceThreshold >= 0 && c.ConfidenceThreshold <= 1) {
		return fmt.Errorf("%w: confidence threshold must be in [0,1], got %v", ErrInvalidRunConfig, c.ConfidenceThreshold)
	}
	return nil
}

// Run represents a single walk-forward validation request and its state.
// Corresponds to the runs table.
type Run struct {
	RunID  string
	Config RunConfig

	Status       RunStatus
	ProgressPct  float64 // 0..100
	CurrentDay   int     // 1-based index into the run's trading dates
	ErrorMessage string
	Metrics      *RunMetrics // populated on completion
	Attempt      int         // incremented by each resume

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Clone returns a deep copy of the run.
func (r *Run) Clone() *Run {
	c := *r
	c.Config.Symbols = append([]string(nil), r.Config.Symbols...)
	if r.Metrics != nil {
		m := r.Metrics.Clone()
		c.Metrics = &m
	}
	if r.StartedAt != nil {
		t := *r.StartedAt
		c.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// RunMetrics holds the aggregated outcome of a run.
type RunMetrics struct {
	OverallAccuracy        float64
	UpAccuracy             float64
	DownAccuracy           float64
	HighConfidenceAccuracy float64
	TotalReturn            float64
	FinalEquity            float64
	MaxDrawdown            float64

	TotalPredictions          int
	CorrectPredictions        int
	UpPredictions             int
	DownPredictions           int
	HighConfidencePredictions int

	SymbolPredictions map[string]int
}

// Clone returns a deep copy of the metrics.
func (m RunMetrics) Clone() RunMetrics {
	if m.SymbolPredictions != nil {
		sp := make(map[string]int, len(m.SymbolPredictions))
		for k, v := range m.SymbolPredictions {
			sp[k] = v
		}
		m.SymbolPredictions = sp
	}
	return m
}

// RunStatusView is the polling view of a run.
type RunStatusView struct {
	RunID           string
	Status          RunStatus
	ProgressPct     float64
	CurrentDay      int
	Attempt         int
	ErrorMessage    string
	OverallAccuracy *float64
	TotalReturn     *float64
}

// StatusView builds the polling view of r.
func (r *Run) StatusView() RunStatusView {
	v := RunStatusView{
		RunID:        r.RunID,
		Status:       r.Status,
		ProgressPct:  r.ProgressPct,
		CurrentDay:   r.CurrentDay,
		Attempt:      r.Attempt,
		ErrorMessage: r.ErrorMessage,
	}
	if r.Metrics != nil {
		acc := r.Metrics.OverallAccuracy
		ret := r.Metrics.TotalReturn
		v.OverallAccuracy = &acc
		v.TotalReturn = &ret
	}
	return v
}
