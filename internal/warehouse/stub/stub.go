// Package stub provides in-process warehouse collaborators for tests and the
// CLI's offline mode. Prices follow a deterministic synthetic series.
package stub

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"walkforward-lab/internal/domain"
	"walkforward-lab/internal/warehouse"
)

// ErrInjected is the default error for configured failures.
var ErrInjected = errors.New("injected failure")

// Compile-time interface checks.
var (
	_ warehouse.Calendar  = (*Calendar)(nil)
	_ warehouse.Trainer   = (*Trainer)(nil)
	_ warehouse.Predictor = (*Predictor)(nil)
)

// Close returns the synthetic close of symbol on date.
func Close(symbol string, date time.Time) float64 {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	phase := float64(h.Sum32()%1000) / 100
	days := float64(domain.Day(date).Unix() / 86400)
	return 100 * (1 + 0.05*math.Sin(days/2.7+phase) + 0.02*math.Cos(days/1.3+phase))
}

// Calendar returns weekdays, minus configured holidays.
type Calendar struct {
	mu       sync.Mutex
	holidays map[time.Time]bool
	calls    int

	// Err, when set, is returned by every call.
	Err error
	// Empty makes every call return no dates.
	Empty bool
}

// NewCalendar creates a weekday calendar.
func NewCalendar() *Calendar {
	return &Calendar{holidays: make(map[time.Time]bool)}
}

// AddHoliday excludes date from the calendar.
func (c *Calendar) AddHoliday(date time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.holidays[domain.Day(date)] = true
}

// Calls returns the number of TradingDates calls.
func (c *Calendar) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// TradingDates returns up to limit trading dates on or after from.
func (c *Calendar) TradingDates(_ context.Context, _ string, from time.Time, limit int) ([]time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++

	if c.Err != nil {
		return nil, c.Err
	}
	if c.Empty {
		return nil, nil
	}

	var out []time.Time
	for d := domain.Day(from); len(out) < limit; d = d.AddDate(0, 0, 1) {
		if c.isTradingDay(d) {
			out = append(out, d)
		}
	}
	return out, nil
}

// Next returns the first trading date strictly after date.
func (c *Calendar) Next(date time.Time) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := domain.Day(date).AddDate(0, 0, 1)
	for !c.isTradingDay(d) {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// between returns trading dates in [start, end].
func (c *Calendar) between(start, end time.Time) []time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []time.Time
	for d := domain.Day(start); !d.After(domain.Day(end)); d = d.AddDate(0, 0, 1) {
		if c.isTradingDay(d) {
			out = append(out, d)
		}
	}
	return out
}

func (c *Calendar) isTradingDay(d time.Time) bool {
	if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		return false
	}
	return !c.holidays[d]
}

// failureKey identifies a (symbol, date) pair for injected failures.
type failureKey struct {
	symbol string
	date   time.Time
}

// Trainer counts calls and issues a fresh handle per call.
type Trainer struct {
	mu       sync.Mutex
	failures map[failureKey]error
	calls    []warehouse.TrainRequest
	seq      int

	// Delay blocks each call, honouring context cancellation.
	Delay time.Duration
}

// NewTrainer creates a stub trainer.
func NewTrainer() *Trainer {
	return &Trainer{failures: make(map[failureKey]error)}
}

// FailAt makes training symbol with the given cutoff fail. A nil err uses ErrInjected.
func (t *Trainer) FailAt(symbol string, cutoff time.Time, err error) {
	if err == nil {
		err = ErrInjected
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[failureKey{symbol, domain.Day(cutoff)}] = err
}

// Calls returns the number of Train calls, failed ones included.
func (t *Trainer) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// Requests returns a copy of all received requests.
func (t *Trainer) Requests() []warehouse.TrainRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]warehouse.TrainRequest, len(t.calls))
	copy(out, t.calls)
	return out
}

// Train returns a handle unique to this call.
func (t *Trainer) Train(ctx context.Context, req warehouse.TrainRequest) (string, error) {
	t.mu.Lock()
	t.calls = append(t.calls, req)
	t.seq++
	seq := t.seq
	err := t.failures[failureKey{req.Symbol, domain.Day(req.Cutoff)}]
	t.mu.Unlock()

	if t.Delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(t.Delay):
		}
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("model_%s_%s_%s_%d", req.Symbol, req.FeatureSet, req.Cutoff.Format("20060102"), seq), nil
}

// Labeler decides the predicted direction and probability of up for one day.
type Labeler func(symbol string, date time.Time, observed, next float64) (domain.Direction, float64)

// OracleLabeler always predicts the realized direction.
func OracleLabeler(_ string, _ time.Time, observed, next float64) (domain.Direction, float64) {
	if next > observed {
		return domain.DirectionUp, 0.8
	}
	return domain.DirectionDown, 0.2
}

// ConstantLabeler always predicts dir with the given probability of up.
func ConstantLabeler(dir domain.Direction, pUp float64) Labeler {
	return func(string, time.Time, float64, float64) (domain.Direction, float64) {
		return dir, pUp
	}
}

// Predictor emits one row per trading day in range from the synthetic series.
type Predictor struct {
	mu       sync.Mutex
	cal      *Calendar
	labeler  Labeler
	failures map[failureKey]error
	calls    []warehouse.PredictRequest

	// DataEnd, when set, is the last date with price data. Rows whose next
	// trading date is after DataEnd carry no next close.
	DataEnd time.Time
	// Delay blocks each call, honouring context cancellation.
	Delay time.Duration
}

// NewPredictor creates a stub predictor over cal. A nil labeler uses OracleLabeler.
func NewPredictor(cal *Calendar, labeler Labeler) *Predictor {
	if labeler == nil {
		labeler = OracleLabeler
	}
	return &Predictor{cal: cal, labeler: labeler, failures: make(map[failureKey]error)}
}

// FailAt makes predicting symbol for a range starting at start fail. A nil err uses ErrInjected.
func (p *Predictor) FailAt(symbol string, start time.Time, err error) {
	if err == nil {
		err = ErrInjected
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[failureKey{symbol, domain.Day(start)}] = err
}

// Calls returns the number of Predict calls.
func (p *Predictor) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// Requests returns a copy of all received requests.
func (p *Predictor) Requests() []warehouse.PredictRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]warehouse.PredictRequest, len(p.calls))
	copy(out, p.calls)
	return out
}

// Predict returns rows for every trading day in [req.Start, req.End].
func (p *Predictor) Predict(ctx context.Context, req warehouse.PredictRequest) ([]warehouse.RawPrediction, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	err := p.failures[failureKey{req.Symbol, domain.Day(req.Start)}]
	p.mu.Unlock()

	if p.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.Delay):
		}
	}
	if err != nil {
		return nil, err
	}
	if req.Handle == "" {
		return nil, fmt.Errorf("predict %s: empty model handle", req.Symbol)
	}

	dates := p.cal.between(req.Start, req.End)
	out := make([]warehouse.RawPrediction, 0, len(dates))
	for _, d := range dates {
		observed := Close(req.Symbol, d)
		row := warehouse.RawPrediction{Date: d, ObservedClose: observed}

		nextDate := p.cal.Next(d)
		if p.DataEnd.IsZero() || !nextDate.After(domain.Day(p.DataEnd)) {
			next := Close(req.Symbol, nextDate)
			row.NextClose = &next
			row.PredictedLabel, row.ProbabilityUp = p.labeler(req.Symbol, d, observed, next)
		} else {
			row.PredictedLabel, row.ProbabilityUp = p.labeler(req.Symbol, d, observed, observed)
		}
		row.ProbabilityDown = 1 - row.ProbabilityUp
		out = append(out, row)
	}
	return out, nil
}
