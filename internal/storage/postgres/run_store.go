package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"walkforward-lab/internal/domain"
	"walkforward-lab/internal/storage"
)

// RunStore implements storage.RunStore using PostgreSQL.
type RunStore struct {
	pool *Pool
}

// NewRunStore creates a new RunStore.
func NewRunStore(pool *Pool) *RunStore {
	return &RunStore{pool: pool}
}

// Compile-time interface check.
var _ storage.RunStore = (*RunStore)(nil)

const runColumns = `
	run_id, symbols, test_start, horizon_days, cadence_days, features_mode, confidence_threshold,
	status, progress_pct, current_day, error_message, attempt,
	overall_accuracy, up_accuracy, down_accuracy, high_conf_accuracy,
	total_return, final_equity, max_drawdown,
	total_predictions, correct_predictions, up_predictions, down_predictions, high_conf_predictions,
	symbol_predictions,
	created_at, started_at, completed_at
`

// metricColumns flattens optional metrics into nullable column values.
type metricColumns struct {
	OverallAccuracy, UpAccuracy, DownAccuracy, HighConfAccuracy *float64
	TotalReturn, FinalEquity, MaxDrawdown                       *float64
	TotalPredictions, CorrectPredictions                        *int
	UpPredictions, DownPredictions, HighConfPredictions         *int
	SymbolPredictions                                           map[string]int
}

func toMetricColumns(m *domain.RunMetrics) metricColumns {
	if m == nil {
		return metricColumns{}
	}
	return metricColumns{
		OverallAccuracy:     &m.OverallAccuracy,
		UpAccuracy:          &m.UpAccuracy,
		DownAccuracy:        &m.DownAccuracy,
		HighConfAccuracy:    &m.HighConfidenceAccuracy,
		TotalReturn:         &m.TotalReturn,
		FinalEquity:         &m.FinalEquity,
		MaxDrawdown:         &m.MaxDrawdown,
		TotalPredictions:    &m.TotalPredictions,
		CorrectPredictions:  &m.CorrectPredictions,
		UpPredictions:       &m.UpPredictions,
		DownPredictions:     &m.DownPredictions,
		HighConfPredictions: &m.HighConfidencePredictions,
		SymbolPredictions:   m.SymbolPredictions,
	}
}

func (mc metricColumns) toDomain() *domain.RunMetrics {
	if mc.OverallAccuracy == nil {
		return nil
	}
	deref := func(v *float64) float64 {
		if v == nil {
			return 0
		}
		return *v
	}
	derefInt := func(v *int) int {
		if v == nil {
			return 0
		}
		return *v
	}
	return &domain.RunMetrics{
		OverallAccuracy:           deref(mc.OverallAccuracy),
		UpAccuracy:                deref(mc.UpAccuracy),
		DownAccuracy:              deref(mc.DownAccuracy),
		HighConfidenceAccuracy:    deref(mc.HighConfAccuracy),
		TotalReturn:               deref(mc.TotalReturn),
		FinalEquity:               deref(mc.FinalEquity),
		MaxDrawdown:               deref(mc.MaxDrawdown),
		TotalPredictions:          derefInt(mc.TotalPredictions),
		CorrectPredictions:        derefInt(mc.CorrectPredictions),
		UpPredictions:             derefInt(mc.UpPredictions),
		DownPredictions:           derefInt(mc.DownPredictions),
		HighConfidencePredictions: derefInt(mc.HighConfPredictions),
		SymbolPredictions:         mc.SymbolPredictions,
	}
}

// Insert adds a new run. Returns ErrDuplicateKey if run_id exists.
func (s *RunStore) Insert(ctx context.Context, r *domain.Run) error {
	if r == nil || r.RunID == "" {
		return storage.ErrInvalidInput
	}

	query := `INSERT INTO runs (` + runColumns + `) VALUES (
		$1, $2, $3, $4, $5, $6, $7,
		$8, $9, $10, $11, $12,
		$13, $14, $15, $16,
		$17, $18, $19,
		$20, $21, $22, $23, $24,
		$25,
		$26, $27, $28
	)`

	_, err := s.pool.Exec(ctx, query, runArgs(r)...)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Update replaces the mutable fields of an existing run. Returns ErrNotFound if not exists.
func (s *RunStore) Update(ctx context.Context, r *domain.Run) error {
	if r == nil || r.RunID == "" {
		return storage.ErrInvalidInput
	}

	mc := toMetricColumns(r.Metrics)
	query := `
		UPDATE runs SET
			status = $2, progress_pct = $3, current_day = $4, error_message = $5, attempt = $6,
			overall_accuracy = $7, up_accuracy = $8, down_accuracy = $9, high_conf_accuracy = $10,
			total_return = $11, final_equity = $12, max_drawdown = $13,
			total_predictions = $14, correct_predictions = $15, up_predictions = $16,
			down_predictions = $17, high_conf_predictions = $18,
			symbol_predictions = $19,
			started_at = $20, completed_at = $21
		WHERE run_id = $1
	`

	tag, err := s.pool.Exec(ctx, query,
		r.RunID,
		string(r.Status), r.ProgressPct, r.CurrentDay, r.ErrorMessage, r.Attempt,
		mc.OverallAccuracy, mc.UpAccuracy, mc.DownAccuracy, mc.HighConfAccuracy,
		mc.TotalReturn, mc.FinalEquity, mc.MaxDrawdown,
		mc.TotalPredictions, mc.CorrectPredictions, mc.UpPredictions,
		mc.DownPredictions, mc.HighConfPredictions,
		symbolPredictionsArg(mc.SymbolPredictions),
		r.StartedAt, r.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetByID retrieves a run by its ID. Returns ErrNotFound if not exists.
func (s *RunStore) GetByID(ctx context.Context, runID string) (*domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE run_id = $1`

	r, err := scanRun(s.pool.QueryRow(ctx, query, runID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get run by id: %w", err)
	}
	return r, nil
}

// ListRecent retrieves up to limit runs, newest first.
func (s *RunStore) ListRecent(ctx context.Context, limit int) ([]*domain.Run, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT ` + runColumns + `
		FROM runs
		ORDER BY created_at DESC, run_id DESC
		LIMIT $1
	`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*domain.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func runArgs(r *domain.Run) []interface{} {
	mc := toMetricColumns(r.Metrics)
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return []interface{}{
		r.RunID, r.Config.Symbols, domain.Day(r.Config.TestStart), r.Config.HorizonDays,
		int(r.Config.Cadence), r.Config.FeatureSet, r.Config.ConfidenceThreshold,
		string(r.Status), r.ProgressPct, r.CurrentDay, r.ErrorMessage, r.Attempt,
		mc.OverallAccuracy, mc.UpAccuracy, mc.DownAccuracy, mc.HighConfAccuracy,
		mc.TotalReturn, mc.FinalEquity, mc.MaxDrawdown,
		mc.TotalPredictions, mc.CorrectPredictions, mc.UpPredictions, mc.DownPredictions, mc.HighConfPredictions,
		symbolPredictionsArg(mc.SymbolPredictions),
		createdAt, r.StartedAt, r.CompletedAt,
	}
}

// symbolPredictionsArg maps a nil map to SQL NULL rather than JSON null.
func symbolPredictionsArg(m map[string]int) interface{} {
	if m == nil {
		return nil
	}
	return m
}

// scanRun scans a single runs row. Works for both pgx.Row and pgx.Rows.
func scanRun(row pgx.Row) (*domain.Run, error) {
	var r domain.Run
	var status string
	var cadence int
	var mc metricColumns

	err := row.Scan(
		&r.RunID, &r.Config.Symbols, &r.Config.TestStart, &r.Config.HorizonDays,
		&cadence, &r.Config.FeatureSet, &r.Config.ConfidenceThreshold,
		&status, &r.ProgressPct, &r.CurrentDay, &r.ErrorMessage, &r.Attempt,
		&mc.OverallAccuracy, &mc.UpAccuracy, &mc.DownAccuracy, &mc.HighConfAccuracy,
		&mc.TotalReturn, &mc.FinalEquity, &mc.MaxDrawdown,
		&mc.TotalPredictions, &mc.CorrectPredictions, &mc.UpPredictions, &mc.DownPredictions, &mc.HighConfPredictions,
		&mc.SymbolPredictions,
		&r.CreatedAt, &r.StartedAt, &r.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Status = domain.RunStatus(status)
	r.Config.Cadence = domain.Cadence(cadence)
	r.Config.TestStart = domain.Day(r.Config.TestStart)
	r.Metrics = mc.toDomain()
	return &r, nil
}
