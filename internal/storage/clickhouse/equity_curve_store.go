package clickhouse

import (
	"context"
	"fmt"
	"time"

	"walkforward-lab/internal/domain"
	"walkforward-lab/internal/storage"
)

// EquityCurveStore implements storage.EquityCurveStore using ClickHouse.
type EquityCurveStore struct {
	conn *Conn
}

// NewEquityCurveStore creates a new EquityCurveStore.
func NewEquityCurveStore(conn *Conn) *EquityCurveStore {
	return &EquityCurveStore{conn: conn}
}

// Compile-time interface check.
var _ storage.EquityCurveStore = (*EquityCurveStore)(nil)

// UpsertBulk writes points idempotently on (run_id, trade_date).
func (s *EquityCurveStore) UpsertBulk(ctx context.Context, points []*domain.EquityCurvePoint) error {
	if len(points) == 0 {
		return nil
	}
	for _, p := range points {
		if p == nil || p.RunID == "" || p.TradeDate.IsZero() {
			return storage.ErrInvalidInput
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO equity_curve (
			run_id, trade_date, day_number, equity_value, day_return,
			cumulative_return, rolling_accuracy, trade_count, inserted_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	now := time.Now().UTC()
	for _, p := range points {
		err = batch.Append(
			p.RunID, domain.Day(p.TradeDate), uint32(p.DayNumber), p.EquityValue, p.DayReturn,
			p.CumulativeReturn, p.RollingAccuracy, uint32(p.TradeCount), now,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByRun retrieves the curve of a run, ordered by day_number ASC.
func (s *EquityCurveStore) GetByRun(ctx context.Context, runID string) ([]*domain.EquityCurvePoint, error) {
	query := `
		SELECT run_id, trade_date, day_number, equity_value, day_return,
			cumulative_return, rolling_accuracy, trade_count
		FROM equity_curve FINAL
		WHERE run_id = ?
		ORDER BY day_number ASC
	`

	rows, err := s.conn.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("query equity curve: %w", err)
	}
	defer rows.Close()

	return scanEquityCurve(rows)
}

// scanEquityCurve scans multiple rows.
func scanEquityCurve(rows chRows) ([]*domain.EquityCurvePoint, error) {
	var points []*domain.EquityCurvePoint

	for rows.Next() {
		var p domain.EquityCurvePoint
		var dayNumber, tradeCount uint32

		err := rows.Scan(
			&p.RunID, &p.TradeDate, &dayNumber, &p.EquityValue, &p.DayReturn,
			&p.CumulativeReturn, &p.RollingAccuracy, &tradeCount,
		)
		if err != nil {
			return nil, fmt.Errorf("scan equity curve row: %w", err)
		}

		p.TradeDate = domain.Day(p.TradeDate)
		p.DayNumber = int(dayNumber)
		p.TradeCount = int(tradeCount)
		points = append(points, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate equity curve rows: %w", err)
	}

	return points, nil
}
