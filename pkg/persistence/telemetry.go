package persistence

import (
	"context"
	"fmt"
	"time"
)

// TelemetryRow is one archived completion call.
type TelemetryRow struct {
	RunID      string
	RecordedAt time.Time
	Role       string
	Model      string
	TokensIn   int
	TokensOut  int
	CostUSD    float64
	DurationMS int64
}

// AppendTelemetry archives rows in one transaction.
func (s *Store) AppendTelemetry(ctx context.Context, rows []TelemetryRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin telemetry insert: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO telemetry_records
		(run_id, recorded_at, role, model, tokens_in, tokens_out, cost_usd, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to prepare telemetry insert: %w", err)
	}
	defer stmt.Close()

	for i := range rows {
		r := &rows[i]
		if _, err := stmt.ExecContext(ctx, r.RunID, r.RecordedAt.UTC().Format(time.RFC3339Nano), r.Role, r.Model,
			r.TokensIn, r.TokensOut, r.CostUSD, r.DurationMS); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to insert telemetry row: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit telemetry: %w", err)
	}
	return nil
}

// TelemetryForRun returns archived rows for runID in insertion order.
func (s *Store) TelemetryForRun(ctx context.Context, runID string) ([]TelemetryRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id, recorded_at, role, model, tokens_in, tokens_out, cost_usd, duration_ms
		FROM telemetry_records WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query telemetry: %w", err)
	}
	defer rows.Close()

	var out []TelemetryRow
	for rows.Next() {
		var r TelemetryRow
		var recorded string
		if err := rows.Scan(&r.RunID, &recorded, &r.Role, &r.Model, &r.TokensIn, &r.TokensOut, &r.CostUSD, &r.DurationMS); err != nil {
			return nil, fmt.Errorf("failed to scan telemetry: %w", err)
		}
		r.RecordedAt, _ = time.Parse(time.RFC3339Nano, recorded)
		out = append(out, r)
	}
	return out, rows.Err()
}
