package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"mailsense/core/domain"
)

// CostAdapter implements out.CostRepository.
type CostAdapter struct {
	db    *sqlx.DB
	clock domain.Clock
}

func NewCostAdapter(db *sqlx.DB, clock domain.Clock) *CostAdapter {
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &CostAdapter{db: db, clock: clock}
}

func (a *CostAdapter) Record(ctx context.Context, e *domain.CostEvent) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = a.clock.Now()
	}
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO cost_events (user_id, operation, model_version, prompt_version, input_tokens_est, output_tokens_est, cost_usd_est, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.UserID, e.Operation, e.ModelVersion, e.PromptVersion,
		e.InputTokensEst, e.OutputTokensEst, e.CostUSDEst, e.DurationMS, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("record cost event: %w", err)
	}
	return nil
}

// SpendSince sums estimated spend across all users for the daily cap check.
func (a *CostAdapter) SpendSince(ctx context.Context, since time.Time) (float64, error) {
	var total float64
	err := a.db.GetContext(ctx, &total, `
		SELECT COALESCE(SUM(cost_usd_est), 0) FROM cost_events WHERE created_at >= ?`,
		since)
	if err != nil {
		return 0, fmt.Errorf("sum spend: %w", err)
	}
	return total, nil
}
