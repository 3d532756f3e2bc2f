package repository

import (
	"context"
	"fmt"
	"time"

	"billscope-backend/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CostRecordRepository is the append-only ledger of billable calls.
type CostRecordRepository struct {
	db *pgxpool.Pool
}

// NewCostRecordRepository creates a new cost record repository
func NewCostRecordRepository(db *pgxpool.Pool) *CostRecordRepository {
	return &CostRecordRepository{db: db}
}

// Append adds one record to the ledger. Records are never updated.
func (r *CostRecordRepository) Append(ctx context.Context, record *models.CostRecord) error {
	query := `
		INSERT INTO cost_records (model, step, cost_usd, tokens_used)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	err := r.db.QueryRow(
		ctx, query,
		record.Model,
		record.Step,
		record.CostUSD,
		record.TokensUsed,
	).Scan(&record.ID, &record.CreatedAt)

	return err
}

// SumSince aggregates total spend recorded at or after the given time.
func (r *CostRecordRepository) SumSince(ctx context.Context, since time.Time) (float64, error) {
	var total float64
	query := `
		SELECT COALESCE(SUM(cost_usd), 0)
		FROM cost_records
		WHERE created_at >= $1`

	if err := r.db.QueryRow(ctx, query, since).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to aggregate costs: %w", err)
	}
	return total, nil
}
