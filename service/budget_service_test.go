package service

import (
	"context"
	"testing"
	"time"

	"billscope-backend/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryCostStore struct {
	records []models.CostRecord
}

func (s *memoryCostStore) Append(ctx context.Context, record *models.CostRecord) error {
	record.ID = uuid.New()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	s.records = append(s.records, *record)
	return nil
}

func (s *memoryCostStore) SumSince(ctx context.Context, since time.Time) (float64, error) {
	var total float64
	for _, r := range s.records {
		if !r.CreatedAt.Before(since) {
			total += r.CostUSD
		}
	}
	return total, nil
}

func TestBudgetExceededBlocksNextCall(t *testing.T) {
	store := &memoryCostStore{}
	budget := NewBudgetService(
		BudgetWithCostStore(store),
		BudgetWithDailyLimit(10.0),
	)

	ctx := context.Background()
	require.NoError(t, budget.LogCost(ctx, models.CostMetrics{Model: "m", Step: "generate", CostUSD: 9.50}))
	require.NoError(t, budget.CheckBudget(ctx))

	require.NoError(t, budget.LogCost(ctx, models.CostMetrics{Model: "m", Step: "generate", CostUSD: 0.51}))

	err := budget.CheckBudget(ctx)
	var exceeded *BudgetExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, "daily", exceeded.Scope)
	assert.InDelta(t, 10.01, exceeded.Spent, 1e-9)
}

func TestBudgetBoundaryIsInclusive(t *testing.T) {
	store := &memoryCostStore{}
	budget := NewBudgetService(
		BudgetWithCostStore(store),
		BudgetWithDailyLimit(10.0),
	)

	ctx := context.Background()
	// Spend exactly equal to the ceiling refuses the next call.
	require.NoError(t, budget.LogCost(ctx, models.CostMetrics{Model: "m", Step: "generate", CostUSD: 10.0}))

	var exceeded *BudgetExceededError
	require.ErrorAs(t, budget.CheckBudget(ctx), &exceeded)
}

func TestBudgetMonthlyCeiling(t *testing.T) {
	store := &memoryCostStore{}
	budget := NewBudgetService(
		BudgetWithCostStore(store),
		BudgetWithMonthlyLimit(100.0),
	)

	ctx := context.Background()
	require.NoError(t, budget.LogCost(ctx, models.CostMetrics{Model: "m", Step: "review", CostUSD: 100.0}))

	var exceeded *BudgetExceededError
	require.ErrorAs(t, budget.CheckBudget(ctx), &exceeded)
	assert.Equal(t, "monthly", exceeded.Scope)
}

func TestNoBudgetConfiguredIsPassThrough(t *testing.T) {
	store := &memoryCostStore{}
	budget := NewBudgetService(BudgetWithCostStore(store))

	ctx := context.Background()
	require.NoError(t, budget.LogCost(ctx, models.CostMetrics{Model: "m", Step: "generate", CostUSD: 5000.0}))
	require.NoError(t, budget.CheckBudget(ctx), "without ceilings the tracker never refuses")
	assert.Len(t, store.records, 1, "costs are still recorded for reporting")
}

func TestLogCostStillSucceedsPastCeiling(t *testing.T) {
	store := &memoryCostStore{}
	budget := NewBudgetService(
		BudgetWithCostStore(store),
		BudgetWithDailyLimit(1.0),
	)

	ctx := context.Background()
	// The log that crosses the ceiling must not itself fail: enforcement is
	// preventive, applied to the next call.
	require.NoError(t, budget.LogCost(ctx, models.CostMetrics{Model: "m", Step: "generate", CostUSD: 2.0}))
	assert.Len(t, store.records, 1)
}
