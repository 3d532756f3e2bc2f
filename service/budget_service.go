package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"billscope-backend/models"
)

// CostStore is the append-only ledger the budget tracker writes to and
// aggregates from.
type CostStore interface {
	Append(ctx context.Context, record *models.CostRecord) error
	SumSince(ctx context.Context, since time.Time) (float64, error)
}

// BudgetExceededError is preventive: it is returned by CheckBudget before an
// expensive call is issued, never after.
type BudgetExceededError struct {
	Scope string // "daily" or "monthly"
	Limit float64
	Spent float64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("%s budget exceeded: spent $%.2f of $%.2f", e.Scope, e.Spent, e.Limit)
}

// DefaultAlertThreshold is the budget fraction at which a warning is logged.
const DefaultAlertThreshold = 0.8

// BudgetService records per-call cost and enforces daily/monthly ceilings.
// With no ceilings configured it is a pass-through that still records costs
// for reporting. Budget checks read a snapshot of the ledger; under high
// concurrency two runs may race past the ceiling together - enforcement is
// best effort, not transactional.
type BudgetService struct {
	store            CostStore
	dailyBudgetUSD   float64
	monthlyBudgetUSD float64
	alertThreshold   float64
	now              func() time.Time

	mu           sync.Mutex
	alertedDay   string
	alertedMonth string
}

// BudgetServiceOption is a functional option for BudgetService
type BudgetServiceOption func(*BudgetService)

// BudgetWithCostStore sets the cost ledger
func BudgetWithCostStore(store CostStore) BudgetServiceOption {
	return func(s *BudgetService) {
		s.store = store
	}
}

// BudgetWithDailyLimit sets the daily ceiling in USD (0 disables it)
func BudgetWithDailyLimit(usd float64) BudgetServiceOption {
	return func(s *BudgetService) {
		s.dailyBudgetUSD = usd
	}
}

// BudgetWithMonthlyLimit sets the monthly ceiling in USD (0 disables it)
func BudgetWithMonthlyLimit(usd float64) BudgetServiceOption {
	return func(s *BudgetService) {
		s.monthlyBudgetUSD = usd
	}
}

// BudgetWithAlertThreshold overrides the warning threshold fraction
func BudgetWithAlertThreshold(fraction float64) BudgetServiceOption {
	return func(s *BudgetService) {
		s.alertThreshold = fraction
	}
}

// BudgetWithClock injects a clock for tests
func BudgetWithClock(now func() time.Time) BudgetServiceOption {
	return func(s *BudgetService) {
		s.now = now
	}
}

// NewBudgetService creates a budget service
func NewBudgetService(opts ...BudgetServiceOption) *BudgetService {
	s := &BudgetService{
		alertThreshold: DefaultAlertThreshold,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LogCost appends a record to the ledger and then evaluates the budget,
// logging (not returning) a warning when the alert threshold or a ceiling is
// crossed. The enforcement itself happens on the next CheckBudget.
func (s *BudgetService) LogCost(ctx context.Context, metrics models.CostMetrics) error {
	if s.store == nil {
		return errors.New("cost store not set")
	}

	tokens := metrics.TokensUsed
	record := &models.CostRecord{
		Model:      metrics.Model,
		Step:       metrics.Step,
		CostUSD:    metrics.CostUSD,
		TokensUsed: &tokens,
	}
	if err := s.store.Append(ctx, record); err != nil {
		return fmt.Errorf("failed to append cost record: %w", err)
	}

	if err := s.evaluate(ctx, true); err != nil {
		log.Printf("Warning: %v - subsequent calls will be refused", err)
	}
	return nil
}

// CheckBudget returns *BudgetExceededError when today's or this month's
// cumulative spend equals or exceeds its ceiling. Callers run it before
// issuing an expensive call so the overage call never executes.
func (s *BudgetService) CheckBudget(ctx context.Context) error {
	return s.evaluate(ctx, false)
}

func (s *BudgetService) evaluate(ctx context.Context, alert bool) error {
	if s.store == nil || (s.dailyBudgetUSD <= 0 && s.monthlyBudgetUSD <= 0) {
		return nil
	}

	now := s.now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	if s.dailyBudgetUSD > 0 {
		spent, err := s.store.SumSince(ctx, dayStart)
		if err != nil {
			return fmt.Errorf("failed to compute daily spend: %w", err)
		}
		if spent >= s.dailyBudgetUSD {
			return &BudgetExceededError{Scope: "daily", Limit: s.dailyBudgetUSD, Spent: spent}
		}
		if alert && spent >= s.dailyBudgetUSD*s.alertThreshold {
			s.alertOnce("daily", dayStart.Format("2006-01-02"), spent, s.dailyBudgetUSD)
		}
	}

	if s.monthlyBudgetUSD > 0 {
		spent, err := s.store.SumSince(ctx, monthStart)
		if err != nil {
			return fmt.Errorf("failed to compute monthly spend: %w", err)
		}
		if spent >= s.monthlyBudgetUSD {
			return &BudgetExceededError{Scope: "monthly", Limit: s.monthlyBudgetUSD, Spent: spent}
		}
		if alert && spent >= s.monthlyBudgetUSD*s.alertThreshold {
			s.alertOnce("monthly", monthStart.Format("2006-01"), spent, s.monthlyBudgetUSD)
		}
	}

	return nil
}

// alertOnce logs the threshold warning at most once per period.
func (s *BudgetService) alertOnce(scope, period string, spent, limit float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch scope {
	case "daily":
		if s.alertedDay == period {
			return
		}
		s.alertedDay = period
	case "monthly":
		if s.alertedMonth == period {
			return
		}
		s.alertedMonth = period
	}
	log.Printf("Warning: %s spend $%.2f has crossed %.0f%% of the $%.2f budget", scope, spent, s.alertThreshold*100, limit)
}
