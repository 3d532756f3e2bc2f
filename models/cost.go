package models

import (
	"time"

	"github.com/google/uuid"
)

// CostRecord is one appended entry in the billable-call ledger.
type CostRecord struct {
	ID         uuid.UUID `json:"id"`
	Model      string    `json:"model"`
	Step       string    `json:"step"`
	CostUSD    float64   `json:"cost_usd"`
	TokensUsed *int      `json:"tokens_used,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// CostMetrics describes a single billable call for logging.
type CostMetrics struct {
	Model      string
	Step       string
	CostUSD    float64
	TokensUsed int
}
