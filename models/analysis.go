package models

import (
	"time"

	"github.com/google/uuid"
)

// CostDistribution is a five-point estimate of annual household cost impact
// in USD. Negative values mean savings.
type CostDistribution struct {
	P10 float64 `json:"p10"`
	P25 float64 `json:"p25"`
	P50 float64 `json:"p50"`
	P75 float64 `json:"p75"`
	P90 float64 `json:"p90"`
}

// Impact is one analyzed cost-of-living effect of a bill.
type Impact struct {
	ID                uuid.UUID        `json:"id,omitempty"`
	RelevantClause    string           `json:"relevant_clause" validate:"required"`
	Interpretation    string           `json:"interpretation" validate:"required"`
	ImpactDescription string           `json:"impact_description" validate:"required"`
	Evidence          []Evidence       `json:"evidence" validate:"required,min=1"`
	CausalChain       string           `json:"causal_chain" validate:"required"`
	Confidence        float64          `json:"confidence" validate:"gte=0,lte=1"`
	CostDistribution  CostDistribution `json:"cost_distribution"`
}

// LegislationAnalysisResponse is the structured output shape for the
// generate and refine stages. TotalImpactP50 is always recomputed as the
// sum of the impacts' p50 values - the model's own arithmetic is not
// trusted for the summary field.
type LegislationAnalysisResponse struct {
	BillNumber        string    `json:"bill_number" validate:"required"`
	Impacts           []Impact  `json:"impacts" validate:"dive"`
	TotalImpactP50    float64   `json:"total_impact_p50"`
	AnalysisTimestamp time.Time `json:"analysis_timestamp"`
	ModelUsed         string    `json:"model_used"`
}

// RecomputeTotal recalculates TotalImpactP50 from the stored impacts.
func (r *LegislationAnalysisResponse) RecomputeTotal() {
	var total float64
	for _, impact := range r.Impacts {
		total += impact.CostDistribution.P50
	}
	r.TotalImpactP50 = total
}

// ReviewCritique is the structured output shape for the review stage. It
// gates whether a draft analysis is final or must be refined.
type ReviewCritique struct {
	Passed         bool     `json:"passed"`
	Critique       string   `json:"critique"`
	MissingImpacts []string `json:"missing_impacts"`
	FactualErrors  []string `json:"factual_errors"`
}
