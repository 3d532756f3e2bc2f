package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"billscope-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ImpactRepository handles database operations for analyzed impacts
type ImpactRepository struct {
	db *pgxpool.Pool
}

// NewImpactRepository creates a new impact repository
func NewImpactRepository(db *pgxpool.Pool) *ImpactRepository {
	return &ImpactRepository{db: db}
}

// ReplaceForRun stores the final impact list for a completed run,
// delete-then-insert in one transaction so readers never see a partial
// update.
func (r *ImpactRepository) ReplaceForRun(ctx context.Context, runID, billID uuid.UUID, impacts []models.Impact) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM impacts WHERE run_id = $1`, runID); err != nil {
		return fmt.Errorf("failed to clear prior impacts: %w", err)
	}

	insertSQL := `
		INSERT INTO impacts (
			run_id, bill_id, relevant_clause, interpretation, impact_description,
			evidence, causal_chain, confidence, cost_p10, cost_p25, cost_p50, cost_p75, cost_p90
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	for _, impact := range impacts {
		evidenceJSON, err := json.Marshal(impact.Evidence)
		if err != nil {
			return fmt.Errorf("failed to marshal evidence: %w", err)
		}
		if _, err := tx.Exec(ctx, insertSQL,
			runID,
			billID,
			impact.RelevantClause,
			impact.Interpretation,
			impact.ImpactDescription,
			evidenceJSON,
			impact.CausalChain,
			impact.Confidence,
			impact.CostDistribution.P10,
			impact.CostDistribution.P25,
			impact.CostDistribution.P50,
			impact.CostDistribution.P75,
			impact.CostDistribution.P90,
		); err != nil {
			return fmt.Errorf("failed to insert impact: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// GetByBillID retrieves impacts for a bill across its most recent run.
func (r *ImpactRepository) GetByBillID(ctx context.Context, billID uuid.UUID) ([]models.Impact, error) {
	query := `
		SELECT id, relevant_clause, interpretation, impact_description,
			evidence, causal_chain, confidence,
			cost_p10, cost_p25, cost_p50, cost_p75, cost_p90
		FROM impacts
		WHERE bill_id = $1
		ORDER BY cost_p50 DESC`

	rows, err := r.db.Query(ctx, query, billID)
	if err != nil {
		return nil, fmt.Errorf("failed to query impacts: %w", err)
	}
	defer rows.Close()

	var impacts []models.Impact
	for rows.Next() {
		var impact models.Impact
		var evidenceJSON []byte
		err := rows.Scan(
			&impact.ID,
			&impact.RelevantClause,
			&impact.Interpretation,
			&impact.ImpactDescription,
			&evidenceJSON,
			&impact.CausalChain,
			&impact.Confidence,
			&impact.CostDistribution.P10,
			&impact.CostDistribution.P25,
			&impact.CostDistribution.P50,
			&impact.CostDistribution.P75,
			&impact.CostDistribution.P90,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan impact: %w", err)
		}
		if len(evidenceJSON) > 0 {
			if err := json.Unmarshal(evidenceJSON, &impact.Evidence); err != nil {
				return nil, fmt.Errorf("failed to unmarshal evidence: %w", err)
			}
		}
		impacts = append(impacts, impact)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating impacts: %w", err)
	}

	return impacts, nil
}
