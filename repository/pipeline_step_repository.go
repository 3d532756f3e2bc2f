package repository

import (
	"context"
	"fmt"

	"billscope-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PipelineStepRepository handles database operations for pipeline steps
type PipelineStepRepository struct {
	db *pgxpool.Pool
}

// NewPipelineStepRepository creates a new pipeline step repository
func NewPipelineStepRepository(db *pgxpool.Pool) *PipelineStepRepository {
	return &PipelineStepRepository{db: db}
}

// Upsert records a step, overwriting any prior record for the same
// (run_id, step_number). A retried step replaces its own audit record, not
// the run's.
func (r *PipelineStepRepository) Upsert(ctx context.Context, step *models.PipelineStep) error {
	query := `
		INSERT INTO pipeline_steps (
			run_id, step_number, step_name, status,
			input_context, output_result, model_info, duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (run_id, step_number) DO UPDATE SET
			step_name = EXCLUDED.step_name,
			status = EXCLUDED.status,
			input_context = EXCLUDED.input_context,
			output_result = EXCLUDED.output_result,
			model_info = EXCLUDED.model_info,
			duration_ms = EXCLUDED.duration_ms
		RETURNING id, created_at`

	err := r.db.QueryRow(
		ctx, query,
		step.RunID,
		step.StepNumber,
		step.StepName,
		step.Status,
		step.InputContext,
		step.OutputResult,
		step.ModelInfo,
		step.DurationMS,
	).Scan(&step.ID, &step.CreatedAt)

	return err
}

// GetByRunID retrieves all steps for a run in step order.
func (r *PipelineStepRepository) GetByRunID(ctx context.Context, runID uuid.UUID) ([]models.PipelineStep, error) {
	query := `
		SELECT id, run_id, step_number, step_name, status,
			input_context, output_result, model_info, duration_ms, created_at
		FROM pipeline_steps
		WHERE run_id = $1
		ORDER BY step_number ASC`

	rows, err := r.db.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pipeline steps: %w", err)
	}
	defer rows.Close()

	var steps []models.PipelineStep
	for rows.Next() {
		var step models.PipelineStep
		err := rows.Scan(
			&step.ID,
			&step.RunID,
			&step.StepNumber,
			&step.StepName,
			&step.Status,
			&step.InputContext,
			&step.OutputResult,
			&step.ModelInfo,
			&step.DurationMS,
			&step.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pipeline step: %w", err)
		}
		steps = append(steps, step)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pipeline steps: %w", err)
	}

	return steps, nil
}
