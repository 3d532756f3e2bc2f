package repository

import (
	"context"
	"time"

	"billscope-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PipelineRunRepository handles database operations for pipeline runs
type PipelineRunRepository struct {
	db *pgxpool.Pool
}

// NewPipelineRunRepository creates a new pipeline run repository
func NewPipelineRunRepository(db *pgxpool.Pool) *PipelineRunRepository {
	return &PipelineRunRepository{db: db}
}

// Create persists a new run with status running
func (r *PipelineRunRepository) Create(ctx context.Context, run *models.PipelineRun) error {
	query := `
		INSERT INTO pipeline_runs (
			bill_id, jurisdiction, models, status
		) VALUES ($1, $2, $3, $4)
		RETURNING id, started_at`

	err := r.db.QueryRow(
		ctx, query,
		run.BillID,
		run.Jurisdiction,
		run.Models,
		run.Status,
	).Scan(&run.ID, &run.StartedAt)

	return err
}

// GetByID retrieves a pipeline run by ID
func (r *PipelineRunRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.PipelineRun, error) {
	run := &models.PipelineRun{}
	query := `
		SELECT id, bill_id, jurisdiction, models, status, result,
			error_message, started_at, completed_at
		FROM pipeline_runs
		WHERE id = $1`

	err := r.db.QueryRow(ctx, query, id).Scan(
		&run.ID,
		&run.BillID,
		&run.Jurisdiction,
		&run.Models,
		&run.Status,
		&run.Result,
		&run.ErrorMessage,
		&run.StartedAt,
		&run.CompletedAt,
	)

	if err != nil {
		return nil, err
	}

	return run, nil
}

// Complete marks a run completed with its final serialized analysis. This is
// the run's single terminal transition on the success path.
func (r *PipelineRunRepository) Complete(ctx context.Context, id uuid.UUID, result models.JSONMap) error {
	now := time.Now()
	query := `
		UPDATE pipeline_runs SET
			status = $2,
			result = $3,
			completed_at = $4
		WHERE id = $1 AND status = $5`

	_, err := r.db.Exec(ctx, query, id, models.RunStatusCompleted, result, now, models.RunStatusRunning)
	return err
}

// Fail marks a run failed with the stringified error. Terminal; a run
// already completed or failed is left untouched.
func (r *PipelineRunRepository) Fail(ctx context.Context, id uuid.UUID, errorMessage string) error {
	now := time.Now()
	query := `
		UPDATE pipeline_runs SET
			status = $2,
			error_message = $3,
			completed_at = $4
		WHERE id = $1 AND status = $5`

	_, err := r.db.Exec(ctx, query, id, models.RunStatusFailed, errorMessage, now, models.RunStatusRunning)
	return err
}
