package repository

import (
	"context"

	"billscope-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LegislationRepository handles database operations for tracked bills
type LegislationRepository struct {
	db *pgxpool.Pool
}

// NewLegislationRepository creates a new legislation repository
func NewLegislationRepository(db *pgxpool.Pool) *LegislationRepository {
	return &LegislationRepository{db: db}
}

// Upsert creates or updates a bill keyed by (jurisdiction_id, bill_number),
// the natural key scrapers write against.
func (r *LegislationRepository) Upsert(ctx context.Context, bill *models.Legislation) error {
	query := `
		INSERT INTO legislation (
			jurisdiction_id, bill_number, title, full_text, analysis_status
		) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (jurisdiction_id, bill_number) DO UPDATE SET
			title = EXCLUDED.title,
			full_text = EXCLUDED.full_text,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRow(
		ctx, query,
		bill.JurisdictionID,
		bill.BillNumber,
		bill.Title,
		bill.FullText,
		bill.AnalysisStatus,
	).Scan(&bill.ID, &bill.CreatedAt, &bill.UpdatedAt)

	return err
}

// GetByID retrieves a bill by ID
func (r *LegislationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Legislation, error) {
	bill := &models.Legislation{}
	query := `
		SELECT id, jurisdiction_id, bill_number, title, full_text,
			analysis_status, created_at, updated_at
		FROM legislation
		WHERE id = $1`

	err := r.db.QueryRow(ctx, query, id).Scan(
		&bill.ID,
		&bill.JurisdictionID,
		&bill.BillNumber,
		&bill.Title,
		&bill.FullText,
		&bill.AnalysisStatus,
		&bill.CreatedAt,
		&bill.UpdatedAt,
	)

	if err != nil {
		return nil, err
	}

	return bill, nil
}

// UpdateAnalysisStatus flips a bill's analysis lifecycle status.
func (r *LegislationRepository) UpdateAnalysisStatus(ctx context.Context, id uuid.UUID, status models.AnalysisStatus) error {
	query := `
		UPDATE legislation SET
			analysis_status = $2,
			updated_at = NOW()
		WHERE id = $1`

	_, err := r.db.Exec(ctx, query, id, status)
	return err
}
