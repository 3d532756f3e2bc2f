package repository

import (
	"context"
	"errors"
	"fmt"

	"billscope-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RawScrapeRepository handles database operations for raw scrapes
type RawScrapeRepository struct {
	db *pgxpool.Pool
}

// NewRawScrapeRepository creates a new raw scrape repository
func NewRawScrapeRepository(db *pgxpool.Pool) *RawScrapeRepository {
	return &RawScrapeRepository{db: db}
}

// Create creates a new raw scrape
func (r *RawScrapeRepository) Create(ctx context.Context, scrape *models.RawScrape) error {
	query := `
		INSERT INTO raw_scrapes (
			source_id, url, content_hash, content_type, data, processed
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	err := r.db.QueryRow(
		ctx, query,
		scrape.SourceID,
		scrape.URL,
		scrape.ContentHash,
		scrape.ContentType,
		scrape.Data,
		scrape.Processed,
	).Scan(&scrape.ID, &scrape.CreatedAt)

	return err
}

// GetByID retrieves a raw scrape by ID. Returns (nil, nil) when no scrape
// exists, so callers can treat an absent scrape as an idempotent no-op.
func (r *RawScrapeRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.RawScrape, error) {
	scrape := &models.RawScrape{}
	query := `
		SELECT id, source_id, url, content_hash, content_type, data,
			processed, document_id, storage_uri, created_at
		FROM raw_scrapes
		WHERE id = $1`

	err := r.db.QueryRow(ctx, query, id).Scan(
		&scrape.ID,
		&scrape.SourceID,
		&scrape.URL,
		&scrape.ContentHash,
		&scrape.ContentType,
		&scrape.Data,
		&scrape.Processed,
		&scrape.DocumentID,
		&scrape.StorageURI,
		&scrape.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load raw scrape: %w", err)
	}

	return scrape, nil
}

// ListUnprocessed retrieves up to limit scrapes awaiting ingestion, oldest
// first.
func (r *RawScrapeRepository) ListUnprocessed(ctx context.Context, limit int) ([]models.RawScrape, error) {
	query := `
		SELECT id, source_id, url, content_hash, content_type, data,
			processed, document_id, storage_uri, created_at
		FROM raw_scrapes
		WHERE processed = false
		ORDER BY created_at ASC
		LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unprocessed scrapes: %w", err)
	}
	defer rows.Close()

	var scrapes []models.RawScrape
	for rows.Next() {
		var scrape models.RawScrape
		err := rows.Scan(
			&scrape.ID,
			&scrape.SourceID,
			&scrape.URL,
			&scrape.ContentHash,
			&scrape.ContentType,
			&scrape.Data,
			&scrape.Processed,
			&scrape.DocumentID,
			&scrape.StorageURI,
			&scrape.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan raw scrape: %w", err)
		}
		scrapes = append(scrapes, scrape)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating raw scrapes: %w", err)
	}

	return scrapes, nil
}
