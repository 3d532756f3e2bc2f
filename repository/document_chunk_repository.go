package repository

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"strconv"
	"strings"

	"billscope-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DocumentChunkRepository is the vector store: accelerated similarity search
// over pgvector with a client-side cosine scan as the fallback path.
type DocumentChunkRepository struct {
	db *pgxpool.Pool
}

// NewDocumentChunkRepository creates a new document chunk repository
func NewDocumentChunkRepository(db *pgxpool.Pool) *DocumentChunkRepository {
	return &DocumentChunkRepository{db: db}
}

// formatVector formats an embedding vector as a string for pgx
func formatVector(embedding []float64) string {
	if len(embedding) == 0 {
		return "[]"
	}
	var parts []string
	for _, v := range embedding {
		parts = append(parts, strconv.FormatFloat(v, 'f', 6, 64))
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// parseVector parses pgvector's text form back into a float slice.
func parseVector(s string) ([]float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	vec := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid vector element %q: %w", p, err)
		}
		vec[i] = v
	}
	return vec, nil
}

// Upsert inserts chunks, overwriting content, embedding and metadata in
// place for ids that already exist. Returns the number of chunks written.
func (r *DocumentChunkRepository) Upsert(ctx context.Context, chunks []models.DocumentChunk) (int, error) {
	query := `
		INSERT INTO document_chunks (id, document_id, content, embedding, metadata)
		VALUES ($1, $2, $3, $4::vector, $5)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata`

	for _, chunk := range chunks {
		_, err := r.db.Exec(ctx, query,
			chunk.ID,
			chunk.DocumentID,
			chunk.Content,
			formatVector(chunk.Embedding),
			chunk.Metadata,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to upsert chunk %s: %w", chunk.ID, err)
		}
	}
	return len(chunks), nil
}

// StoreForScrape atomically replaces the chunks for a document and marks the
// owning scrape processed. Either everything lands or nothing does - a scrape
// is never flagged processed without its chunks.
func (r *DocumentChunkRepository) StoreForScrape(
	ctx context.Context,
	scrapeID uuid.UUID,
	documentID uuid.UUID,
	chunks []models.DocumentChunk,
	storageURI *string,
) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("failed to clear prior chunks: %w", err)
	}

	insertSQL := `
		INSERT INTO document_chunks (id, document_id, content, embedding, metadata)
		VALUES ($1, $2, $3, $4::vector, $5)`
	for _, chunk := range chunks {
		if _, err := tx.Exec(ctx, insertSQL,
			chunk.ID,
			chunk.DocumentID,
			chunk.Content,
			formatVector(chunk.Embedding),
			chunk.Metadata,
		); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", chunk.ID, err)
		}
	}

	markSQL := `
		UPDATE raw_scrapes SET
			processed = true,
			document_id = $2,
			storage_uri = COALESCE($3, storage_uri)
		WHERE id = $1`
	if _, err := tx.Exec(ctx, markSQL, scrapeID, documentID, storageURI); err != nil {
		return fmt.Errorf("failed to mark scrape processed: %w", err)
	}

	return tx.Commit(ctx)
}

// Search runs an accelerated nearest-neighbor query; if the index path is
// unavailable it falls back to a full scan ranked client-side. Both paths
// return results strictly descending by score.
func (r *DocumentChunkRepository) Search(
	ctx context.Context,
	queryEmbedding []float64,
	topK int,
	minScore *float64,
	filters models.JSONMap,
) ([]models.RetrievedChunk, error) {
	results, err := r.searchAccelerated(ctx, queryEmbedding, topK, minScore, filters)
	if err != nil {
		log.Printf("Warning: accelerated similarity search failed, falling back to client-side scan: %v", err)
		return r.searchClientSide(ctx, queryEmbedding, topK, minScore, filters)
	}
	return results, nil
}

// searchAccelerated uses the pgvector cosine-distance operator with an
// ORDER BY + LIMIT so the index can serve the query.
func (r *DocumentChunkRepository) searchAccelerated(
	ctx context.Context,
	queryEmbedding []float64,
	topK int,
	minScore *float64,
	filters models.JSONMap,
) ([]models.RetrievedChunk, error) {
	vectorStr := formatVector(queryEmbedding)

	conditions := []string{"TRUE"}
	args := []interface{}{vectorStr}
	if len(filters) > 0 {
		args = append(args, filters)
		conditions = append(conditions, fmt.Sprintf("metadata @> $%d", len(args)))
	}
	if minScore != nil {
		args = append(args, *minScore)
		conditions = append(conditions, fmt.Sprintf("1 - (embedding <=> $1::vector) >= $%d", len(args)))
	}
	args = append(args, topK)

	query := fmt.Sprintf(`
		SELECT
			id,
			document_id,
			content,
			metadata,
			1 - (embedding <=> $1::vector) AS score
		FROM document_chunks
		WHERE %s
		ORDER BY
			embedding <=> $1::vector
		LIMIT $%d`, strings.Join(conditions, " AND "), len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query document chunks: %w", err)
	}
	defer rows.Close()

	var results []models.RetrievedChunk
	for rows.Next() {
		var rc models.RetrievedChunk
		err := rows.Scan(
			&rc.Chunk.ID,
			&rc.Chunk.DocumentID,
			&rc.Chunk.Content,
			&rc.Chunk.Metadata,
			&rc.Score,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document chunk: %w", err)
		}
		results = append(results, rc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating document chunks: %w", err)
	}

	return results, nil
}

// searchClientSide fetches candidate rows and ranks them in process.
func (r *DocumentChunkRepository) searchClientSide(
	ctx context.Context,
	queryEmbedding []float64,
	topK int,
	minScore *float64,
	filters models.JSONMap,
) ([]models.RetrievedChunk, error) {
	conditions := "TRUE"
	args := []interface{}{}
	if len(filters) > 0 {
		args = append(args, filters)
		conditions = "metadata @> $1"
	}

	query := fmt.Sprintf(`
		SELECT id, document_id, content, embedding::text, metadata
		FROM document_chunks
		WHERE %s
		ORDER BY id`, conditions)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to scan document chunks table: %w", err)
	}
	defer rows.Close()

	var chunks []models.DocumentChunk
	for rows.Next() {
		var chunk models.DocumentChunk
		var embeddingText string
		if err := rows.Scan(&chunk.ID, &chunk.DocumentID, &chunk.Content, &embeddingText, &chunk.Metadata); err != nil {
			return nil, fmt.Errorf("failed to scan document chunk: %w", err)
		}
		chunk.Embedding, err = parseVector(embeddingText)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating document chunks: %w", err)
	}

	return rankByCosine(queryEmbedding, chunks, topK, minScore), nil
}

// cosineSimilarity computes dot(a,b) / (|a| * |b|), defined as 0 when either
// norm is 0 or the dimensions disagree.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// rankByCosine scores chunks against the query vector, sorts strictly
// descending (ties keep insertion order), applies minScore as an inclusive
// floor, and truncates to topK.
func rankByCosine(queryEmbedding []float64, chunks []models.DocumentChunk, topK int, minScore *float64) []models.RetrievedChunk {
	scored := make([]models.RetrievedChunk, 0, len(chunks))
	for _, chunk := range chunks {
		score := cosineSimilarity(queryEmbedding, chunk.Embedding)
		if minScore != nil && score < *minScore {
			continue
		}
		scored = append(scored, models.RetrievedChunk{Chunk: chunk, Score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored
}
