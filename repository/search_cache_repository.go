package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"billscope-backend/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SearchCacheRepository is the persistent tier of the search cache. It
// implements search.CacheStore.
type SearchCacheRepository struct {
	db *pgxpool.Pool
}

// NewSearchCacheRepository creates a new search cache repository
func NewSearchCacheRepository(db *pgxpool.Pool) *SearchCacheRepository {
	return &SearchCacheRepository{db: db}
}

// Get retrieves a cache entry by key. Returns (nil, nil) on a miss; TTL
// enforcement is the caller's job.
func (r *SearchCacheRepository) Get(ctx context.Context, key string) (*models.CacheEntry, error) {
	entry := &models.CacheEntry{Key: key}
	var valueJSON []byte
	query := `SELECT value, cached_at FROM search_cache WHERE key = $1`

	err := r.db.QueryRow(ctx, query, key).Scan(&valueJSON, &entry.CachedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cache entry: %w", err)
	}

	if err := json.Unmarshal(valueJSON, &entry.Value); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}
	return entry, nil
}

// Put writes a cache entry, overwriting any prior value for the key. A
// cache-miss race between concurrent writers is last-writer-wins.
func (r *SearchCacheRepository) Put(ctx context.Context, entry models.CacheEntry) error {
	valueJSON, err := json.Marshal(entry.Value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	query := `
		INSERT INTO search_cache (key, value, cached_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			cached_at = EXCLUDED.cached_at`

	_, err = r.db.Exec(ctx, query, entry.Key, valueJSON, entry.CachedAt)
	return err
}
