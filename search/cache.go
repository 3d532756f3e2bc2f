package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	"billscope-backend/models"
)

const (
	// DefaultMemoryTTL is the in-process tier freshness window.
	DefaultMemoryTTL = time.Hour
	// DefaultPersistentTTL is the persistent tier freshness window.
	DefaultPersistentTTL = 24 * time.Hour
)

// CacheStore is the persistent cache tier. Get returns (nil, nil) on a miss.
type CacheStore interface {
	Get(ctx context.Context, key string) (*models.CacheEntry, error)
	Put(ctx context.Context, entry models.CacheEntry) error
}

// CachedClient wraps a search provider with a two-tier cache: an in-process
// map with a short TTL and a persistent store with a long one. Entries are
// immutable once written, so a cache-miss race between concurrent runs is
// last-writer-wins and harmless. Provider errors propagate unmodified and
// are never cached.
type CachedClient struct {
	provider      Client
	store         CacheStore
	memoryTTL     time.Duration
	persistentTTL time.Duration
	now           func() time.Time

	mu     sync.RWMutex
	memory map[string]models.CacheEntry
}

// CachedClientOption is a functional option for CachedClient
type CachedClientOption func(*CachedClient)

// WithPersistentStore sets the persistent cache tier.
func WithPersistentStore(store CacheStore) CachedClientOption {
	return func(c *CachedClient) {
		c.store = store
	}
}

// WithMemoryTTL overrides the in-process tier TTL.
func WithMemoryTTL(ttl time.Duration) CachedClientOption {
	return func(c *CachedClient) {
		c.memoryTTL = ttl
	}
}

// WithPersistentTTL overrides the persistent tier TTL.
func WithPersistentTTL(ttl time.Duration) CachedClientOption {
	return func(c *CachedClient) {
		c.persistentTTL = ttl
	}
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) CachedClientOption {
	return func(c *CachedClient) {
		c.now = now
	}
}

// NewCachedClient creates a caching wrapper around a search provider.
func NewCachedClient(provider Client, opts ...CachedClientOption) *CachedClient {
	c := &CachedClient{
		provider:      provider,
		memoryTTL:     DefaultMemoryTTL,
		persistentTTL: DefaultPersistentTTL,
		now:           time.Now,
		memory:        make(map[string]models.CacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Search returns cached results when a tier holds a fresh entry, otherwise
// calls the provider and writes the result to both tiers. Freshness is a
// strict less-than: an entry exactly at its TTL boundary is a miss.
func (c *CachedClient) Search(ctx context.Context, q SearchQuery) ([]models.SearchResult, error) {
	key, err := CacheKey(q)
	if err != nil {
		return nil, err
	}
	now := c.now()

	c.mu.RLock()
	entry, ok := c.memory[key]
	c.mu.RUnlock()
	if ok && now.Sub(entry.CachedAt) < c.memoryTTL {
		return entry.Value, nil
	}

	if c.store != nil {
		stored, err := c.store.Get(ctx, key)
		if err != nil {
			log.Printf("Warning: persistent cache lookup failed for key %s: %v", key, err)
		} else if stored != nil && now.Sub(stored.CachedAt) < c.persistentTTL {
			// Refresh the memory tier, keeping the original timestamp so the
			// memory TTL never extends an entry's life beyond its write time.
			c.mu.Lock()
			c.memory[key] = *stored
			c.mu.Unlock()
			return stored.Value, nil
		}
	}

	results, err := c.provider.Search(ctx, q)
	if err != nil {
		return nil, err
	}

	fresh := models.CacheEntry{Key: key, Value: results, CachedAt: now}
	c.mu.Lock()
	c.memory[key] = fresh
	c.mu.Unlock()
	if c.store != nil {
		if err := c.store.Put(ctx, fresh); err != nil {
			log.Printf("Warning: failed to write persistent cache entry %s: %v", key, err)
		}
	}

	return results, nil
}

// cacheKeyPayload pins the canonical field order for hashing.
type cacheKeyPayload struct {
	Query   string   `json:"query"`
	Count   int      `json:"count"`
	Domains []string `json:"domains"`
	Recency string   `json:"recency"`
}

// CacheKey derives the deterministic cache key for a query: a sha256 hex
// digest of the canonical JSON of its normalized parameters.
func CacheKey(q SearchQuery) (string, error) {
	domains := make([]string, len(q.Domains))
	copy(domains, q.Domains)
	sort.Strings(domains)

	payload := cacheKeyPayload{
		Query:   q.Query,
		Count:   q.Count,
		Domains: domains,
		Recency: q.Recency,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
