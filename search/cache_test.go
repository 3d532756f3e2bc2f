package search

import (
	"context"
	"testing"
	"time"

	"billscope-backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingClient struct {
	calls   int
	results []models.SearchResult
	err     error
}

func (c *countingClient) Search(ctx context.Context, q SearchQuery) ([]models.SearchResult, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.results, nil
}

type memoryStore struct {
	entries map[string]models.CacheEntry
	gets    int
	puts    int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{entries: make(map[string]models.CacheEntry)}
}

func (s *memoryStore) Get(ctx context.Context, key string) (*models.CacheEntry, error) {
	s.gets++
	entry, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (s *memoryStore) Put(ctx context.Context, entry models.CacheEntry) error {
	s.puts++
	s.entries[entry.Key] = entry
	return nil
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func testQuery() SearchQuery {
	return SearchQuery{Query: "HB 1234 cost of living impact", Count: 5}
}

func TestCacheMemoryHitWithinTTL(t *testing.T) {
	provider := &countingClient{results: []models.SearchResult{{Title: "a", URL: "https://x"}}}
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	cache := NewCachedClient(provider, WithClock(clock.Now))

	ctx := context.Background()
	first, err := cache.Search(ctx, testQuery())
	require.NoError(t, err)

	clock.Advance(30 * time.Minute)
	second, err := cache.Search(ctx, testQuery())
	require.NoError(t, err)

	assert.Equal(t, 1, provider.calls, "two calls within memory TTL must issue at most one provider call")
	assert.Equal(t, first, second)
}

func TestCachePersistentHitRefreshesMemory(t *testing.T) {
	provider := &countingClient{results: []models.SearchResult{{Title: "a", URL: "https://x"}}}
	store := newMemoryStore()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	cache := NewCachedClient(provider, WithPersistentStore(store), WithClock(clock.Now))

	ctx := context.Background()
	_, err := cache.Search(ctx, testQuery())
	require.NoError(t, err)
	require.Equal(t, 1, provider.calls)
	require.Equal(t, 1, store.puts)

	// Past the memory TTL but well within the persistent TTL: the provider
	// must not be called and the memory tier must be repopulated.
	clock.Advance(2 * time.Hour)
	_, err = cache.Search(ctx, testQuery())
	require.NoError(t, err)
	assert.Equal(t, 1, provider.calls)
	assert.Equal(t, 1, store.gets)

	key, err := CacheKey(testQuery())
	require.NoError(t, err)
	cache.mu.RLock()
	_, ok := cache.memory[key]
	cache.mu.RUnlock()
	assert.True(t, ok, "persistent hit must repopulate the memory tier")
}

func TestCacheExpiryIsStrict(t *testing.T) {
	provider := &countingClient{results: []models.SearchResult{{Title: "a", URL: "https://x"}}}
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	cache := NewCachedClient(provider, WithClock(clock.Now))

	ctx := context.Background()
	_, err := cache.Search(ctx, testQuery())
	require.NoError(t, err)

	// Age exactly equal to the TTL is a miss, not a hit.
	clock.Advance(DefaultMemoryTTL)
	_, err = cache.Search(ctx, testQuery())
	require.NoError(t, err)
	assert.Equal(t, 2, provider.calls)
}

func TestCacheDoesNotCacheErrors(t *testing.T) {
	provider := &countingClient{err: &RateLimitError{Provider: "brave"}}
	store := newMemoryStore()
	cache := NewCachedClient(provider, WithPersistentStore(store))

	ctx := context.Background()
	_, err := cache.Search(ctx, testQuery())
	var rateLimited *RateLimitError
	require.ErrorAs(t, err, &rateLimited)

	_, err = cache.Search(ctx, testQuery())
	require.Error(t, err)
	assert.Equal(t, 2, provider.calls, "failures must not be cached")
	assert.Equal(t, 0, store.puts)
}

func TestCacheKeyDeterministicAndNormalized(t *testing.T) {
	a := SearchQuery{Query: "q", Count: 3, Domains: []string{"b.gov", "a.gov"}, Recency: "month"}
	b := SearchQuery{Query: "q", Count: 3, Domains: []string{"a.gov", "b.gov"}, Recency: "month"}

	keyA, err := CacheKey(a)
	require.NoError(t, err)
	keyB, err := CacheKey(b)
	require.NoError(t, err)
	assert.Equal(t, keyA, keyB, "domain order must not change the key")

	c := SearchQuery{Query: "q", Count: 4, Domains: []string{"a.gov", "b.gov"}, Recency: "month"}
	keyC, err := CacheKey(c)
	require.NoError(t, err)
	assert.NotEqual(t, keyA, keyC, "any parameter change must change the key")
}
