package models

import "time"

// SearchResult is a single hit from the web search provider.
type SearchResult struct {
	Title          string   `json:"title"`
	URL            string   `json:"url"`
	Snippet        string   `json:"snippet"`
	PublishedDate  *string  `json:"published_date,omitempty"`
	RelevanceScore *float64 `json:"relevance_score,omitempty"`
}

// CacheEntry is a cached search result list. Entries are immutable once
// written; freshness is judged against the owning tier's TTL.
type CacheEntry struct {
	Key      string         `json:"key"`
	Value    []SearchResult `json:"value"`
	CachedAt time.Time      `json:"cached_at"`
}
