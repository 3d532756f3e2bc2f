// Package search provides the web search client and the two-tier cache
// that sits in front of it.
package search

import (
	"context"
	"fmt"

	"billscope-backend/models"
)

// SearchQuery is the full set of parameters that identify one search. The
// cache key is derived from every field, so two queries differing in any
// field never collide.
type SearchQuery struct {
	Query   string   `json:"query"`
	Count   int      `json:"count"`
	Domains []string `json:"domains,omitempty"`
	Recency string   `json:"recency,omitempty"` // "day", "week", "month", "year"
}

// Client executes web searches. Implementations must surface rate limiting
// as *RateLimitError and other provider failures as *SearchError; neither is
// retried or cached by the caching layer.
type Client interface {
	Search(ctx context.Context, q SearchQuery) ([]models.SearchResult, error)
}

// RateLimitError means the provider throttled the request. Transient;
// callers may retry with backoff. Never cached.
type RateLimitError struct {
	Provider string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: search rate limited", e.Provider)
}

// SearchError is a generic provider failure, carrying the underlying status.
type SearchError struct {
	Provider string
	Status   int
	Message  string
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("%s: search failed with status %d: %s", e.Provider, e.Status, e.Message)
}
