package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"billscope-backend/models"
)

const braveSearchURL = "https://api.search.brave.com/res/v1/web/search"

// BraveClient calls the Brave web search API. One HTTP call per Search;
// retry policy belongs to the caller.
type BraveClient struct {
	apiKey     string
	httpClient *http.Client
}

// NewBraveClient creates a Brave search client from an API key.
func NewBraveClient(apiKey string) *BraveClient {
	return &BraveClient{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
			PageAge     string `json:"page_age,omitempty"`
		} `json:"results"`
	} `json:"web"`
}

// Search executes one web search against the Brave API.
func (c *BraveClient) Search(ctx context.Context, q SearchQuery) ([]models.SearchResult, error) {
	if c.apiKey == "" {
		return nil, &SearchError{Provider: "brave", Status: http.StatusUnauthorized, Message: "API key not set"}
	}

	params := url.Values{}
	params.Set("q", q.Query)
	if q.Count > 0 {
		params.Set("count", strconv.Itoa(q.Count))
	}
	if len(q.Domains) > 0 {
		params.Set("goggles_id", "site:"+strings.Join(q.Domains, ",site:"))
	}
	if q.Recency != "" {
		params.Set("freshness", braveFreshness(q.Recency))
	}

	req, err := http.NewRequestWithContext(ctx, "GET", braveSearchURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitError{Provider: "brave"}
	}
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, &SearchError{Provider: "brave", Status: resp.StatusCode, Message: string(bodyBytes)}
	}

	var apiResp braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	results := make([]models.SearchResult, 0, len(apiResp.Web.Results))
	for _, r := range apiResp.Web.Results {
		result := models.SearchResult{
			Title:   r.Title,
			URL:     r.URL,
			Snippet: r.Description,
		}
		if r.PageAge != "" {
			age := r.PageAge
			result.PublishedDate = &age
		}
		results = append(results, result)
	}

	return results, nil
}

// braveFreshness maps our recency names to Brave freshness codes.
func braveFreshness(recency string) string {
	switch recency {
	case "day":
		return "pd"
	case "week":
		return "pw"
	case "month":
		return "pm"
	case "year":
		return "py"
	default:
		return recency
	}
}
