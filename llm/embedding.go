package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"
)

const (
	embedContentURL      = "https://generativelanguage.googleapis.com/v1beta/models/gemini-embedding-001:embedContent"
	batchEmbedContentURL = "https://generativelanguage.googleapis.com/v1beta/models/gemini-embedding-001:batchEmbedContents"
	embeddingModel       = "models/gemini-embedding-001"
	embedMaxRetries      = 3
	embedInitialBackoff  = time.Second
	costPerEmbedding     = 0.00001
)

// EmbeddingService produces fixed-dimensionality vectors for document and
// query text. Dimensionality must match the vector store's column width.
type EmbeddingService interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float64, error)
	EmbedQuery(ctx context.Context, text string) ([]float64, error)
	Dimensions() int
}

// GeminiEmbedder calls the Gemini embedding API over HTTP with retry and
// exponential backoff.
type GeminiEmbedder struct {
	apiKey     string
	dimensions int
	httpClient *http.Client
}

// NewGeminiEmbedder creates an embedder producing vectors of the given
// dimensionality (1536 if zero).
func NewGeminiEmbedder(apiKey string, dimensions int) *GeminiEmbedder {
	if dimensions <= 0 {
		dimensions = 1536
	}
	return &GeminiEmbedder{
		apiKey:     apiKey,
		dimensions: dimensions,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Dimensions returns the configured vector width.
func (e *GeminiEmbedder) Dimensions() int {
	return e.dimensions
}

type embedContentInput struct {
	Parts []struct {
		Text string `json:"text"`
	} `json:"parts"`
}

type embedRequest struct {
	Model                string            `json:"model"`
	Content              embedContentInput `json:"content"`
	TaskType             string            `json:"task_type,omitempty"`
	OutputDimensionality int               `json:"output_dimensionality,omitempty"`
}

type embedResponse struct {
	Embedding struct {
		Values []float64 `json:"values"`
	} `json:"embedding"`
}

type batchEmbedRequest struct {
	Requests []embedRequest `json:"requests"`
}

type batchEmbedResponse struct {
	Embeddings []struct {
		Values []float64 `json:"values"`
	} `json:"embeddings"`
}

func (e *GeminiEmbedder) newEmbedRequest(text, taskType string) embedRequest {
	req := embedRequest{
		Model:                embeddingModel,
		TaskType:             taskType,
		OutputDimensionality: e.dimensions,
	}
	req.Content.Parts = []struct {
		Text string `json:"text"`
	}{{Text: text}}
	return req
}

// EmbedQuery embeds a single retrieval query.
func (e *GeminiEmbedder) EmbedQuery(ctx context.Context, text string) ([]float64, error) {
	reqBody := e.newEmbedRequest(text, "RETRIEVAL_QUERY")
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var apiResp embedResponse
	if err := e.post(ctx, embedContentURL, jsonData, &apiResp); err != nil {
		return nil, err
	}

	return normalize(apiResp.Embedding.Values), nil
}

// EmbedDocuments embeds a batch of document chunks in one call. Either the
// whole batch succeeds or an error is returned - no partial results.
func (e *GeminiEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	reqBody := batchEmbedRequest{Requests: make([]embedRequest, 0, len(texts))}
	for _, text := range texts {
		reqBody.Requests = append(reqBody.Requests, e.newEmbedRequest(text, "RETRIEVAL_DOCUMENT"))
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var apiResp batchEmbedResponse
	if err := e.post(ctx, batchEmbedContentURL, jsonData, &apiResp); err != nil {
		return nil, err
	}

	if len(apiResp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: requested %d, got %d", len(texts), len(apiResp.Embeddings))
	}

	embeddings := make([][]float64, len(texts))
	for i, emb := range apiResp.Embeddings {
		embeddings[i] = normalize(emb.Values)
	}
	return embeddings, nil
}

// post sends one embedding request with retry and exponential backoff.
// 400/401 responses are not retried.
func (e *GeminiEmbedder) post(ctx context.Context, url string, jsonData []byte, out interface{}) error {
	if e.apiKey == "" {
		return fmt.Errorf("embedding API key not set")
	}

	backoff := embedInitialBackoff
	for attempt := 0; attempt < embedMaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff)
			backoff *= 2
		}

		req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-goog-api-key", e.apiKey)

		resp, err := e.httpClient.Do(req)
		if err != nil {
			if attempt == embedMaxRetries-1 {
				return fmt.Errorf("failed to send request after %d attempts: %w", embedMaxRetries, err)
			}
			continue
		}

		if resp.StatusCode == http.StatusOK {
			err := json.NewDecoder(resp.Body).Decode(out)
			resp.Body.Close()
			if err != nil {
				if attempt == embedMaxRetries-1 {
					return fmt.Errorf("failed to decode response: %w", err)
				}
				continue
			}
			return nil
		}

		resp.Body.Close()

		if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("embedding API error: %d", resp.StatusCode)
		}
		if attempt == embedMaxRetries-1 {
			return fmt.Errorf("embedding API error after %d attempts: %d", embedMaxRetries, resp.StatusCode)
		}
	}

	return fmt.Errorf("embedding request failed")
}

// normalize scales a vector to unit length. Zero vectors pass through.
func normalize(embedding []float64) []float64 {
	norm := 0.0
	for _, v := range embedding {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range embedding {
			embedding[i] /= norm
		}
	}
	return embedding
}
