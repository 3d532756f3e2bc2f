package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	anthropicMessagesURL = "https://api.anthropic.com/v1/messages"
	anthropicVersion     = "2023-06-01"
	anthropicMaxTokens   = 8192
)

// AnthropicProvider calls the Anthropic messages API directly over HTTP.
type AnthropicProvider struct {
	apiKey     string
	httpClient *http.Client
}

// NewAnthropicProvider creates an Anthropic provider from an API key.
func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	return &AnthropicProvider{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

// Name returns the provider identifier used in fallback chains.
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

type anthropicRequest struct {
	Model       string `json:"model"`
	MaxTokens   int    `json:"max_tokens"`
	System      string `json:"system,omitempty"`
	Temperature float64 `json:"temperature"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error struct {
		Message string `json:"message,omitempty"`
	} `json:"error,omitempty"`
}

// Complete runs one completion against the Anthropic API. Anthropic has no
// server-side JSON mode, so schema conformance is enforced by the executor's
// parse-and-validate step; the prompt instructs JSON-only output.
func (p *AnthropicProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	if p.apiKey == "" {
		return nil, &AuthError{Provider: p.Name(), Status: http.StatusUnauthorized}
	}

	user := req.User
	if req.ResponseSchema != nil {
		user += "\n\nRespond with a single JSON object only. No prose, no markdown fences."
	}

	body := anthropicRequest{
		Model:       req.Model,
		MaxTokens:   anthropicMaxTokens,
		System:      req.System,
		Temperature: req.Temperature,
	}
	body.Messages = append(body.Messages, struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}{Role: "user", Content: user})

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", anthropicMessagesURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, &AuthError{Provider: p.Name(), Status: resp.StatusCode}
	case http.StatusTooManyRequests:
		return nil, &RateLimitError{Provider: p.Name()}
	default:
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("anthropic API error: %d - %s", resp.StatusCode, string(bodyBytes))
	}

	var apiResp anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if apiResp.Error.Message != "" {
		return nil, fmt.Errorf("anthropic API error: %s", apiResp.Error.Message)
	}

	var builder bytes.Buffer
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			builder.WriteString(block.Text)
		}
	}
	content := builder.String()
	if content == "" {
		return nil, fmt.Errorf("anthropic returned empty content for model %s", req.Model)
	}

	tokens := apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens
	return &CompletionResult{
		Content:    content,
		TokensUsed: tokens,
		CostUSD:    estimateCost(req.Model, tokens),
	}, nil
}
