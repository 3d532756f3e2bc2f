package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GeminiProvider adapts the Gemini SDK to the Provider interface. Structured
// output uses the API's JSON response mode.
type GeminiProvider struct {
	client *genai.Client
}

// NewGeminiProvider creates a Gemini provider from an API key.
func NewGeminiProvider(ctx context.Context, apiKey string) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiProvider{client: client}, nil
}

// Name returns the provider identifier used in fallback chains.
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// Complete runs one completion against the Gemini API.
func (p *GeminiProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	model := p.client.GenerativeModel(req.Model)
	model.SetTemperature(float32(req.Temperature))
	if req.System != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.System)},
		}
	}
	if req.ResponseSchema != nil {
		model.ResponseMIMEType = "application/json"
	}

	resp, err := model.GenerateContent(ctx, genai.Text(req.User))
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) {
			switch apiErr.Code {
			case 401, 403:
				return nil, &AuthError{Provider: p.Name(), Status: apiErr.Code}
			case 429:
				return nil, &RateLimitError{Provider: p.Name()}
			}
		}
		return nil, fmt.Errorf("gemini generation failed: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("gemini returned no candidates for model %s", req.Model)
	}

	var builder strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			builder.WriteString(string(text))
		}
	}
	content := builder.String()
	if content == "" {
		return nil, fmt.Errorf("gemini returned empty content for model %s", req.Model)
	}

	tokens := 0
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}

	return &CompletionResult{
		Content:    content,
		TokensUsed: tokens,
		CostUSD:    estimateCost(req.Model, tokens),
	}, nil
}
