package llm

import (
	"context"
	"strings"
)

// CompletionRequest is one structured-output completion call. When
// ResponseSchema is non-nil the provider must constrain the model to emit
// JSON parseable into that shape.
type CompletionRequest struct {
	Model          string
	System         string
	User           string
	Temperature    float64
	ResponseSchema interface{}
}

// CompletionResult carries the raw model output plus billing metadata.
type CompletionResult struct {
	Content    string
	TokensUsed int
	CostUSD    float64
}

// Provider is a single LLM backend. Adapters must return distinguishable
// errors for auth failures (*AuthError) and rate limiting (*RateLimitError);
// anything else is treated as transient.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error)
}

// pricePerThousandTokens maps model name prefixes to a blended USD rate.
// Unknown models fall back to a conservative default.
var pricePerThousandTokens = map[string]float64{
	"gemini-2.5-pro":    0.00625,
	"gemini-2.5-flash":  0.001,
	"gpt-4o":            0.0075,
	"gpt-4o-mini":       0.000375,
	"claude-sonnet-4-5": 0.009,
	"claude-haiku-4-5":  0.003,
}

const defaultPricePerThousand = 0.005

// estimateCost computes the USD cost of a call from its token count.
func estimateCost(model string, tokens int) float64 {
	rate := defaultPricePerThousand
	for prefix, r := range pricePerThousandTokens {
		if strings.HasPrefix(model, prefix) {
			rate = r
			break
		}
	}
	return float64(tokens) / 1000.0 * rate
}
