package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"reflect"
	"strings"

	"billscope-backend/models"

	"github.com/go-playground/validator/v10"
)

// BudgetGuard is the cost ledger seen from the executor's side. CheckBudget
// runs before every billable attempt; LogCost appends after a success.
type BudgetGuard interface {
	CheckBudget(ctx context.Context) error
	LogCost(ctx context.Context, metrics models.CostMetrics) error
}

// FallbackResult reports which chain entry produced the accepted response.
type FallbackResult struct {
	Content    string
	Model      string
	Provider   string
	TokensUsed int
	CostUSD    float64
}

// Executor tries an ordered list of (model, provider) pairs until one
// returns a schema-valid response. Attempts are strictly sequential so a
// slow provider is never raced against a billable duplicate. The executor
// is step-agnostic: generation, review and health pings all go through the
// same path, parameterized only by model list and response shape.
type Executor struct {
	providers map[string]Provider
	budget    BudgetGuard
	validate  *validator.Validate
}

// ExecutorOption is a functional option for Executor
type ExecutorOption func(*Executor)

// WithProvider registers a provider client under its name.
func WithProvider(p Provider) ExecutorOption {
	return func(e *Executor) {
		e.providers[p.Name()] = p
	}
}

// WithBudgetGuard sets the cost ledger consulted before each attempt.
func WithBudgetGuard(b BudgetGuard) ExecutorOption {
	return func(e *Executor) {
		e.budget = b
	}
}

// NewExecutor creates a fallback executor.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		providers: make(map[string]Provider),
		validate:  validator.New(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CallWithFallback iterates the ordered model list and returns the first
// schema-valid response, decoded into out when out is non-nil. Entries whose
// provider has no configured client are skipped with a warning. A budget
// refusal aborts the whole chain - moving on to the next model would just be
// another billable call. If every entry fails, the last error is wrapped in
// *AllModelsFailedError.
func (e *Executor) CallWithFallback(
	ctx context.Context,
	refs []models.ModelRef,
	step string,
	system string,
	user string,
	out interface{},
) (*FallbackResult, error) {
	if len(refs) == 0 {
		return nil, errors.New("no models configured for fallback chain")
	}

	var lastErr error
	attempts := 0

	for _, ref := range refs {
		provider, ok := e.providers[ref.Provider]
		if !ok {
			log.Printf("Warning: no client configured for provider %s, skipping model %s", ref.Provider, ref.Model)
			continue
		}

		if e.budget != nil {
			if err := e.budget.CheckBudget(ctx); err != nil {
				return nil, err
			}
		}

		attempts++
		req := CompletionRequest{
			Model:       ref.Model,
			System:      system,
			User:        user,
			Temperature: 0.2,
		}
		if out != nil {
			req.ResponseSchema = out
		}

		result, err := provider.Complete(ctx, req)
		if err != nil {
			log.Printf("Warning: model %s (%s) failed for step %s: %v", ref.Model, ref.Provider, step, err)
			lastErr = err
			continue
		}

		if e.budget != nil {
			if err := e.budget.LogCost(ctx, models.CostMetrics{
				Model:      ref.Model,
				Step:       step,
				CostUSD:    result.CostUSD,
				TokensUsed: result.TokensUsed,
			}); err != nil {
				log.Printf("Warning: failed to log cost for model %s: %v", ref.Model, err)
			}
		}

		if out != nil {
			if err := decodeInto(e.validate, result.Content, out); err != nil {
				log.Printf("Warning: model %s (%s) returned schema-invalid output for step %s: %v", ref.Model, ref.Provider, step, err)
				lastErr = err
				continue
			}
		}

		return &FallbackResult{
			Content:    result.Content,
			Model:      ref.Model,
			Provider:   ref.Provider,
			TokensUsed: result.TokensUsed,
			CostUSD:    result.CostUSD,
		}, nil
	}

	if attempts == 0 && lastErr == nil {
		lastErr = errors.New("no provider client configured for any model in the chain")
	}
	return nil, &AllModelsFailedError{Attempts: attempts, LastErr: lastErr}
}

// decodeInto parses model output into a fresh value of out's type, validates
// struct tags, and only then copies into out. A failed attempt never leaves
// partial fields behind for the next fallback to merge into.
func decodeInto(validate *validator.Validate, content string, out interface{}) error {
	outVal := reflect.ValueOf(out)
	if outVal.Kind() != reflect.Ptr || outVal.IsNil() {
		return errors.New("response shape must be a non-nil pointer")
	}

	fresh := reflect.New(outVal.Elem().Type())
	if err := json.Unmarshal([]byte(stripJSONFences(content)), fresh.Interface()); err != nil {
		return fmt.Errorf("failed to parse structured output: %w", err)
	}

	if fresh.Elem().Kind() == reflect.Struct {
		if err := validate.Struct(fresh.Interface()); err != nil {
			return fmt.Errorf("structured output failed validation: %w", err)
		}
	}

	outVal.Elem().Set(fresh.Elem())
	return nil
}

// stripJSONFences removes a surrounding markdown code fence if the model
// wrapped its JSON in one.
func stripJSONFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
