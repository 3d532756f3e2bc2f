package llm

import "fmt"

// AuthError means the provider rejected our credentials. Not retryable and
// not worth trying again within the same fallback chain for this provider.
type AuthError struct {
	Provider string
	Status   int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication failed (status %d)", e.Provider, e.Status)
}

// RateLimitError means the provider throttled us. Transient; the caller may
// retry with backoff.
type RateLimitError struct {
	Provider string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: rate limited", e.Provider)
}

// AllModelsFailedError is raised when every entry in a fallback chain has
// been attempted without producing a schema-valid response. It wraps the
// last underlying failure.
type AllModelsFailedError struct {
	Attempts int
	LastErr  error
}

func (e *AllModelsFailedError) Error() string {
	return fmt.Sprintf("all %d models failed, last error: %v", e.Attempts, e.LastErr)
}

func (e *AllModelsFailedError) Unwrap() error {
	return e.LastErr
}
