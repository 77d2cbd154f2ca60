package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimited delays calls so the wrapped gateway sees at most the
// configured request rate. Waiting honors ctx cancellation.
type RateLimited struct {
	next    Gateway
	limiter *rate.Limiter
}

// NewRateLimited wraps next with a token bucket of rps and burst.
func NewRateLimited(next Gateway, rps float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Invoke waits for a token, then calls the wrapped gateway.
func (g *RateLimited) Invoke(ctx context.Context, prompt string) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("llm: rate limit wait: %w", err)
	}
	return g.next.Invoke(ctx, prompt)
}
