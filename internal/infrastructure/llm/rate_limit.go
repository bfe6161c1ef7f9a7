package llm

import (
	"context"
	"fmt"

	"github.com/reviewd/backend/internal/core/ports"
	"golang.org/x/time/rate"
)

// rateLimitedClient shares one token bucket across every agent call of the
// process so bursts of units do not trip the backend's own limits.
type rateLimitedClient struct {
	base    ports.LLMClient
	limiter *rate.Limiter
}

// WrapWithRateLimit returns client unchanged when limit is not positive.
// A burst below 1 is coerced to 1.
func WrapWithRateLimit(client ports.LLMClient, limit rate.Limit, burst int) ports.LLMClient {
	if limit <= 0 {
		return client
	}
	if burst < 1 {
		burst = 1
	}
	return &rateLimitedClient{base: client, limiter: rate.NewLimiter(limit, burst)}
}

func (c *rateLimitedClient) Complete(ctx context.Context, system, prompt string) (string, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", 0, fmt.Errorf("waiting for agent rate limit: %w", err)
	}
	return c.base.Complete(ctx, system, prompt)
}
