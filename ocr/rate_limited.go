package ocr

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitedProvider wraps a provider so that recognition calls do not
// exceed a fixed rate. Failed calls are returned as is.
type RateLimitedProvider struct {
	provider    Provider
	rateLimiter *rate.Limiter
}

// NewRateLimitedProvider creates a provider limited to requestsPerMinute.
// A non-positive rate disables limiting.
func NewRateLimitedProvider(provider Provider, requestsPerMinute float64) *RateLimitedProvider {
	var limiter *rate.Limiter
	if requestsPerMinute > 0 {
		// Convert requests per minute to requests per second
		limiter = rate.NewLimiter(rate.Limit(requestsPerMinute/60.0), 1)
	}
	return &RateLimitedProvider{
		provider:    provider,
		rateLimiter: limiter,
	}
}

// Recognize waits for the limiter and delegates to the wrapped provider.
func (r *RateLimitedProvider) Recognize(ctx context.Context, imageContent []byte) (*Recognition, error) {
	if r.rateLimiter != nil {
		if err := r.rateLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}
	return r.provider.Recognize(ctx, imageContent)
}
