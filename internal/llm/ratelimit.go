package llm

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited throttles calls to an extractor shared by all workers.
type RateLimited struct {
	next    Extractor
	limiter *rate.Limiter
}

// NewRateLimited wraps next with a token bucket. rps <= 0 disables limiting.
func NewRateLimited(next Extractor, rps float64, burst int) Extractor {
	if rps <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (r *RateLimited) Extract(ctx context.Context, input ExtractInput) (Extraction, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return Extraction{}, err
	}
	return r.next.Extract(ctx, input)
}
