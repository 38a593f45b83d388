package adapters

import (
	"context"
	"sync"

	ports "github.com/ZanzyTHEbar/intentguard/intentguard/generation/harness/ports"
	"golang.org/x/time/rate"
)

// RateLimiter is a token bucket per key. Acquire waits for a token instead of failing.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewRateLimiter allows rps sustained calls per key with bursts of burst.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(rps),
		burst:    burst,
	}
}

func (r *RateLimiter) limiter(key string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.limiters[key]
	if !ok {
		l = rate.NewLimiter(r.limit, r.burst)
		r.limiters[key] = l
	}
	return l
}

// Acquire blocks until a token for key is available or ctx is done. Tokens are not
// returned, so release is a no-op.
func (r *RateLimiter) Acquire(ctx context.Context, key string) (release func(), err error) {
	if err := r.limiter(key).Wait(ctx); err != nil {
		return nil, err
	}
	return func() {}, nil
}

// Ensure RateLimiter implements the RateLimiter interface.
var _ ports.RateLimiter = (*RateLimiter)(nil)
