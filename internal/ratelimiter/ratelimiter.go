// Package ratelimiter throttles requests sent to object stores.
package ratelimiter

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter is a token bucket: tokens are added at a constant rate, each
// request consumes one, and up to burst tokens accumulate while idle.
//
// A nil *RateLimiter never throttles. All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a RateLimiter.
//
// Parameters:
//   - requestsPerSecond: sustained rate, 0 disables limiting (returns nil)
//   - burst: bucket capacity, 0 means requestsPerSecond
//
// Returns the limiter, or nil when limiting is disabled.
func New(requestsPerSecond float64, burst int) *RateLimiter {
	if requestsPerSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = max(1, int(requestsPerSecond))
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst)}
}

// Allow consumes a token if one is available, without waiting.
func (r *RateLimiter) Allow() bool {
	if r == nil {
		return true
	}
	return r.limiter.Allow()
}

// Wait blocks until a token is available or ctx is done.
//
// Returns ctx's error (or a rate error when the wait would outlive the ctx
// deadline) if no token was acquired.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r == nil {
		return nil
	}
	return r.limiter.Wait(ctx)
}

// Group hands out one RateLimiter per key, all with the same settings.
// Object stores are keyed by their connection settings so two buckets on the
// same endpoint share a budget.
type Group struct {
	rps   float64
	burst int

	mu       sync.Mutex
	limiters map[string]*RateLimiter
}

// NewGroup creates a group. A zero requestsPerSecond returns nil, which
// hands out nil (unlimited) limiters.
func NewGroup(requestsPerSecond float64, burst int) *Group {
	if requestsPerSecond <= 0 {
		return nil
	}
	return &Group{rps: requestsPerSecond, burst: burst, limiters: make(map[string]*RateLimiter)}
}

// For returns the limiter of key, creating it on first use.
func (g *Group) For(key string) *RateLimiter {
	if g == nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	l, ok := g.limiters[key]
	if !ok {
		l = New(g.rps, g.burst)
		g.limiters[key] = l
	}
	return l
}
