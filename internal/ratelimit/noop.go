package ratelimit

import "context"

// Limiter is satisfied by both MemoryLimiter and NoopLimiter so callers
// (middleware, tests) can depend on the interface rather than a concrete type.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Close() error
}

// NoopLimiter never rejects a request. Used when CORPUSCORE_RATE_LIMIT_RPS
// tuning is disabled or in tests that don't care about throttling.
type NoopLimiter struct{}

// Allow always reports the request as allowed.
func (NoopLimiter) Allow(_ context.Context, _ string) (bool, error) {
	return true, nil
}

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }
