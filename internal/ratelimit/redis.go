package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript implements the same token-bucket semantics as
// MemoryLimiter, but atomically in Redis so multiple corpuscore instances
// share one rate-limit state per key. KEYS[1] is the bucket key; ARGV is
// rate (tokens/sec), burst (capacity), now (unix seconds, float), ttl
// (seconds, for eviction of idle keys).
const tokenBucketScript = `
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local bucket = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(bucket[1])
local ts = tonumber(bucket[2])

if tokens == nil then
  tokens = burst
  ts = now
end

local elapsed = math.max(0, now - ts)
tokens = math.min(burst, tokens + elapsed * rate)

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "ts", now)
redis.call("EXPIRE", key, ttl)

return allowed
`

// RedisLimiter implements Limiter as a token bucket shared across
// corpuscore instances via Redis, for deployments running more than one
// API replica behind a load balancer (MemoryLimiter's state is per-process
// and would let each replica grant its own burst).
type RedisLimiter struct {
	client *redis.Client
	script *redis.Script
	rate   float64
	burst  float64
	ttl    time.Duration
}

// NewRedisLimiter connects to addr (e.g. "localhost:6379") and returns a
// Limiter backed by it.
func NewRedisLimiter(addr string, rate float64, burst int) *RedisLimiter {
	client := redis.NewClient(&redis.Options{Addr: addr})
	return &RedisLimiter{
		client: client,
		script: redis.NewScript(tokenBucketScript),
		rate:   rate,
		burst:  float64(burst),
		ttl:    staleThreshold,
	}
}

// Allow consumes one token from key's bucket, atomically via a Lua script.
func (r *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := float64(time.Now().UnixNano()) / 1e9
	result, err := r.script.Run(ctx, r.client, []string{"ratelimit:" + key},
		r.rate, r.burst, now, int(r.ttl.Seconds()),
	).Int()
	if err != nil {
		return false, fmt.Errorf("ratelimit: redis eval: %w", err)
	}
	return result == 1, nil
}

// Close closes the underlying Redis connection pool.
func (r *RedisLimiter) Close() error {
	return r.client.Close()
}
