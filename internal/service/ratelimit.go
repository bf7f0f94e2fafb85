package service

import (
	"context"
	"fmt"
	"time"

	"pulse-api/pkg/redis"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// RateLimitConfig bounds submissions per voter handle and per origin
type RateLimitConfig struct {
	VoterLimit  int
	OriginLimit int
	Window      time.Duration
}

// RateLimitResult is the outcome of one check
type RateLimitResult struct {
	Allowed    bool
	RetryAfter time.Duration
}

// slidingWindowScript keeps a sorted-set log of admitted requests per key.
// Both keys are trimmed and checked before either is recorded, so a request
// rejected by one key leaves no trace on the other.
//
// KEYS[1] voter key, KEYS[2] origin key
// ARGV[1] now (ms), ARGV[2] window (ms), ARGV[3] voter limit,
// ARGV[4] origin limit, ARGV[5] unique member
var slidingWindowScript = goredis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limits = {tonumber(ARGV[3]), tonumber(ARGV[4])}
local retry = 0

for i = 1, 2 do
	redis.call("ZREMRANGEBYSCORE", KEYS[i], "-inf", now - window)
	if redis.call("ZCARD", KEYS[i]) >= limits[i] then
		local oldest = redis.call("ZRANGE", KEYS[i], 0, 0, "WITHSCORES")
		local wait = window
		if oldest[2] then
			wait = tonumber(oldest[2]) + window - now
		end
		if wait > retry then
			retry = wait
		end
	end
end

if retry > 0 then
	return {0, retry}
end

for i = 1, 2 do
	redis.call("ZADD", KEYS[i], now, ARGV[5])
	redis.call("PEXPIRE", KEYS[i], window)
end
return {1, 0}
`)

// RateLimiter is a Redis sliding-window log keyed by voter and by origin
type RateLimiter struct {
	redis  *redis.Client
	config RateLimitConfig
	now    func() time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(client *redis.Client, config RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		redis:  client,
		config: config,
		now:    time.Now,
	}
}

// Allow admits the request if both the voter's and the origin's windows have room
func (r *RateLimiter) Allow(ctx context.Context, voterID, origin string) (*RateLimitResult, error) {
	if origin == "" {
		origin = "unknown"
	}
	keys := []string{
		r.redis.KeyBuilder.KeyRateLimitVoter(voterID),
		r.redis.KeyBuilder.KeyRateLimitOrigin(origin),
	}

	res, err := r.redis.RunScript(ctx, slidingWindowScript, keys,
		r.now().UnixMilli(),
		r.config.Window.Milliseconds(),
		r.config.VoterLimit,
		r.config.OriginLimit,
		uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit check: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("rate limit check: unexpected reply %v", res)
	}

	return &RateLimitResult{
		Allowed:    res[0] == 1,
		RetryAfter: time.Duration(res[1]) * time.Millisecond,
	}, nil
}
