package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Client struct {
	rdb        *redis.Client
	KeyBuilder *KeyBuilder
	log        *zap.Logger
}

// Key patterns, always passed through KeyBuilder
const (
	KeyRateLimitVoter  = "ratelimit:voter:%s"
	KeyRateLimitOrigin = "ratelimit:origin:%s"
	KeyQuestionStats   = "stats:question:%s"
	KeyGlobalStats     = "stats:global"
	KeyDailyVotes      = "stats:daily:%s:votes"
	KeyDailyVoters     = "stats:daily:%s:voters"

	ChannelQuestion = "realtime:question:%s"
	ChannelGlobal   = "realtime:global"
	ChannelPattern  = "realtime:*"
)

// TTL constants
const (
	TTLQuestionStats = 5 * time.Minute
	TTLGlobalStats   = 30 * time.Second
	TTLDailyCounters = 48 * time.Hour
)

// NewClient creates a new Redis client
func NewClient(redisURL string, environment string, log *zap.Logger) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = 50
	opts.MinIdleConns = 5
	opts.MaxRetries = 3
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewFromClient(rdb, environment, log), nil
}

// NewFromClient wraps an existing go-redis client
func NewFromClient(rdb *redis.Client, environment string, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{rdb: rdb, KeyBuilder: NewKeyBuilder(environment), log: log}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	if c.rdb != nil {
		return c.rdb.Close()
	}
	return nil
}

// Get retrieves a value from Redis
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	start := time.Now()
	val, err := c.rdb.Get(ctx, key).Result()
	c.observe("redis_get", key, start, ignoreNil(err))
	return val, err
}

// Set stores a value in Redis with TTL
func (c *Client) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	start := time.Now()
	err := c.rdb.Set(ctx, key, value, ttl).Err()
	c.observe("redis_set", key, start, err)
	return err
}

// Delete removes keys from Redis
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	start := time.Now()
	err := c.rdb.Del(ctx, keys...).Err()
	c.log.Debug("redis_del",
		zap.Int("keys", len(keys)),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err))
	return err
}

// SCard returns the cardinality of a set
func (c *Client) SCard(ctx context.Context, key string) (int64, error) {
	start := time.Now()
	n, err := c.rdb.SCard(ctx, key).Result()
	c.observe("redis_scard", key, start, err)
	return n, err
}

// RunScript evaluates a Lua script, loading it on first use
func (c *Client) RunScript(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) *redis.Cmd {
	start := time.Now()
	cmd := script.Run(ctx, c.rdb, keys, args...)
	prefix := ""
	if len(keys) > 0 {
		prefix = keys[0]
	}
	c.observe("redis_eval", prefix, start, ignoreNil(cmd.Err()))
	return cmd
}

// Publish sends a message to a pub/sub channel and returns the receiver count
func (c *Client) Publish(ctx context.Context, channel string, payload interface{}) (int64, error) {
	start := time.Now()
	n, err := c.rdb.Publish(ctx, channel, payload).Result()
	c.observe("redis_publish", channel, start, err)
	return n, err
}

// PSubscribe subscribes to channels matching the given patterns
func (c *Client) PSubscribe(ctx context.Context, patterns ...string) *redis.PubSub {
	return c.rdb.PSubscribe(ctx, patterns...)
}

// Health checks the Redis connection
func (c *Client) Health(ctx context.Context) error {
	start := time.Now()
	err := c.rdb.Ping(ctx).Err()
	dur := time.Since(start)
	if err != nil {
		c.log.Info("redis_ping", zap.Duration("duration", dur), zap.Error(err))
	} else {
		c.log.Debug("redis_ping", zap.Duration("duration", dur))
	}
	return err
}

// Pipeline creates a new pipeline for batch operations
func (c *Client) Pipeline() redis.Pipeliner {
	return c.rdb.Pipeline()
}

func (c *Client) observe(op, key string, start time.Time, err error) {
	dur := time.Since(start)
	if err != nil {
		c.log.Info(op,
			zap.String("key_prefix", prefixForLog(key)),
			zap.Duration("duration", dur),
			zap.Error(err))
		return
	}
	c.log.Debug(op,
		zap.String("key_prefix", prefixForLog(key)),
		zap.Duration("duration", dur))
}

func ignoreNil(err error) error {
	if err == redis.Nil {
		return nil
	}
	return err
}

// IsNil reports a missing key
func IsNil(err error) bool {
	return err == redis.Nil
}

// prefixForLog returns a safe prefix of a key to avoid logging voter handles
func prefixForLog(key string) string {
	if len(key) <= 24 {
		return key
	}
	return key[:24] + "…"
}
