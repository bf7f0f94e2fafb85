package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"pulse-api/internal/domain"
	"pulse-api/pkg/redis"

	"go.uber.org/zap"
)

const dailyDateLayout = "2006-01-02"

// CacheService stores derived aggregates and daily counters in Redis. Every
// value here is stale-tolerant; the vote store stays authoritative.
type CacheService struct {
	redis  *redis.Client
	logger *zap.Logger
}

// NewCacheService creates a new cache service
func NewCacheService(redisClient *redis.Client, logger *zap.Logger) *CacheService {
	return &CacheService{
		redis:  redisClient,
		logger: logger,
	}
}

// GetSnapshot returns a cached breakdown. A miss, a Redis error or a
// corrupted entry all report ok=false so callers recompute.
func (c *CacheService) GetSnapshot(ctx context.Context, questionID string) (*domain.AggregateSnapshot, bool) {
	var snap domain.AggregateSnapshot
	if !c.getJSON(ctx, c.redis.KeyBuilder.KeyQuestionStats(questionID), &snap) {
		return nil, false
	}
	return &snap, true
}

// StoreSnapshot caches a breakdown
func (c *CacheService) StoreSnapshot(ctx context.Context, snap *domain.AggregateSnapshot, ttl time.Duration) error {
	return c.setJSON(ctx, c.redis.KeyBuilder.KeyQuestionStats(snap.QuestionID), snap, ttl)
}

// GetGlobal returns the cached community counters
func (c *CacheService) GetGlobal(ctx context.Context) (*domain.GlobalStats, bool) {
	var stats domain.GlobalStats
	if !c.getJSON(ctx, c.redis.KeyBuilder.KeyGlobalStats(), &stats) {
		return nil, false
	}
	return &stats, true
}

// StoreGlobal caches the community counters
func (c *CacheService) StoreGlobal(ctx context.Context, stats *domain.GlobalStats) error {
	return c.setJSON(ctx, c.redis.KeyBuilder.KeyGlobalStats(), stats, redis.TTLGlobalStats)
}

// InvalidateGlobal drops the cached community counters
func (c *CacheService) InvalidateGlobal(ctx context.Context) error {
	return c.redis.Delete(ctx, c.redis.KeyBuilder.KeyGlobalStats())
}

// RecordDailyVote bumps today's vote counter and unique voter set
func (c *CacheService) RecordDailyVote(ctx context.Context, voterID string, at time.Time) error {
	date := at.UTC().Format(dailyDateLayout)
	votesKey := c.redis.KeyBuilder.KeyDailyVotes(date)
	votersKey := c.redis.KeyBuilder.KeyDailyVoters(date)

	pipe := c.redis.Pipeline()
	pipe.Incr(ctx, votesKey)
	pipe.Expire(ctx, votesKey, redis.TTLDailyCounters)
	pipe.SAdd(ctx, votersKey, voterID)
	pipe.Expire(ctx, votersKey, redis.TTLDailyCounters)

	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Error("Failed to record daily vote",
			zap.String("date", date),
			zap.Error(err))
		return err
	}
	return nil
}

// DailyStats reads the counters for the day containing at
func (c *CacheService) DailyStats(ctx context.Context, at time.Time) (*domain.DailyStats, error) {
	date := at.UTC().Format(dailyDateLayout)
	stats := &domain.DailyStats{Date: date}

	raw, err := c.redis.Get(ctx, c.redis.KeyBuilder.KeyDailyVotes(date))
	switch {
	case redis.IsNil(err):
	case err != nil:
		return nil, fmt.Errorf("read daily votes: %w", err)
	default:
		if stats.Votes, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return nil, fmt.Errorf("parse daily votes: %w", err)
		}
	}

	if stats.UniqueVoters, err = c.redis.SCard(ctx, c.redis.KeyBuilder.KeyDailyVoters(date)); err != nil {
		return nil, fmt.Errorf("read daily voters: %w", err)
	}
	return stats, nil
}

// HealthCheck performs a health check on the cache system
func (c *CacheService) HealthCheck(ctx context.Context) error {
	start := time.Now()
	err := c.redis.Health(ctx)
	if err != nil {
		c.logger.Error("Cache health check failed",
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
	}
	return err
}

func (c *CacheService) getJSON(ctx context.Context, key string, dst interface{}) bool {
	raw, err := c.redis.Get(ctx, key)
	if err != nil {
		if !redis.IsNil(err) {
			c.logger.Warn("Cache read failed, falling back to store", zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		c.logger.Warn("Cache entry corrupted, falling back to store", zap.Error(err))
		return false
	}
	return true
}

func (c *CacheService) setJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}
	if err := c.redis.Set(ctx, key, string(data), ttl); err != nil {
		c.logger.Warn("Cache write failed", zap.Error(err))
		return err
	}
	return nil
}
