package redis

import (
	"fmt"
	"strings"
)

// KeyBuilder provides environment-aware Redis key building functionality
type KeyBuilder struct {
	prefix string // Environment prefix (staging/prod)
}

// NewKeyBuilder creates a new key builder with environment-based prefix
func NewKeyBuilder(environment string) *KeyBuilder {
	prefix := "prod"
	if environment == "development" || environment == "staging" || environment == "local" {
		prefix = "staging"
	}
	if environment == "test" {
		prefix = "test"
	}

	return &KeyBuilder{prefix: prefix}
}

// BuildKey constructs a Redis key with the environment prefix
func (kb *KeyBuilder) BuildKey(key string) string {
	return fmt.Sprintf("%s:%s", kb.prefix, key)
}

// GetPrefix returns the current environment prefix
func (kb *KeyBuilder) GetPrefix() string {
	return kb.prefix
}

// Rate limiter keys

func (kb *KeyBuilder) KeyRateLimitVoter(voterID string) string {
	return kb.BuildKey(fmt.Sprintf(KeyRateLimitVoter, voterID))
}

func (kb *KeyBuilder) KeyRateLimitOrigin(origin string) string {
	return kb.BuildKey(fmt.Sprintf(KeyRateLimitOrigin, origin))
}

// Stats keys

func (kb *KeyBuilder) KeyQuestionStats(questionID string) string {
	return kb.BuildKey(fmt.Sprintf(KeyQuestionStats, questionID))
}

func (kb *KeyBuilder) KeyGlobalStats() string {
	return kb.BuildKey(KeyGlobalStats)
}

func (kb *KeyBuilder) KeyDailyVotes(date string) string {
	return kb.BuildKey(fmt.Sprintf(KeyDailyVotes, date))
}

func (kb *KeyBuilder) KeyDailyVoters(date string) string {
	return kb.BuildKey(fmt.Sprintf(KeyDailyVoters, date))
}

// Realtime channels

func (kb *KeyBuilder) ChannelQuestion(questionID string) string {
	return kb.BuildKey(fmt.Sprintf(ChannelQuestion, questionID))
}

func (kb *KeyBuilder) ChannelGlobal() string {
	return kb.BuildKey(ChannelGlobal)
}

func (kb *KeyBuilder) ChannelPattern() string {
	return kb.BuildKey(ChannelPattern)
}

// StripPrefix removes the environment prefix from a key or channel
func (kb *KeyBuilder) StripPrefix(key string) string {
	return strings.TrimPrefix(key, kb.prefix+":")
}
