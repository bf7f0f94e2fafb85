package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyBuilder_Environment_Prefixes(t *testing.T) {
	tests := []struct {
		name           string
		environment    string
		expectedPrefix string
	}{
		{"production uses prod", "production", "prod"},
		{"development uses staging", "development", "staging"},
		{"staging uses staging", "staging", "staging"},
		{"local uses staging", "local", "staging"},
		{"test uses test", "test", "test"},
		{"unknown defaults to prod", "unknown", "prod"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expectedPrefix, NewKeyBuilder(tt.environment).GetPrefix())
		})
	}
}

func TestKeyBuilder_Keys(t *testing.T) {
	kb := NewKeyBuilder("production")

	assert.Equal(t, "prod:ratelimit:voter:v1", kb.KeyRateLimitVoter("v1"))
	assert.Equal(t, "prod:ratelimit:origin:10.0.0.1", kb.KeyRateLimitOrigin("10.0.0.1"))
	assert.Equal(t, "prod:stats:question:q1", kb.KeyQuestionStats("q1"))
	assert.Equal(t, "prod:stats:daily:2026-10-01:votes", kb.KeyDailyVotes("2026-10-01"))
	assert.Equal(t, "prod:stats:daily:2026-10-01:voters", kb.KeyDailyVoters("2026-10-01"))
	assert.Equal(t, "prod:realtime:question:q1", kb.ChannelQuestion("q1"))
	assert.Equal(t, "prod:realtime:*", kb.ChannelPattern())
	assert.Equal(t, "realtime:global", kb.StripPrefix(kb.ChannelGlobal()))
}
