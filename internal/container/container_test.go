package container

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse-api/internal/config"
	"pulse-api/internal/domain"
	"pulse-api/pkg/logger"
)

func testConfig(t *testing.T, redisURL string) *config.Config {
	t.Helper()
	tiers, err := domain.ParseTierSchedule("5:10,20:5,*:2")
	require.NoError(t, err)
	milestones, err := domain.ParseMilestones("first_vote:votes:1:5")
	require.NoError(t, err)

	return &config.Config{
		Environment:              "test",
		StoreDriver:              config.StoreDriverMemory,
		RedisURL:                 redisURL,
		PublicBaseURL:            "http://api.test",
		VoterTokenSecret:         "0123456789abcdef0123456789abcdef",
		VoterCookieName:          "pulse_voter",
		VoterCookieTTL:           time.Hour,
		RateLimitVoter:           10,
		RateLimitOrigin:          60,
		RateLimitWindow:          time.Minute,
		FastPathTimeout:          2 * time.Second,
		XpTiers:                  tiers,
		Milestones:               milestones,
		ClaimTTL:                 time.Hour,
		StatsRefreshSpec:         "@every 1h",
		StatsCacheTTL:            time.Minute,
		BackgroundWorkers:        2,
		BackgroundMaxAttempts:    3,
		BackgroundInitialBackoff: time.Millisecond,
		BackgroundMaxBackoff:     5 * time.Millisecond,
	}
}

func TestNew(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := []struct {
		name        string
		mutate      func(cfg *config.Config)
		expectError bool
	}{
		{
			name:   "memory store with redis",
			mutate: func(cfg *config.Config) {},
		},
		{
			name:        "unreachable redis",
			mutate:      func(cfg *config.Config) { cfg.RedisURL = "redis://127.0.0.1:1/0" },
			expectError: true,
		},
		{
			name:        "invalid redis url",
			mutate:      func(cfg *config.Config) { cfg.RedisURL = "invalid://redis-url" },
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, "redis://"+mr.Addr())
			tt.mutate(cfg)

			c, err := New(context.Background(), cfg, logger.NewNop())
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, c)
				return
			}
			require.NoError(t, err)
			defer c.Shutdown(context.Background())

			assert.Nil(t, c.DB)
			assert.NotNil(t, c.RedisClient)
			assert.NotNil(t, c.Services.Identity)
			assert.NotNil(t, c.Services.Limiter)
			assert.NotNil(t, c.Services.Votes)
			assert.NotNil(t, c.Services.Ledger)
			assert.NotNil(t, c.Services.Stats)
			assert.NotNil(t, c.Services.Claims)

			active, err := c.Services.Votes.ActiveQuestions(context.Background())
			require.NoError(t, err)
			assert.Len(t, active, 6, "memory store is seeded with one question per type")
		})
	}
}

func TestVoteFlowsToLedgerAndStats(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := New(context.Background(), testConfig(t, "redis://"+mr.Addr()), logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	defer c.Shutdown(context.Background())

	ctx := context.Background()
	voter, created, err := c.Services.Identity.EnsureHandle(ctx, "", "10.0.0.1")
	require.NoError(t, err)
	require.True(t, created)

	vote, err := c.Services.Votes.Submit(ctx, domain.SubmitVoteInput{
		QuestionID:    "q-dark-mode",
		VoterID:       voter.ID,
		OriginAddress: "10.0.0.1",
		Response:      domain.Response{Choice: "yes"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, vote.VoterSeq)

	require.Eventually(t, func() bool {
		p, err := c.Services.Ledger.Progress(ctx, voter.ID)
		return err == nil && p.Balance == 15
	}, 2*time.Second, 10*time.Millisecond, "10 XP for the vote plus 5 for the first_vote milestone")

	require.Eventually(t, func() bool {
		snap, err := c.Services.Stats.Snapshot(ctx, "q-dark-mode")
		return err == nil && snap.TotalVotes == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		global, err := c.Services.Stats.GlobalSnapshot(ctx, true)
		return err == nil && global.Today != nil && global.Today.Votes == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestShutdownIsIdempotent(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := New(context.Background(), testConfig(t, "redis://"+mr.Addr()), logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, c.Shutdown(ctx))
	assert.NoError(t, c.Shutdown(ctx))
}
