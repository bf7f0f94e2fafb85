package service

import (
	"context"
	"testing"
	"time"

	"pulse-api/internal/domain"
	"pulse-api/internal/repository/memory"
	"pulse-api/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type statsFixture struct {
	stats     *StatsAggregator
	votes     *VoteService
	store     *memory.Store
	publisher *recordingPublisher
	cache     *CacheService
}

var statsNow = time.Date(2026, 10, 1, 15, 0, 0, 0, time.UTC)

func newStatsFixture(t *testing.T) *statsFixture {
	t.Helper()
	_, client := newTestRedis(t)
	store := memory.New()
	repos := store.Repositories()
	seedQuestion(t, repos, "q1", domain.QuestionBinary, "A", "B")
	seedQuestion(t, repos, "q2", domain.QuestionMultiChoice, "go", "rust", "zig")

	cache := NewCacheService(client, zap.NewNop())
	publisher := &recordingPublisher{}
	stats := NewStatsAggregator(repos, cache, publisher, StatsAggregatorConfig{
		CacheTTL: time.Minute,
		Workers:  1,
		Retry:    fastRetry,
	}, logger.NewNop())
	stats.now = func() time.Time { return statsNow }

	votes := NewVoteService(repos.Questions, repos.Votes, nil, time.Second, logger.NewNop())
	votes.now = func() time.Time { return statsNow }

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = stats.Stop(ctx)
	})
	return &statsFixture{stats: stats, votes: votes, store: store, publisher: publisher, cache: cache}
}

func (f *statsFixture) vote(t *testing.T, token, questionID string, resp domain.Response) {
	t.Helper()
	voter := seedVoter(t, f.store.Repositories(), token)
	_, err := f.votes.Submit(context.Background(), domain.SubmitVoteInput{QuestionID: questionID, VoterID: voter.ID, Response: resp})
	require.NoError(t, err)
}

func TestStatsAggregator_RefreshMatchesStore(t *testing.T) {
	f := newStatsFixture(t)
	for i, key := range []string{"A", "A", "A", "B"} {
		f.vote(t, string(rune('a'+i)), "q1", choice(key))
	}
	ctx := context.Background()

	first, err := f.stats.Refresh(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, f.store.VoteCount("q1"), first.TotalVotes)
	assert.Equal(t, []domain.BreakdownBucket{
		{OptionKey: "A", Count: 3, Percentage: 75},
		{OptionKey: "B", Count: 1, Percentage: 25},
	}, first.Breakdown)

	second, err := f.stats.Refresh(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	cached, ok := f.cache.GetSnapshot(ctx, "q1")
	require.True(t, ok)
	assert.Equal(t, 4, cached.TotalVotes)
}

func TestStatsAggregator_SnapshotIsCacheFirst(t *testing.T) {
	f := newStatsFixture(t)
	ctx := context.Background()
	f.vote(t, "a", "q1", choice("A"))

	snap, err := f.stats.Snapshot(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.TotalVotes)

	// a vote that no refresh has seen yet is tolerated as stale
	f.vote(t, "b", "q1", choice("B"))
	snap, err = f.stats.Snapshot(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.TotalVotes)

	_, err = f.stats.Refresh(ctx, "q1")
	require.NoError(t, err)
	snap, err = f.stats.Snapshot(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, 2, snap.TotalVotes)

	_, err = f.stats.Snapshot(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrQuestionNotFound)
}

func TestStatsAggregator_VoteCommittedRefreshesAndPublishes(t *testing.T) {
	f := newStatsFixture(t)
	f.votes.Subscribe(f.stats)

	before, err := f.stats.GlobalSnapshot(context.Background(), false)
	require.NoError(t, err)
	require.Zero(t, before.TotalVotes)

	f.vote(t, "a", "q1", choice("A"))
	f.vote(t, "b", "q2", domain.Response{Choices: []string{"go", "zig"}})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.stats.Stop(ctx))

	after, err := f.stats.GlobalSnapshot(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, int64(2), after.TotalVotes, "cached counters from before the commits are replaced")

	published := f.publisher.questionIDs()
	assert.GreaterOrEqual(t, published["q1"], 1)
	assert.GreaterOrEqual(t, published["q2"], 1)

	global := f.publisher.lastGlobal()
	require.NotNil(t, global)
	assert.Equal(t, int64(2), global.TotalVotes)
	assert.Equal(t, int64(2), global.UniqueVoters)
	assert.Equal(t, int64(2), global.ActiveQuestions)
	require.NotNil(t, global.Today)
	assert.Equal(t, int64(2), global.Today.Votes)
	assert.Equal(t, int64(2), global.Today.UniqueVoters)
}

func TestStatsAggregator_RefreshOutlivesCancelledCaller(t *testing.T) {
	f := newStatsFixture(t)
	f.vote(t, "a", "q1", choice("A"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	snap, err := f.stats.Refresh(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.TotalVotes)

	cached, ok := f.cache.GetSnapshot(context.Background(), "q1")
	require.True(t, ok, "the shared computation still reaches the cache")
	assert.Equal(t, 1, cached.TotalVotes)

	global, err := f.stats.GlobalSnapshot(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), global.TotalVotes)
	_, ok = f.cache.GetGlobal(context.Background())
	assert.True(t, ok)
}

func TestStatsAggregator_InvalidateDropsLocalCopy(t *testing.T) {
	f := newStatsFixture(t)
	ctx := context.Background()
	f.vote(t, "a", "q1", choice("A"))

	_, err := f.stats.Refresh(ctx, "q1")
	require.NoError(t, err)
	_, ok := f.stats.local.Load("q1")
	require.True(t, ok)

	f.stats.Invalidate("q1")
	_, ok = f.stats.local.Load("q1")
	assert.False(t, ok)

	snap, err := f.stats.Snapshot(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.TotalVotes)
}

func TestStatsAggregator_GlobalSnapshot(t *testing.T) {
	f := newStatsFixture(t)
	ctx := context.Background()
	f.vote(t, "a", "q1", choice("A"))
	f.vote(t, "a", "q2", domain.Response{Choices: []string{"rust"}})
	require.NoError(t, f.cache.RecordDailyVote(ctx, "voter-a", statsNow))

	withoutDaily, err := f.stats.GlobalSnapshot(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, int64(2), withoutDaily.TotalVotes)
	assert.Equal(t, int64(1), withoutDaily.UniqueVoters)
	assert.Nil(t, withoutDaily.Today)

	withDaily, err := f.stats.GlobalSnapshot(ctx, true)
	require.NoError(t, err)
	require.NotNil(t, withDaily.Today)
	assert.Equal(t, int64(1), withDaily.Today.Votes)
	assert.Equal(t, "2026-10-01", withDaily.Today.Date)
}

func TestStatsAggregator_RefreshAll(t *testing.T) {
	f := newStatsFixture(t)
	f.vote(t, "a", "q1", choice("B"))

	require.NoError(t, f.stats.RefreshAll(context.Background()))

	published := f.publisher.questionIDs()
	assert.Equal(t, 1, published["q1"])
	assert.Equal(t, 1, published["q2"])
	require.NotNil(t, f.publisher.lastGlobal())
}

func TestStatsAggregator_StartRejectsBadSchedule(t *testing.T) {
	f := newStatsFixture(t)
	f.stats.cfg.RefreshSpec = "every now and then"
	assert.Error(t, f.stats.Start())
}
