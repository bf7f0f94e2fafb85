package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pulse-api/internal/domain"
	"pulse-api/internal/repository/memory"
	"pulse-api/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVoteService(t *testing.T, limiter Limiter) (*VoteService, *memory.Store) {
	t.Helper()
	store := memory.New()
	repos := store.Repositories()
	seedQuestion(t, repos, "q1", domain.QuestionBinary, "yes", "no")
	return NewVoteService(repos.Questions, repos.Votes, limiter, time.Second, logger.NewNop()), store
}

func TestVoteService_SubmitAccepted(t *testing.T) {
	svc, store := newTestVoteService(t, &stubLimiter{})
	voter := seedVoter(t, store.Repositories(), "tok1")
	listener := &recordingListener{}
	svc.Subscribe(listener)

	vote, err := svc.Submit(context.Background(), domain.SubmitVoteInput{
		QuestionID:    "q1",
		VoterID:       voter.ID,
		OriginAddress: "10.0.0.1",
		Response:      choice("yes"),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, vote.ID)
	assert.Equal(t, 1, vote.VoterSeq)
	assert.Equal(t, domain.QuestionBinary, vote.Response.Type)

	got := listener.all()
	require.Len(t, got, 1)
	assert.Equal(t, vote.ID, got[0].ID)

	stored, err := svc.GetVote(context.Background(), "q1", voter.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, vote.ID, stored.ID)
}

func TestVoteService_ConcurrentDuplicatesYieldOneVote(t *testing.T) {
	svc, store := newTestVoteService(t, &stubLimiter{})
	voter := seedVoter(t, store.Repositories(), "tok1")

	const n = 25
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		accepted  int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Submit(context.Background(), domain.SubmitVoteInput{
				QuestionID: "q1",
				VoterID:    voter.ID,
				Response:   choice("no"),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, domain.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
	assert.Equal(t, n-1, conflicts)
	assert.Equal(t, 1, store.VoteCount("q1"))
}

func TestVoteService_Rejections(t *testing.T) {
	past := time.Now().Add(-time.Hour)

	tests := []struct {
		name    string
		limiter *stubLimiter
		input   domain.SubmitVoteInput
		wantErr error
	}{
		{
			name:    "rate limited",
			limiter: &stubLimiter{result: &RateLimitResult{Allowed: false, RetryAfter: 5 * time.Second}},
			input:   domain.SubmitVoteInput{QuestionID: "q1", Response: choice("yes")},
			wantErr: domain.ErrRateLimited,
		},
		{
			name:    "unknown question",
			limiter: &stubLimiter{},
			input:   domain.SubmitVoteInput{QuestionID: "missing", Response: choice("yes")},
			wantErr: domain.ErrQuestionNotFound,
		},
		{
			name:    "closed question",
			limiter: &stubLimiter{},
			input:   domain.SubmitVoteInput{QuestionID: "closed", Response: choice("yes")},
			wantErr: domain.ErrQuestionInactive,
		},
		{
			name:    "unknown option",
			limiter: &stubLimiter{},
			input:   domain.SubmitVoteInput{QuestionID: "q1", Response: choice("maybe")},
			wantErr: domain.ErrInvalidPayload,
		},
		{
			name:    "wrong variant",
			limiter: &stubLimiter{},
			input:   domain.SubmitVoteInput{QuestionID: "q1", Response: domain.Response{Type: domain.QuestionText, Text: "hi"}},
			wantErr: domain.ErrInvalidPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store := newTestVoteService(t, tt.limiter)
			repos := store.Repositories()
			closed := seedQuestion(t, repos, "closed", domain.QuestionBinary, "yes", "no")
			closed.EndsAt = &past
			require.NoError(t, repos.Questions.Upsert(context.Background(), closed))

			voter := seedVoter(t, repos, "tok1")
			tt.input.VoterID = voter.ID

			_, err := svc.Submit(context.Background(), tt.input)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, 0, store.VoteCount(tt.input.QuestionID))
		})
	}
}

func TestVoteService_RateLimitCarriesRetryAfter(t *testing.T) {
	svc, store := newTestVoteService(t, &stubLimiter{result: &RateLimitResult{RetryAfter: 7 * time.Second}})
	voter := seedVoter(t, store.Repositories(), "tok1")

	_, err := svc.Submit(context.Background(), domain.SubmitVoteInput{QuestionID: "q1", VoterID: voter.ID, Response: choice("yes")})

	var rl *domain.RateLimitedError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 7*time.Second, rl.RetryAfter)
}

func TestVoteService_LimiterOutageAdmitsVote(t *testing.T) {
	svc, store := newTestVoteService(t, &stubLimiter{err: errors.New("connection refused")})
	voter := seedVoter(t, store.Repositories(), "tok1")

	_, err := svc.Submit(context.Background(), domain.SubmitVoteInput{QuestionID: "q1", VoterID: voter.ID, Response: choice("yes")})
	require.NoError(t, err)
	assert.Equal(t, 1, store.VoteCount("q1"))
}

func TestVoteService_FastPathTimeout(t *testing.T) {
	store := memory.New()
	repos := store.Repositories()
	seedQuestion(t, repos, "q1", domain.QuestionBinary, "yes", "no")
	voter := seedVoter(t, repos, "tok1")
	svc := NewVoteService(repos.Questions, repos.Votes, &stubLimiter{block: true}, 20*time.Millisecond, logger.NewNop())

	_, err := svc.Submit(context.Background(), domain.SubmitVoteInput{QuestionID: "q1", VoterID: voter.ID, Response: choice("yes")})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.NotErrorIs(t, err, domain.ErrConflict)
}

func TestVoteService_WithRedisLimiter(t *testing.T) {
	_, client := newTestRedis(t)
	limiter := NewRateLimiter(client, RateLimitConfig{VoterLimit: 2, OriginLimit: 100, Window: time.Minute})

	store := memory.New()
	repos := store.Repositories()
	for _, id := range []string{"q1", "q2", "q3"} {
		seedQuestion(t, repos, id, domain.QuestionBinary, "yes", "no")
	}
	voter := seedVoter(t, repos, "tok1")
	svc := NewVoteService(repos.Questions, repos.Votes, limiter, time.Second, logger.NewNop())
	ctx := context.Background()

	for _, id := range []string{"q1", "q2"} {
		_, err := svc.Submit(ctx, domain.SubmitVoteInput{QuestionID: id, VoterID: voter.ID, OriginAddress: "10.0.0.1", Response: choice("yes")})
		require.NoError(t, err)
	}

	_, err := svc.Submit(ctx, domain.SubmitVoteInput{QuestionID: "q3", VoterID: voter.ID, OriginAddress: "10.0.0.1", Response: choice("yes")})
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Equal(t, 0, store.VoteCount("q3"))
}
