package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"pulse-api/internal/domain"
	"pulse-api/internal/repository"

	"github.com/stretchr/testify/require"
)

func seedQuestion(t *testing.T, repos *repository.Repositories, id string, typ domain.QuestionType, keys ...string) *domain.Question {
	t.Helper()
	spec := domain.OptionSpec{}
	for _, k := range keys {
		spec.Options = append(spec.Options, domain.Option{Key: k, Label: k})
	}
	raw, err := json.Marshal(spec)
	require.NoError(t, err)
	q := &domain.Question{ID: id, Title: "Question " + id, Type: typ, Options: raw, Category: "general"}
	require.NoError(t, repos.Questions.Upsert(context.Background(), q))
	return q
}

func seedVoter(t *testing.T, repos *repository.Repositories, token string) *domain.VoterHandle {
	t.Helper()
	h, _, err := repos.Voters.InsertOrGet(context.Background(), &domain.VoterHandle{
		ID:        "voter-" + token,
		Token:     token,
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	return h
}

func choice(key string) domain.Response {
	return domain.Response{Choice: key}
}

type stubLimiter struct {
	result *RateLimitResult
	err    error
	block  bool
}

func (l *stubLimiter) Allow(ctx context.Context, voterID, origin string) (*RateLimitResult, error) {
	if l.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if l.err != nil {
		return nil, l.err
	}
	if l.result != nil {
		return l.result, nil
	}
	return &RateLimitResult{Allowed: true}, nil
}

type recordingListener struct {
	mu    sync.Mutex
	votes []domain.VoteRecord
}

func (l *recordingListener) VoteCommitted(vote domain.VoteRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.votes = append(l.votes, vote)
}

func (l *recordingListener) all() []domain.VoteRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.VoteRecord(nil), l.votes...)
}

type recordingPublisher struct {
	mu        sync.Mutex
	questions []domain.AggregateSnapshot
	globals   []domain.GlobalStats
}

func (p *recordingPublisher) PublishQuestion(_ context.Context, snap *domain.AggregateSnapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.questions = append(p.questions, *snap)
	return nil
}

func (p *recordingPublisher) PublishGlobal(_ context.Context, stats *domain.GlobalStats) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.globals = append(p.globals, *stats)
	return nil
}

func (p *recordingPublisher) questionIDs() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]int)
	for _, s := range p.questions {
		out[s.QuestionID]++
	}
	return out
}

func (p *recordingPublisher) lastGlobal() *domain.GlobalStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.globals) == 0 {
		return nil
	}
	g := p.globals[len(p.globals)-1]
	return &g
}

var fastRetry = RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
