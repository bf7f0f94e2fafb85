package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pulse-api/internal/domain"
	"pulse-api/internal/repository"
	"pulse-api/pkg/logger"

	"github.com/google/uuid"
)

// VoteService is the synchronous fast path: rate limit, validate, insert.
// Ledger and aggregate updates happen in listeners after commit.
type VoteService struct {
	questions repository.QuestionRepository
	votes     repository.VoteRepository
	limiter   Limiter
	listeners []VoteListener
	timeout   time.Duration
	now       func() time.Time
	logger    *logger.Logger
}

// NewVoteService creates a new vote service
func NewVoteService(questions repository.QuestionRepository, votes repository.VoteRepository, limiter Limiter, timeout time.Duration, log *logger.Logger) *VoteService {
	return &VoteService{
		questions: questions,
		votes:     votes,
		limiter:   limiter,
		timeout:   timeout,
		now:       time.Now,
		logger:    log.Named("votes"),
	}
}

// Subscribe registers a listener for committed votes
func (s *VoteService) Subscribe(l VoteListener) {
	s.listeners = append(s.listeners, l)
}

// Submit records one response of a voter to a question. It fails with
// ErrRateLimited, ErrQuestionNotFound, ErrQuestionInactive,
// ErrInvalidPayload, ErrConflict or, when the fast path runs out of time,
// ErrTimeout.
func (s *VoteService) Submit(ctx context.Context, in domain.SubmitVoteInput) (*domain.VoteRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	log := s.logger.WithFields(map[string]interface{}{
		"question_id": in.QuestionID,
		"voter_id":    in.VoterID,
	})

	if s.limiter != nil {
		res, err := s.limiter.Allow(ctx, in.VoterID, in.OriginAddress)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, fastPathErr(ctx, err)
		case err != nil:
			// Limiter outage admits the vote; uniqueness still holds at the store.
			log.WithError(err).Warn("Rate limiter unavailable, admitting vote")
		case !res.Allowed:
			return nil, &domain.RateLimitedError{RetryAfter: res.RetryAfter}
		}
	}

	q, err := s.questions.GetByID(ctx, in.QuestionID)
	if err != nil {
		return nil, fastPathErr(ctx, err)
	}
	if !q.IsActiveAt(s.now()) {
		return nil, domain.ErrQuestionInactive
	}

	resp := in.Response
	if err := domain.ValidateResponse(q, &resp); err != nil {
		return nil, err
	}

	vote := &domain.VoteRecord{
		ID:            uuid.NewString(),
		QuestionID:    q.ID,
		VoterID:       in.VoterID,
		Response:      resp,
		OriginAddress: in.OriginAddress,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.votes.Insert(ctx, vote); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			log.Debug("Duplicate vote rejected")
			return nil, err
		}
		return nil, fastPathErr(ctx, err)
	}

	log.WithField("voter_seq", vote.VoterSeq).Info("Vote accepted")
	for _, l := range s.listeners {
		l.VoteCommitted(*vote)
	}
	return vote, nil
}

// GetVote returns the voter's vote on a question, or nil
func (s *VoteService) GetVote(ctx context.Context, questionID, voterID string) (*domain.VoteRecord, error) {
	return s.votes.Get(ctx, questionID, voterID)
}

// ActiveQuestions lists the questions open for voting now
func (s *VoteService) ActiveQuestions(ctx context.Context) ([]*domain.Question, error) {
	return s.questions.ListActive(ctx, s.now())
}

// fastPathErr turns a deadline overrun into the retryable ErrTimeout
func fastPathErr(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrTimeout, err)
	}
	return err
}
