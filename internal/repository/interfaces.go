package repository

import (
	"context"
	"time"

	"pulse-api/internal/domain"
)

// VoterRepository persists anonymous voter handles
type VoterRepository interface {
	// InsertOrGet creates the handle unless one with the same token exists,
	// in which case the stored handle is returned and created is false.
	InsertOrGet(ctx context.Context, handle *domain.VoterHandle) (stored *domain.VoterHandle, created bool, err error)

	// GetByID retrieves a handle, returning domain.ErrVoterNotFound if missing
	GetByID(ctx context.Context, id string) (*domain.VoterHandle, error)

	// CountWithVotes returns how many voters have at least one vote
	CountWithVotes(ctx context.Context) (int64, error)
}

// QuestionRepository reads externally authored questions
type QuestionRepository interface {
	// GetByID returns domain.ErrQuestionNotFound if missing
	GetByID(ctx context.Context, id string) (*domain.Question, error)

	// ListActive returns questions whose window contains now, in display order
	ListActive(ctx context.Context, now time.Time) ([]*domain.Question, error)

	// Upsert is used by seeding and tests only
	Upsert(ctx context.Context, q *domain.Question) error
}

// VoteRepository is the append-only vote store
type VoteRepository interface {
	// Insert atomically records the vote and bumps the voter's count.
	// It fills ID defaults, VoterSeq and CreatedAt, and returns
	// domain.ErrConflict when (QuestionID, VoterID) already exists.
	Insert(ctx context.Context, vote *domain.VoteRecord) error

	// Get returns the vote of a voter on a question, or nil if none
	Get(ctx context.Context, questionID, voterID string) (*domain.VoteRecord, error)

	// ResponsesForQuestion returns every stored response for a question
	ResponsesForQuestion(ctx context.Context, questionID string) ([]domain.Response, error)

	// CountAll returns the number of stored votes
	CountAll(ctx context.Context) (int64, error)
}

// LedgerRepository stores XP entries and milestone completions
type LedgerRepository interface {
	// Append stores the entry unless (VoterID, Reason, ReferenceID) exists.
	// inserted is false for a replay.
	Append(ctx context.Context, entry *domain.XpLedgerEntry) (inserted bool, err error)

	// Balance sums a voter's entries
	Balance(ctx context.Context, voterID string) (int, error)

	// TotalXp sums every entry
	TotalXp(ctx context.Context) (int64, error)

	// CompleteMilestone marks the milestone done for the voter and appends the
	// bonus entry in one step. completed is false when it was already done.
	CompleteMilestone(ctx context.Context, voterID string, def domain.MilestoneDefinition, at time.Time) (completed bool, err error)

	// CompletedMilestones maps milestone id to completion time
	CompletedMilestones(ctx context.Context, voterID string) (map[string]time.Time, error)
}

// ClaimRepository stores XP claims
type ClaimRepository interface {
	// Create stores a new pending claim
	Create(ctx context.Context, claim *domain.XpClaim) error

	// Redeem moves a pending, unexpired claim to claimed in one statement.
	// Anything else yields domain.ErrClaimInvalid; a pending claim past its
	// expiry is marked expired on the way.
	Redeem(ctx context.Context, token string, now time.Time) (*domain.XpClaim, error)

	// GetByToken returns the claim with lazy expiry applied, or
	// domain.ErrClaimInvalid if unknown
	GetByToken(ctx context.Context, token string, now time.Time) (*domain.XpClaim, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Voters    VoterRepository
	Questions QuestionRepository
	Votes     VoteRepository
	Ledger    LedgerRepository
	Claims    ClaimRepository
}
