package service

import (
	"context"

	"pulse-api/internal/domain"
)

// Limiter admits or rejects a submission before any durable write
type Limiter interface {
	Allow(ctx context.Context, voterID, origin string) (*RateLimitResult, error)
}

// VoteListener is told about every committed vote. Implementations must
// return quickly; the vote's fast path waits on them.
type VoteListener interface {
	VoteCommitted(vote domain.VoteRecord)
}

// SnapshotPublisher fans refreshed aggregates out to realtime subscribers.
// Publishing is fire-and-forget; errors are only logged.
type SnapshotPublisher interface {
	PublishQuestion(ctx context.Context, snapshot *domain.AggregateSnapshot) error
	PublishGlobal(ctx context.Context, stats *domain.GlobalStats) error
}

// ClaimMailer delivers the claim link. Email delivery itself is external.
type ClaimMailer interface {
	SendClaimLink(ctx context.Context, email, link string, claim *domain.XpClaim) error
}

// Services aggregates the services the handlers depend on
type Services struct {
	Identity *IdentityService
	Limiter  Limiter
	Votes    *VoteService
	Ledger   *XpLedger
	Stats    *StatsAggregator
	Claims   *ClaimService
}
