package service

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"pulse-api/internal/domain"
	"pulse-api/internal/repository"
	"pulse-api/pkg/logger"

	"github.com/google/uuid"
)

// ClaimService binds a voter's XP to an email through a single-use link
type ClaimService struct {
	claims  repository.ClaimRepository
	voters  repository.VoterRepository
	ledger  repository.LedgerRepository
	mailer  ClaimMailer
	baseURL string
	ttl     time.Duration
	now     func() time.Time
	logger  *logger.Logger
}

// NewClaimService creates a new claim service. baseURL is the public origin
// the emailed link points at.
func NewClaimService(claims repository.ClaimRepository, voters repository.VoterRepository, ledger repository.LedgerRepository, mailer ClaimMailer, baseURL string, ttl time.Duration, log *logger.Logger) *ClaimService {
	return &ClaimService{
		claims:  claims,
		voters:  voters,
		ledger:  ledger,
		mailer:  mailer,
		baseURL: strings.TrimRight(baseURL, "/"),
		ttl:     ttl,
		now:     time.Now,
		logger:  log.Named("claims"),
	}
}

// IssueClaim captures the voter's current XP, stores a pending claim and
// hands the link to the mailer. The returned claim carries the token.
func (s *ClaimService) IssueClaim(ctx context.Context, voterID, email string) (*domain.XpClaim, error) {
	if _, err := s.voters.GetByID(ctx, voterID); err != nil {
		return nil, err
	}
	balance, err := s.ledger.Balance(ctx, voterID)
	if err != nil {
		return nil, fmt.Errorf("read xp balance: %w", err)
	}
	token, err := randomToken("claim")
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	claim := &domain.XpClaim{
		ID:        uuid.NewString(),
		Token:     token,
		VoterID:   voterID,
		Email:     strings.TrimSpace(email),
		TotalXp:   balance,
		Status:    domain.ClaimPending,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.claims.Create(ctx, claim); err != nil {
		return nil, fmt.Errorf("store claim: %w", err)
	}

	log := s.logger.WithFields(map[string]interface{}{
		"claim_id": claim.ID,
		"voter_id": voterID,
		"total_xp": balance,
	})
	if err := s.mailer.SendClaimLink(ctx, claim.Email, s.ClaimLink(token), claim); err != nil {
		log.WithError(err).Error("Claim link delivery failed")
		return nil, fmt.Errorf("%w: %v", domain.ErrDeliveryFailed, err)
	}
	log.Info("Claim issued")
	return claim, nil
}

// ClaimLink is the URL embedded in the email
func (s *ClaimService) ClaimLink(token string) string {
	return s.baseURL + "/claim/" + url.PathEscape(token)
}

// Redeem performs the single pending to claimed transition. Unknown, used
// and expired tokens all yield domain.ErrClaimInvalid.
func (s *ClaimService) Redeem(ctx context.Context, token string) (*domain.RedeemResult, error) {
	if !wellFormedToken(token) {
		return nil, domain.ErrClaimInvalid
	}
	claim, err := s.claims.Redeem(ctx, token, s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.logger.WithField("claim_id", claim.ID).Info("Claim redeemed")
	return &domain.RedeemResult{TotalXp: claim.TotalXp, Email: claim.Email}, nil
}

// Inspect returns the claim with lazy expiry applied
func (s *ClaimService) Inspect(ctx context.Context, token string) (*domain.XpClaim, error) {
	if !wellFormedToken(token) {
		return nil, domain.ErrClaimInvalid
	}
	return s.claims.GetByToken(ctx, token, s.now().UTC())
}

func wellFormedToken(token string) bool {
	if len(token) != voterTokenBytes*2 {
		return false
	}
	_, err := hex.DecodeString(token)
	return err == nil
}
