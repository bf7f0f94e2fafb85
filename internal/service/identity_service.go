package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"pulse-api/internal/domain"
	"pulse-api/internal/repository"
	"pulse-api/pkg/logger"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	voterTokenBytes  = 32
	voterTokenIssuer = "pulse-api"
)

// IdentityService issues and recognizes anonymous voter handles
type IdentityService struct {
	voters repository.VoterRepository
	secret []byte
	ttl    time.Duration
	now    func() time.Time
	logger *logger.Logger
}

// NewIdentityService creates a new identity service
func NewIdentityService(voters repository.VoterRepository, secret string, ttl time.Duration, log *logger.Logger) *IdentityService {
	return &IdentityService{
		voters: voters,
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
		logger: log.Named("identity"),
	}
}

// EnsureHandle returns the handle behind a presented credential, or mints a
// new one when nothing valid is presented. created reports a fresh handle.
// Lookup-or-create is a single insert-or-fetch at the store, so concurrent
// calls with the same credential resolve to one handle.
func (s *IdentityService) EnsureHandle(ctx context.Context, presented, origin string) (*domain.VoterHandle, bool, error) {
	token := ""
	if presented != "" {
		decoded, err := s.DecodeToken(presented)
		if err != nil {
			s.logger.WithError(err).Debug("Ignoring invalid voter credential")
		} else {
			token = decoded
		}
	}
	if token == "" {
		minted, err := randomToken("voter")
		if err != nil {
			return nil, false, err
		}
		token = minted
	}

	handle, created, err := s.voters.InsertOrGet(ctx, &domain.VoterHandle{
		ID:            uuid.NewString(),
		Token:         token,
		OriginAddress: origin,
		CreatedAt:     s.now().UTC(),
	})
	if err != nil {
		return nil, false, fmt.Errorf("ensure voter handle: %w", err)
	}
	if created {
		s.logger.WithField("voter_id", handle.ID).Info("Issued new voter handle")
	}
	return handle, created, nil
}

// EncodeToken signs the handle token for the cookie or X-Voter-Token header
func (s *IdentityService) EncodeToken(token string) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   token,
		Issuer:    voterTokenIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign voter token: %w", err)
	}
	return signed, nil
}

// DecodeToken verifies a signed credential and returns the handle token.
// The signature and issuer are checked but expiry is not: a handle never
// expires, so an old credential keeps naming the same voter.
func (s *IdentityService) DecodeToken(signed string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(signed, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return "", fmt.Errorf("parse voter token: %w", err)
	}
	if claims.Issuer != voterTokenIssuer {
		return "", fmt.Errorf("parse voter token: unexpected issuer %q", claims.Issuer)
	}
	if len(claims.Subject) != voterTokenBytes*2 {
		return "", fmt.Errorf("parse voter token: malformed subject")
	}
	return claims.Subject, nil
}

// randomToken returns 32 random bytes hex encoded
func randomToken(purpose string) (string, error) {
	buf := make([]byte, voterTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate %s token: %w", purpose, err)
	}
	return hex.EncodeToString(buf), nil
}
