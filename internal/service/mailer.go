package service

import (
	"context"

	"pulse-api/internal/domain"
	"pulse-api/pkg/logger"
)

// LogMailer records claim links in the log instead of sending email.
// Delivery is handled outside this service.
type LogMailer struct {
	logger *logger.Logger
}

// NewLogMailer creates a new logging mailer
func NewLogMailer(log *logger.Logger) *LogMailer {
	return &LogMailer{logger: log.Named("mailer")}
}

func (m *LogMailer) SendClaimLink(ctx context.Context, email, link string, claim *domain.XpClaim) error {
	m.logger.WithFields(map[string]interface{}{
		"email":      email,
		"claim_id":   claim.ID,
		"expires_at": claim.ExpiresAt,
	}).Info("Claim link ready for delivery")
	m.logger.WithField("link", link).Debug("Claim link")
	return nil
}
