package domain

import "time"

// ClaimStatus is pending until redeemed or read past expiry; both exits are terminal
type ClaimStatus string

const (
	ClaimPending ClaimStatus = "pending"
	ClaimClaimed ClaimStatus = "claimed"
	ClaimExpired ClaimStatus = "expired"
)

// XpClaim binds a voter's XP, captured at issuance, to an email address
type XpClaim struct {
	ID        string      `json:"id"`
	Token     string      `json:"-"`
	VoterID   string      `json:"voter_id"`
	Email     string      `json:"email"`
	TotalXp   int         `json:"total_xp"`
	Status    ClaimStatus `json:"status"`
	ExpiresAt time.Time   `json:"expires_at"`
	ClaimedAt *time.Time  `json:"claimed_at,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// IssueClaimRequest is the body of a claim request
type IssueClaimRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

// IssueClaimResponse confirms the link was handed to the mailer
type IssueClaimResponse struct {
	Sent bool `json:"sent"`
}

// RedeemClaimRequest is the body of a JSON redemption
type RedeemClaimRequest struct {
	Token string `json:"token" validate:"required,hexadecimal,len=64"`
}

// RedeemResult is what a successful redemption reveals
type RedeemResult struct {
	TotalXp int    `json:"total_xp"`
	Email   string `json:"email"`
}
