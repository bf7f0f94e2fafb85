package domain

import "time"

// VoterHandle is the anonymous identity used as the vote dedup key.
// It carries no personal data.
type VoterHandle struct {
	ID            string    `json:"id"`
	Token         string    `json:"-"`
	OriginAddress string    `json:"-"`
	VoteCount     int       `json:"vote_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// VoterResponse is returned when a client asks for (or refreshes) its handle
type VoterResponse struct {
	VoterID   string `json:"voter_id"`
	Token     string `json:"token"`
	VoteCount int    `json:"vote_count"`
	Created   bool   `json:"created"`
}
